package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilothq/recall/internal/db/sqlite"
	"github.com/pilothq/recall/pkg/models"
)

// fakePending is an in-memory PendingSource.
type fakePending struct {
	mu       sync.Mutex
	rows     []*models.PendingRow
	claimErr error
	nextID   int64
}

func (f *fakePending) push(payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.rows = append(f.rows, &models.PendingRow{ID: f.nextID, SessionDBID: 1, Payload: []byte(payload)})
}

func (f *fakePending) ClaimNext(_ context.Context, _ int64) (*models.PendingRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.rows) == 0 {
		return nil, sqlite.ErrNotFound
	}
	row := f.rows[0]
	f.rows = f.rows[1:]
	return row, nil
}

func (f *fakePending) ClaimBatch(_ context.Context, _ int64, maxBatch int) ([]*models.PendingRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	n := min(maxBatch, len(f.rows))
	batch := f.rows[:n]
	f.rows = f.rows[n:]
	return batch, nil
}

const obsPayload = `{"v":1,"kind":"observation","observation":{"tool_name":"Read"}}`

func TestRunDrainsInBatches(t *testing.T) {
	pending := &fakePending{}
	for i := 0; i < 5; i++ {
		pending.push(obsPayload)
	}

	var mu sync.Mutex
	var batchSizes []int
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := NewProcessor(Config{SessionDBID: 1, MaxBatchSize: 2, IdleTimeout: time.Hour}, pending, NewBus())
	go func() {
		defer close(done)
		_ = proc.Run(ctx, func(_ context.Context, msgs []*models.PendingMessage) error {
			mu.Lock()
			batchSizes = append(batchSizes, len(msgs))
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return proc.State() == StateParked
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{2, 2, 1}, batchSizes)
	mu.Unlock()

	cancel()
	<-done
	assert.Equal(t, StateCancelled, proc.State())
}

func TestNotifyWakesParkedProcessor(t *testing.T) {
	pending := &fakePending{}
	bus := NewBus()
	handled := make(chan int, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := NewProcessor(Config{SessionDBID: 1, IdleTimeout: time.Hour}, pending, bus)
	go func() {
		_ = proc.Run(ctx, func(_ context.Context, msgs []*models.PendingMessage) error {
			handled <- len(msgs)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return proc.State() == StateParked
	}, 2*time.Second, 5*time.Millisecond)

	pending.push(obsPayload)
	bus.Publish()

	select {
	case n := <-handled:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not wake on notify")
	}
}

func TestIdleTimeoutExits(t *testing.T) {
	pending := &fakePending{}
	var idleCalls int32
	idleFired := make(chan struct{})

	proc := NewProcessor(Config{
		SessionDBID: 1,
		IdleTimeout: 50 * time.Millisecond,
		OnIdleTimeout: func() {
			idleCalls++
			close(idleFired)
		},
	}, pending, NewBus())

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- proc.Run(context.Background(), func(context.Context, []*models.PendingMessage) error {
			return nil
		})
	}()

	select {
	case <-idleFired:
	case <-time.After(2 * time.Second):
		t.Fatal("idle timeout never fired")
	}
	require.NoError(t, <-done)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, StateIdleExit, proc.State())
	assert.EqualValues(t, 1, idleCalls)
}

func TestYieldResetsIdleDeadline(t *testing.T) {
	pending := &fakePending{}
	bus := NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := NewProcessor(Config{SessionDBID: 1, IdleTimeout: 150 * time.Millisecond}, pending, bus)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = proc.Run(ctx, func(context.Context, []*models.PendingMessage) error { return nil })
	}()

	// Keep feeding work at a cadence shorter than the idle timeout; the
	// processor must stay alive across several deadlines' worth of time.
	for i := 0; i < 4; i++ {
		time.Sleep(80 * time.Millisecond)
		pending.push(obsPayload)
		bus.Publish()
	}

	select {
	case <-done:
		t.Fatal("processor exited despite continuing activity")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestTransientClaimErrorRetries(t *testing.T) {
	pending := &fakePending{claimErr: errors.New("database is locked")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := NewProcessor(Config{SessionDBID: 1, IdleTimeout: time.Hour}, pending, NewBus())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = proc.Run(ctx, func(context.Context, []*models.PendingMessage) error { return nil })
	}()

	// Still alive after the first failed claim.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("processor exited on transient claim error")
	default:
	}

	cancel()
	<-done
	assert.Equal(t, StateCancelled, proc.State())
}

func TestCorruptPayloadDropped(t *testing.T) {
	pending := &fakePending{}
	pending.push(`not json`)
	pending.push(obsPayload)

	handled := make(chan []*models.PendingMessage, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := NewProcessor(Config{SessionDBID: 1, MaxBatchSize: 10, IdleTimeout: time.Hour}, pending, NewBus())
	go func() {
		_ = proc.Run(ctx, func(_ context.Context, msgs []*models.PendingMessage) error {
			handled <- msgs
			return nil
		})
	}()

	select {
	case msgs := <-handled:
		require.Len(t, msgs, 1)
		assert.Equal(t, models.PendingObservation, msgs[0].Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("batch never handled")
	}
}

func TestHandlerErrorDoesNotKillProcessor(t *testing.T) {
	pending := &fakePending{}
	pending.push(obsPayload)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := NewProcessor(Config{SessionDBID: 1, IdleTimeout: time.Hour}, pending, NewBus())
	go func() {
		_ = proc.Run(ctx, func(context.Context, []*models.PendingMessage) error {
			return errors.New("enrichment failed")
		})
	}()

	require.Eventually(t, func() bool {
		return proc.State() == StateParked
	}, 2*time.Second, 5*time.Millisecond)
}
