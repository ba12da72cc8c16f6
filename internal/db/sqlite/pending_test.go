package sqlite

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newPendingFixture(t *testing.T) (*Store, *PendingStore, int64) {
	t.Helper()
	store := newTestStore(t)
	id, err := NewSessionStore(store).CreateSession(context.Background(), "content-1", "proj", "")
	require.NoError(t, err)
	return store, NewPendingStore(store), id
}

func TestClaimNextFIFO(t *testing.T) {
	_, pending, sessionID := newPendingFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := pending.Enqueue(ctx, sessionID, []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		row, err := pending.ClaimNext(ctx, sessionID)
		require.NoError(t, err)
		require.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(row.Payload))
	}

	_, err := pending.ClaimNext(ctx, sessionID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClaimRemovesRow(t *testing.T) {
	_, pending, sessionID := newPendingFixture(t)
	ctx := context.Background()

	_, err := pending.Enqueue(ctx, sessionID, []byte(`{}`))
	require.NoError(t, err)

	depth, err := pending.QueueDepth(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	// Claim and delete happen in one transaction: after a successful
	// claim the row is gone.
	_, err = pending.ClaimNext(ctx, sessionID)
	require.NoError(t, err)

	depth, err = pending.QueueDepth(ctx, sessionID)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestClaimBatchRespectsLimitAndOrder(t *testing.T) {
	_, pending, sessionID := newPendingFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := pending.Enqueue(ctx, sessionID, []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}

	batch, err := pending.ClaimBatch(ctx, sessionID, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.JSONEq(t, `{"n":0}`, string(batch[0].Payload))
	require.JSONEq(t, `{"n":1}`, string(batch[1].Payload))

	batch, err = pending.ClaimBatch(ctx, sessionID, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	batch, err = pending.ClaimBatch(ctx, sessionID, 2)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.JSONEq(t, `{"n":4}`, string(batch[0].Payload))

	batch, err = pending.ClaimBatch(ctx, sessionID, 2)
	require.NoError(t, err)
	require.Empty(t, batch)
}

// Claim-and-delete is one transaction: racing claimers on a single row
// produce exactly one winner. Losers see ErrNotFound or a retryable
// busy error, never a duplicate delivery.
func TestClaimNextConcurrentSingleWinner(t *testing.T) {
	_, pending, sessionID := newPendingFixture(t)
	ctx := context.Background()

	const (
		rounds   = 25
		claimers = 8
	)
	for round := 0; round < rounds; round++ {
		_, err := pending.Enqueue(ctx, sessionID, []byte(fmt.Sprintf(`{"round":%d}`, round)))
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if row, err := pending.ClaimNext(ctx, sessionID); err == nil && row != nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), wins.Load(), "round %d: exactly one claimer may win", round)

		depth, err := pending.QueueDepth(ctx, sessionID)
		require.NoError(t, err)
		require.Zero(t, depth, "round %d: the winning claim removed the row", round)
	}
}

func TestQueueIsolatedPerSession(t *testing.T) {
	store, pending, first := newPendingFixture(t)
	ctx := context.Background()

	second, err := NewSessionStore(store).CreateSession(ctx, "content-2", "proj", "")
	require.NoError(t, err)

	_, err = pending.Enqueue(ctx, first, []byte(`{"who":"first"}`))
	require.NoError(t, err)
	_, err = pending.Enqueue(ctx, second, []byte(`{"who":"second"}`))
	require.NoError(t, err)

	row, err := pending.ClaimNext(ctx, second)
	require.NoError(t, err)
	require.JSONEq(t, `{"who":"second"}`, string(row.Payload))

	total, err := pending.TotalQueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	withPending, err := pending.SessionsWithPending(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{first}, withPending)
}
