package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pilothq/recall/internal/db/sqlite"
	"github.com/pilothq/recall/pkg/models"
)

// State is the observable lifecycle state of a processor.
type State int32

const (
	// StateDraining means the processor is claiming and yielding rows.
	StateDraining State = iota
	// StateParked means the queue was empty and the processor is
	// waiting for a wakeup, cancellation, or the idle deadline.
	StateParked
	// StateCancelled is terminal: the context was cancelled.
	StateCancelled
	// StateIdleExit is terminal: the idle deadline elapsed.
	StateIdleExit
)

func (s State) String() string {
	switch s {
	case StateDraining:
		return "draining"
	case StateParked:
		return "parked"
	case StateCancelled:
		return "cancelled"
	case StateIdleExit:
		return "idle_exit"
	}
	return "unknown"
}

const (
	// DefaultIdleTimeout is how long an empty queue is held open
	// before the processor exits.
	DefaultIdleTimeout = 3 * time.Minute
	// DefaultMaxBatchSize bounds one transactional claim.
	DefaultMaxBatchSize = 10
	// transientRetryDelay is the pause after a failed claim.
	transientRetryDelay = time.Second
)

// PendingSource is the durable queue a processor drains.
// *sqlite.PendingStore satisfies it.
type PendingSource interface {
	ClaimNext(ctx context.Context, sessionDBID int64) (*models.PendingRow, error)
	ClaimBatch(ctx context.Context, sessionDBID int64, maxBatch int) ([]*models.PendingRow, error)
}

// Config configures one session's processor.
type Config struct {
	SessionDBID   int64
	IdleTimeout   time.Duration // default DefaultIdleTimeout
	MaxBatchSize  int           // default DefaultMaxBatchSize
	OnIdleTimeout func()        // invoked once, just before an idle exit
}

// BatchHandler consumes one non-empty claimed batch, in enqueue order.
type BatchHandler func(ctx context.Context, msgs []*models.PendingMessage) error

// Processor drains one session's durable queue. Claimed rows are
// deleted before the handler sees them, so a crash mid-handle drops
// the in-flight batch; writers account for that by making the durable
// append the acknowledged step.
type Processor struct {
	cfg     Config
	pending PendingSource
	bus     *Bus
	state   atomic.Int32
}

// NewProcessor creates a processor for one session.
func NewProcessor(cfg Config, pending PendingSource, bus *Bus) *Processor {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	return &Processor{cfg: cfg, pending: pending, bus: bus}
}

// State returns the processor's current state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
}

// Run drains the queue in batch mode until cancellation or idle exit.
// Each claimed batch is parsed and handed to handle as one group;
// corrupt rows are logged and skipped, never aborting the batch.
func (p *Processor) Run(ctx context.Context, handle BatchHandler) error {
	return p.run(ctx, func(ctx context.Context) ([]*models.PendingRow, error) {
		return p.pending.ClaimBatch(ctx, p.cfg.SessionDBID, p.cfg.MaxBatchSize)
	}, handle)
}

// RunSingle drains the queue one message at a time.
func (p *Processor) RunSingle(ctx context.Context, handle BatchHandler) error {
	return p.run(ctx, func(ctx context.Context) ([]*models.PendingRow, error) {
		row, err := p.pending.ClaimNext(ctx, p.cfg.SessionDBID)
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []*models.PendingRow{row}, nil
	}, handle)
}

func (p *Processor) run(ctx context.Context, claim func(context.Context) ([]*models.PendingRow, error), handle BatchHandler) error {
	notify, unsubscribe := p.bus.Subscribe()
	defer unsubscribe()

	p.setState(StateDraining)
	lastActivity := time.Now()

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			p.setState(StateCancelled)
			return nil
		}

		rows, err := claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.setState(StateCancelled)
				return nil
			}
			log.Warn().
				Int64("sessionId", p.cfg.SessionDBID).
				Err(err).
				Msg("Claim failed, retrying")
			select {
			case <-ctx.Done():
				p.setState(StateCancelled)
				return nil
			case <-time.After(transientRetryDelay):
			}
			continue
		}

		if len(rows) > 0 {
			p.setState(StateDraining)
			msgs := parseRows(rows)
			if len(msgs) > 0 {
				if err := handle(ctx, msgs); err != nil {
					if ctx.Err() != nil {
						p.setState(StateCancelled)
						return nil
					}
					log.Error().
						Int64("sessionId", p.cfg.SessionDBID).
						Int("batchSize", len(msgs)).
						Err(err).
						Msg("Batch handler failed")
				}
			}
			lastActivity = time.Now()
			continue
		}

		// Queue empty: park until a wakeup, cancellation, or the idle
		// deadline, whichever fires first.
		p.setState(StateParked)

		remaining := p.cfg.IdleTimeout - time.Since(lastActivity)
		if remaining <= 0 {
			return p.idleExit()
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(remaining)

		select {
		case <-notify:
			p.setState(StateDraining)
		case <-ctx.Done():
			p.setState(StateCancelled)
			return nil
		case <-idle.C:
			return p.idleExit()
		}
	}
}

func (p *Processor) idleExit() error {
	p.setState(StateIdleExit)
	log.Debug().
		Int64("sessionId", p.cfg.SessionDBID).
		Dur("idleTimeout", p.cfg.IdleTimeout).
		Msg("Queue processor idle exit")
	if p.cfg.OnIdleTimeout != nil {
		p.cfg.OnIdleTimeout()
	}
	return nil
}

// parseRows decodes claimed rows, dropping corrupt payloads.
func parseRows(rows []*models.PendingRow) []*models.PendingMessage {
	msgs := make([]*models.PendingMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := models.ParsePending(row)
		if err != nil {
			log.Error().
				Int64("rowId", row.ID).
				Int64("sessionId", row.SessionDBID).
				Err(err).
				Msg("Dropping corrupt pending payload")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
