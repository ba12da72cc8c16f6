// Package session tracks active editor sessions and owns one queue
// processor per session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pilothq/recall/internal/db/sqlite"
	"github.com/pilothq/recall/internal/worker/queue"
	"github.com/pilothq/recall/pkg/models"
)

// Handler consumes one claimed batch for a session.
type Handler func(ctx context.Context, sessionDBID int64, msgs []*models.PendingMessage) error

// Config tunes the per-session processors the manager spawns.
type Config struct {
	IdleTimeout  time.Duration
	MaxBatchSize int
}

type active struct {
	processor *queue.Processor
	cancel    context.CancelFunc
	startedAt time.Time
}

// Manager is the active-session registry. A session becomes active when
// its first message is enqueued and is evicted when its processor idles
// out; the durable queue means eviction never loses messages.
type Manager struct {
	ctx      context.Context
	cancel   context.CancelFunc
	pending  *sqlite.PendingStore
	bus      *queue.Bus
	handle   Handler
	cfg      Config
	onChange func()

	sessions map[int64]*active
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewManager creates a session manager. handle is invoked for every
// claimed batch; onChange (optional) fires whenever the active set
// grows or shrinks, so the caller can push a processing_status event.
func NewManager(pending *sqlite.PendingStore, bus *queue.Bus, handle Handler, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:      ctx,
		cancel:   cancel,
		pending:  pending,
		bus:      bus,
		handle:   handle,
		cfg:      cfg,
		sessions: make(map[int64]*active),
	}
}

// SetOnChange installs the active-set change callback.
func (m *Manager) SetOnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// NotifyEnqueue wakes the session's processor, spawning it if needed.
// Call after every durable enqueue.
func (m *Manager) NotifyEnqueue(sessionDBID int64) {
	m.EnsureProcessor(sessionDBID)
	m.bus.Publish()
}

// EnsureProcessor spawns a queue processor for the session if none is
// running. Safe to call repeatedly.
func (m *Manager) EnsureProcessor(sessionDBID int64) {
	m.mu.Lock()
	if _, ok := m.sessions[sessionDBID]; ok {
		m.mu.Unlock()
		return
	}

	procCtx, cancel := context.WithCancel(m.ctx)
	proc := queue.NewProcessor(queue.Config{
		SessionDBID:   sessionDBID,
		IdleTimeout:   m.cfg.IdleTimeout,
		MaxBatchSize:  m.cfg.MaxBatchSize,
		OnIdleTimeout: func() { m.evict(sessionDBID, "idle") },
	}, m.pending, m.bus)

	m.sessions[sessionDBID] = &active{
		processor: proc,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	count := len(m.sessions)
	onChange := m.onChange
	m.mu.Unlock()

	log.Info().
		Int64("sessionId", sessionDBID).
		Int("activeSessions", count).
		Msg("Session processor started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = proc.Run(procCtx, func(ctx context.Context, msgs []*models.PendingMessage) error {
			return m.handle(ctx, sessionDBID, msgs)
		})
	}()

	if onChange != nil {
		onChange()
	}
}

// evict drops the registry entry after its processor exits.
func (m *Manager) evict(sessionDBID int64, reason string) {
	m.mu.Lock()
	entry, ok := m.sessions[sessionDBID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionDBID)
	count := len(m.sessions)
	onChange := m.onChange
	m.mu.Unlock()

	entry.cancel()

	log.Info().
		Int64("sessionId", sessionDBID).
		Str("reason", reason).
		Dur("lifetime", time.Since(entry.startedAt)).
		Int("activeSessions", count).
		Msg("Session processor stopped")

	if onChange != nil {
		onChange()
	}

	if reason == "idle" {
		m.respawnIfBacklogged(sessionDBID)
	}
}

// respawnIfBacklogged closes the idle-exit race: a producer that saw
// the old registry entry right before eviction skipped spawning, and
// its wakeup landed in a dying subscription. The entry is gone by now,
// so rechecking the durable queue catches any such row; a producer
// enqueueing after this check sees the empty registry and spawns
// itself.
func (m *Manager) respawnIfBacklogged(sessionDBID int64) {
	ctx, cancel := context.WithTimeout(m.ctx, 2*time.Second)
	defer cancel()

	depth, err := m.pending.QueueDepth(ctx, sessionDBID)
	if err != nil || depth == 0 {
		return
	}

	log.Info().
		Int64("sessionId", sessionDBID).
		Int("queueDepth", depth).
		Msg("Rows enqueued during idle exit, respawning processor")
	m.EnsureProcessor(sessionDBID)
}

// CancelSession stops and removes a session's processor, if any.
func (m *Manager) CancelSession(sessionDBID int64) {
	m.evict(sessionDBID, "cancelled")
}

// ResumePending spawns processors for every session that already has
// queued rows, for worker restart recovery.
func (m *Manager) ResumePending(ctx context.Context) error {
	ids, err := m.pending.SessionsWithPending(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		m.EnsureProcessor(id)
	}
	if len(ids) > 0 {
		log.Info().Int("sessions", len(ids)).Msg("Resumed pending queues")
		m.bus.Publish()
	}
	return nil
}

// ActiveSessionCount returns the number of live processors.
func (m *Manager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IsProcessing reports whether any processor is currently draining.
func (m *Manager) IsProcessing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.sessions {
		if entry.processor.State() == queue.StateDraining {
			return true
		}
	}
	return false
}

// TotalQueueDepth returns the number of durable rows awaiting claim
// across all sessions.
func (m *Manager) TotalQueueDepth(ctx context.Context) int {
	depth, err := m.pending.TotalQueueDepth(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read queue depth")
		return 0
	}
	return depth
}

// Shutdown cancels every processor and waits for them to exit, bounded
// by ctx.
func (m *Manager) Shutdown(ctx context.Context) {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Shutdown timed out waiting for session processors")
	}

	m.mu.Lock()
	count := len(m.sessions)
	m.sessions = make(map[int64]*active)
	m.mu.Unlock()

	log.Info().Int("count", count).Msg("All session processors shut down")
}
