// Package retention prunes old observations and summaries on a daily
// cadence.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pilothq/recall/internal/db/sqlite"
)

const (
	// startupDelay defers the first run so retention never competes
	// with worker startup.
	startupDelay = 30 * time.Second
	// runInterval is the pruning cadence.
	runInterval = 24 * time.Hour
)

// Policy bounds what a run may delete.
type Policy struct {
	Enabled      bool
	MaxAgeDays   int
	MaxCount     int
	ExcludeTypes []string
	SoftDelete   bool
}

// Scheduler runs the retention policy periodically. Start is
// idempotent: a second call stops the timers scheduled by the first.
type Scheduler struct {
	observations *sqlite.ObservationStore
	summaries    *sqlite.SummaryStore
	policy       Policy

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a retention scheduler.
func NewScheduler(observations *sqlite.ObservationStore, summaries *sqlite.SummaryStore, policy Policy) *Scheduler {
	return &Scheduler{
		observations: observations,
		summaries:    summaries,
		policy:       policy,
	}
}

// Start schedules the first run after the startup delay and then every
// 24 h. Calling Start while running restarts the schedule.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)

	log.Info().
		Bool("enabled", s.policy.Enabled).
		Int("maxAgeDays", s.policy.MaxAgeDays).
		Int("maxCount", s.policy.MaxCount).
		Msg("Retention scheduler started")
}

// Stop cancels the startup timer and the periodic timer. Safe to call
// when not started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()
	log.Info().Msg("Retention scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	startup := time.NewTimer(startupDelay)
	defer startup.Stop()

	select {
	case <-ctx.Done():
		return
	case <-startup.C:
	}
	s.runOnce(ctx)

	ticker := time.NewTicker(runInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce applies the policy. Errors are logged; the cadence continues.
func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.policy.Enabled {
		log.Debug().Msg("Retention disabled, skipping run")
		return
	}

	start := time.Now()
	var pruned int64

	if s.policy.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.policy.MaxAgeDays).UnixMilli()

		ids, err := s.observations.FindExpiredObservations(ctx, cutoff, s.policy.ExcludeTypes)
		if err != nil {
			log.Error().Err(err).Msg("Retention: find expired observations failed")
		} else if n, err := s.deleteObservations(ctx, ids); err != nil {
			log.Error().Err(err).Msg("Retention: delete expired observations failed")
		} else {
			pruned += n
		}

		sumIDs, err := s.summaries.FindExpiredSummaries(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Msg("Retention: find expired summaries failed")
		} else if n, err := s.summaries.DeleteSummaries(ctx, sumIDs); err != nil {
			log.Error().Err(err).Msg("Retention: delete expired summaries failed")
		} else {
			pruned += n
		}
	}

	if s.policy.MaxCount > 0 {
		ids, err := s.observations.FindOverflowObservations(ctx, s.policy.MaxCount, s.policy.ExcludeTypes)
		if err != nil {
			log.Error().Err(err).Msg("Retention: find overflow observations failed")
		} else if n, err := s.deleteObservations(ctx, ids); err != nil {
			log.Error().Err(err).Msg("Retention: delete overflow observations failed")
		} else {
			pruned += n
		}
	}

	log.Info().
		Int64("pruned", pruned).
		Dur("took", time.Since(start)).
		Msg("Retention run complete")
}

func (s *Scheduler) deleteObservations(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if s.policy.SoftDelete {
		return s.observations.SoftDeleteObservations(ctx, ids)
	}
	return s.observations.DeleteObservations(ctx, ids)
}
