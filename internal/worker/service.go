// Package worker provides the recall worker daemon: HTTP surface,
// session queue processing, context injection, and retention.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/pilothq/recall/internal/config"
	"github.com/pilothq/recall/internal/db/sqlite"
	"github.com/pilothq/recall/internal/memctx"
	"github.com/pilothq/recall/internal/plans"
	"github.com/pilothq/recall/internal/retention"
	"github.com/pilothq/recall/internal/worker/queue"
	"github.com/pilothq/recall/internal/worker/session"
	"github.com/pilothq/recall/internal/worker/sse"
	"github.com/pilothq/recall/pkg/models"
)

// DefaultHTTPTimeout bounds every handler.
const DefaultHTTPTimeout = 30 * time.Second

// Service is the worker orchestrator. Construction wires every
// component once; Shutdown tears them down in reverse order.
type Service struct {
	version string
	config  *config.Config

	store            *sqlite.Store
	sessionStore     *sqlite.SessionStore
	observationStore *sqlite.ObservationStore
	summaryStore     *sqlite.SummaryStore
	promptStore      *sqlite.PromptStore
	pendingStore     *sqlite.PendingStore
	planStore        *sqlite.PlanStore

	bus            *queue.Bus
	sessionManager *session.Manager
	contextEngine  *memctx.Engine
	retention      *retention.Scheduler
	broadcaster    *sse.Broadcaster
	enricher       *Enricher

	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ready     atomic.Bool
	initError error
	initMu    sync.RWMutex
}

// NewService creates the worker with deferred initialisation: the
// health endpoint answers immediately while the database comes up in
// the background.
func NewService(version string, cfg *config.Config) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:     version,
		config:      cfg,
		bus:         queue.NewBus(),
		broadcaster: sse.NewBroadcaster(nil),
		router:      chi.NewRouter(),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()

	go svc.initializeAsync()

	return svc, nil
}

// initializeAsync performs database and component initialisation.
func (s *Service) initializeAsync() {
	log.Info().Msg("Starting async initialization")

	if err := s.config.EnsureDataDir(); err != nil {
		s.setInitError(fmt.Errorf("ensure data dir: %w", err))
		return
	}

	store, err := sqlite.NewStore(sqlite.StoreConfig{
		Path:     s.config.DBPath,
		MaxConns: s.config.MaxConns,
	})
	if err != nil {
		s.setInitError(fmt.Errorf("init database: %w", err))
		return
	}

	sessionStore := sqlite.NewSessionStore(store)
	observationStore := sqlite.NewObservationStore(store)
	summaryStore := sqlite.NewSummaryStore(store)
	promptStore := sqlite.NewPromptStore(store)
	pendingStore := sqlite.NewPendingStore(store)
	planStore := sqlite.NewPlanStore(store)

	enricher := NewEnricher(s.config)

	manager := session.NewManager(pendingStore, s.bus,
		s.handleBatch, session.Config{
			IdleTimeout:  time.Duration(s.config.IdleTimeoutMs) * time.Millisecond,
			MaxBatchSize: s.config.MaxBatchSize,
		})

	contextEngine := memctx.NewEngine(s.config, observationStore, summaryStore, sessionStore)

	retentionScheduler := retention.NewScheduler(observationStore, summaryStore, retention.Policy{
		Enabled:      s.config.RetentionEnabled,
		MaxAgeDays:   s.config.RetentionMaxDays,
		MaxCount:     s.config.RetentionMaxCount,
		ExcludeTypes: s.config.RetentionExclude,
		SoftDelete:   s.config.RetentionSoft,
	})

	s.initMu.Lock()
	s.store = store
	s.sessionStore = sessionStore
	s.observationStore = observationStore
	s.summaryStore = summaryStore
	s.promptStore = promptStore
	s.pendingStore = pendingStore
	s.planStore = planStore
	s.sessionManager = manager
	s.contextEngine = contextEngine
	s.retention = retentionScheduler
	s.enricher = enricher
	s.initMu.Unlock()

	manager.SetOnChange(s.broadcastProcessingStatus)
	s.broadcaster.SetSnapshot(s.snapshot)

	retentionScheduler.Start()

	if err := manager.ResumePending(s.ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to resume pending queues")
	}

	s.startPlansWatcher()

	s.ready.Store(true)
	log.Info().Msg("Async initialization complete, service ready")
}

// startPlansWatcher broadcasts plan file changes from the working
// directory's docs/plans, when one exists.
func (s *Service) startPlansWatcher() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	watcher, err := plans.NewWatcher(cwd, func(path string) {
		s.broadcaster.Broadcast(sse.Event{
			Type: sse.EventPlanAssociationChanged,
			Data: map[string]string{"plan_path": path, "reason": "file_changed"},
		})
	})
	if err != nil {
		log.Warn().Err(err).Msg("Plans watcher unavailable")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = watcher.Start(s.ctx)
	}()
}

// handleBatch materialises one claimed batch: enrich and store each
// message, then notify the dashboard.
func (s *Service) handleBatch(ctx context.Context, sessionDBID int64, msgs []*models.PendingMessage) error {
	sess, err := s.sessionStore.GetSessionByID(ctx, sessionDBID)
	if err != nil {
		return fmt.Errorf("load session %d: %w", sessionDBID, err)
	}

	for _, msg := range msgs {
		switch msg.Kind {
		case models.PendingObservation:
			obs := s.enricher.EnrichObservation(sess, msg.Observation)
			if obs == nil {
				continue
			}
			if _, err := s.observationStore.StoreObservation(ctx, obs); err != nil {
				log.Error().Err(err).Int64("sessionId", sessionDBID).Msg("Failed to store observation")
				continue
			}
			s.broadcaster.Broadcast(sse.Event{Type: sse.EventNewObservation, Data: obs})

		case models.PendingSummarize:
			summary := s.enricher.EnrichSummary(sess, msg.Summarize)
			if _, err := s.summaryStore.StoreSummary(ctx, summary); err != nil {
				log.Error().Err(err).Int64("sessionId", sessionDBID).Msg("Failed to store summary")
				continue
			}
			s.broadcaster.Broadcast(sse.Event{Type: sse.EventNewSummary, Data: summary})
			if err := s.sessionStore.CompleteSession(ctx, sessionDBID); err != nil {
				log.Warn().Err(err).Int64("sessionId", sessionDBID).Msg("Failed to complete session")
			}
		}
	}

	s.broadcastProcessingStatus()
	return nil
}

// snapshot builds the initial SSE frames for a new client.
func (s *Service) snapshot() ([]string, sse.ProcessingStatus) {
	if !s.ready.Load() {
		return nil, sse.ProcessingStatus{}
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	projects, err := s.sessionStore.ListProjects(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list projects for SSE snapshot")
	}
	return projects, s.processingStatus(ctx)
}

func (s *Service) processingStatus(ctx context.Context) sse.ProcessingStatus {
	return sse.ProcessingStatus{
		Processing:     s.sessionManager.IsProcessing(),
		QueueDepth:     s.sessionManager.TotalQueueDepth(ctx),
		ActiveSessions: s.sessionManager.ActiveSessionCount(),
	}
}

func (s *Service) broadcastProcessingStatus() {
	if !s.ready.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.broadcaster.Broadcast(sse.Event{
		Type: sse.EventProcessingStatus,
		Data: s.processingStatus(ctx),
	})
}

func (s *Service) setInitError(err error) {
	s.initMu.Lock()
	s.initError = err
	s.initMu.Unlock()
	log.Error().Err(err).Msg("Async initialization failed")
}

// InitError returns any initialisation error.
func (s *Service) InitError() error {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.initError
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestID)
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(10 << 20))
	s.router.Use(RateLimitMiddleware(NewRateLimiter(200, 400)))
}

func (s *Service) setupRoutes() {
	// Liveness answers before the database is up.
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)
	s.router.Get("/api/ready", s.handleReady)
	s.router.Post("/api/restart", s.handleRestart)
	s.router.Get("/stream", s.broadcaster.HandleStream)
	s.router.Get("/", serveIndex)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Get("/api/dashboard/sessions", s.handleDashboardSessions)
		r.Get("/api/projects", s.handleGetProjects)
		r.Get("/api/observations", s.handleGetObservations)

		r.Post("/api/sessions/init", s.handleSessionInit)
		r.Post("/api/sessions/observations", s.handleObservation)
		r.Post("/api/sessions/summarize", s.handleSummarize)
		r.Post("/api/sessions/prompt", s.handleUserPrompt)
		r.Delete("/api/sessions/{id}", s.handleDeleteSession)

		r.Get("/api/context/inject", s.handleContextInject)

		r.Get("/api/plans", s.handleListPlans)
		r.Get("/api/plans/active", s.handleActivePlan)
		r.Get("/api/plan", s.handleGetPlan)
		r.Get("/api/plan/content", s.handleGetPlanContent)
		r.Delete("/api/plan", s.handleDeletePlan)

		r.Post("/api/sessions/{id}/plan", s.handleAssociatePlan)
		r.Get("/api/sessions/{id}/plan", s.handleGetSessionPlan)
		r.Delete("/api/sessions/{id}/plan", s.handleClearSessionPlan)
		r.Put("/api/sessions/{id}/plan/status", s.handleUpdatePlanStatus)
		r.Get("/api/sessions/by-content-id/{cid}/plan", s.handleGetPlanByContentID)
	})
}

// Start binds the HTTP server. The listener starts immediately;
// initialisation continues in the background.
func (s *Service) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.WorkerBind, s.config.WorkerPort)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Str("addr", addr).
		Int("pid", os.Getpid()).
		Str("version", s.version).
		Msg("Worker HTTP server started")
	return nil
}

// Shutdown tears the worker down in reverse construction order.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	if s.retention != nil {
		s.retention.Stop()
	}
	if s.sessionManager != nil {
		s.sessionManager.Shutdown(ctx)
	}
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Error().Err(err).Msg("Database close error")
		}
	}

	s.wg.Wait()
	log.Info().Msg("Worker shutdown complete")
	return nil
}
