package worker

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeJSONStatus writes a JSON response with an explicit status code.
func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// requireReady rejects requests until async initialisation finishes.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			if err := s.InitError(); err != nil {
				http.Error(w, "initialization failed: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
			http.Error(w, "service initializing", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth is the liveness probe. It answers immediately, even
// during initialisation, and includes the queue snapshot once ready.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Seconds(),
		"ready":   s.ready.Load(),
	}
	if s.ready.Load() {
		status := s.processingStatus(r.Context())
		resp["processing"] = status.Processing
		resp["queue_depth"] = status.QueueDepth
		resp["active_sessions"] = status.ActiveSessions
	}
	writeJSON(w, resp)
}

// handleVersion reports the daemon version for mismatch detection.
func (s *Service) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"version": s.version})
}

// handleReady answers 200 only when fully initialised.
func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready": false,
		})
		return
	}
	writeJSON(w, map[string]interface{}{"ready": true})
}

// handleRestart acknowledges and then exits cleanly; the supervisor
// respawns the worker.
func (s *Service) handleRestart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "restarting"})

	go func() {
		// Let the response flush before exiting.
		time.Sleep(100 * time.Millisecond)
		log.Info().Msg("Restart requested, exiting")
		shutdownCtx, cancel := contextWithTimeout(5 * time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		osExit(0)
	}()
}
