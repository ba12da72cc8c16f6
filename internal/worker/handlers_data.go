package worker

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/pilothq/recall/internal/worker/sse"
)

// handleDashboardSessions lists active sessions with queue depth and
// plan association for the dashboard.
func (s *Service) handleDashboardSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessionStore.GetDashboardSessions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load dashboard sessions")
		http.Error(w, "failed to load sessions", http.StatusInternalServerError)
		return
	}
	for _, ds := range sessions {
		if depth, err := s.pendingStore.QueueDepth(r.Context(), ds.SessionDBID); err == nil {
			ds.QueueDepth = depth
		}
	}
	writeJSON(w, map[string]interface{}{"sessions": sessions})
}

// handleGetProjects lists known project names.
func (s *Service) handleGetProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.sessionStore.ListProjects(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list projects")
		http.Error(w, "failed to list projects", http.StatusInternalServerError)
		return
	}
	if projects == nil {
		projects = []string{}
	}
	writeJSON(w, map[string]interface{}{"projects": projects})
}

// handleGetObservations pages through stored observations, optionally
// filtered by project.
func (s *Service) handleGetObservations(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	page, err := s.observationStore.Paginate(r.Context(), offset, limit, r.URL.Query().Get("project"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to paginate observations")
		http.Error(w, "failed to load observations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"observations": page.Items,
		"hasMore":      page.HasMore,
		"offset":       offset,
		"limit":        limit,
	})
}

func (s *Service) broadcastNewPrompt(contentSessionID string, promptNumber int, text string) {
	s.broadcaster.Broadcast(sse.Event{
		Type: sse.EventNewPrompt,
		Data: map[string]interface{}{
			"contentSessionId": contentSessionID,
			"promptNumber":     promptNumber,
			"prompt":           text,
		},
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
