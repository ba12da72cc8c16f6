package worker

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/pilothq/recall/internal/config"
	"github.com/pilothq/recall/internal/db/sqlite"
	"github.com/pilothq/recall/internal/plans"
	"github.com/pilothq/recall/internal/worker/sse"
	"github.com/pilothq/recall/pkg/models"
)

// resolvePlanParam maps a requested plan path onto the project's plans
// directory, rejecting traversal attempts with 403.
func (s *Service) resolvePlanParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	requested := r.URL.Query().Get("path")
	if requested == "" {
		http.Error(w, "path parameter is required", http.StatusBadRequest)
		return "", false
	}
	root := r.URL.Query().Get("projectRoot")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			http.Error(w, "cannot determine project root", http.StatusInternalServerError)
			return "", false
		}
		root = cwd
	}
	resolved, err := plans.ResolvePlanPath(root, requested)
	if err != nil {
		if errors.Is(err, plans.ErrOutsidePlansDir) {
			http.Error(w, "path outside plans directory", http.StatusForbidden)
			return "", false
		}
		http.Error(w, "invalid plan path", http.StatusBadRequest)
		return "", false
	}
	return resolved, true
}

// handleListPlans discovers plan files under docs/plans, newest first.
func (s *Service) handleListPlans(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get("projectRoot")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			http.Error(w, "cannot determine project root", http.StatusInternalServerError)
			return
		}
		root = cwd
	}
	files, err := plans.DiscoverPlans(root)
	if err != nil {
		log.Error().Err(err).Str("root", root).Msg("Plan discovery failed")
		http.Error(w, "failed to list plans", http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []*models.PlanFile{}
	}
	writeJSON(w, map[string]interface{}{"plans": files})
}

// handleActivePlan reports the session's active plan marker, if any.
func (s *Service) handleActivePlan(w http.ResponseWriter, _ *http.Request) {
	active, err := plans.ReadActivePlan(config.ActivePlanPath(s.config.DataDir))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read active plan marker")
	}
	if active == nil {
		writeJSON(w, map[string]interface{}{"active": nil})
		return
	}
	writeJSON(w, map[string]interface{}{"active": active})
}

// handleGetPlan parses one plan file's header and task counts.
func (s *Service) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolvePlanParam(w, r)
	if !ok {
		return
	}
	pf, err := plans.ReadPlanFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "plan not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("path", path).Msg("Failed to read plan")
		http.Error(w, "failed to read plan", http.StatusInternalServerError)
		return
	}
	writeJSON(w, pf)
}

// handleGetPlanContent returns the raw markdown of one plan file.
func (s *Service) handleGetPlanContent(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolvePlanParam(w, r)
	if !ok {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "plan not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("path", path).Msg("Failed to read plan content")
		http.Error(w, "failed to read plan", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write(content)
}

// handleDeletePlan removes a plan file and clears any session
// associations pointing at it.
func (s *Service) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolvePlanParam(w, r)
	if !ok {
		return
	}

	affected, err := s.planStore.SessionsForPlan(r.Context(), path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to list sessions for plan")
	}
	for _, id := range affected {
		if err := s.planStore.ClearPlan(r.Context(), id); err != nil {
			log.Warn().Err(err).Int64("sessionId", id).Msg("Failed to clear plan association")
		}
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "plan not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("path", path).Msg("Failed to delete plan")
		http.Error(w, "failed to delete plan", http.StatusInternalServerError)
		return
	}

	s.broadcastPlanChange(path, "plan_deleted")
	writeJSON(w, map[string]interface{}{"deleted": path, "sessionsCleared": len(affected)})
}

type associatePlanRequest struct {
	PlanPath string `json:"plan_path"`
	Status   string `json:"status"`
}

// handleAssociatePlan links a session to a plan file, upserting any
// existing association.
func (s *Service) handleAssociatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req associatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.PlanPath == "" {
		http.Error(w, "plan_path is required", http.StatusBadRequest)
		return
	}
	status := models.PlanStatus(req.Status)
	if req.Status == "" {
		status = models.PlanPending
	}
	if !models.ValidPlanStatus(status) {
		http.Error(w, "invalid plan status", http.StatusBadRequest)
		return
	}

	if err := s.planStore.SetPlan(r.Context(), id, req.PlanPath, status); err != nil {
		log.Error().Err(err).Int64("sessionId", id).Msg("Failed to associate plan")
		http.Error(w, "failed to associate plan", http.StatusInternalServerError)
		return
	}

	s.broadcastPlanChange(req.PlanPath, "associated")
	writeJSON(w, map[string]interface{}{"sessionId": id, "plan_path": req.PlanPath, "status": status})
}

// handleGetSessionPlan returns a session's plan association.
func (s *Service) handleGetSessionPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	plan, err := s.planStore.GetPlan(r.Context(), id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			http.Error(w, "no plan associated", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int64("sessionId", id).Msg("Failed to load plan association")
		http.Error(w, "failed to load plan", http.StatusInternalServerError)
		return
	}
	writeJSON(w, plan)
}

// handleClearSessionPlan drops a session's plan association. Clearing
// an absent association succeeds.
func (s *Service) handleClearSessionPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	if err := s.planStore.ClearPlan(r.Context(), id); err != nil {
		log.Error().Err(err).Int64("sessionId", id).Msg("Failed to clear plan association")
		http.Error(w, "failed to clear plan", http.StatusInternalServerError)
		return
	}
	s.broadcastPlanChange("", "cleared")
	writeJSON(w, map[string]interface{}{"sessionId": id})
}

type planStatusRequest struct {
	Status string `json:"status"`
}

// handleUpdatePlanStatus transitions an existing association's status.
func (s *Service) handleUpdatePlanStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req planStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	status := models.PlanStatus(req.Status)
	if !models.ValidPlanStatus(status) {
		http.Error(w, "invalid plan status", http.StatusBadRequest)
		return
	}

	if err := s.planStore.UpdatePlanStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			http.Error(w, "no plan associated", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int64("sessionId", id).Msg("Failed to update plan status")
		http.Error(w, "failed to update plan status", http.StatusInternalServerError)
		return
	}

	s.broadcastPlanChange("", "status_changed")
	writeJSON(w, map[string]interface{}{"sessionId": id, "status": status})
}

// handleGetPlanByContentID resolves a plan association from the
// editor-facing content session id.
func (s *Service) handleGetPlanByContentID(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	if cid == "" {
		http.Error(w, "content session id is required", http.StatusBadRequest)
		return
	}
	plan, err := s.planStore.GetPlanByContentID(r.Context(), cid)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			http.Error(w, "no plan associated", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("contentSessionId", cid).Msg("Failed to load plan by content id")
		http.Error(w, "failed to load plan", http.StatusInternalServerError)
		return
	}
	writeJSON(w, plan)
}

func (s *Service) broadcastPlanChange(planPath, reason string) {
	data := map[string]string{"reason": reason}
	if planPath != "" {
		data["plan_path"] = planPath
	}
	s.broadcaster.Broadcast(sse.Event{Type: sse.EventPlanAssociationChanged, Data: data})
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
