package worker

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/pilothq/recall/internal/db/sqlite"
	"github.com/pilothq/recall/pkg/models"
)

type sessionInitRequest struct {
	ContentSessionID string `json:"contentSessionId"`
	Project          string `json:"project"`
	InitialPrompt    string `json:"initialPrompt"`
}

// handleSessionInit registers a session. Idempotent: replaying the same
// contentSessionId returns the existing row.
func (s *Service) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var req sessionInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.ContentSessionID == "" || req.Project == "" {
		http.Error(w, "contentSessionId and project are required", http.StatusBadRequest)
		return
	}

	id, err := s.sessionStore.CreateSession(r.Context(), req.ContentSessionID, req.Project, req.InitialPrompt)
	if err != nil {
		log.Error().Err(err).Str("contentSessionId", req.ContentSessionID).Msg("Failed to init session")
		http.Error(w, "failed to init session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{"sessionId": id})
}

type observationRequest struct {
	ContentSessionID string          `json:"contentSessionId"`
	Project          string          `json:"project"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input"`
	ToolResponse     json.RawMessage `json:"tool_response"`
	CWD              string          `json:"cwd"`
	PromptNumber     int             `json:"prompt_number"`
}

// handleObservation enqueues a tool event for asynchronous processing.
// The caller gets an immediate ack; enrichment happens on the session's
// queue processor.
func (s *Service) handleObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.ContentSessionID == "" || req.ToolName == "" {
		http.Error(w, "contentSessionId and tool_name are required", http.StatusBadRequest)
		return
	}

	sess, err := s.resolveSession(r, req.ContentSessionID, req.Project)
	if err != nil {
		s.writeSessionError(w, req.ContentSessionID, err)
		return
	}

	msg := &models.PendingMessage{
		Kind: models.PendingObservation,
		Observation: &models.ObservationPayload{
			ToolName:     req.ToolName,
			ToolInput:    req.ToolInput,
			ToolResponse: req.ToolResponse,
			CWD:          req.CWD,
			PromptNumber: req.PromptNumber,
		},
	}
	if err := s.enqueue(r, sess.ID, msg); err != nil {
		http.Error(w, "failed to enqueue observation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{})
}

type summarizeRequest struct {
	ContentSessionID     string `json:"contentSessionId"`
	Project              string `json:"project"`
	LastUserMessage      string `json:"last_user_message"`
	LastAssistantMessage string `json:"last_assistant_message"`
}

// handleSummarize enqueues an end-of-session summarize request.
func (s *Service) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.ContentSessionID == "" {
		http.Error(w, "contentSessionId is required", http.StatusBadRequest)
		return
	}

	sess, err := s.resolveSession(r, req.ContentSessionID, req.Project)
	if err != nil {
		s.writeSessionError(w, req.ContentSessionID, err)
		return
	}

	msg := &models.PendingMessage{
		Kind: models.PendingSummarize,
		Summarize: &models.SummarizePayload{
			LastUserMessage:      req.LastUserMessage,
			LastAssistantMessage: req.LastAssistantMessage,
		},
	}
	if err := s.enqueue(r, sess.ID, msg); err != nil {
		http.Error(w, "failed to enqueue summarize", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{})
}

type userPromptRequest struct {
	ContentSessionID string `json:"contentSessionId"`
	Prompt           string `json:"prompt"`
}

// handleUserPrompt records a prompt and bumps the session's counter.
func (s *Service) handleUserPrompt(w http.ResponseWriter, r *http.Request) {
	var req userPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.ContentSessionID == "" || req.Prompt == "" {
		http.Error(w, "contentSessionId and prompt are required", http.StatusBadRequest)
		return
	}

	sess, err := s.sessionStore.GetSessionByContentID(r.Context(), req.ContentSessionID)
	if err != nil {
		s.writeSessionError(w, req.ContentSessionID, err)
		return
	}

	promptNumber, err := s.sessionStore.IncrementPromptCounter(r.Context(), sess.ID)
	if err != nil {
		log.Error().Err(err).Int64("sessionId", sess.ID).Msg("Failed to increment prompt counter")
		http.Error(w, "failed to record prompt", http.StatusInternalServerError)
		return
	}
	if _, err := s.promptStore.StorePrompt(r.Context(), req.ContentSessionID, promptNumber, req.Prompt); err != nil {
		log.Error().Err(err).Int64("sessionId", sess.ID).Msg("Failed to store prompt")
		http.Error(w, "failed to record prompt", http.StatusInternalServerError)
		return
	}

	s.broadcastNewPrompt(req.ContentSessionID, promptNumber, req.Prompt)
	writeJSON(w, map[string]interface{}{"promptNumber": promptNumber})
}

// handleDeleteSession removes a session and everything hanging off it:
// observations, summaries, prompts, queue rows, and plan association.
func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	s.sessionManager.CancelSession(id)

	if err := s.sessionStore.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int64("sessionId", id).Msg("Failed to delete session")
		http.Error(w, "failed to delete session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{"deleted": id})
}

// resolveSession looks up a session by content id, creating it when the
// request carries a project. Events can arrive before init after a
// worker restart.
func (s *Service) resolveSession(r *http.Request, contentSessionID, project string) (*models.SdkSession, error) {
	sess, err := s.sessionStore.GetSessionByContentID(r.Context(), contentSessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, sqlite.ErrNotFound) || project == "" {
		return nil, err
	}
	if _, err := s.sessionStore.CreateSession(r.Context(), contentSessionID, project, ""); err != nil {
		return nil, err
	}
	return s.sessionStore.GetSessionByContentID(r.Context(), contentSessionID)
}

func (s *Service) writeSessionError(w http.ResponseWriter, contentSessionID string, err error) {
	if errors.Is(err, sqlite.ErrNotFound) {
		http.Error(w, "session not found: "+contentSessionID, http.StatusNotFound)
		return
	}
	log.Error().Err(err).Str("contentSessionId", contentSessionID).Msg("Session lookup failed")
	http.Error(w, "session lookup failed", http.StatusInternalServerError)
}

// enqueue persists a pending message and wakes the session's processor.
func (s *Service) enqueue(r *http.Request, sessionDBID int64, msg *models.PendingMessage) error {
	payload, err := models.EncodePending(msg)
	if err != nil {
		return err
	}
	if _, err := s.pendingStore.Enqueue(r.Context(), sessionDBID, payload); err != nil {
		log.Error().Err(err).Int64("sessionId", sessionDBID).Msg("Failed to enqueue message")
		return err
	}
	s.sessionManager.NotifyEnqueue(sessionDBID)
	s.broadcastProcessingStatus()
	return nil
}
