package worker

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pilothq/recall/internal/memctx"
)

// handleContextInject renders the memory context document for one or
// more projects as plain text, ready to prepend to a session prompt.
//
// Query parameters:
//
//	projects  comma-separated project names (alias: project)
//	planPath  scope the document to one plan
//	colors    "true" renders ANSI escapes instead of markdown
func (s *Service) handleContextInject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	raw := q.Get("projects")
	if raw == "" {
		raw = q.Get("project")
	}
	var projects []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			projects = append(projects, p)
		}
	}
	if len(projects) == 0 {
		http.Error(w, "projects parameter is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.config.NoContext {
		return
	}

	mode := memctx.RenderMarkdown
	if q.Get("colors") == "true" {
		mode = memctx.RenderANSI
	}

	doc, err := s.contextEngine.Compose(r.Context(), memctx.Request{
		Projects:         projects,
		CurrentSessionID: q.Get("sessionId"),
		CurrentCwd:       q.Get("cwd"),
		PlanPath:         q.Get("planPath"),
		Mode:             mode,
	})
	if err != nil {
		log.Error().Err(err).Strs("projects", projects).Msg("Context composition failed")
		http.Error(w, "failed to compose context", http.StatusInternalServerError)
		return
	}

	_, _ = w.Write([]byte(doc))
}
