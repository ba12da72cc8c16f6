// Package memctx composes the per-project context document injected
// into new editor sessions.
package memctx

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pilothq/recall/internal/config"
	"github.com/pilothq/recall/internal/db/sqlite"
	"github.com/pilothq/recall/pkg/models"
)

// Request names what to compose.
type Request struct {
	Projects         []string
	CurrentSessionID string
	CurrentCwd       string
	PlanPath         string // plan-scope filter when non-empty
	Mode             RenderMode
}

// Engine composes context documents from the store.
type Engine struct {
	cfg          *config.Config
	observations *sqlite.ObservationStore
	summaries    *sqlite.SummaryStore
	sessions     *sqlite.SessionStore
}

// NewEngine creates a context engine.
func NewEngine(cfg *config.Config, observations *sqlite.ObservationStore, summaries *sqlite.SummaryStore, sessions *sqlite.SessionStore) *Engine {
	return &Engine{
		cfg:          cfg,
		observations: observations,
		summaries:    summaries,
		sessions:     sessions,
	}
}

// Compose renders the context document for the requested projects.
// Projects compose concurrently; output order follows the request.
// Plan scoping keeps rows from the named plan and from sessions with no
// plan association, and drops rows owned by other plans.
func (e *Engine) Compose(ctx context.Context, req Request) (string, error) {
	var included []string
	for _, project := range req.Projects {
		if e.cfg.ProjectExcluded(project) {
			log.Debug().Str("project", project).Msg("Project excluded from context")
			continue
		}
		included = append(included, project)
	}

	sections := make([]string, len(included))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, project := range included {
		i, project := i, project
		g.Go(func() error {
			section, err := e.composeProject(gctx, project, req)
			if err != nil {
				return err
			}
			sections[i] = section
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(sections, "\n\n"), nil
}

func (e *Engine) composeProject(ctx context.Context, project string, req Request) (string, error) {
	obsLimit := e.cfg.ContextObservations
	sumLimit := e.cfg.ContextSessionCount
	types := e.cfg.ContextObsTypes
	concepts := e.cfg.ContextObsConcepts

	var (
		observations []*models.Observation
		summaries    []*models.SessionSummary
		err          error
	)
	if req.PlanPath != "" {
		observations, err = e.observations.QueryObservationsExcludingOtherPlans(ctx, project, req.PlanPath, types, concepts, obsLimit)
		if err != nil {
			return "", err
		}
		summaries, err = e.summaries.GetSummariesExcludingOtherPlans(ctx, project, req.PlanPath, sumLimit)
	} else {
		observations, err = e.observations.QueryObservations(ctx, project, types, concepts, obsLimit)
		if err != nil {
			return "", err
		}
		summaries, err = e.summaries.GetSummariesForProject(ctx, project, sumLimit)
	}
	if err != nil {
		return "", err
	}

	if len(observations) == 0 && len(summaries) == 0 {
		return renderEmpty(project, req.Mode), nil
	}

	st := styleFor(req.Mode)
	entries := buildTimeline(observations, summaries, e.cfg.ContextFullCount)

	var body strings.Builder
	renderTimeline(&body, st, entries, e.cfg.ContextFullField)

	if e.cfg.ContextShowLastSummary && len(summaries) > 0 {
		renderLastSession(&body, st, summaries[0])
	}

	if prev := e.previously(ctx, project, req.CurrentCwd); prev != "" {
		renderPreviously(&body, st, prev)
	}

	rendered := body.String()
	eco := ComputeEconomics(observations, rendered)

	var doc strings.Builder
	renderHeader(&doc, st, project, eco)
	doc.WriteString(rendered)

	log.Info().
		Str("project", project).
		Str("planPath", req.PlanPath).
		Int("observations", len(observations)).
		Int("summaries", len(summaries)).
		Int("readTokens", eco.ReadTokens).
		Msg("Context composed")

	return doc.String(), nil
}

// previously extracts the last assistant message of the prior completed
// session's transcript. Every failure degrades to an empty section.
func (e *Engine) previously(ctx context.Context, project, cwd string) string {
	if cwd == "" {
		return ""
	}
	last, err := e.sessions.GetLatestCompletedSession(ctx, project)
	if err != nil {
		if !errors.Is(err, sqlite.ErrNotFound) {
			log.Debug().Str("project", project).Err(err).Msg("Transcript lookback failed")
		}
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return LastAssistantMessage(TranscriptPath(home, cwd, last.MemorySessionID))
}
