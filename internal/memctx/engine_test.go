package memctx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilothq/recall/internal/config"
	"github.com/pilothq/recall/internal/db/sqlite"
	"github.com/pilothq/recall/pkg/models"
)

type engineFixture struct {
	engine   *Engine
	store    *sqlite.Store
	sessions *sqlite.SessionStore
	plans    *sqlite.PlanStore
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	observations := sqlite.NewObservationStore(store)
	summaries := sqlite.NewSummaryStore(store)
	sessions := sqlite.NewSessionStore(store)

	return &engineFixture{
		engine:   NewEngine(cfg, observations, summaries, sessions),
		store:    store,
		sessions: sessions,
		plans:    sqlite.NewPlanStore(store),
	}
}

func (f *engineFixture) seedSession(t *testing.T, contentID string, planPath string) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.sessions.CreateSession(ctx, contentID, "proj", "")
	require.NoError(t, err)
	if planPath != "" {
		require.NoError(t, f.plans.SetPlan(ctx, id, planPath, models.PlanPending))
	}
	sess, err := f.sessions.GetSessionByID(ctx, id)
	require.NoError(t, err)
	return sess.MemorySessionID
}

func (f *engineFixture) seedObservation(t *testing.T, memoryID, title string) {
	t.Helper()
	obs := models.NewObservation(memoryID, "proj", &models.ParsedObservation{
		Type:  models.ObsTypeDiscovery,
		Title: title,
		Facts: []string{"a fact about " + title},
	}, 1, 50)
	_, err := sqlite.NewObservationStore(f.store).StoreObservation(context.Background(), obs)
	require.NoError(t, err)
}

func TestComposeEmptyState(t *testing.T) {
	f := newEngineFixture(t)

	doc, err := f.engine.Compose(context.Background(), Request{Projects: []string{"proj"}})
	require.NoError(t, err)
	assert.Contains(t, doc, "Project memory: proj")
	assert.Contains(t, doc, "No memory recorded for this project yet")
}

func TestComposeIncludesObservations(t *testing.T) {
	f := newEngineFixture(t)
	mem := f.seedSession(t, "content-1", "")
	f.seedObservation(t, mem, "router wiring")

	doc, err := f.engine.Compose(context.Background(), Request{Projects: []string{"proj"}})
	require.NoError(t, err)
	assert.Contains(t, doc, "router wiring")
	assert.Contains(t, doc, "a fact about router wiring")
	assert.NotContains(t, doc, "No memory recorded")
}

// Plan scoping: observations from the named plan and from quick-mode
// sessions appear; observations owned by other plans do not.
func TestComposePlanScoped(t *testing.T) {
	f := newEngineFixture(t)

	onPlan := f.seedSession(t, "on-plan", "docs/plans/mine.md")
	otherPlan := f.seedSession(t, "other-plan", "docs/plans/theirs.md")
	quick := f.seedSession(t, "quick", "")

	f.seedObservation(t, onPlan, "my plan work")
	f.seedObservation(t, otherPlan, "their plan work")
	f.seedObservation(t, quick, "quick mode work")

	doc, err := f.engine.Compose(context.Background(), Request{
		Projects: []string{"proj"},
		PlanPath: "docs/plans/mine.md",
	})
	require.NoError(t, err)
	assert.Contains(t, doc, "my plan work")
	assert.Contains(t, doc, "quick mode work")
	assert.NotContains(t, doc, "their plan work")
}

func TestComposeSkipsExcludedProjects(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.cfg.ExcludeProjects = []string{"proj"}

	doc, err := f.engine.Compose(context.Background(), Request{Projects: []string{"proj"}})
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestComposeANSIForcesColors(t *testing.T) {
	f := newEngineFixture(t)
	mem := f.seedSession(t, "content-1", "")
	f.seedObservation(t, mem, "colored entry")

	doc, err := f.engine.Compose(context.Background(), Request{
		Projects: []string{"proj"},
		Mode:     RenderANSI,
	})
	require.NoError(t, err)
	assert.Contains(t, doc, "\x1b[", "ANSI mode must emit escapes even off-tty")
}
