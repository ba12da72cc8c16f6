package hooks

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeActivePlanMarker(t *testing.T, content string) {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("PILOT_SESSION_ID", "editor-1")

	sessionDir := filepath.Join(dataDir, "sessions", "editor-1")
	require.NoError(t, os.MkdirAll(sessionDir, 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(sessionDir, "active_plan.json"), []byte(content), 0o644))
}

func TestBuildContextInjectURL(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	raw := BuildContextInjectURL([]string{"alpha", "beta"}, "content-1", "/src/alpha", true)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/api/context/inject", u.Path)

	q := u.Query()
	assert.Equal(t, "alpha,beta", q.Get("projects"))
	assert.Equal(t, "content-1", q.Get("sessionId"))
	assert.Equal(t, "/src/alpha", q.Get("cwd"))
	assert.Equal(t, "true", q.Get("colors"))
	assert.Empty(t, q.Get("planPath"), "no marker file means no plan scope")
}

func TestBuildContextInjectURLWithActivePlan(t *testing.T) {
	writeActivePlanMarker(t, `{"plan_path":"docs/plans/big feature.md","status":"PENDING"}`)

	raw := BuildContextInjectURL([]string{"alpha"}, "", "", false)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "docs/plans/big feature.md", q.Get("planPath"))
	assert.Empty(t, q.Get("sessionId"))
	assert.Empty(t, q.Get("colors"))
}

func TestActivePlanPathTolerant(t *testing.T) {
	// Missing marker.
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PILOT_SESSION_ID", "editor-1")
	assert.Empty(t, ActivePlanPath())

	// Malformed marker.
	writeActivePlanMarker(t, `{broken`)
	assert.Empty(t, ActivePlanPath())

	// Empty plan path.
	writeActivePlanMarker(t, `{"plan_path":"  "}`)
	assert.Empty(t, ActivePlanPath())
}
