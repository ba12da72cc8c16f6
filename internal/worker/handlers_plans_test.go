package worker

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilothq/recall/internal/worker/sse"
)

// planProject lays out a project root with a docs/plans directory
// holding one plan file, and returns the root plus the plan's relative
// path.
func planProject(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	plansDir := filepath.Join(root, "docs", "plans")
	require.NoError(t, os.MkdirAll(plansDir, 0o750))
	content := "# Feature\n\nStatus: in_progress\nApproved: yes\n\n- [ ] build it\n"
	require.NoError(t, os.WriteFile(filepath.Join(plansDir, "feature.md"), []byte(content), 0o644))
	return root, "docs/plans/feature.md"
}

func planQuery(root, path string) string {
	q := url.Values{}
	q.Set("projectRoot", root)
	q.Set("path", path)
	return "?" + q.Encode()
}

func TestListPlans(t *testing.T) {
	f := newWorkerFixture(t)
	root, _ := planProject(t)

	status, body := f.do(t, http.MethodGet, "/api/plans?projectRoot="+url.QueryEscape(root), nil)
	require.Equal(t, http.StatusOK, status)
	plans := body["plans"].([]interface{})
	require.Len(t, plans, 1)
}

func TestGetPlanParsesHeaders(t *testing.T) {
	f := newWorkerFixture(t)
	root, rel := planProject(t)

	status, body := f.do(t, http.MethodGet, "/api/plan"+planQuery(root, rel), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "feature", body["name"])
	assert.Equal(t, "IN_PROGRESS", body["status"])
	assert.Equal(t, true, body["approved"])
}

func TestGetPlanContentReturnsMarkdown(t *testing.T) {
	f := newWorkerFixture(t)
	root, rel := planProject(t)

	resp, err := http.Get(f.ts.URL + "/api/plan/content" + planQuery(root, rel))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/markdown")
}

func TestPlanPathTraversalRejected(t *testing.T) {
	f := newWorkerFixture(t)
	root, _ := planProject(t)

	for _, path := range []string{
		"docs/plans/../../etc/passwd",
		"docs/plans/../secrets.md",
		"/etc/passwd",
		"docs/other/feature.md",
	} {
		status, _ := f.do(t, http.MethodGet, "/api/plan"+planQuery(root, path), nil)
		assert.Equal(t, http.StatusForbidden, status, "path %q must be rejected", path)

		status, _ = f.do(t, http.MethodDelete, "/api/plan"+planQuery(root, path), nil)
		assert.Equal(t, http.StatusForbidden, status, "delete %q must be rejected", path)
	}

	status, _ := f.do(t, http.MethodGet, "/api/plan?projectRoot="+url.QueryEscape(root), nil)
	assert.Equal(t, http.StatusBadRequest, status, "missing path parameter")
}

func TestGetPlanNotFound(t *testing.T) {
	f := newWorkerFixture(t)
	root, _ := planProject(t)

	status, _ := f.do(t, http.MethodGet, "/api/plan"+planQuery(root, "docs/plans/missing.md"), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// Every plan mutation pushes a plan_association_changed event so the
// dashboard and statusline can refresh.
func TestPlanMutationsBroadcast(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.initSession(t, "content-1", "alpha")
	c := f.openStream(t)

	sessionPlan := fmt.Sprintf("/api/sessions/%d/plan", id)

	// Associate.
	status, _ := f.do(t, http.MethodPost, sessionPlan, map[string]string{
		"plan_path": "docs/plans/feature.md",
	})
	require.Equal(t, http.StatusOK, status)
	ev := c.waitFor(t, sse.EventPlanAssociationChanged)
	data := ev.Data.(map[string]interface{})
	assert.Equal(t, "associated", data["reason"])
	assert.Equal(t, "docs/plans/feature.md", data["plan_path"])

	// Status transition.
	status, _ = f.do(t, http.MethodPut, sessionPlan+"/status", map[string]string{
		"status": "COMPLETE",
	})
	require.Equal(t, http.StatusOK, status)
	ev = c.waitFor(t, sse.EventPlanAssociationChanged)
	assert.Equal(t, "status_changed", ev.Data.(map[string]interface{})["reason"])

	// Clear.
	status, _ = f.do(t, http.MethodDelete, sessionPlan, nil)
	require.Equal(t, http.StatusOK, status)
	ev = c.waitFor(t, sse.EventPlanAssociationChanged)
	assert.Equal(t, "cleared", ev.Data.(map[string]interface{})["reason"])
}

func TestPlanDeleteBroadcastsAndClearsAssociations(t *testing.T) {
	f := newWorkerFixture(t)
	root, rel := planProject(t)
	id := f.initSession(t, "content-1", "alpha")

	absPlan := filepath.Join(root, "docs", "plans", "feature.md")
	status, _ := f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/plan", id), map[string]string{
		"plan_path": absPlan,
	})
	require.Equal(t, http.StatusOK, status)

	c := f.openStream(t)
	status, body := f.do(t, http.MethodDelete, "/api/plan"+planQuery(root, rel), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["sessionsCleared"])

	ev := c.waitFor(t, sse.EventPlanAssociationChanged)
	assert.Equal(t, "plan_deleted", ev.Data.(map[string]interface{})["reason"])

	_, err := os.Stat(absPlan)
	assert.True(t, os.IsNotExist(err))

	status, _ = f.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/plan", id), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// Failed mutations must not broadcast.
func TestPlanMutationFailuresDoNotBroadcast(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.initSession(t, "content-1", "alpha")
	c := f.openStream(t)

	status, _ := f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/plan", id), map[string]string{
		"plan_path": "docs/plans/feature.md",
		"status":    "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPut, fmt.Sprintf("/api/sessions/%d/plan/status", id), map[string]string{
		"status": "COMPLETE",
	})
	assert.Equal(t, http.StatusNotFound, status, "no association to transition")

	c.assertNoEvent(t, sse.EventPlanAssociationChanged, 200*time.Millisecond)
}

func TestAssociatePlanDefaultsToPending(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.initSession(t, "content-1", "alpha")

	status, body := f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/plan", id), map[string]string{
		"plan_path": "docs/plans/feature.md",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "PENDING", body["status"])

	status, body = f.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/plan", id), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "docs/plans/feature.md", body["plan_path"])
	assert.Equal(t, "PENDING", body["plan_status"])
}

func TestGetPlanByContentID(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.initSession(t, "content-1", "alpha")

	status, _ := f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/plan", id), map[string]string{
		"plan_path": "docs/plans/feature.md",
	})
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodGet, "/api/sessions/by-content-id/content-1/plan", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "docs/plans/feature.md", body["plan_path"])

	status, _ = f.do(t, http.MethodGet, "/api/sessions/by-content-id/unknown/plan", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestClearSessionPlanIdempotent(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.initSession(t, "content-1", "alpha")

	// Clearing an absent association still succeeds.
	status, _ := f.do(t, http.MethodDelete, fmt.Sprintf("/api/sessions/%d/plan", id), nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestActivePlanEmpty(t *testing.T) {
	f := newWorkerFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/plans/active", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, body["active"])
}
