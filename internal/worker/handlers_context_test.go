package worker

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *workerFixture) getText(t *testing.T, path string) (int, string, string) {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw), resp.Header.Get("Content-Type")
}

func (f *workerFixture) seedObservation(t *testing.T, contentID, project string) {
	t.Helper()
	f.initSession(t, contentID, project)
	status, _ := f.do(t, http.MethodPost, "/api/sessions/observations", map[string]interface{}{
		"contentSessionId": contentID,
		"project":          project,
		"tool_name":        "Read",
		"tool_input":       json.RawMessage(`{"file_path":"/src/router.go"}`),
		"tool_response":    json.RawMessage(`"package router"`),
	})
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		_, body := f.do(t, http.MethodGet, "/api/observations?project="+project, nil)
		observations, ok := body["observations"].([]interface{})
		return ok && len(observations) > 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestContextInjectRequiresProjects(t *testing.T) {
	f := newWorkerFixture(t)

	status, _, _ := f.getText(t, "/api/context/inject")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _, _ = f.getText(t, "/api/context/inject?projects=%20,%20")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestContextInjectEmptyState(t *testing.T) {
	f := newWorkerFixture(t)

	status, body, contentType := f.getText(t, "/api/context/inject?projects=alpha")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, contentType, "text/plain")
	assert.Contains(t, body, "Project memory: alpha")
	assert.Contains(t, body, "No memory recorded for this project yet")
}

func TestContextInjectIncludesMemory(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedObservation(t, "content-1", "alpha")

	status, body, _ := f.getText(t, "/api/context/inject?projects=alpha")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Read router.go")
}

func TestContextInjectProjectAlias(t *testing.T) {
	f := newWorkerFixture(t)

	status, body, _ := f.getText(t, "/api/context/inject?project=alpha")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Project memory: alpha")
}

func TestContextInjectMultipleProjects(t *testing.T) {
	f := newWorkerFixture(t)

	status, body, _ := f.getText(t, "/api/context/inject?projects=alpha,beta")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Project memory: alpha")
	assert.Contains(t, body, "Project memory: beta")
}

func TestContextInjectColors(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedObservation(t, "content-1", "alpha")

	status, body, _ := f.getText(t, "/api/context/inject?projects=alpha&colors=true")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "\x1b[", "colors=true renders ANSI escapes")
}

func TestContextInjectNoContext(t *testing.T) {
	f := newWorkerFixture(t)
	f.svc.config.NoContext = true

	status, body, contentType := f.getText(t, "/api/context/inject?projects=alpha")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, contentType, "text/plain")
	assert.Empty(t, body)
}
