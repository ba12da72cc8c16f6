package hooks

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateWorkerBinary points every binary-discovery location at empty
// directories so findWorkerBinary resolves nothing.
func isolateWorkerBinary(t *testing.T) {
	t.Helper()
	t.Setenv("PATH", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DATA_DIR", t.TempDir())
}

// A healthy worker on the port must win even when the worker binary is
// not on disk: discovery only matters on the spawn path.
func TestEnsureWorkerRunningPrefersHealthyWorker(t *testing.T) {
	isolateWorkerBinary(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/health":
			_, _ = w.Write([]byte(`{"status":"ok","ready":true}`))
		case "/api/version":
			_, _ = w.Write([]byte(`{"version":"dev"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	t.Setenv("WORKER_HOST", "127.0.0.1")
	t.Setenv("WORKER_PORT", u.Port())

	port, err := EnsureWorkerRunning()
	require.NoError(t, err)
	wantPort, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	assert.Equal(t, wantPort, port)
}

func TestEnsureWorkerRunningColdStartWithoutBinary(t *testing.T) {
	isolateWorkerBinary(t)

	// Reserve a port with nothing listening on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	t.Setenv("WORKER_HOST", "127.0.0.1")
	t.Setenv("WORKER_PORT", strconv.Itoa(port))

	_, err = EnsureWorkerRunning()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to spawn worker daemon")
}
