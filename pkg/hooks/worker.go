// Package hooks provides the client side of the recall worker: worker
// supervision, HTTP helpers, and the hook entry-point runner.
package hooks

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/pilothq/recall/internal/config"
	"github.com/pilothq/recall/internal/daemon"
)

// Version is set at build time via ldflags.
var Version = "dev"

// requestTimeout bounds every hook-originated request.
const requestTimeout = 10 * time.Second

var httpClient = &http.Client{Timeout: requestTimeout}

// WorkerPort returns the worker port from WORKER_PORT or the default.
func WorkerPort() int {
	if port := os.Getenv("WORKER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			return p
		}
	}
	return config.DefaultWorkerPort
}

// WorkerHost returns the host hooks connect to.
func WorkerHost() string {
	if host := os.Getenv("WORKER_HOST"); host != "" {
		return host
	}
	return config.DefaultWorkerHost
}

// EnsureWorkerRunning guarantees a compatible worker daemon is
// listening before returning. Version mismatches trigger a clean
// restart of the old worker.
func EnsureWorkerRunning() (int, error) {
	port := WorkerPort()
	dataDir := config.DataDir()

	// The binary is only needed on the spawn path: a healthy worker
	// already listening must win even when the executable is not on
	// disk (hooks installed without the worker, or a moved install).
	deps := daemon.DefaultDeps(WorkerHost(), Version, findWorkerBinary(), config.PIDFilePath(dataDir))
	result := daemon.EnsureWorker(port, deps)
	if !result.Ready {
		return 0, fmt.Errorf("ensure worker: %s", result.Error)
	}
	return result.Port, nil
}

// findWorkerBinary locates the worker executable: next to this hook
// binary first, then well-known locations, then PATH.
func findWorkerBinary() string {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), "recall-worker")
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./recall-worker",
		"./bin/recall-worker",
		filepath.Join(home, ".pilot", "bin", "recall-worker"),
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	if path, err := exec.LookPath("recall-worker"); err == nil {
		return path
	}
	return ""
}

// POST sends a JSON body to the worker and decodes the JSON response.
func POST(port int, path string, body interface{}) (map[string]interface{}, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Post(
		fmt.Sprintf("http://%s:%d%s", WorkerHost(), port, path),
		"application/json",
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request failed: %s", resp.Status)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// Some endpoints answer with an empty body.
		return nil, nil
	}
	return result, nil
}

// GET fetches a worker endpoint and decodes the JSON response.
func GET(port int, path string) (map[string]interface{}, error) {
	resp, err := httpClient.Get(fmt.Sprintf("http://%s:%d%s", WorkerHost(), port, path))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request failed: %s", resp.Status)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

// GETText fetches a worker endpoint that answers plain text.
func GETText(port int, path string) (string, error) {
	resp, err := httpClient.Get(fmt.Sprintf("http://%s:%d%s", WorkerHost(), port, path))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("request failed: %s", resp.Status)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", err
	}
	return buf.String(), nil
}
