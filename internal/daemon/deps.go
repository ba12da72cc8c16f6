package daemon

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
)

// healthClient is shared by all probes; per-probe deadlines come from
// the request timeout, not the client.
var healthClient = &http.Client{Timeout: 900 * time.Millisecond}

// DefaultDeps wires the real probing, spawning, and PID-file
// operations. version is this binary's version string; workerBinary is
// the daemon executable to spawn on cold start; pidPath is the PID
// record location.
func DefaultDeps(host, version, workerBinary, pidPath string) Deps {
	return Deps{
		WaitForHealth: func(port int, timeout time.Duration) bool {
			return waitForHealth(host, port, timeout)
		},
		CheckVersionMatch: func(port int) VersionMatch {
			return checkVersionMatch(host, port, version)
		},
		HTTPShutdown: func(port int) bool {
			resp, err := healthClient.Post(
				fmt.Sprintf("http://%s:%d/api/restart", host, port), "application/json", nil)
			if err != nil {
				return false
			}
			resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		},
		PortInUse: func(port int) bool {
			conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 500*time.Millisecond)
			if err != nil {
				return false
			}
			conn.Close()
			return true
		},
		WaitPortFree: func(port int, timeout time.Duration) bool {
			deadline := time.Now().Add(timeout)
			for time.Now().Before(deadline) {
				ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
				if err == nil {
					ln.Close()
					return true
				}
				time.Sleep(100 * time.Millisecond)
			}
			return false
		},
		SpawnDaemon: func(port int) int {
			return spawnDaemon(workerBinary, port)
		},
		WritePIDFile: func(pid, port int) error {
			return WritePIDFile(pidPath, pid, port)
		},
		RemovePIDFile: func() error {
			return RemovePIDFile(pidPath)
		},
	}
}

// waitForHealth polls /api/health with exponential backoff until it
// answers 200 or the timeout elapses.
func waitForHealth(host string, port int, timeout time.Duration) bool {
	url := fmt.Sprintf("http://%s:%d/api/health", host, port)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = timeout

	err := backoff.Retry(func() error {
		resp, err := healthClient.Get(url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health status %d", resp.StatusCode)
		}
		return nil
	}, policy)
	return err == nil
}

func checkVersionMatch(host string, port int, version string) VersionMatch {
	vm := VersionMatch{PluginVersion: version}

	resp, err := healthClient.Get(fmt.Sprintf("http://%s:%d/api/version", host, port))
	if err != nil {
		return vm
	}
	defer resp.Body.Close()

	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return vm
	}
	vm.WorkerVersion = body.Version
	// Unversioned dev builds never force a restart.
	vm.Matches = body.Version == version || body.Version == "dev" || version == "dev"
	return vm
}

// spawnDaemon starts the worker detached from the calling hook so it
// outlives the editor process.
func spawnDaemon(workerBinary string, port int) int {
	if workerBinary == "" {
		return 0
	}
	cmd := exec.Command(workerBinary)
	cmd.Env = append(os.Environ(), fmt.Sprintf("WORKER_PORT=%d", port))
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return 0
	}
	pid := cmd.Process.Pid
	// Reap in the background; the daemon is expected to keep running.
	go func() { _ = cmd.Wait() }()
	return pid
}
