package daemon

import (
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
)

// Probe timeouts, before the platform multiplier.
const (
	quickHealthTimeout  = 1 * time.Second
	takeoverHealthWait  = 15 * time.Second
	coldStartHealthWait = 30 * time.Second
	portFreeWait        = 5 * time.Second
)

// VersionMatch is the result of comparing the running worker's version
// with this binary's.
type VersionMatch struct {
	Matches       bool
	PluginVersion string
	WorkerVersion string
}

// Deps are the effectful operations EnsureWorker drives. They are
// injected so the state machine is testable without processes or
// sockets.
type Deps struct {
	WaitForHealth     func(port int, timeout time.Duration) bool
	CheckVersionMatch func(port int) VersionMatch
	HTTPShutdown      func(port int) bool
	PortInUse         func(port int) bool
	WaitPortFree      func(port int, timeout time.Duration) bool
	SpawnDaemon       func(port int) int // returns pid, 0 on failure
	WritePIDFile      func(pid, port int) error
	RemovePIDFile     func() error
}

// Result reports whether a compatible worker is listening.
type Result struct {
	Ready bool
	Port  int
	Error string
}

// PlatformTimeout scales a bound for slower platforms.
func PlatformTimeout(base time.Duration) time.Duration {
	switch runtime.GOOS {
	case "windows":
		return base * 2
	case "darwin":
		return base * 3 / 2
	default:
		return base
	}
}

// EnsureWorker guarantees a compatible worker is listening on port
// before returning Ready. A version mismatch is not an error: the old
// worker is shut down cleanly and a fresh one spawned.
func EnsureWorker(port int, deps Deps) Result {
	if deps.WaitForHealth(port, PlatformTimeout(quickHealthTimeout)) {
		vm := deps.CheckVersionMatch(port)
		if vm.Matches {
			log.Debug().Int("port", port).Msg("Worker already healthy")
			return Result{Ready: true, Port: port}
		}

		log.Info().
			Str("pluginVersion", vm.PluginVersion).
			Str("workerVersion", vm.WorkerVersion).
			Msg("Worker version mismatch, restarting")
		deps.HTTPShutdown(port)
		deps.WaitPortFree(port, PlatformTimeout(portFreeWait))
		_ = deps.RemovePIDFile()
		return coldStart(port, deps)
	}

	if deps.PortInUse(port) {
		// Something holds the port but did not answer the quick probe;
		// give a starting worker time to come up.
		if deps.WaitForHealth(port, PlatformTimeout(takeoverHealthWait)) {
			return Result{Ready: true, Port: port}
		}
		return Result{Port: port, Error: "port in use but worker not responding"}
	}

	return coldStart(port, deps)
}

func coldStart(port int, deps Deps) Result {
	pid := deps.SpawnDaemon(port)
	if pid == 0 {
		return Result{Port: port, Error: "failed to spawn worker daemon"}
	}

	if err := deps.WritePIDFile(pid, port); err != nil {
		log.Warn().Int("pid", pid).Err(err).Msg("Failed to write PID file")
	}

	if deps.WaitForHealth(port, PlatformTimeout(coldStartHealthWait)) {
		log.Info().Int("pid", pid).Int("port", port).Msg("Worker daemon started")
		return Result{Ready: true, Port: port}
	}

	_ = deps.RemovePIDFile()
	return Result{Port: port, Error: "health check timeout"}
}
