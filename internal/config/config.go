// Package config provides configuration for the recall worker daemon.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker daemon.
	DefaultWorkerPort = 41777

	// DefaultWorkerHost is the loopback address hooks connect to.
	DefaultWorkerHost = "127.0.0.1"
)

// DefaultObservationTypes are the observation types included in context.
var DefaultObservationTypes = []string{
	"discovery", "bugfix", "feature", "change", "decision", "refactor",
}

// DefaultObservationConcepts are the concept tags included in context.
var DefaultObservationConcepts = []string{
	"how-it-works", "why-it-exists", "what-changed",
	"problem-solution", "gotcha", "pattern", "trade-off",
}

// Config holds the daemon configuration, threaded explicitly from main
// through every constructor. There is no package-level cached instance.
type Config struct {
	// Worker settings
	WorkerPort int    `json:"worker_port"`
	WorkerHost string `json:"worker_host"`
	WorkerBind string `json:"worker_bind"`

	// Storage
	DataDir  string `json:"data_dir"`
	DBPath   string `json:"db_path"`
	MaxConns int    `json:"max_conns"`

	// Context injection
	ContextObservations    int      `json:"context_observations"`
	ContextFullCount       int      `json:"context_full_count"`
	ContextSessionCount    int      `json:"context_session_count"`
	ContextFullField       string   `json:"context_full_field"` // facts | narrative | text
	ContextShowLastSummary bool     `json:"context_show_last_summary"`
	ContextObsTypes        []string `json:"context_obs_types"`
	ContextObsConcepts     []string `json:"context_obs_concepts"`
	ExcludeProjects        []string `json:"exclude_projects"`
	NoContext              bool     `json:"no_context"`

	// Retention policy
	RetentionEnabled  bool     `json:"retention_enabled"`
	RetentionMaxDays  int      `json:"retention_max_days"`
	RetentionMaxCount int      `json:"retention_max_count"`
	RetentionExclude  []string `json:"retention_exclude_types"`
	RetentionSoft     bool     `json:"retention_soft_delete"`

	// Queue processing
	IdleTimeoutMs int `json:"idle_timeout_ms"`
	MaxBatchSize  int `json:"max_batch_size"`

	// Logging
	LogLevel string `json:"log_level"`
}

// DataDir returns the data directory path, honouring DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pilot")
}

// SettingsPath returns the settings file path under the data dir.
func SettingsPath(dataDir string) string {
	return filepath.Join(dataDir, "settings.json")
}

// PIDFilePath returns the worker PID file path under the data dir.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, "worker.pid.json")
}

// SessionsDir returns the per-session state directory for the given
// editor session id ("default" when unset).
func SessionsDir(dataDir, sessionID string) string {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = "default"
	}
	return filepath.Join(dataDir, "sessions", sessionID)
}

// ActivePlanPath returns the active-plan file for the current editor
// session, as identified by PILOT_SESSION_ID.
func ActivePlanPath(dataDir string) string {
	return filepath.Join(SessionsDir(dataDir, os.Getenv("PILOT_SESSION_ID")), "active_plan.json")
}

// Default returns a Config with default values.
func Default() *Config {
	dataDir := DataDir()
	return &Config{
		WorkerPort:             DefaultWorkerPort,
		WorkerHost:             DefaultWorkerHost,
		WorkerBind:             DefaultWorkerHost,
		DataDir:                dataDir,
		DBPath:                 filepath.Join(dataDir, "recall.db"),
		MaxConns:               4,
		ContextObservations:    100,
		ContextFullCount:       25,
		ContextSessionCount:    10,
		ContextFullField:       "facts",
		ContextShowLastSummary: true,
		ContextObsTypes:        DefaultObservationTypes,
		ContextObsConcepts:     DefaultObservationConcepts,
		RetentionEnabled:       true,
		RetentionMaxDays:       90,
		RetentionMaxCount:      2000,
		RetentionSoft:          false,
		IdleTimeoutMs:          180_000,
		MaxBatchSize:           10,
		LogLevel:               "info",
	}
}

// Load builds the configuration from defaults, the settings file, and
// environment overrides, in that order.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath(cfg.DataDir))
	if err == nil {
		var settings map[string]interface{}
		if err := json.Unmarshal(data, &settings); err == nil {
			applySettings(cfg, settings)
		}
		// A malformed settings file falls back to defaults.
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

func applySettings(cfg *Config, settings map[string]interface{}) {
	if v, ok := settings["RECALL_WORKER_PORT"].(float64); ok && v > 0 {
		cfg.WorkerPort = int(v)
	}
	if v, ok := settings["RECALL_CONTEXT_OBSERVATIONS"].(float64); ok && v > 0 {
		cfg.ContextObservations = int(v)
	}
	if v, ok := settings["RECALL_CONTEXT_FULL_COUNT"].(float64); ok && v > 0 {
		cfg.ContextFullCount = int(v)
	}
	if v, ok := settings["RECALL_CONTEXT_SESSION_COUNT"].(float64); ok && v > 0 {
		cfg.ContextSessionCount = int(v)
	}
	if v, ok := settings["RECALL_CONTEXT_FULL_FIELD"].(string); ok && v != "" {
		cfg.ContextFullField = v
	}
	if v, ok := settings["RECALL_CONTEXT_SHOW_LAST_SUMMARY"].(bool); ok {
		cfg.ContextShowLastSummary = v
	}
	if v, ok := settings["RECALL_CONTEXT_OBS_TYPES"].(string); ok && v != "" {
		cfg.ContextObsTypes = splitTrim(v)
	}
	if v, ok := settings["RECALL_CONTEXT_OBS_CONCEPTS"].(string); ok && v != "" {
		cfg.ContextObsConcepts = splitTrim(v)
	}
	if v, ok := settings["RECALL_RETENTION_ENABLED"].(bool); ok {
		cfg.RetentionEnabled = v
	}
	if v, ok := settings["RECALL_RETENTION_MAX_DAYS"].(float64); ok && v >= 0 {
		cfg.RetentionMaxDays = int(v)
	}
	if v, ok := settings["RECALL_RETENTION_MAX_COUNT"].(float64); ok && v >= 0 {
		cfg.RetentionMaxCount = int(v)
	}
	if v, ok := settings["RECALL_RETENTION_EXCLUDE_TYPES"].(string); ok && v != "" {
		cfg.RetentionExclude = splitTrim(v)
	}
	if v, ok := settings["RECALL_RETENTION_SOFT_DELETE"].(bool); ok {
		cfg.RetentionSoft = v
	}
	if v, ok := settings["RECALL_IDLE_TIMEOUT_MS"].(float64); ok && v > 0 {
		cfg.IdleTimeoutMs = int(v)
	}
	if v, ok := settings["RECALL_MAX_BATCH_SIZE"].(float64); ok && v > 0 {
		cfg.MaxBatchSize = int(v)
	}
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("WORKER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			cfg.WorkerPort = p
		}
	}
	if host := os.Getenv("WORKER_HOST"); host != "" {
		cfg.WorkerHost = host
	}
	cfg.WorkerBind = cfg.WorkerHost
	if bind := os.Getenv("WORKER_BIND"); bind != "" {
		cfg.WorkerBind = bind
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if os.Getenv("NO_CONTEXT") != "" {
		cfg.NoContext = true
	}
	if raw := os.Getenv("EXCLUDE_PROJECTS"); raw != "" {
		var projects []string
		if err := json.Unmarshal([]byte(raw), &projects); err == nil {
			cfg.ExcludeProjects = projects
		}
	}
}

// EnsureDataDir creates the data directory tree if missing.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o750)
}

// ProjectExcluded reports whether a project is opted out of memory.
func (c *Config) ProjectExcluded(project string) bool {
	for _, excluded := range c.ExcludeProjects {
		if excluded == project {
			return true
		}
	}
	return false
}

// splitTrim splits a comma-separated string and trims whitespace.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
