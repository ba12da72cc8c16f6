package hooks

import (
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/pilothq/recall/internal/config"
)

// BuildContextInjectURL assembles the context endpoint path for the
// given projects, scoping to the active plan when one is marked.
func BuildContextInjectURL(projects []string, sessionID, cwd string, colors bool) string {
	params := url.Values{}
	params.Set("projects", strings.Join(projects, ","))
	if sessionID != "" {
		params.Set("sessionId", sessionID)
	}
	if cwd != "" {
		params.Set("cwd", cwd)
	}
	if colors {
		params.Set("colors", "true")
	}
	if planPath := ActivePlanPath(); planPath != "" {
		params.Set("planPath", planPath)
	}
	return "/api/context/inject?" + params.Encode()
}

// ActivePlanPath reads the session's active-plan marker. Any read or
// parse problem means "no active plan"; the marker is advisory.
func ActivePlanPath() string {
	data, err := os.ReadFile(config.ActivePlanPath(config.DataDir()))
	if err != nil {
		return ""
	}
	var marker struct {
		PlanPath string `json:"plan_path"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		return ""
	}
	return strings.TrimSpace(marker.PlanPath)
}
