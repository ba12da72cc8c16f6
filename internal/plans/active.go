package plans

import (
	"os"

	"github.com/goccy/go-json"
)

// ActivePlan is the session's plan pointer, written by the plan
// workflow to ~/.pilot/sessions/<id>/active_plan.json.
type ActivePlan struct {
	PlanPath string `json:"plan_path"`
	Status   string `json:"status,omitempty"`
}

// ReadActivePlan loads the active-plan pointer. A missing file,
// malformed JSON, or empty plan_path all yield (nil, nil): the hook
// path must never fail on a bad pointer file.
func ReadActivePlan(path string) (*ActivePlan, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var plan ActivePlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, nil
	}
	if plan.PlanPath == "" {
		return nil, nil
	}
	return &plan, nil
}
