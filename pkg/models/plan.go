package models

// PlanStatus is the workflow state recorded in a plan association.
type PlanStatus string

const (
	PlanPending  PlanStatus = "PENDING"
	PlanComplete PlanStatus = "COMPLETE"
	PlanVerified PlanStatus = "VERIFIED"
)

// ValidPlanStatus reports whether s is an accepted plan status.
func ValidPlanStatus(s PlanStatus) bool {
	switch s {
	case PlanPending, PlanComplete, PlanVerified:
		return true
	}
	return false
}

// SessionPlan is the 1:1 association from a session to a plan file.
// The row cascades away when its session is deleted.
type SessionPlan struct {
	SessionDBID int64      `json:"session_db_id"`
	PlanPath    string     `json:"plan_path"`
	PlanStatus  PlanStatus `json:"plan_status"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

// PlanFile is a discovered plan document with its parsed headers.
type PlanFile struct {
	Path           string `json:"path"`
	Name           string `json:"name"`
	Status         string `json:"status,omitempty"`
	Approved       bool   `json:"approved"`
	Iterations     int    `json:"iterations,omitempty"`
	TasksComplete  int    `json:"tasks_complete"`
	TasksRemaining int    `json:"tasks_remaining"`
	ModifiedAtMs   int64  `json:"modified_at_ms"`
}
