package models

import (
	"database/sql"

	"github.com/goccy/go-json"
)

// SessionStatus is the lifecycle state of an editor session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// SdkSession is the stable identity of one editor conversation.
//
// ContentSessionID is the id supplied by the editor and is unique.
// MemorySessionID is the key observations and summaries hang off; the
// editor may re-key a session once, in which case the store rewrites it
// transactionally.
type SdkSession struct {
	ID               int64          `json:"id"`
	ContentSessionID string         `json:"content_session_id"`
	MemorySessionID  string         `json:"memory_session_id"`
	Project          string         `json:"project"`
	InitialPrompt    sql.NullString `json:"-"`
	Status           SessionStatus  `json:"status"`
	StartedAt        string         `json:"started_at"`
	StartedAtEpoch   int64          `json:"started_at_epoch"`
	PromptCounter    int            `json:"prompt_counter"`
}

// SessionSummary is one end-of-turn synthesis for a session.
type SessionSummary struct {
	ID              int64          `json:"id"`
	MemorySessionID string         `json:"memory_session_id"`
	Project         string         `json:"project"`
	Request         string         `json:"request"`
	Investigated    sql.NullString `json:"-"`
	Learned         sql.NullString `json:"-"`
	Completed       sql.NullString `json:"-"`
	NextSteps       sql.NullString `json:"-"`
	PromptNumber    sql.NullInt64  `json:"-"`
	CreatedAt       string         `json:"created_at"`
	CreatedAtEpoch  int64          `json:"created_at_epoch"`
}

type summaryJSON struct {
	ID              int64  `json:"id"`
	MemorySessionID string `json:"memory_session_id"`
	Project         string `json:"project"`
	Request         string `json:"request"`
	Investigated    string `json:"investigated,omitempty"`
	Learned         string `json:"learned,omitempty"`
	Completed       string `json:"completed,omitempty"`
	NextSteps       string `json:"next_steps,omitempty"`
	PromptNumber    int64  `json:"prompt_number,omitempty"`
	CreatedAt       string `json:"created_at"`
	CreatedAtEpoch  int64  `json:"created_at_epoch"`
}

// MarshalJSON implements json.Marshaler for SessionSummary.
func (s *SessionSummary) MarshalJSON() ([]byte, error) {
	j := summaryJSON{
		ID:              s.ID,
		MemorySessionID: s.MemorySessionID,
		Project:         s.Project,
		Request:         s.Request,
		CreatedAt:       s.CreatedAt,
		CreatedAtEpoch:  s.CreatedAtEpoch,
	}
	if s.Investigated.Valid {
		j.Investigated = s.Investigated.String
	}
	if s.Learned.Valid {
		j.Learned = s.Learned.String
	}
	if s.Completed.Valid {
		j.Completed = s.Completed.String
	}
	if s.NextSteps.Valid {
		j.NextSteps = s.NextSteps.String
	}
	if s.PromptNumber.Valid {
		j.PromptNumber = s.PromptNumber.Int64
	}
	return json.Marshal(j)
}

// UserPrompt is the literal text of one user prompt, ordered by
// PromptNumber within a session.
type UserPrompt struct {
	ID               int64  `json:"id"`
	ContentSessionID string `json:"content_session_id"`
	PromptNumber     int    `json:"prompt_number"`
	PromptText       string `json:"prompt_text"`
	CreatedAt        string `json:"created_at"`
	CreatedAtEpoch   int64  `json:"created_at_epoch"`
}

// DashboardSession is a session row joined with its plan association,
// as surfaced by the dashboard session list.
type DashboardSession struct {
	SessionDBID      int64         `json:"session_db_id"`
	ContentSessionID string        `json:"content_session_id"`
	Project          string        `json:"project"`
	Status           SessionStatus `json:"status"`
	StartedAtEpoch   int64         `json:"started_at_epoch"`
	PlanPath         string        `json:"plan_path,omitempty"`
	PlanStatus       string        `json:"plan_status,omitempty"`
	QueueDepth       int           `json:"queue_depth"`
}
