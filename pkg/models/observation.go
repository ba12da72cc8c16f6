// Package models contains domain models for the recall memory daemon.
package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ObservationType classifies what kind of learning an observation records.
type ObservationType string

const (
	ObsTypeDiscovery ObservationType = "discovery"
	ObsTypeBugfix    ObservationType = "bugfix"
	ObsTypeFeature   ObservationType = "feature"
	ObsTypeChange    ObservationType = "change"
	ObsTypeDecision  ObservationType = "decision"
	ObsTypeRefactor  ObservationType = "refactor"
)

// AllObservationTypes is the canonical list of observation types.
var AllObservationTypes = []ObservationType{
	ObsTypeDiscovery,
	ObsTypeBugfix,
	ObsTypeFeature,
	ObsTypeChange,
	ObsTypeDecision,
	ObsTypeRefactor,
}

// ValidObservationType reports whether t is a known observation type.
func ValidObservationType(t ObservationType) bool {
	for _, known := range AllObservationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JSONStringArray stores a JSON array of strings in a TEXT column.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONStringArray: unsupported type %T", src)
	}

	if len(data) == 0 {
		*j = nil
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Observation is one enriched tool-use event recorded during a session.
// Observations are keyed by the memory session id, never the numeric
// session row id, so they survive a session re-key.
type Observation struct {
	ID              int64           `json:"id"`
	MemorySessionID string          `json:"memory_session_id"`
	Project         string          `json:"project"`
	Type            ObservationType `json:"type"`
	Title           string          `json:"title"`
	Subtitle        sql.NullString  `json:"-"`
	Narrative       sql.NullString  `json:"-"`
	Facts           JSONStringArray `json:"facts,omitempty"`
	Concepts        JSONStringArray `json:"concepts,omitempty"`
	FilesRead       JSONStringArray `json:"files_read,omitempty"`
	FilesModified   JSONStringArray `json:"files_modified,omitempty"`
	DiscoveryTokens int64           `json:"discovery_tokens"`
	PromptNumber    sql.NullInt64   `json:"-"`
	CreatedAt       string          `json:"created_at"`
	CreatedAtEpoch  int64           `json:"created_at_epoch"`
}

// observationJSON is the wire shape of Observation: nullable columns
// flattened into plain strings.
type observationJSON struct {
	ID              int64           `json:"id"`
	MemorySessionID string          `json:"memory_session_id"`
	Project         string          `json:"project"`
	Type            ObservationType `json:"type"`
	Title           string          `json:"title"`
	Subtitle        string          `json:"subtitle,omitempty"`
	Narrative       string          `json:"narrative,omitempty"`
	Facts           []string        `json:"facts,omitempty"`
	Concepts        []string        `json:"concepts,omitempty"`
	FilesRead       []string        `json:"files_read,omitempty"`
	FilesModified   []string        `json:"files_modified,omitempty"`
	DiscoveryTokens int64           `json:"discovery_tokens"`
	PromptNumber    int64           `json:"prompt_number,omitempty"`
	CreatedAt       string          `json:"created_at"`
	CreatedAtEpoch  int64           `json:"created_at_epoch"`
}

// MarshalJSON implements json.Marshaler for Observation.
func (o *Observation) MarshalJSON() ([]byte, error) {
	j := observationJSON{
		ID:              o.ID,
		MemorySessionID: o.MemorySessionID,
		Project:         o.Project,
		Type:            o.Type,
		Title:           o.Title,
		Facts:           o.Facts,
		Concepts:        o.Concepts,
		FilesRead:       o.FilesRead,
		FilesModified:   o.FilesModified,
		DiscoveryTokens: o.DiscoveryTokens,
		CreatedAt:       o.CreatedAt,
		CreatedAtEpoch:  o.CreatedAtEpoch,
	}
	if o.Subtitle.Valid {
		j.Subtitle = o.Subtitle.String
	}
	if o.Narrative.Valid {
		j.Narrative = o.Narrative.String
	}
	if o.PromptNumber.Valid {
		j.PromptNumber = o.PromptNumber.Int64
	}
	return json.Marshal(j)
}

// ParsedObservation is an observation as produced by the enrichment
// step, before it has a row id.
type ParsedObservation struct {
	Type          ObservationType
	Title         string
	Subtitle      string
	Narrative     string
	Facts         []string
	Concepts      []string
	FilesRead     []string
	FilesModified []string
}

// NewObservation stamps a parsed observation with session identity and
// creation time.
func NewObservation(memorySessionID, project string, parsed *ParsedObservation, promptNumber int, discoveryTokens int64) *Observation {
	now := time.Now()
	return &Observation{
		MemorySessionID: memorySessionID,
		Project:         project,
		Type:            parsed.Type,
		Title:           parsed.Title,
		Subtitle:        sql.NullString{String: parsed.Subtitle, Valid: parsed.Subtitle != ""},
		Narrative:       sql.NullString{String: parsed.Narrative, Valid: parsed.Narrative != ""},
		Facts:           parsed.Facts,
		Concepts:        parsed.Concepts,
		FilesRead:       parsed.FilesRead,
		FilesModified:   parsed.FilesModified,
		DiscoveryTokens: discoveryTokens,
		PromptNumber:    sql.NullInt64{Int64: int64(promptNumber), Valid: promptNumber > 0},
		CreatedAt:       now.Format(time.RFC3339),
		CreatedAtEpoch:  now.UnixMilli(),
	}
}
