package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// PendingPayloadVersion is the schema version stamped on queue payloads.
const PendingPayloadVersion = 1

// PendingKind discriminates what a queued payload carries.
type PendingKind string

const (
	PendingObservation PendingKind = "observation"
	PendingSummarize   PendingKind = "summarize"
)

// PendingRow is one durable queue row as stored. The payload is opaque
// to the store; parsing it is the consumer's responsibility.
type PendingRow struct {
	ID             int64
	SessionDBID    int64
	Payload        []byte
	CreatedAt      string
	CreatedAtEpoch int64
}

// ObservationPayload carries a raw tool-use event awaiting enrichment.
type ObservationPayload struct {
	ToolName     string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`
	CWD          string          `json:"cwd,omitempty"`
	PromptNumber int             `json:"prompt_number,omitempty"`
}

// SummarizePayload carries an end-of-turn summarize request.
type SummarizePayload struct {
	LastUserMessage      string `json:"last_user_message,omitempty"`
	LastAssistantMessage string `json:"last_assistant_message,omitempty"`
}

// PendingMessage is a parsed queue payload.
type PendingMessage struct {
	Version     int                 `json:"v"`
	Kind        PendingKind         `json:"kind"`
	Observation *ObservationPayload `json:"observation,omitempty"`
	Summarize   *SummarizePayload   `json:"summarize,omitempty"`

	// Row identity, filled in by the parser.
	RowID       int64 `json:"-"`
	SessionDBID int64 `json:"-"`
}

// EncodePending serialises a pending message for storage.
func EncodePending(msg *PendingMessage) ([]byte, error) {
	msg.Version = PendingPayloadVersion
	return json.Marshal(msg)
}

// ParsePending decodes a durable queue row. A malformed payload is a
// corruption error: the caller logs it and skips the row.
func ParsePending(row *PendingRow) (*PendingMessage, error) {
	var msg PendingMessage
	if err := json.Unmarshal(row.Payload, &msg); err != nil {
		return nil, fmt.Errorf("parse pending payload id=%d: %w", row.ID, err)
	}
	switch msg.Kind {
	case PendingObservation:
		if msg.Observation == nil {
			return nil, fmt.Errorf("parse pending payload id=%d: observation kind with no body", row.ID)
		}
	case PendingSummarize:
		if msg.Summarize == nil {
			return nil, fmt.Errorf("parse pending payload id=%d: summarize kind with no body", row.ID)
		}
	default:
		return nil, fmt.Errorf("parse pending payload id=%d: unknown kind %q", row.ID, msg.Kind)
	}
	msg.RowID = row.ID
	msg.SessionDBID = row.SessionDBID
	return &msg, nil
}
