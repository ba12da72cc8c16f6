package models

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePendingStampsVersion(t *testing.T) {
	payload, err := EncodePending(&PendingMessage{
		Kind:        PendingObservation,
		Observation: &ObservationPayload{ToolName: "Read"},
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, float64(PendingPayloadVersion), decoded["v"])
}

func TestParsePendingRoundTrip(t *testing.T) {
	payload, err := EncodePending(&PendingMessage{
		Kind:        PendingObservation,
		Observation: &ObservationPayload{ToolName: "Edit", PromptNumber: 2},
	})
	require.NoError(t, err)

	msg, err := ParsePending(&PendingRow{ID: 7, SessionDBID: 3, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, PendingObservation, msg.Kind)
	assert.Equal(t, "Edit", msg.Observation.ToolName)
	assert.Equal(t, int64(7), msg.RowID)
	assert.Equal(t, int64(3), msg.SessionDBID)
}

func TestParsePendingRejectsCorruption(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `garbage`},
		{"unknown kind", `{"v":1,"kind":"mystery"}`},
		{"observation without body", `{"v":1,"kind":"observation"}`},
		{"summarize without body", `{"v":1,"kind":"summarize"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePending(&PendingRow{ID: 1, Payload: []byte(tt.payload)})
			assert.Error(t, err)
		})
	}
}
