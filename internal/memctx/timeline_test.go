package memctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilothq/recall/pkg/models"
)

func obsAt(id, epoch int64) *models.Observation {
	return &models.Observation{
		ID:             id,
		Type:           models.ObsTypeDiscovery,
		Title:          "obs",
		CreatedAtEpoch: epoch,
	}
}

func sumAt(id, epoch int64) *models.SessionSummary {
	return &models.SessionSummary{ID: id, Request: "req", CreatedAtEpoch: epoch}
}

func TestBuildTimelineAscending(t *testing.T) {
	// Store order is newest-first.
	observations := []*models.Observation{obsAt(3, 300), obsAt(2, 200), obsAt(1, 100)}

	entries := buildTimeline(observations, nil, 2)

	require.Len(t, entries, 3)
	assert.Equal(t, int64(1), entries[0].id)
	assert.Equal(t, int64(2), entries[1].id)
	assert.Equal(t, int64(3), entries[2].id)

	// Full detail tracks recency, not timeline position.
	assert.False(t, entries[0].fullDetail)
	assert.True(t, entries[1].fullDetail)
	assert.True(t, entries[2].fullDetail)
}

func TestBuildTimelineSummaryEpochShift(t *testing.T) {
	// Three summaries: the middle one shifts back to its older
	// neighbour's epoch so it sorts at the start of the work it covers;
	// the oldest and newest keep their own.
	summaries := []*models.SessionSummary{sumAt(11, 100), sumAt(12, 500), sumAt(13, 900)}
	observations := []*models.Observation{obsAt(2, 450), obsAt(1, 150)}

	entries := buildTimeline(observations, summaries, 10)
	require.Len(t, entries, 5)

	var order []int64
	for _, e := range entries {
		order = append(order, e.id)
	}
	// Summary 12 displays at epoch 100 (its older neighbour), after
	// summary 11 by id tiebreak, before both observations.
	assert.Equal(t, []int64{11, 12, 1, 2, 13}, order)
}

func TestBuildTimelineSingleSummaryKeepsEpoch(t *testing.T) {
	summaries := []*models.SessionSummary{sumAt(11, 500)}
	observations := []*models.Observation{obsAt(1, 400), obsAt(2, 600)}

	entries := buildTimeline(observations, summaries, 10)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(500), entries[1].displayEpoch)
	assert.Equal(t, entrySummary, entries[1].kind)
}

func TestBuildTimelineEmpty(t *testing.T) {
	assert.Empty(t, buildTimeline(nil, nil, 10))
}
