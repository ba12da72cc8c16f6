package memctx

import (
	"sort"

	"github.com/pilothq/recall/pkg/models"
)

// entryKind discriminates timeline entries.
type entryKind int

const (
	entryObservation entryKind = iota
	entrySummary
)

// timelineEntry is one merged row: an observation or a summary, ordered
// by its display epoch.
type timelineEntry struct {
	kind         entryKind
	displayEpoch int64
	id           int64
	observation  *models.Observation
	summary      *models.SessionSummary
	fullDetail   bool
}

// buildTimeline merges observations and summaries into one ascending
// sequence. Each summary's display epoch is shifted back to the epoch
// of the immediately older summary, so it opens the interval of work it
// covers; the most recent summary (and a summary with no older
// neighbour) keeps its own epoch. The newest fullCount observations are
// flagged for full-detail rendering.
func buildTimeline(observations []*models.Observation, summaries []*models.SessionSummary, fullCount int) []timelineEntry {
	entries := make([]timelineEntry, 0, len(observations)+len(summaries))

	// Observations arrive newest-first from the store.
	for i, obs := range observations {
		entries = append(entries, timelineEntry{
			kind:         entryObservation,
			displayEpoch: obs.CreatedAtEpoch,
			id:           obs.ID,
			observation:  obs,
			fullDetail:   i < fullCount,
		})
	}

	sorted := make([]*models.SessionSummary, len(summaries))
	copy(sorted, summaries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAtEpoch < sorted[j].CreatedAtEpoch
	})

	for i, sum := range sorted {
		display := sum.CreatedAtEpoch
		if i > 0 && i < len(sorted)-1 {
			display = sorted[i-1].CreatedAtEpoch
		}
		entries = append(entries, timelineEntry{
			kind:         entrySummary,
			displayEpoch: display,
			id:           sum.ID,
			summary:      sum,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].displayEpoch != entries[j].displayEpoch {
			return entries[i].displayEpoch < entries[j].displayEpoch
		}
		return entries[i].id < entries[j].id
	})
	return entries
}
