package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilothq/recall/internal/db/sqlite"
	"github.com/pilothq/recall/pkg/models"
)

type retentionFixture struct {
	store        *sqlite.Store
	observations *sqlite.ObservationStore
	summaries    *sqlite.SummaryStore
}

func newRetentionFixture(t *testing.T) *retentionFixture {
	t.Helper()
	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &retentionFixture{
		store:        store,
		observations: sqlite.NewObservationStore(store),
		summaries:    sqlite.NewSummaryStore(store),
	}
}

// seedObservation stores an observation and backdates it the given
// number of days.
func (f *retentionFixture) seedObservation(t *testing.T, title string, ageDays int) int64 {
	t.Helper()
	obs := models.NewObservation("mem-1", "proj", &models.ParsedObservation{
		Type:  models.ObsTypeDiscovery,
		Title: title,
	}, 1, 10)
	id, err := f.observations.StoreObservation(context.Background(), obs)
	require.NoError(t, err)

	if ageDays > 0 {
		epoch := time.Now().AddDate(0, 0, -ageDays).UnixMilli()
		_, err = f.store.ExecContext(context.Background(),
			"UPDATE observations SET created_at_epoch = ? WHERE id = ?", epoch, id)
		require.NoError(t, err)
	}
	return id
}

func (f *retentionFixture) countObservations(t *testing.T) int {
	t.Helper()
	page, err := f.observations.Paginate(context.Background(), 0, 200, "")
	require.NoError(t, err)
	return len(page.Items)
}

func TestRunOncePrunesExpired(t *testing.T) {
	f := newRetentionFixture(t)
	f.seedObservation(t, "ancient", 120)
	f.seedObservation(t, "recent", 0)

	s := NewScheduler(f.observations, f.summaries, Policy{
		Enabled:    true,
		MaxAgeDays: 90,
	})
	s.runOnce(context.Background())

	assert.Equal(t, 1, f.countObservations(t))
}

func TestRunOnceEnforcesMaxCount(t *testing.T) {
	f := newRetentionFixture(t)
	for i := 0; i < 5; i++ {
		f.seedObservation(t, "row", 0)
	}

	s := NewScheduler(f.observations, f.summaries, Policy{
		Enabled:  true,
		MaxCount: 3,
	})
	s.runOnce(context.Background())

	assert.Equal(t, 3, f.countObservations(t))
}

func TestRunOnceDisabledDoesNothing(t *testing.T) {
	f := newRetentionFixture(t)
	f.seedObservation(t, "ancient", 365)

	s := NewScheduler(f.observations, f.summaries, Policy{
		Enabled:    false,
		MaxAgeDays: 1,
		MaxCount:   1,
	})
	s.runOnce(context.Background())

	assert.Equal(t, 1, f.countObservations(t))
}

func TestRunOnceSoftDeleteHidesRows(t *testing.T) {
	f := newRetentionFixture(t)
	id := f.seedObservation(t, "ancient", 120)

	s := NewScheduler(f.observations, f.summaries, Policy{
		Enabled:    true,
		MaxAgeDays: 90,
		SoftDelete: true,
	})
	s.runOnce(context.Background())

	assert.Equal(t, 0, f.countObservations(t))

	// The row survives under soft delete.
	var n int
	row := f.store.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM observations WHERE id = ?", id)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 1, n)
}

func TestStartStopIdempotent(t *testing.T) {
	f := newRetentionFixture(t)
	s := NewScheduler(f.observations, f.summaries, Policy{Enabled: true})

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
