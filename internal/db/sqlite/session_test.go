package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/pilothq/recall/pkg/models"
)

type SessionStoreSuite struct {
	suite.Suite
	store    *Store
	sessions *SessionStore
	ctx      context.Context
}

func (s *SessionStoreSuite) SetupTest() {
	s.store = newTestStore(s.T())
	s.sessions = NewSessionStore(s.store)
	s.ctx = context.Background()
}

func TestSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreSuite))
}

func (s *SessionStoreSuite) TestCreateSessionIdempotent() {
	id1, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "first prompt")
	s.Require().NoError(err)

	// Replaying the same content id returns the same row.
	id2, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "other prompt")
	s.Require().NoError(err)
	s.Equal(id1, id2)

	sess, err := s.sessions.GetSessionByContentID(s.ctx, "content-1")
	s.Require().NoError(err)
	s.Equal("first prompt", sess.InitialPrompt.String)
	s.NotEmpty(sess.MemorySessionID)
	s.Equal(models.SessionActive, sess.Status)
}

func (s *SessionStoreSuite) TestGetSessionNotFound() {
	_, err := s.sessions.GetSessionByContentID(s.ctx, "missing")
	s.ErrorIs(err, ErrNotFound)

	_, err = s.sessions.GetSessionByID(s.ctx, 999)
	s.ErrorIs(err, ErrNotFound)
}

func (s *SessionStoreSuite) TestUpdateMemorySessionIDRemapsRows() {
	id, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "")
	s.Require().NoError(err)
	sess, err := s.sessions.GetSessionByID(s.ctx, id)
	s.Require().NoError(err)
	oldMemoryID := sess.MemorySessionID

	seedObservation(s.T(), s.store, oldMemoryID, "proj", models.ObsTypeDiscovery, nil)
	_, err = NewSummaryStore(s.store).StoreSummary(s.ctx, &models.SessionSummary{
		MemorySessionID: oldMemoryID,
		Project:         "proj",
		Request:         "do things",
	})
	s.Require().NoError(err)

	s.Require().NoError(s.sessions.UpdateMemorySessionID(s.ctx, id, "new-memory-id"))

	sess, err = s.sessions.GetSessionByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("new-memory-id", sess.MemorySessionID)

	obs, err := NewObservationStore(s.store).QueryObservations(s.ctx, "proj", nil, nil, 10)
	s.Require().NoError(err)
	s.Require().Len(obs, 1)
	s.Equal("new-memory-id", obs[0].MemorySessionID)

	sums, err := NewSummaryStore(s.store).GetSummariesForProject(s.ctx, "proj", 10)
	s.Require().NoError(err)
	s.Require().Len(sums, 1)
	s.Equal("new-memory-id", sums[0].MemorySessionID)
}

func (s *SessionStoreSuite) TestIncrementPromptCounter() {
	id, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "")
	s.Require().NoError(err)

	n, err := s.sessions.IncrementPromptCounter(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = s.sessions.IncrementPromptCounter(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *SessionStoreSuite) TestCompleteAndLatestCompleted() {
	id1, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "")
	s.Require().NoError(err)
	_, err = s.sessions.GetLatestCompletedSession(s.ctx, "proj")
	s.ErrorIs(err, ErrNotFound)

	s.Require().NoError(s.sessions.CompleteSession(s.ctx, id1))

	last, err := s.sessions.GetLatestCompletedSession(s.ctx, "proj")
	s.Require().NoError(err)
	s.Equal(id1, last.ID)
}

func (s *SessionStoreSuite) TestDeleteSessionCascades() {
	id, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "")
	s.Require().NoError(err)

	pending := NewPendingStore(s.store)
	_, err = pending.Enqueue(s.ctx, id, []byte(`{"kind":"summarize","summarize":{}}`))
	s.Require().NoError(err)

	planStore := NewPlanStore(s.store)
	s.Require().NoError(planStore.SetPlan(s.ctx, id, "docs/plans/a.md", models.PlanPending))

	s.Require().NoError(s.sessions.DeleteSession(s.ctx, id))

	depth, err := pending.QueueDepth(s.ctx, id)
	s.Require().NoError(err)
	s.Zero(depth)

	_, err = planStore.GetPlan(s.ctx, id)
	s.ErrorIs(err, ErrNotFound)
}

func (s *SessionStoreSuite) TestListProjects() {
	_, err := s.sessions.CreateSession(s.ctx, "c1", "alpha", "")
	s.Require().NoError(err)
	_, err = s.sessions.CreateSession(s.ctx, "c2", "beta", "")
	s.Require().NoError(err)
	_, err = s.sessions.CreateSession(s.ctx, "c3", "alpha", "")
	s.Require().NoError(err)

	projects, err := s.sessions.ListProjects(s.ctx)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"alpha", "beta"}, projects)
}

func TestDashboardSessionsIncludePlan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sessions := NewSessionStore(store)

	id, err := sessions.CreateSession(ctx, "content-1", "proj", "")
	require.NoError(t, err)
	require.NoError(t, NewPlanStore(store).SetPlan(ctx, id, "docs/plans/a.md", models.PlanComplete))

	rows, err := sessions.GetDashboardSessions(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "docs/plans/a.md", rows[0].PlanPath)
	require.Equal(t, string(models.PlanComplete), rows[0].PlanStatus)
}
