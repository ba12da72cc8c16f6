package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pilothq/recall/pkg/models"
)

func newPlanFixture(t *testing.T) (*Store, *PlanStore, int64) {
	t.Helper()
	store := newTestStore(t)
	id, err := NewSessionStore(store).CreateSession(context.Background(), "content-1", "proj", "")
	require.NoError(t, err)
	return store, NewPlanStore(store), id
}

func TestSetPlanUpserts(t *testing.T) {
	_, plans, sessionID := newPlanFixture(t)
	ctx := context.Background()

	require.NoError(t, plans.SetPlan(ctx, sessionID, "docs/plans/a.md", models.PlanPending))

	// A second SetPlan replaces the association; a session holds at most
	// one plan.
	require.NoError(t, plans.SetPlan(ctx, sessionID, "docs/plans/b.md", models.PlanComplete))

	plan, err := plans.GetPlan(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, "docs/plans/b.md", plan.PlanPath)
	require.Equal(t, models.PlanComplete, plan.PlanStatus)
}

func TestUpdatePlanStatusRequiresAssociation(t *testing.T) {
	_, plans, sessionID := newPlanFixture(t)
	ctx := context.Background()

	err := plans.UpdatePlanStatus(ctx, sessionID, models.PlanVerified)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, plans.SetPlan(ctx, sessionID, "docs/plans/a.md", models.PlanPending))
	require.NoError(t, plans.UpdatePlanStatus(ctx, sessionID, models.PlanVerified))

	plan, err := plans.GetPlan(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, models.PlanVerified, plan.PlanStatus)
}

func TestClearPlanIsIdempotent(t *testing.T) {
	_, plans, sessionID := newPlanFixture(t)
	ctx := context.Background()

	// Clearing an absent association succeeds.
	require.NoError(t, plans.ClearPlan(ctx, sessionID))

	require.NoError(t, plans.SetPlan(ctx, sessionID, "docs/plans/a.md", models.PlanPending))
	require.NoError(t, plans.ClearPlan(ctx, sessionID))

	_, err := plans.GetPlan(ctx, sessionID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetPlanByContentID(t *testing.T) {
	_, plans, sessionID := newPlanFixture(t)
	ctx := context.Background()

	require.NoError(t, plans.SetPlan(ctx, sessionID, "docs/plans/a.md", models.PlanPending))

	plan, err := plans.GetPlanByContentID(ctx, "content-1")
	require.NoError(t, err)
	require.Equal(t, sessionID, plan.SessionDBID)

	_, err = plans.GetPlanByContentID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSessionsForPlan(t *testing.T) {
	store, plans, first := newPlanFixture(t)
	ctx := context.Background()

	second, err := NewSessionStore(store).CreateSession(ctx, "content-2", "proj", "")
	require.NoError(t, err)

	require.NoError(t, plans.SetPlan(ctx, first, "docs/plans/a.md", models.PlanPending))
	require.NoError(t, plans.SetPlan(ctx, second, "docs/plans/a.md", models.PlanPending))

	ids, err := plans.SessionsForPlan(ctx, "docs/plans/a.md")
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{first, second}, ids)
}
