package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pilothq/recall/pkg/models"
)

// PlanStore manages the 1:1 session to plan-file association.
type PlanStore struct {
	store *Store
}

// NewPlanStore creates a new plan store.
func NewPlanStore(store *Store) *PlanStore {
	return &PlanStore{store: store}
}

// SetPlan upserts the plan association for a session. A second call for
// the same session replaces the previous association.
func (s *PlanStore) SetPlan(ctx context.Context, sessionDBID int64, planPath string, status models.PlanStatus) error {
	now := time.Now().Format(time.RFC3339)
	_, err := s.store.ExecContext(ctx, `
		INSERT INTO session_plans (session_db_id, plan_path, plan_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_db_id) DO UPDATE SET
			plan_path = excluded.plan_path,
			plan_status = excluded.plan_status,
			updated_at = excluded.updated_at
	`, sessionDBID, planPath, string(status), now, now)
	return err
}

// UpdatePlanStatus changes the status of an existing association.
func (s *PlanStore) UpdatePlanStatus(ctx context.Context, sessionDBID int64, status models.PlanStatus) error {
	result, err := s.store.ExecContext(ctx, `
		UPDATE session_plans SET plan_status = ?, updated_at = ? WHERE session_db_id = ?
	`, string(status), time.Now().Format(time.RFC3339), sessionDBID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPlan returns the association for a session, or ErrNotFound.
func (s *PlanStore) GetPlan(ctx context.Context, sessionDBID int64) (*models.SessionPlan, error) {
	row := s.store.QueryRowContext(ctx, `
		SELECT session_db_id, plan_path, plan_status, created_at, updated_at
		FROM session_plans WHERE session_db_id = ?
	`, sessionDBID)
	return scanPlan(row)
}

// GetPlanByContentID resolves the association through the editor
// session id.
func (s *PlanStore) GetPlanByContentID(ctx context.Context, contentSessionID string) (*models.SessionPlan, error) {
	row := s.store.QueryRowContext(ctx, `
		SELECT p.session_db_id, p.plan_path, p.plan_status, p.created_at, p.updated_at
		FROM session_plans p
		JOIN sdk_sessions s ON s.id = p.session_db_id
		WHERE s.content_session_id = ?
	`, contentSessionID)
	return scanPlan(row)
}

// ClearPlan removes a session's association. Clearing a session with no
// association is a no-op.
func (s *PlanStore) ClearPlan(ctx context.Context, sessionDBID int64) error {
	_, err := s.store.ExecContext(ctx,
		`DELETE FROM session_plans WHERE session_db_id = ?`, sessionDBID)
	return err
}

// SessionsForPlan returns the session ids currently associated with a
// plan path.
func (s *PlanStore) SessionsForPlan(ctx context.Context, planPath string) ([]int64, error) {
	rows, err := s.store.QueryContext(ctx,
		`SELECT session_db_id FROM session_plans WHERE plan_path = ?`, planPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPlan(row *sql.Row) (*models.SessionPlan, error) {
	var plan models.SessionPlan
	var status string
	err := row.Scan(&plan.SessionDBID, &plan.PlanPath, &status, &plan.CreatedAt, &plan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	plan.PlanStatus = models.PlanStatus(status)
	return &plan, nil
}
