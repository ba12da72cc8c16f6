package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pilothq/recall/pkg/models"
)

// SessionStore provides session-related database operations.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

const sessionColumns = `id, content_session_id, memory_session_id, project,
       initial_prompt, status, prompt_counter, started_at, started_at_epoch`

// CreateSession creates a session for the given editor session id,
// returning the row id. Idempotent: a duplicate content session id
// returns the existing row id.
func (s *SessionStore) CreateSession(ctx context.Context, contentSessionID, project, initialPrompt string) (int64, error) {
	if contentSessionID == "" {
		return 0, fmt.Errorf("content session id required")
	}

	if existing, err := s.GetSessionByContentID(ctx, contentSessionID); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	now := time.Now()
	memoryID := uuid.NewString()

	result, err := s.store.ExecContext(ctx, `
		INSERT INTO sdk_sessions
		(content_session_id, memory_session_id, project, initial_prompt, status, started_at, started_at_epoch)
		VALUES (?, ?, ?, ?, 'active', ?, ?)
		ON CONFLICT(content_session_id) DO NOTHING
	`, contentSessionID, memoryID, project, nullString(initialPrompt),
		now.Format(time.RFC3339), now.UnixMilli())
	if err != nil {
		return 0, err
	}

	if n, _ := result.RowsAffected(); n == 0 {
		// Lost a race with a concurrent insert.
		existing, err := s.GetSessionByContentID(ctx, contentSessionID)
		if err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	return result.LastInsertId()
}

// GetSessionByID retrieves a session by its row id.
func (s *SessionStore) GetSessionByID(ctx context.Context, id int64) (*models.SdkSession, error) {
	row := s.store.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sdk_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetSessionByContentID retrieves a session by its editor session id.
func (s *SessionStore) GetSessionByContentID(ctx context.Context, contentSessionID string) (*models.SdkSession, error) {
	row := s.store.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sdk_sessions WHERE content_session_id = ?`, contentSessionID)
	return scanSession(row)
}

// UpdateMemorySessionID rewrites the memory session id for a session
// and moves existing observations and summaries to the new key in the
// same transaction, so queries by the new id never see orphaned rows.
func (s *SessionStore) UpdateMemorySessionID(ctx context.Context, sessionDBID int64, newMemoryID string) error {
	if newMemoryID == "" {
		return fmt.Errorf("memory session id required")
	}

	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var oldMemoryID string
		err := tx.QueryRowContext(ctx,
			`SELECT memory_session_id FROM sdk_sessions WHERE id = ?`, sessionDBID,
		).Scan(&oldMemoryID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("session %d: %w", sessionDBID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if oldMemoryID == newMemoryID {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE sdk_sessions SET memory_session_id = ? WHERE id = ?`,
			newMemoryID, sessionDBID); err != nil {
			return fmt.Errorf("remap session: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE observations SET memory_session_id = ? WHERE memory_session_id = ?`,
			newMemoryID, oldMemoryID); err != nil {
			return fmt.Errorf("remap observations: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_summaries SET memory_session_id = ? WHERE memory_session_id = ?`,
			newMemoryID, oldMemoryID); err != nil {
			return fmt.Errorf("remap summaries: %w", err)
		}
		return nil
	})
}

// IncrementPromptCounter bumps and returns the session prompt counter.
func (s *SessionStore) IncrementPromptCounter(ctx context.Context, sessionDBID int64) (int, error) {
	_, err := s.store.ExecContext(ctx,
		`UPDATE sdk_sessions SET prompt_counter = prompt_counter + 1 WHERE id = ?`, sessionDBID)
	if err != nil {
		return 0, err
	}

	var counter int
	err = s.store.QueryRowContext(ctx,
		`SELECT prompt_counter FROM sdk_sessions WHERE id = ?`, sessionDBID).Scan(&counter)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("session %d: %w", sessionDBID, ErrNotFound)
	}
	return counter, err
}

// CompleteSession marks a session completed.
func (s *SessionStore) CompleteSession(ctx context.Context, sessionDBID int64) error {
	result, err := s.store.ExecContext(ctx,
		`UPDATE sdk_sessions SET status = 'completed' WHERE id = ?`, sessionDBID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d: %w", sessionDBID, ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session. Pending messages, prompts, and the
// plan association cascade away with it.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionDBID int64) error {
	result, err := s.store.ExecContext(ctx, `DELETE FROM sdk_sessions WHERE id = ?`, sessionDBID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d: %w", sessionDBID, ErrNotFound)
	}
	return nil
}

// GetDashboardSessions returns active sessions joined with their plan
// association, most recent first.
func (s *SessionStore) GetDashboardSessions(ctx context.Context) ([]*models.DashboardSession, error) {
	rows, err := s.store.QueryContext(ctx, `
		SELECT s.id, s.content_session_id, s.project, s.status, s.started_at_epoch,
		       p.plan_path, p.plan_status
		FROM sdk_sessions s
		LEFT JOIN session_plans p ON p.session_db_id = s.id
		WHERE s.status = 'active'
		ORDER BY s.started_at_epoch DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.DashboardSession
	for rows.Next() {
		var ds models.DashboardSession
		var planPath, planStatus sql.NullString
		if err := rows.Scan(&ds.SessionDBID, &ds.ContentSessionID, &ds.Project,
			&ds.Status, &ds.StartedAtEpoch, &planPath, &planStatus); err != nil {
			return nil, err
		}
		ds.PlanPath = planPath.String
		ds.PlanStatus = planStatus.String
		sessions = append(sessions, &ds)
	}
	return sessions, rows.Err()
}

// GetLatestCompletedSession returns the most recently started
// completed session for a project, for transcript lookback.
func (s *SessionStore) GetLatestCompletedSession(ctx context.Context, project string) (*models.SdkSession, error) {
	row := s.store.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sdk_sessions
		 WHERE project = ? AND status = 'completed'
		 ORDER BY started_at_epoch DESC LIMIT 1`, project)
	return scanSession(row)
}

// ListProjects returns the distinct projects with recorded sessions.
func (s *SessionStore) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := s.store.QueryContext(ctx,
		`SELECT DISTINCT project FROM sdk_sessions ORDER BY project`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func scanSession(row *sql.Row) (*models.SdkSession, error) {
	var sess models.SdkSession
	err := row.Scan(&sess.ID, &sess.ContentSessionID, &sess.MemorySessionID,
		&sess.Project, &sess.InitialPrompt, &sess.Status, &sess.PromptCounter,
		&sess.StartedAt, &sess.StartedAtEpoch)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
