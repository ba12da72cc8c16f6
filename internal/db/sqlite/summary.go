package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pilothq/recall/pkg/models"
)

const summaryColumns = `id, memory_session_id, project, request, investigated,
       learned, completed, next_steps, prompt_number, created_at, created_at_epoch`

// SummaryStore provides session-summary database operations.
type SummaryStore struct {
	store *Store
}

// NewSummaryStore creates a new summary store.
func NewSummaryStore(store *Store) *SummaryStore {
	return &SummaryStore{store: store}
}

// StoreSummary inserts one end-of-turn summary.
func (s *SummaryStore) StoreSummary(ctx context.Context, summary *models.SessionSummary) (int64, error) {
	if summary.CreatedAtEpoch == 0 {
		now := time.Now()
		summary.CreatedAt = now.Format(time.RFC3339)
		summary.CreatedAtEpoch = now.UnixMilli()
	}

	result, err := s.store.ExecContext(ctx, `
		INSERT INTO session_summaries
		(memory_session_id, project, request, investigated, learned, completed, next_steps,
		 prompt_number, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, summary.MemorySessionID, summary.Project, summary.Request,
		summary.Investigated, summary.Learned, summary.Completed, summary.NextSteps,
		summary.PromptNumber, summary.CreatedAt, summary.CreatedAtEpoch)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	summary.ID = id
	return id, nil
}

// GetSummariesForProject returns the newest summaries for a project.
func (s *SummaryStore) GetSummariesForProject(ctx context.Context, project string, limit int) ([]*models.SessionSummary, error) {
	rows, err := s.store.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM session_summaries
		 WHERE project = ? AND deleted_at_epoch IS NULL
		 ORDER BY created_at_epoch DESC, id DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaryRows(rows)
}

// GetSummariesExcludingOtherPlans returns summaries for a project whose
// owning session is associated with planPath or has no association.
func (s *SummaryStore) GetSummariesExcludingOtherPlans(ctx context.Context, project, planPath string, limit int) ([]*models.SessionSummary, error) {
	rows, err := s.store.QueryContext(ctx, `
		SELECT m.id, m.memory_session_id, m.project, m.request, m.investigated,
		       m.learned, m.completed, m.next_steps, m.prompt_number, m.created_at, m.created_at_epoch
		FROM session_summaries m
		LEFT JOIN sdk_sessions s ON s.memory_session_id = m.memory_session_id
		LEFT JOIN session_plans p ON p.session_db_id = s.id
		WHERE m.project = ? AND m.deleted_at_epoch IS NULL
		  AND (p.plan_path IS NULL OR p.plan_path = ?)
		ORDER BY m.created_at_epoch DESC, m.id DESC LIMIT ?
	`, project, planPath, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaryRows(rows)
}

// GetSummariesForSession returns all summaries for a memory session id,
// oldest first.
func (s *SummaryStore) GetSummariesForSession(ctx context.Context, memorySessionID string) ([]*models.SessionSummary, error) {
	rows, err := s.store.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM session_summaries
		 WHERE memory_session_id = ? AND deleted_at_epoch IS NULL
		 ORDER BY created_at_epoch ASC, id ASC`, memorySessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaryRows(rows)
}

// FindExpiredSummaries returns ids older than the cutoff epoch.
func (s *SummaryStore) FindExpiredSummaries(ctx context.Context, cutoffEpoch int64) ([]int64, error) {
	rows, err := s.store.QueryContext(ctx,
		`SELECT id FROM session_summaries WHERE created_at_epoch < ? AND deleted_at_epoch IS NULL`,
		cutoffEpoch)
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

// DeleteSummaries hard-deletes summaries by id, chunked.
func (s *SummaryStore) DeleteSummaries(ctx context.Context, ids []int64) (int64, error) {
	const chunkSize = 100
	var deleted int64
	for start := 0; start < len(ids); start += chunkSize {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		end := min(start+chunkSize, len(ids))
		chunk := ids[start:end]

		query := `DELETE FROM session_summaries WHERE id IN (` + placeholders(len(chunk)) + `)`
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		result, err := s.store.ExecContext(ctx, query, args...)
		if err != nil {
			return deleted, err
		}
		n, _ := result.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

func scanSummaryRows(rows *sql.Rows) ([]*models.SessionSummary, error) {
	var summaries []*models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.MemorySessionID, &sum.Project, &sum.Request,
			&sum.Investigated, &sum.Learned, &sum.Completed, &sum.NextSteps,
			&sum.PromptNumber, &sum.CreatedAt, &sum.CreatedAtEpoch); err != nil {
			return nil, err
		}
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}
