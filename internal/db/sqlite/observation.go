package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pilothq/recall/pkg/models"
)

// observationColumns is the standard column list for observation reads.
const observationColumns = `id, memory_session_id, project, type, title, subtitle,
       narrative, facts, concepts, files_read, files_modified,
       discovery_tokens, prompt_number, created_at, created_at_epoch`

// ObservationStore provides observation-related database operations.
type ObservationStore struct {
	store *Store
}

// NewObservationStore creates a new observation store.
func NewObservationStore(store *Store) *ObservationStore {
	return &ObservationStore{store: store}
}

// StoreObservation inserts one enriched observation, returning its id
// and creation epoch.
func (s *ObservationStore) StoreObservation(ctx context.Context, obs *models.Observation) (int64, error) {
	if obs.CreatedAtEpoch == 0 {
		now := time.Now()
		obs.CreatedAt = now.Format(time.RFC3339)
		obs.CreatedAtEpoch = now.UnixMilli()
	}

	facts, _ := obs.Facts.Value()
	concepts, _ := obs.Concepts.Value()
	filesRead, _ := obs.FilesRead.Value()
	filesModified, _ := obs.FilesModified.Value()

	result, err := s.store.ExecContext(ctx, `
		INSERT INTO observations
		(memory_session_id, project, type, title, subtitle, narrative, facts, concepts,
		 files_read, files_modified, discovery_tokens, prompt_number, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, obs.MemorySessionID, obs.Project, string(obs.Type), obs.Title,
		obs.Subtitle, obs.Narrative, facts, concepts, filesRead, filesModified,
		obs.DiscoveryTokens, obs.PromptNumber, obs.CreatedAt, obs.CreatedAtEpoch)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	obs.ID = id
	return id, nil
}

// GetObservationByID retrieves an observation by id.
func (s *ObservationStore) GetObservationByID(ctx context.Context, id int64) (*models.Observation, error) {
	rows, err := s.store.QueryContext(ctx,
		`SELECT `+observationColumns+` FROM observations WHERE id = ? AND deleted_at_epoch IS NULL`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	obs, err := scanObservationRows(rows)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, ErrNotFound
	}
	return obs[0], nil
}

// QueryObservations returns the newest observations for a project,
// filtered by type and concept membership when filters are provided.
// File paths in the result are stripped of the project prefix.
func (s *ObservationStore) QueryObservations(ctx context.Context, project string, types, concepts []string, limit int) ([]*models.Observation, error) {
	query := `SELECT ` + observationColumns + `
		FROM observations
		WHERE project = ? AND deleted_at_epoch IS NULL`
	args := []interface{}{project}

	if len(types) > 0 {
		query += ` AND type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	if len(concepts) > 0 {
		query += ` AND EXISTS (
			SELECT 1 FROM json_each(observations.concepts)
			WHERE json_each.value IN (` + placeholders(len(concepts)) + `))`
		for _, c := range concepts {
			args = append(args, c)
		}
	}

	query += ` ORDER BY created_at_epoch DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	observations, err := scanObservationRows(rows)
	if err != nil {
		return nil, err
	}
	stripObservationPaths(observations)
	return observations, nil
}

// QueryObservationsExcludingOtherPlans returns observations for a
// project whose owning session is either associated with planPath or
// has no plan association at all ("quick mode"). Rows belonging to a
// different plan are excluded.
func (s *ObservationStore) QueryObservationsExcludingOtherPlans(ctx context.Context, project, planPath string, types, concepts []string, limit int) ([]*models.Observation, error) {
	query := `SELECT ` + prefixedObservationColumns("o") + `
		FROM observations o
		LEFT JOIN sdk_sessions s ON s.memory_session_id = o.memory_session_id
		LEFT JOIN session_plans p ON p.session_db_id = s.id
		WHERE o.project = ? AND o.deleted_at_epoch IS NULL
		  AND (p.plan_path IS NULL OR p.plan_path = ?)`
	args := []interface{}{project, planPath}

	if len(types) > 0 {
		query += ` AND o.type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	if len(concepts) > 0 {
		query += ` AND EXISTS (
			SELECT 1 FROM json_each(o.concepts)
			WHERE json_each.value IN (` + placeholders(len(concepts)) + `))`
		for _, c := range concepts {
			args = append(args, c)
		}
	}

	query += ` ORDER BY o.created_at_epoch DESC, o.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	observations, err := scanObservationRows(rows)
	if err != nil {
		return nil, err
	}
	stripObservationPaths(observations)
	return observations, nil
}

// Paginate returns one page of observations ordered newest first,
// optionally filtered by project. Uses a LIMIT n+1 probe for HasMore.
func (s *ObservationStore) Paginate(ctx context.Context, offset, limit int, project string) (Page[*models.Observation], error) {
	query := `SELECT ` + observationColumns + ` FROM observations WHERE deleted_at_epoch IS NULL`
	args := []interface{}{}
	if project != "" {
		query += ` AND project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at_epoch DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit+1, offset)

	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return Page[*models.Observation]{}, err
	}
	defer rows.Close()

	observations, err := scanObservationRows(rows)
	if err != nil {
		return Page[*models.Observation]{}, err
	}
	stripObservationPaths(observations)
	return trimPage(observations, limit), nil
}

// SumDiscoveryTokens totals discovery tokens across a set of ids.
func (s *ObservationStore) SumDiscoveryTokens(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `SELECT COALESCE(SUM(discovery_tokens), 0) FROM observations
		WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var total int64
	err := s.store.QueryRowContext(ctx, query, args...).Scan(&total)
	return total, err
}

// DeleteObservations hard-deletes observations by id, chunked so no
// single transaction touches more than 100 rows.
func (s *ObservationStore) DeleteObservations(ctx context.Context, ids []int64) (int64, error) {
	const chunkSize = 100
	var deleted int64
	for start := 0; start < len(ids); start += chunkSize {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		end := min(start+chunkSize, len(ids))
		chunk := ids[start:end]

		query := `DELETE FROM observations WHERE id IN (` + placeholders(len(chunk)) + `)`
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

// SoftDeleteObservations marks observations deleted without removing
// the rows, chunked like DeleteObservations.
func (s *ObservationStore) SoftDeleteObservations(ctx context.Context, ids []int64) (int64, error) {
	const chunkSize = 100
	nowEpoch := time.Now().UnixMilli()
	var deleted int64
	for start := 0; start < len(ids); start += chunkSize {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		end := min(start+chunkSize, len(ids))
		chunk := ids[start:end]

		query := `UPDATE observations SET deleted_at_epoch = ? WHERE id IN (` + placeholders(len(chunk)) + `)`
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, nowEpoch)
		for _, id := range chunk {
			args = append(args, id)
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

// FindExpiredObservations returns ids older than the cutoff epoch,
// skipping excluded types.
func (s *ObservationStore) FindExpiredObservations(ctx context.Context, cutoffEpoch int64, excludeTypes []string) ([]int64, error) {
	query := `SELECT id FROM observations WHERE created_at_epoch < ? AND deleted_at_epoch IS NULL`
	args := []interface{}{cutoffEpoch}
	if len(excludeTypes) > 0 {
		query += ` AND type NOT IN (` + placeholders(len(excludeTypes)) + `)`
		for _, t := range excludeTypes {
			args = append(args, t)
		}
	}
	return s.queryIDs(ctx, query, args...)
}

// FindOverflowObservations returns the ids beyond the newest maxCount
// rows per project, skipping excluded types.
func (s *ObservationStore) FindOverflowObservations(ctx context.Context, maxCount int, excludeTypes []string) ([]int64, error) {
	query := `
		SELECT id FROM (
			SELECT id, type,
			       ROW_NUMBER() OVER (PARTITION BY project ORDER BY created_at_epoch DESC, id DESC) AS rn
			FROM observations
			WHERE deleted_at_epoch IS NULL
		)
		WHERE rn > ?`
	args := []interface{}{maxCount}
	if len(excludeTypes) > 0 {
		query += ` AND type NOT IN (` + placeholders(len(excludeTypes)) + `)`
		for _, t := range excludeTypes {
			args = append(args, t)
		}
	}
	return s.queryIDs(ctx, query, args...)
}

func (s *ObservationStore) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.store.QueryContext(ctx, query, args...)
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

// prefixedObservationColumns qualifies the column list with an alias.
func prefixedObservationColumns(alias string) string {
	return alias + `.id, ` + alias + `.memory_session_id, ` + alias + `.project, ` +
		alias + `.type, ` + alias + `.title, ` + alias + `.subtitle, ` +
		alias + `.narrative, ` + alias + `.facts, ` + alias + `.concepts, ` +
		alias + `.files_read, ` + alias + `.files_modified, ` +
		alias + `.discovery_tokens, ` + alias + `.prompt_number, ` +
		alias + `.created_at, ` + alias + `.created_at_epoch`
}

func scanObservationRows(rows *sql.Rows) ([]*models.Observation, error) {
	var observations []*models.Observation
	for rows.Next() {
		var obs models.Observation
		var typ string
		if err := rows.Scan(&obs.ID, &obs.MemorySessionID, &obs.Project, &typ,
			&obs.Title, &obs.Subtitle, &obs.Narrative, &obs.Facts, &obs.Concepts,
			&obs.FilesRead, &obs.FilesModified, &obs.DiscoveryTokens,
			&obs.PromptNumber, &obs.CreatedAt, &obs.CreatedAtEpoch); err != nil {
			return nil, err
		}
		obs.Type = models.ObservationType(typ)
		observations = append(observations, &obs)
	}
	return observations, rows.Err()
}

func stripObservationPaths(observations []*models.Observation) {
	for _, obs := range observations {
		obs.FilesRead = stripProjectPaths(obs.FilesRead, obs.Project)
		obs.FilesModified = stripProjectPaths(obs.FilesModified, obs.Project)
	}
}
