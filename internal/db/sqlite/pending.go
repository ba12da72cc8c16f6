package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pilothq/recall/pkg/models"
)

// PendingStore is the durable per-session message queue. Writers append
// rows; the queue processor claims them with an atomic read-and-delete
// so a crash can redeliver a message but never lose one.
type PendingStore struct {
	store *Store
}

// NewPendingStore creates a new pending-message store.
func NewPendingStore(store *Store) *PendingStore {
	return &PendingStore{store: store}
}

// Enqueue appends one payload to a session's queue.
func (s *PendingStore) Enqueue(ctx context.Context, sessionDBID int64, payload []byte) (int64, error) {
	now := time.Now()
	result, err := s.store.ExecContext(ctx, `
		INSERT INTO pending_messages (session_id, payload, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?)
	`, sessionDBID, string(payload), now.Format(time.RFC3339), now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ClaimNext atomically removes and returns the oldest pending row for a
// session. Returns ErrNotFound when the queue is empty.
func (s *PendingStore) ClaimNext(ctx context.Context, sessionDBID int64) (*models.PendingRow, error) {
	var row *models.PendingRow
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var r models.PendingRow
		err := tx.QueryRowContext(ctx, `
			SELECT id, session_id, payload, created_at, created_at_epoch
			FROM pending_messages
			WHERE session_id = ?
			ORDER BY id ASC
			LIMIT 1
		`, sessionDBID).Scan(&r.ID, &r.SessionDBID, &r.Payload, &r.CreatedAt, &r.CreatedAtEpoch)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_messages WHERE id = ?`, r.ID); err != nil {
			return err
		}
		row = &r
		return nil
	})
	return row, err
}

// ClaimBatch atomically removes and returns up to maxBatch oldest rows
// for a session, in FIFO order. An empty queue returns an empty slice.
func (s *PendingStore) ClaimBatch(ctx context.Context, sessionDBID int64, maxBatch int) ([]*models.PendingRow, error) {
	var claimed []*models.PendingRow
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, session_id, payload, created_at, created_at_epoch
			FROM pending_messages
			WHERE session_id = ?
			ORDER BY id ASC
			LIMIT ?
		`, sessionDBID, maxBatch)
		if err != nil {
			return err
		}
		defer rows.Close()

		var batch []*models.PendingRow
		for rows.Next() {
			var r models.PendingRow
			if err := rows.Scan(&r.ID, &r.SessionDBID, &r.Payload, &r.CreatedAt, &r.CreatedAtEpoch); err != nil {
				return err
			}
			batch = append(batch, &r)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		ids := make([]interface{}, len(batch))
		for i, r := range batch {
			ids[i] = r.ID
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_messages WHERE id IN (`+placeholders(len(batch))+`)`,
			ids...); err != nil {
			return err
		}
		claimed = batch
		return nil
	})
	return claimed, err
}

// QueueDepth returns the number of pending rows for a session.
func (s *PendingStore) QueueDepth(ctx context.Context, sessionDBID int64) (int, error) {
	var depth int
	err := s.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_messages WHERE session_id = ?`, sessionDBID).Scan(&depth)
	return depth, err
}

// TotalQueueDepth returns the number of pending rows across all sessions.
func (s *PendingStore) TotalQueueDepth(ctx context.Context) (int, error) {
	var depth int
	err := s.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_messages`).Scan(&depth)
	return depth, err
}

// SessionsWithPending returns the session ids that have queued rows,
// oldest-first by their head message.
func (s *PendingStore) SessionsWithPending(ctx context.Context) ([]int64, error) {
	rows, err := s.store.QueryContext(ctx, `
		SELECT session_id FROM pending_messages
		GROUP BY session_id
		ORDER BY MIN(id) ASC
	`)
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
