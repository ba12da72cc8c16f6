package sqlite

import (
	"context"
	"time"

	"github.com/pilothq/recall/pkg/models"
)

// PromptStore records the literal text of user prompts.
type PromptStore struct {
	store *Store
}

// NewPromptStore creates a new prompt store.
func NewPromptStore(store *Store) *PromptStore {
	return &PromptStore{store: store}
}

// StorePrompt records one user prompt. A duplicate (session, number)
// pair is ignored so hook retries cannot double-insert.
func (s *PromptStore) StorePrompt(ctx context.Context, contentSessionID string, promptNumber int, text string) (int64, error) {
	now := time.Now()
	result, err := s.store.ExecContext(ctx, `
		INSERT INTO user_prompts (content_session_id, prompt_number, prompt_text, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_session_id, prompt_number) DO NOTHING
	`, contentSessionID, promptNumber, text, now.Format(time.RFC3339), now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetPromptsForSession returns a session's prompts in order.
func (s *PromptStore) GetPromptsForSession(ctx context.Context, contentSessionID string) ([]*models.UserPrompt, error) {
	rows, err := s.store.QueryContext(ctx, `
		SELECT id, content_session_id, prompt_number, prompt_text, created_at, created_at_epoch
		FROM user_prompts
		WHERE content_session_id = ?
		ORDER BY prompt_number ASC
	`, contentSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []*models.UserPrompt
	for rows.Next() {
		var p models.UserPrompt
		if err := rows.Scan(&p.ID, &p.ContentSessionID, &p.PromptNumber,
			&p.PromptText, &p.CreatedAt, &p.CreatedAtEpoch); err != nil {
			return nil, err
		}
		prompts = append(prompts, &p)
	}
	return prompts, rows.Err()
}
