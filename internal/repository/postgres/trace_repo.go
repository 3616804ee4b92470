package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
)

// SaveTrace персистит финализированный трейс как JSONB документ.
// Дерево спанов переменной глубины, реляционная раскладка тут не нужна:
// читаем трейс всегда целиком по conversation_id.
func (r *Repo) SaveTrace(ctx context.Context, t *domain.Trace) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal trace: %w", err)
	}

	query := `
		INSERT INTO traces (conversation_id, document, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id) DO UPDATE SET document = EXCLUDED.document`

	_, err = r.pool.Exec(ctx, query, t.ConversationID, doc, t.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: failed to save trace: %w", err)
	}
	return nil
}

// GetTrace — fallback чтение для трейсов, вытесненных из памяти.
func (r *Repo) GetTrace(ctx context.Context, conversationID string) (*domain.Trace, error) {
	query := `SELECT document FROM traces WHERE conversation_id = $1`

	var doc []byte
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: trace %q", domain.ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("postgres: failed to get trace: %w", err)
	}

	var t domain.Trace
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal trace: %w", err)
	}
	return &t, nil
}
