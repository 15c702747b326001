package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notice-engine/internal/notice"
)

// Messages is the cn_messages table as a messages.Source.
type Messages struct {
	db *sql.DB
}

func NewMessages(db *sql.DB) *Messages { return &Messages{db: db} }

func (m *Messages) Lookup(ctx context.Context, key, lang string) (string, error) {
	var text string
	err := m.db.QueryRowContext(ctx, `SELECT msg_text FROM cn_messages WHERE msg_key = $1 AND msg_lang = $2`, key, lang).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notice.ErrMessageNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup message: %w", err)
	}
	return text, nil
}
