package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Exchange is one completed chat turn archived by the dev backend: the user
// utterance, the generated reply, and the generation metadata.
type Exchange struct {
	MessageID   string         `json:"message_id"`
	SessionID   string         `json:"session_id"`
	WidgetID    string         `json:"widget_id"`
	UserContent string         `json:"user_content"`
	Reply       string         `json:"reply"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ArchiveRepository persists completed exchanges
type ArchiveRepository struct {
	db *DB
}

// NewArchiveRepository creates a new archive repository
func NewArchiveRepository(db *DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// Create inserts a completed exchange
func (r *ArchiveRepository) Create(ctx context.Context, ex *Exchange) error {
	query := `
		INSERT INTO chat_exchanges (message_id, session_id, widget_id, user_content, reply, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var metadataJSON []byte
	if ex.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(ex.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err := r.db.Pool.Exec(ctx, query,
		ex.MessageID,
		ex.SessionID,
		ex.WidgetID,
		ex.UserContent,
		ex.Reply,
		metadataJSON,
		ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive exchange: %w", err)
	}

	return nil
}

// ListBySession retrieves archived exchanges for a session, newest first
func (r *ArchiveRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]Exchange, error) {
	query := `
		SELECT message_id, session_id, widget_id, user_content, reply, metadata, created_at
		FROM chat_exchanges
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var ex Exchange
		var metadataJSON []byte
		if err := rows.Scan(
			&ex.MessageID,
			&ex.SessionID,
			&ex.WidgetID,
			&ex.UserContent,
			&ex.Reply,
			&metadataJSON,
			&ex.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &ex.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		exchanges = append(exchanges, ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return exchanges, nil
}
