package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskboard/internal/logger"
	"github.com/taskboard/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.ChatMessage) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, project_id, organization_id, sender_id, content, file_url, file_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ProjectID, m.OrganizationID, m.SenderID, m.Content, m.FileURL, m.FileType, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// ListRecent returns up to limit of the newest messages for a project,
// ordered oldest-first (ready for history replay).
func (r *MessageRepository) ListRecent(ctx context.Context, projectID string, limit int) ([]model.ChatMessage, error) {
	defer logger.DeferLogDuration("msg.ListRecent", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, project_id, organization_id, sender_id, content, file_url, file_type, created_at
		 FROM chat_messages
		 WHERE project_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListRecent query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.ChatMessage, 0, limit)
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.OrganizationID, &m.SenderID, &m.Content, &m.FileURL, &m.FileType, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListRecent scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListRecent rows: %w", err)
	}
	// Query is newest-first for the LIMIT; reverse to createdAt ascending.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
