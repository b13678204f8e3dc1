package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskboard/internal/logger"
	"github.com/taskboard/internal/model"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// GetByID loads a notification the CRUD layer has already persisted; the
// fan-out endpoint relays it as-is.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	defer logger.DeferLogDuration("notification.GetByID", time.Now())()
	n := &model.Notification{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, project_id, organization_id, type, payload, is_read, created_at
		 FROM notifications WHERE id = $1`, id,
	).Scan(&n.ID, &n.UserID, &n.ProjectID, &n.OrganizationID, &n.Type, &n.Payload, &n.IsRead, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notificationRepo.GetByID: %w", err)
	}
	return n, nil
}
