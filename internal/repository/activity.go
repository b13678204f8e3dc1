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

type ActivityRepository struct {
	pool *pgxpool.Pool
}

func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

func (r *ActivityRepository) Create(ctx context.Context, a *model.Activity) error {
	defer logger.DeferLogDuration("activity.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO activities (id, project_id, organization_id, actor_id, verb, target_id, summary, meta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ProjectID, a.OrganizationID, a.ActorID, a.Verb, a.TargetID, a.Summary, a.Meta, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("activityRepo.Create: %w", err)
	}
	return nil
}

func (r *ActivityRepository) GetByID(ctx context.Context, id string) (*model.Activity, error) {
	defer logger.DeferLogDuration("activity.GetByID", time.Now())()
	a := &model.Activity{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, project_id, organization_id, actor_id, verb, target_id, summary, meta, created_at
		 FROM activities WHERE id = $1`, id,
	).Scan(&a.ID, &a.ProjectID, &a.OrganizationID, &a.ActorID, &a.Verb, &a.TargetID, &a.Summary, &a.Meta, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("activityRepo.GetByID: %w", err)
	}
	return a, nil
}
