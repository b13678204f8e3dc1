package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskboard/internal/logger"
)

type ProjectRepository struct {
	pool *pgxpool.Pool
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

// ResolveOrganization returns the organization a project belongs to.
func (r *ProjectRepository) ResolveOrganization(ctx context.Context, projectID string) (string, error) {
	defer logger.DeferLogDuration("project.ResolveOrganization", time.Now())()
	var orgID string
	err := r.pool.QueryRow(ctx,
		`SELECT organization_id FROM projects WHERE id = $1`, projectID,
	).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("projectRepo.ResolveOrganization: %w", err)
	}
	return orgID, nil
}
