package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
)

var _ repository.TaskRepository = (*pgTaskRepo)(nil)

type pgTaskRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresTaskRepository creates a PostgreSQL-backed task status repository.
func NewPostgresTaskRepository(pool *pgxpool.Pool) repository.TaskRepository {
	return &pgTaskRepo{pool: pool}
}

func (r *pgTaskRepo) GetStatus(ctx context.Context, taskID string) (domain.TaskStatus, error) {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE task_id = $1`, taskID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StatusNew, nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get status: %w", err)
	}
	return domain.TaskStatus(status), nil
}

func (r *pgTaskRepo) MarkProcessing(ctx context.Context, taskID string) error {
	query := `
		INSERT INTO tasks (task_id, status, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (task_id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		WHERE tasks.status NOT IN ($4, $5)`

	tag, err := r.pool.Exec(ctx, query,
		taskID, domain.StatusProcessing, time.Now().UTC(),
		domain.StatusDone, domain.StatusReqsNotPassed,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: task %s: %w", taskID, domain.ErrAlreadyTerminal)
	}
	return nil
}

func (r *pgTaskRepo) Finish(ctx context.Context, rec *domain.StatusRecord) error {
	var avgT, minT, maxT, avgM, minM, maxM *float64
	if s := rec.Stats; s != nil {
		avgT, minT, maxT = &s.AvgTime, &s.MinTime, &s.MaxTime
		avgM, minM, maxM = &s.AvgMemory, &s.MinMemory, &s.MaxMemory
	}
	var result *string
	if rec.Result != nil {
		v := string(*rec.Result)
		result = &v
	}

	// The status guard makes the terminal write happen at most once.
	query := `
		UPDATE tasks
		SET status = $2, result = $3, test_failed = $4, output = $5,
		    avg_time_limit = $6, min_time_limit = $7, max_time_limit = $8,
		    avg_memory_limit = $9, min_memory_limit = $10, max_memory_limit = $11,
		    updated_at = $12
		WHERE task_id = $1 AND status NOT IN ($13, $14)`

	tag, err := r.pool.Exec(ctx, query,
		rec.TaskID, rec.Status, result, rec.TestFailed, rec.Output,
		avgT, minT, maxT, avgM, minM, maxM,
		time.Now().UTC(),
		domain.StatusDone, domain.StatusReqsNotPassed,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: task %s: %w", rec.TaskID, domain.ErrAlreadyTerminal)
	}
	return nil
}
