package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
)

var _ repository.ResultRepository = (*pgResultRepo)(nil)

type pgResultRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresResultRepository creates a PostgreSQL-backed results history repository.
func NewPostgresResultRepository(pool *pgxpool.Pool) repository.ResultRepository {
	return &pgResultRepo{pool: pool}
}

func (r *pgResultRepo) SaveAggregate(ctx context.Context, agg domain.HistoricalAggregate) error {
	query := `
		INSERT INTO results (task_id, contest, task_n,
		                     avg_time, min_time, max_time,
		                     avg_memory, min_memory, max_memory, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (task_id) DO UPDATE
		SET avg_time = EXCLUDED.avg_time, min_time = EXCLUDED.min_time, max_time = EXCLUDED.max_time,
		    avg_memory = EXCLUDED.avg_memory, min_memory = EXCLUDED.min_memory, max_memory = EXCLUDED.max_memory`

	_, err := r.pool.Exec(ctx, query,
		agg.TaskID, agg.Contest, agg.TaskN,
		agg.AvgTime, agg.MinTime, agg.MaxTime,
		agg.AvgMemory, agg.MinMemory, agg.MaxMemory,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: save aggregate: %w", err)
	}
	return nil
}

func (r *pgResultRepo) ListAggregates(ctx context.Context, contest string, taskN int) ([]domain.HistoricalAggregate, error) {
	query := `
		SELECT task_id, contest, task_n,
		       avg_time, min_time, max_time,
		       avg_memory, min_memory, max_memory
		FROM results
		WHERE contest = $1 AND task_n = $2
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, contest, taskN)
	if err != nil {
		return nil, fmt.Errorf("postgres: list aggregates: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.HistoricalAggregate, error) {
		var h domain.HistoricalAggregate
		err := row.Scan(&h.TaskID, &h.Contest, &h.TaskN,
			&h.AvgTime, &h.MinTime, &h.MaxTime,
			&h.AvgMemory, &h.MinMemory, &h.MaxMemory,
		)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan aggregates: %w", err)
	}
	return out, nil
}
