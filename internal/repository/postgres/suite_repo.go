package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
)

var _ repository.SuiteRepository = (*pgSuiteRepo)(nil)

type pgSuiteRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresSuiteRepository creates a PostgreSQL-backed fixture descriptor repository.
func NewPostgresSuiteRepository(pool *pgxpool.Pool) repository.SuiteRepository {
	return &pgSuiteRepo{pool: pool}
}

func (r *pgSuiteRepo) GetSuite(ctx context.Context, key domain.SuiteKey) (*domain.TestSuiteDescriptor, error) {
	var d domain.TestSuiteDescriptor
	err := r.pool.QueryRow(ctx,
		`SELECT total, tl, ml FROM test_suites WHERE suite_key = $1`, key.String(),
	).Scan(&d.Total, &d.TimeLimitSec, &d.MemoryLimitMB)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: suite %s: %w", key, domain.ErrFixtureNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get suite: %w", err)
	}
	return &d, nil
}
