//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

// newPool connects to DATABASE_URL and applies the schema.
func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func TestTaskRepository_Lifecycle(t *testing.T) {
	pool := newPool(t)
	repo := NewPostgresTaskRepository(pool)
	ctx := context.Background()
	id := uuid.NewString()

	status, err := repo.GetStatus(ctx, id)
	if err != nil || status != domain.StatusNew {
		t.Fatalf("expected NEW for an unknown task, got %s err=%v", status, err)
	}

	if err := repo.MarkProcessing(ctx, id); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	// Redelivery before finishing keeps the task PROCESSING.
	if err := repo.MarkProcessing(ctx, id); err != nil {
		t.Fatalf("mark processing again: %v", err)
	}

	rec := domain.NewTerminalRecord(id, domain.OutcomeRecord{
		Code:  domain.OutcomeOK,
		Stats: &domain.AggregateStats{AvgTime: 0.2, MinTime: 0.1, MaxTime: 0.3, AvgMemory: 15, MinMemory: 10, MaxMemory: 20},
	})
	if err := repo.Finish(ctx, rec); err != nil {
		t.Fatalf("finish: %v", err)
	}

	status, err = repo.GetStatus(ctx, id)
	if err != nil || status != domain.StatusDone {
		t.Fatalf("expected DONE, got %s err=%v", status, err)
	}

	again := domain.NewTerminalRecord(id, domain.OutcomeRecord{Code: domain.OutcomeWrongAnswer, FailedTest: 1})
	if err := repo.Finish(ctx, again); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal on a second terminal write, got %v", err)
	}
	if err := repo.MarkProcessing(ctx, id); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal when reprocessing, got %v", err)
	}

	var result string
	var avgTime float64
	if err := pool.QueryRow(ctx, `SELECT result, avg_time_limit FROM tasks WHERE task_id = $1`, id).Scan(&result, &avgTime); err != nil {
		t.Fatal(err)
	}
	if result != string(domain.OutcomeOK) || avgTime != 0.2 {
		t.Errorf("first terminal write must stick, got result=%s avg_time=%v", result, avgTime)
	}
}

func TestResultRepository_History(t *testing.T) {
	pool := newPool(t)
	repo := NewPostgresResultRepository(pool)
	ctx := context.Background()
	contest := "it-" + uuid.NewString()

	for i, avg := range []float64{0.1, 0.4} {
		agg := domain.HistoricalAggregate{
			TaskID:         uuid.NewString(),
			Contest:        contest,
			TaskN:          1,
			AggregateStats: domain.AggregateStats{AvgTime: avg, AvgMemory: float64(10 * (i + 1))},
		}
		if err := repo.SaveAggregate(ctx, agg); err != nil {
			t.Fatalf("save: %v", err)
		}
		// Saving twice is an upsert.
		if err := repo.SaveAggregate(ctx, agg); err != nil {
			t.Fatalf("save again: %v", err)
		}
	}

	got, err := repo.ListAggregates(ctx, contest, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].AvgTime != 0.1 || got[1].AvgMemory != 20 {
		t.Errorf("unexpected history %+v", got)
	}

	other, err := repo.ListAggregates(ctx, contest, 2)
	if err != nil || len(other) != 0 {
		t.Errorf("expected no history for another task number, got %v err=%v", other, err)
	}
}

func TestSuiteRepository_GetSuite(t *testing.T) {
	pool := newPool(t)
	repo := NewPostgresSuiteRepository(pool)
	ctx := context.Background()
	key := domain.SuiteKey{Contest: "it-" + uuid.NewString(), TaskN: 4}

	if _, err := repo.GetSuite(ctx, key); !errors.Is(err, domain.ErrFixtureNotFound) {
		t.Fatalf("expected ErrFixtureNotFound, got %v", err)
	}

	if _, err := pool.Exec(ctx, `INSERT INTO test_suites (suite_key, total, tl, ml) VALUES ($1, 3, 2, 256)`, key.String()); err != nil {
		t.Fatal(err)
	}
	d, err := repo.GetSuite(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Total != 3 || d.TimeLimitSec != 2 || d.MemoryLimitMB != 256 {
		t.Errorf("unexpected descriptor %+v", d)
	}
}
