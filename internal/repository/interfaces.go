package repository

import (
	"context"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

// TaskRepository persists the lifecycle status record of submission tasks.
type TaskRepository interface {
	// GetStatus returns the current status of a task, StatusNew if it has no record yet.
	GetStatus(ctx context.Context, taskID string) (domain.TaskStatus, error)

	// MarkProcessing moves a non-terminal task to PROCESSING.
	// Returns domain.ErrAlreadyTerminal if the task already finished.
	MarkProcessing(ctx context.Context, taskID string) error

	// Finish writes the terminal record. It succeeds at most once per task;
	// later calls return domain.ErrAlreadyTerminal.
	Finish(ctx context.Context, rec *domain.StatusRecord) error
}

// ResultRepository stores per-submission aggregates used for comparative reports.
type ResultRepository interface {
	// SaveAggregate upserts the aggregate of one submission.
	SaveAggregate(ctx context.Context, agg domain.HistoricalAggregate) error

	// ListAggregates returns all aggregates recorded for the same task.
	ListAggregates(ctx context.Context, contest string, taskN int) ([]domain.HistoricalAggregate, error)
}

// SuiteRepository resolves fixture descriptors.
type SuiteRepository interface {
	// GetSuite returns domain.ErrFixtureNotFound when the key has no descriptor.
	GetSuite(ctx context.Context, key domain.SuiteKey) (*domain.TestSuiteDescriptor, error)
}

// LockStore provides a short-lived exclusive processing lock per task.
type LockStore interface {
	// AcquireLock returns true if the lock was acquired, false if another worker holds it.
	AcquireLock(ctx context.Context, taskID string) (bool, error)

	// ReleaseLock drops the lock so a redelivered message can be processed.
	ReleaseLock(ctx context.Context, taskID string) error
}

// Executor prepares submissions and runs them once per test input.
type Executor interface {
	// Prepare builds the submission if its language needs it. A failed build
	// returns a *domain.BuildError.
	Prepare(ctx context.Context, lang domain.Language, dir, entryPoint string) (*domain.Program, error)

	// Run executes prog once with input on stdin under limits. The error is set only
	// when the process could not be started or observed.
	Run(ctx context.Context, prog *domain.Program, input []byte, limits domain.Limits) (*domain.Measurement, error)
}

// ArtifactFetcher downloads a submission archive to a local path.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, srcURL, dest string) error
}

// Notifier delivers the final status of a task to the end user.
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification) error
}
