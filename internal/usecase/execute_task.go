package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/fixture"
	"github.com/Harsh-BH/Sentinel/grader/internal/judge"
	"github.com/Harsh-BH/Sentinel/grader/internal/metrics"
	"github.com/Harsh-BH/Sentinel/grader/internal/report"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
	"github.com/Harsh-BH/Sentinel/grader/internal/retry"
	"github.com/Harsh-BH/Sentinel/grader/internal/validator"
)

var (
	// ErrTaskLocked means another worker holds the processing lock; the message should be requeued.
	ErrTaskLocked = errors.New("usecase: task is locked by another worker")
	// ErrInvalidTask means the queue message cannot be processed at all.
	ErrInvalidTask = errors.New("usecase: invalid task")
)

const archiveName = "submission.zip"

// Reporter renders the comparative report of a passing submission.
type Reporter interface {
	Generate(ctx context.Context, subj report.Subject, history []domain.HistoricalAggregate) (*report.Report, error)
}

// Options tunes the pipeline.
type Options struct {
	ScratchRoot string
	// KeepScratch leaves the task directory in place for debugging.
	KeepScratch bool
	// StoreTimeout bounds every single call to the status and result stores.
	StoreTimeout time.Duration
	Retry        retry.Policy
}

// Deps are the collaborators of the pipeline. Reports and Notifier may be nil.
type Deps struct {
	Tasks     repository.TaskRepository
	Results   repository.ResultRepository
	Locks     repository.LockStore
	Fetcher   repository.ArtifactFetcher
	Validator *validator.Validator
	Fixtures  *fixture.Loader
	Judge     *judge.Judge
	Reports   Reporter
	Notifier  repository.Notifier
}

// ExecuteTaskUsecase runs one submission task from download to notification.
type ExecuteTaskUsecase struct {
	Deps
	opts   Options
	logger *zap.Logger
}

// NewExecuteTaskUsecase creates a new ExecuteTaskUsecase.
func NewExecuteTaskUsecase(deps Deps, opts Options, logger *zap.Logger) *ExecuteTaskUsecase {
	if opts.ScratchRoot == "" {
		opts.ScratchRoot = filepath.Join(os.TempDir(), "grader")
	}
	// Submissions run with their source directory as the working directory, so the
	// paths handed to the executor must not depend on the worker's own cwd.
	if abs, err := filepath.Abs(opts.ScratchRoot); err == nil {
		opts.ScratchRoot = abs
	} else {
		logger.Warn("Failed to resolve scratch root", zap.String("dir", opts.ScratchRoot), zap.Error(err))
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy
	}
	return &ExecuteTaskUsecase{Deps: deps, opts: opts, logger: logger}
}

// Execute processes a single task: terminal check → lock → PROCESSING → fetch → validate →
// judge → terminal write → report → notify. Returns (isDuplicate, error).
//
// A task whose terminal status is already recorded is reported as a duplicate and not run
// again. When ctx is cancelled mid-run no terminal record is written and ctx.Err() is returned.
func (uc *ExecuteTaskUsecase) Execute(ctx context.Context, task *domain.Task) (bool, error) {
	if err := task.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	log := uc.logger.With(zap.String("task_id", task.TaskID))

	// Step 1: Redelivery check
	status, err := storeCall(ctx, uc, "get_status", func(ctx context.Context) (domain.TaskStatus, error) {
		return uc.Tasks.GetStatus(ctx, task.TaskID)
	})
	if err != nil {
		log.Error("Failed to read task status", zap.Error(err))
		return false, err
	}
	if status.IsTerminal() {
		log.Info("Task already finished, skipping", zap.String("status", string(status)))
		return true, nil
	}

	// Step 2: Processing lock
	acquired, err := uc.Locks.AcquireLock(ctx, task.TaskID)
	if err != nil {
		log.Error("Failed to acquire task lock", zap.Error(err))
		return false, err
	}
	if !acquired {
		log.Info("Task is locked by another worker")
		return false, ErrTaskLocked
	}
	defer uc.release(ctx, task.TaskID, log)

	// Step 3: PROCESSING
	err = uc.storeDo(ctx, "mark_processing", func(ctx context.Context) error {
		err := uc.Tasks.MarkProcessing(ctx, task.TaskID)
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		log.Info("Task finished concurrently, skipping")
		return true, nil
	}
	if err != nil {
		log.Error("Failed to mark task processing", zap.Error(err))
		return false, err
	}

	start := time.Now()
	scratch := filepath.Join(uc.opts.ScratchRoot, task.TaskID)
	if !uc.opts.KeepScratch {
		defer func() {
			if err := os.RemoveAll(scratch); err != nil {
				log.Warn("Failed to remove scratch directory", zap.String("dir", scratch), zap.Error(err))
			}
		}()
	}

	// Step 4: Judge
	rec, outcome, err := uc.safeProcess(ctx, task, scratch, log)
	if err != nil {
		log.Warn("Task interrupted, leaving it for redelivery", zap.Error(err))
		return false, err
	}

	// Step 5: Terminal write
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	attempts := 0
	err = uc.storeDo(ctx, "finish", func(ctx context.Context) error {
		attempts++
		err := uc.Tasks.Finish(ctx, rec)
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			if attempts > 1 {
				// We hold the lock, so the row was committed by our own attempt whose
				// reply was lost.
				log.Warn("Terminal record found on retry, assuming the earlier write committed")
				return nil
			}
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		log.Info("Terminal record already written, skipping")
		return true, nil
	}
	if err != nil {
		log.Error("Failed to write terminal record", zap.Error(err))
		return false, err
	}

	label := string(rec.Status)
	if rec.Result != nil {
		label = string(*rec.Result)
	}
	metrics.TasksTotal.WithLabelValues(string(task.Language), label).Inc()
	metrics.TaskDuration.WithLabelValues(string(task.Language)).Observe(time.Since(start).Seconds())

	// Step 6: Comparative report, only for passing submissions
	var charts []string
	if outcome != nil && outcome.Code == domain.OutcomeOK && outcome.Stats != nil {
		charts = uc.report(ctx, task, *outcome.Stats, log)
	}

	// Step 7: Notify
	uc.notify(ctx, domain.NewNotification(rec, charts), log)

	fields := []zap.Field{
		zap.String("status", string(rec.Status)),
		zap.Duration("took", time.Since(start)),
	}
	if rec.Result != nil {
		fields = append(fields, zap.String("result", string(*rec.Result)))
	}
	if rec.TestFailed != nil {
		fields = append(fields, zap.Int("test_failed", *rec.TestFailed))
	}
	log.Info("Task judged", fields...)

	return false, nil
}

// safeProcess turns a panic anywhere in the judging pipeline into a UB record, so the
// task still reaches a terminal status instead of staying PROCESSING.
func (uc *ExecuteTaskUsecase) safeProcess(ctx context.Context, task *domain.Task, scratch string, log *zap.Logger) (rec *domain.StatusRecord, out *domain.OutcomeRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while judging task", zap.Any("panic", r), zap.Stack("stack"))
			if ctx.Err() != nil {
				rec, out, err = nil, nil, ctx.Err()
				return
			}
			o := domain.OutcomeRecord{Code: domain.OutcomeUndefined, Diagnostic: fmt.Sprintf("internal error: %v", r)}
			rec, out, err = domain.NewTerminalRecord(task.TaskID, o), &o, nil
		}
	}()
	return uc.process(ctx, task, scratch, log)
}

// process produces the terminal record of the task. The outcome is nil when the submission
// was rejected before judging. An error is returned only when ctx was cancelled.
func (uc *ExecuteTaskUsecase) process(ctx context.Context, task *domain.Task, scratch string, log *zap.Logger) (*domain.StatusRecord, *domain.OutcomeRecord, error) {
	undefined := func(diag string) (*domain.StatusRecord, *domain.OutcomeRecord, error) {
		out := domain.OutcomeRecord{Code: domain.OutcomeUndefined, Diagnostic: diag}
		return domain.NewTerminalRecord(task.TaskID, out), &out, nil
	}

	if err := os.RemoveAll(scratch); err != nil {
		return undefined(fmt.Sprintf("prepare scratch: %v", err))
	}

	archive := filepath.Join(scratch, archiveName)
	if err := uc.Fetcher.Fetch(ctx, task.SrcURL, archive); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if domain.IsValidationError(err) {
			log.Info("Submission could not be downloaded", zap.Error(err))
			return domain.NewRejectedRecord(task.TaskID, err.Error()), nil, nil
		}
		return undefined(fmt.Sprintf("download submission: %v", err))
	}

	sub, err := uc.Validator.Validate(archive, task.Language, filepath.Join(scratch, "src"))
	if err != nil {
		if domain.IsValidationError(err) {
			log.Info("Submission rejected", zap.Error(err))
			return domain.NewRejectedRecord(task.TaskID, err.Error()), nil, nil
		}
		return undefined(err.Error())
	}

	suite, err := uc.Fixtures.Load(ctx, task.SuiteKey())
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		log.Error("Failed to load fixtures", zap.Error(err))
		return undefined(err.Error())
	}

	out, err := uc.Judge.Evaluate(ctx, judge.Submission{
		Language:   sub.Language,
		Dir:        sub.Dir,
		EntryPoint: sub.EntryPoint,
	}, suite.Descriptor(), suite)
	if err != nil {
		return nil, nil, err
	}
	return domain.NewTerminalRecord(task.TaskID, out), &out, nil
}

// report stores the aggregate, reads the history of the task back and renders the
// charts. Failures are logged and never affect the recorded outcome.
func (uc *ExecuteTaskUsecase) report(ctx context.Context, task *domain.Task, st domain.AggregateStats, log *zap.Logger) []string {
	agg := domain.HistoricalAggregate{
		TaskID:         task.TaskID,
		Contest:        task.Contest,
		TaskN:          int(task.TaskN),
		AggregateStats: st,
	}
	if err := uc.storeDo(ctx, "save_aggregate", func(ctx context.Context) error {
		return uc.Results.SaveAggregate(ctx, agg)
	}); err != nil {
		metrics.ReportFailures.Inc()
		log.Warn("Failed to save aggregate", zap.Error(err))
		return nil
	}

	if uc.Reports == nil {
		return nil
	}

	history, err := storeCall(ctx, uc, "list_aggregates", func(ctx context.Context) ([]domain.HistoricalAggregate, error) {
		return uc.Results.ListAggregates(ctx, task.Contest, int(task.TaskN))
	})
	if err != nil {
		metrics.ReportFailures.Inc()
		log.Warn("Failed to read submission history", zap.Error(err))
		return nil
	}

	rep, err := uc.Reports.Generate(ctx, report.Subject{
		TaskID:  task.TaskID,
		Contest: task.Contest,
		TaskN:   int(task.TaskN),
		Stats:   st,
	}, history)
	if err != nil {
		metrics.ReportFailures.Inc()
		log.Warn("Comparative report incomplete", zap.Int("history", len(history)), zap.Error(err))
	}
	if rep == nil {
		return nil
	}
	return rep.Charts
}

func (uc *ExecuteTaskUsecase) notify(ctx context.Context, n *domain.Notification, log *zap.Logger) {
	if uc.Notifier == nil {
		return
	}
	if err := uc.Notifier.Notify(ctx, n); err != nil {
		metrics.NotifyFailures.Inc()
		log.Warn("Failed to deliver notification", zap.Error(err))
	}
}

// release drops the lock even when ctx is already cancelled.
func (uc *ExecuteTaskUsecase) release(ctx context.Context, taskID string, log *zap.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.opts.StoreTimeout)
	defer cancel()
	if err := uc.Locks.ReleaseLock(rctx, taskID); err != nil {
		log.Warn("Failed to release task lock", zap.Error(err))
	}
}

func (uc *ExecuteTaskUsecase) storeDo(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := storeCall(ctx, uc, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// storeCall retries fn with a per-attempt timeout.
func storeCall[T any](ctx context.Context, uc *ExecuteTaskUsecase, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoWithData(ctx, uc.opts.Retry, func(ctx context.Context) (T, error) {
		cctx, cancel := context.WithTimeout(ctx, uc.opts.StoreTimeout)
		defer cancel()
		return fn(cctx)
	}, func(err error, wait time.Duration) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		uc.logger.Warn("Store call failed, retrying",
			zap.String("op", op),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}
