package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/metrics"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
	"github.com/Harsh-BH/Sentinel/grader/internal/stats"
)

// DefaultMaxDiagnostic caps the diagnostic text stored with an outcome.
const DefaultMaxDiagnostic = 4096

// TestSource yields test cases by 1-based index.
type TestSource interface {
	At(ctx context.Context, i int) (*domain.TestCase, error)
}

// Submission is the prepared input of one judging run.
type Submission struct {
	Language   domain.Language
	Dir        string
	EntryPoint string
}

// Judge builds a submission and runs it against a test suite, stopping at the first failure.
type Judge struct {
	exec    repository.Executor
	maxDiag int
	logger  *zap.Logger
}

// New creates a Judge. maxDiag <= 0 uses DefaultMaxDiagnostic.
func New(exec repository.Executor, maxDiag int, logger *zap.Logger) *Judge {
	if maxDiag <= 0 {
		maxDiag = DefaultMaxDiagnostic
	}
	return &Judge{exec: exec, maxDiag: maxDiag, logger: logger}
}

// Evaluate produces exactly one outcome for the submission. The returned error is
// non-nil only when ctx was cancelled, in which case no outcome must be recorded.
func (j *Judge) Evaluate(ctx context.Context, sub Submission, desc domain.TestSuiteDescriptor, src TestSource) (domain.OutcomeRecord, error) {
	prog, err := j.exec.Prepare(ctx, sub.Language, sub.Dir, sub.EntryPoint)
	if err != nil {
		if ctx.Err() != nil {
			return domain.OutcomeRecord{}, ctx.Err()
		}
		var be *domain.BuildError
		if errors.As(err, &be) {
			return j.record(domain.OutcomeCompileError, 0, be.Log), nil
		}
		return j.record(domain.OutcomeUndefined, 0, err.Error()), nil
	}
	return j.run(ctx, prog, desc, src)
}

func (j *Judge) run(ctx context.Context, prog *domain.Program, desc domain.TestSuiteDescriptor, src TestSource) (domain.OutcomeRecord, error) {
	limits := domain.LimitsOf(desc)
	lang := string(prog.Language)
	measurements := make([]domain.Measurement, 0, desc.Total)

	for i := 1; i <= desc.Total; i++ {
		tc, err := src.At(ctx, i)
		if err != nil {
			if ctx.Err() != nil {
				return domain.OutcomeRecord{}, ctx.Err()
			}
			return j.record(domain.OutcomeUndefined, i, fmt.Sprintf("load test %d: %v", i, err)), nil
		}

		m, err := j.exec.Run(ctx, prog, tc.Input, limits)
		if err != nil {
			if ctx.Err() != nil {
				return domain.OutcomeRecord{}, ctx.Err()
			}
			metrics.SandboxFailures.Inc()
			return j.record(domain.OutcomeUndefined, i, fmt.Sprintf("run test %d: %v", i, err)), nil
		}
		metrics.TestDuration.WithLabelValues(lang).Observe(m.Elapsed.Seconds())

		code, diag := Classify(m, tc.Expected, limits)
		j.logger.Debug("Test classified",
			zap.Int("test", i),
			zap.String("outcome", string(code)),
			zap.Duration("elapsed", m.Elapsed),
			zap.Float64("memory_mb", m.MemoryMB),
		)
		if code != domain.OutcomeOK {
			return j.record(code, i, diag), nil
		}

		// Output is no longer needed once matched.
		m.Stdout = nil
		measurements = append(measurements, *m)
	}

	agg, err := stats.Aggregate(measurements)
	if err != nil {
		return j.record(domain.OutcomeUndefined, 0, err.Error()), nil
	}
	rec := j.record(domain.OutcomeOK, 0, "")
	rec.Stats = &agg
	return rec, nil
}

func (j *Judge) record(code domain.Outcome, failed int, diag string) domain.OutcomeRecord {
	return domain.OutcomeRecord{
		Code:       code,
		FailedTest: failed,
		Diagnostic: truncate(strings.TrimSpace(diag), j.maxDiag),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
