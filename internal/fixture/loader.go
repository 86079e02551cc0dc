package fixture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/metrics"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
	"github.com/Harsh-BH/Sentinel/grader/internal/retry"
	"github.com/Harsh-BH/Sentinel/grader/internal/storage"
)

// Loader resolves a task key to its suite descriptor and serves test cases on demand.
type Loader struct {
	suites  repository.SuiteRepository
	objects storage.ObjectStore
	policy  retry.Policy
	logger  *zap.Logger
}

// NewLoader creates a fixture loader.
func NewLoader(suites repository.SuiteRepository, objects storage.ObjectStore, policy retry.Policy, logger *zap.Logger) *Loader {
	return &Loader{
		suites:  suites,
		objects: objects,
		policy:  policy,
		logger:  logger,
	}
}

// Suite serves the test cases of one loaded descriptor.
type Suite struct {
	key    domain.SuiteKey
	desc   domain.TestSuiteDescriptor
	loader *Loader
}

// Load fetches the descriptor for key. It fails with domain.ErrFixtureNotFound when no
// descriptor exists and with domain.ErrEmptySuite when it declares no tests.
func (l *Loader) Load(ctx context.Context, key domain.SuiteKey) (*Suite, error) {
	desc, err := retry.DoWithData(ctx, l.policy, func(ctx context.Context) (*domain.TestSuiteDescriptor, error) {
		d, err := l.suites.GetSuite(ctx, key)
		if errors.Is(err, domain.ErrFixtureNotFound) {
			return nil, retry.Permanent(err)
		}
		return d, err
	}, l.notify("get_suite", key.String()))
	if err != nil {
		return nil, fmt.Errorf("fixture: load %s: %w", key, err)
	}

	if desc.Total < 1 {
		return nil, fmt.Errorf("fixture: %s: %w", key, domain.ErrEmptySuite)
	}
	if desc.TimeLimitSec <= 0 || desc.MemoryLimitMB <= 0 {
		return nil, fmt.Errorf("fixture: %s: invalid limits tl=%d ml=%d", key, desc.TimeLimitSec, desc.MemoryLimitMB)
	}

	return &Suite{key: key, desc: *desc, loader: l}, nil
}

// Descriptor returns the declared limits.
func (s *Suite) Descriptor() domain.TestSuiteDescriptor {
	return s.desc
}

// At fetches test case i, counting from 1.
func (s *Suite) At(ctx context.Context, i int) (*domain.TestCase, error) {
	if i < 1 || i > s.desc.Total {
		return nil, fmt.Errorf("fixture: %s test %d of %d: %w", s.key, i, s.desc.Total, domain.ErrIndexOutOfRange)
	}

	in, err := s.loader.fetch(ctx, InputKey(s.key, i))
	if err != nil {
		return nil, err
	}
	out, err := s.loader.fetch(ctx, OutputKey(s.key, i))
	if err != nil {
		return nil, err
	}
	return &domain.TestCase{Index: i, Input: in, Expected: out}, nil
}

func (l *Loader) fetch(ctx context.Context, key string) ([]byte, error) {
	body, err := retry.DoWithData(ctx, l.policy, func(ctx context.Context) ([]byte, error) {
		b, err := l.objects.Get(ctx, key)
		if errors.Is(err, storage.ErrNotExist) {
			return nil, retry.Permanent(err)
		}
		return b, err
	}, l.notify("get_object", key))
	if errors.Is(err, storage.ErrNotExist) {
		return nil, fmt.Errorf("fixture: %s: %w", key, domain.ErrFixtureNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fixture: fetch %s: %w", key, err)
	}
	return body, nil
}

func (l *Loader) notify(op, key string) retry.NotifyFunc {
	return func(err error, wait time.Duration) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		l.logger.Warn("Fixture store call failed, retrying",
			zap.String("op", op),
			zap.String("key", key),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}

// InputKey is the object key of test i's input.
func InputKey(key domain.SuiteKey, i int) string {
	return fmt.Sprintf("%s_%d_in.txt", key, i)
}

// OutputKey is the object key of test i's expected output.
func OutputKey(key domain.SuiteKey, i int) string {
	return fmt.Sprintf("%s_%d_out.txt", key, i)
}
