package mock

import (
	"context"
	"sync"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
)

// ---- TaskRepository mock ----

var _ repository.TaskRepository = (*TaskRepository)(nil)

// TaskRepository is a test double for repository.TaskRepository.
// Without Fn overrides it keeps statuses in memory and enforces the single terminal write.
type TaskRepository struct {
	mu sync.Mutex

	GetStatusFn      func(ctx context.Context, taskID string) (domain.TaskStatus, error)
	MarkProcessingFn func(ctx context.Context, taskID string) error
	FinishFn         func(ctx context.Context, rec *domain.StatusRecord) error

	Statuses map[string]domain.TaskStatus

	// Recorded calls for assertions.
	ProcessingCalls []string
	Finished        []*domain.StatusRecord
}

func (m *TaskRepository) status(taskID string) domain.TaskStatus {
	if s, ok := m.Statuses[taskID]; ok {
		return s
	}
	return domain.StatusNew
}

func (m *TaskRepository) set(taskID string, s domain.TaskStatus) {
	if m.Statuses == nil {
		m.Statuses = make(map[string]domain.TaskStatus)
	}
	m.Statuses[taskID] = s
}

func (m *TaskRepository) GetStatus(ctx context.Context, taskID string) (domain.TaskStatus, error) {
	if m.GetStatusFn != nil {
		return m.GetStatusFn(ctx, taskID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status(taskID), nil
}

func (m *TaskRepository) MarkProcessing(ctx context.Context, taskID string) error {
	m.mu.Lock()
	m.ProcessingCalls = append(m.ProcessingCalls, taskID)
	m.mu.Unlock()
	if m.MarkProcessingFn != nil {
		return m.MarkProcessingFn(ctx, taskID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status(taskID).IsTerminal() {
		return domain.ErrAlreadyTerminal
	}
	m.set(taskID, domain.StatusProcessing)
	return nil
}

func (m *TaskRepository) Finish(ctx context.Context, rec *domain.StatusRecord) error {
	if m.FinishFn != nil {
		m.mu.Lock()
		m.Finished = append(m.Finished, rec)
		m.mu.Unlock()
		return m.FinishFn(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status(rec.TaskID).IsTerminal() {
		return domain.ErrAlreadyTerminal
	}
	m.Finished = append(m.Finished, rec)
	m.set(rec.TaskID, rec.Status)
	return nil
}

// ---- ResultRepository mock ----

var _ repository.ResultRepository = (*ResultRepository)(nil)

// ResultRepository is an in-memory test double for repository.ResultRepository.
type ResultRepository struct {
	mu sync.Mutex

	SaveFn func(ctx context.Context, agg domain.HistoricalAggregate) error
	ListFn func(ctx context.Context, contest string, taskN int) ([]domain.HistoricalAggregate, error)

	Rows []domain.HistoricalAggregate
}

func (m *ResultRepository) SaveAggregate(ctx context.Context, agg domain.HistoricalAggregate) error {
	if m.SaveFn != nil {
		return m.SaveFn(ctx, agg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.Rows {
		if r.TaskID == agg.TaskID {
			m.Rows[i] = agg
			return nil
		}
	}
	m.Rows = append(m.Rows, agg)
	return nil
}

func (m *ResultRepository) ListAggregates(ctx context.Context, contest string, taskN int) ([]domain.HistoricalAggregate, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, contest, taskN)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoricalAggregate
	for _, r := range m.Rows {
		if r.Contest == contest && r.TaskN == taskN {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---- SuiteRepository mock ----

var _ repository.SuiteRepository = (*SuiteRepository)(nil)

// SuiteRepository is a test double for repository.SuiteRepository.
type SuiteRepository struct {
	mu sync.Mutex

	GetSuiteFn func(ctx context.Context, key domain.SuiteKey) (*domain.TestSuiteDescriptor, error)
	Suites     map[string]domain.TestSuiteDescriptor

	Calls []domain.SuiteKey
}

func (m *SuiteRepository) GetSuite(ctx context.Context, key domain.SuiteKey) (*domain.TestSuiteDescriptor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, key)
	m.mu.Unlock()
	if m.GetSuiteFn != nil {
		return m.GetSuiteFn(ctx, key)
	}
	d, ok := m.Suites[key.String()]
	if !ok {
		return nil, domain.ErrFixtureNotFound
	}
	return &d, nil
}

// ---- LockStore mock ----

var _ repository.LockStore = (*LockStore)(nil)

// LockStore is a test double for repository.LockStore.
type LockStore struct {
	mu sync.Mutex

	AcquireLockFn func(ctx context.Context, taskID string) (bool, error)
	ReleaseLockFn func(ctx context.Context, taskID string) error

	AcquireCalls []string
	ReleaseCalls []string
}

func (m *LockStore) AcquireLock(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, taskID)
	m.mu.Unlock()
	if m.AcquireLockFn != nil {
		return m.AcquireLockFn(ctx, taskID)
	}
	return true, nil // default: lock acquired
}

func (m *LockStore) ReleaseLock(ctx context.Context, taskID string) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, taskID)
	m.mu.Unlock()
	if m.ReleaseLockFn != nil {
		return m.ReleaseLockFn(ctx, taskID)
	}
	return nil
}

// ---- Executor mock ----

var _ repository.Executor = (*Executor)(nil)

// Executor is a test double for repository.Executor.
type Executor struct {
	mu sync.Mutex

	PrepareFn func(ctx context.Context, lang domain.Language, dir, entryPoint string) (*domain.Program, error)
	RunFn     func(ctx context.Context, prog *domain.Program, input []byte, limits domain.Limits) (*domain.Measurement, error)

	PrepareCalls int
	RunInputs    [][]byte
}

func (m *Executor) Prepare(ctx context.Context, lang domain.Language, dir, entryPoint string) (*domain.Program, error) {
	m.mu.Lock()
	m.PrepareCalls++
	m.mu.Unlock()
	if m.PrepareFn != nil {
		return m.PrepareFn(ctx, lang, dir, entryPoint)
	}
	return &domain.Program{Language: lang, Dir: dir, Argv: []string{entryPoint}}, nil
}

// Run echoes its input by default, which passes any test whose expected output equals its input.
func (m *Executor) Run(ctx context.Context, prog *domain.Program, input []byte, limits domain.Limits) (*domain.Measurement, error) {
	m.mu.Lock()
	m.RunInputs = append(m.RunInputs, input)
	m.mu.Unlock()
	if m.RunFn != nil {
		return m.RunFn(ctx, prog, input, limits)
	}
	return &domain.Measurement{Stdout: input, MemoryMB: 8}, nil
}

// Runs returns how many times Run was called.
func (m *Executor) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RunInputs)
}

// ---- ArtifactFetcher mock ----

var _ repository.ArtifactFetcher = (*Fetcher)(nil)

// Fetcher is a test double for repository.ArtifactFetcher.
type Fetcher struct {
	mu sync.Mutex

	FetchFn func(ctx context.Context, srcURL, dest string) error

	Calls []string
}

func (m *Fetcher) Fetch(ctx context.Context, srcURL, dest string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, srcURL)
	m.mu.Unlock()
	if m.FetchFn != nil {
		return m.FetchFn(ctx, srcURL, dest)
	}
	return nil
}

// ---- Notifier mock ----

var _ repository.Notifier = (*Notifier)(nil)

// Notifier is a test double for repository.Notifier.
type Notifier struct {
	mu sync.Mutex

	NotifyFn func(ctx context.Context, n *domain.Notification) error

	Sent []*domain.Notification
}

func (m *Notifier) Notify(ctx context.Context, n *domain.Notification) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, n)
	m.mu.Unlock()
	if m.NotifyFn != nil {
		return m.NotifyFn(ctx, n)
	}
	return nil
}
