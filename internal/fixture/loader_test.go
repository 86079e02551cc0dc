package fixture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository/mock"
	"github.com/Harsh-BH/Sentinel/grader/internal/retry"
	"github.com/Harsh-BH/Sentinel/grader/internal/storage"
)

var (
	fastPolicy = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	key        = domain.SuiteKey{Course: "algo", Contest: "c1", TaskN: 2}
)

type flakyStore struct {
	storage.ObjectStore
	failures int
	calls    int
}

func (f *flakyStore) Get(ctx context.Context, k string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("503 slow down")
	}
	return f.ObjectStore.Get(ctx, k)
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newSuites(total int) *mock.SuiteRepository {
	return &mock.SuiteRepository{Suites: map[string]domain.TestSuiteDescriptor{
		"c1_2": {Total: total, TimeLimitSec: 2, MemoryLimitMB: 256},
	}}
}

func TestKeys(t *testing.T) {
	if got := InputKey(key, 3); got != "c1_2_3_in.txt" {
		t.Errorf("unexpected input key %q", got)
	}
	if got := OutputKey(key, 3); got != "c1_2_3_out.txt" {
		t.Errorf("unexpected output key %q", got)
	}
}

func TestLoad_ServesTestsByIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "c1_2_1_in.txt", "1 2\n")
	writeFile(t, dir, "c1_2_1_out.txt", "3\n")
	writeFile(t, dir, "c1_2_2_in.txt", "5 5\n")
	writeFile(t, dir, "c1_2_2_out.txt", "10\n")

	l := NewLoader(newSuites(2), storage.NewFSStore(dir), fastPolicy, zap.NewNop())
	suite, err := l.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := suite.Descriptor(); d.Total != 2 || d.TimeLimitSec != 2 || d.MemoryLimitMB != 256 {
		t.Fatalf("unexpected descriptor %+v", d)
	}

	tc, err := suite.At(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tc.Index != 2 || string(tc.Input) != "5 5\n" || string(tc.Expected) != "10\n" {
		t.Errorf("unexpected test case %+v", tc)
	}
}

func TestAt_IndexOutOfRange(t *testing.T) {
	l := NewLoader(newSuites(2), storage.NewFSStore(t.TempDir()), fastPolicy, zap.NewNop())
	suite, err := l.Load(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{0, 3, -1} {
		if _, err := suite.At(context.Background(), i); !errors.Is(err, domain.ErrIndexOutOfRange) {
			t.Errorf("index %d: expected ErrIndexOutOfRange, got %v", i, err)
		}
	}
}

func TestAt_MissingFileIsFixtureNotFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "c1_2_1_in.txt", "1\n")

	store := &flakyStore{ObjectStore: storage.NewFSStore(dir)}
	l := NewLoader(newSuites(1), store, fastPolicy, zap.NewNop())
	suite, err := l.Load(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := suite.At(context.Background(), 1); !errors.Is(err, domain.ErrFixtureNotFound) {
		t.Fatalf("expected ErrFixtureNotFound, got %v", err)
	}
	if store.calls != 2 {
		t.Errorf("a missing object must not be retried, got %d calls", store.calls)
	}
}

func TestAt_RetriesTransientErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "c1_2_1_in.txt", "1\n")
	writeFile(t, dir, "c1_2_1_out.txt", "1\n")

	store := &flakyStore{ObjectStore: storage.NewFSStore(dir), failures: 2}
	l := NewLoader(newSuites(1), store, fastPolicy, zap.NewNop())
	suite, err := l.Load(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := suite.At(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.calls != 4 {
		t.Errorf("expected 2 failures then 2 reads, got %d calls", store.calls)
	}
}

func TestAt_RetriesExhausted(t *testing.T) {
	store := &flakyStore{ObjectStore: storage.NewFSStore(t.TempDir()), failures: 100}
	l := NewLoader(newSuites(1), store, fastPolicy, zap.NewNop())
	suite, err := l.Load(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}

	_, err = suite.At(context.Background(), 1)
	if err == nil || errors.Is(err, domain.ErrFixtureNotFound) {
		t.Fatalf("expected a transient error, got %v", err)
	}
	if store.calls != fastPolicy.MaxAttempts {
		t.Errorf("expected %d attempts, got %d", fastPolicy.MaxAttempts, store.calls)
	}
}

func TestAt_CompressedFixtures(t *testing.T) {
	dir := t.TempDir()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "c1_2_1_in.txt.zst", string(enc.EncodeAll([]byte("large input\n"), nil)))
	writeFile(t, dir, "c1_2_1_out.txt", "ok\n")
	enc.Close()

	store, err := storage.WithZstdFallback(storage.NewFSStore(dir))
	if err != nil {
		t.Fatal(err)
	}
	l := NewLoader(newSuites(1), store, fastPolicy, zap.NewNop())
	suite, err := l.Load(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	tc, err := suite.At(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(tc.Input) != "large input\n" {
		t.Errorf("unexpected decompressed input %q", tc.Input)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name   string
		suites *mock.SuiteRepository
		want   error
	}{
		{"missing descriptor", &mock.SuiteRepository{}, domain.ErrFixtureNotFound},
		{"empty suite", newSuites(0), domain.ErrEmptySuite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(tt.suites, storage.NewFSStore(t.TempDir()), fastPolicy, zap.NewNop())
			if _, err := l.Load(context.Background(), key); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("missing descriptor is not retried", func(t *testing.T) {
		suites := &mock.SuiteRepository{}
		l := NewLoader(suites, storage.NewFSStore(t.TempDir()), fastPolicy, zap.NewNop())
		_, _ = l.Load(context.Background(), key)
		if len(suites.Calls) != 1 {
			t.Errorf("expected 1 lookup, got %d", len(suites.Calls))
		}
	})

	t.Run("invalid limits", func(t *testing.T) {
		suites := &mock.SuiteRepository{Suites: map[string]domain.TestSuiteDescriptor{"c1_2": {Total: 1, TimeLimitSec: 0, MemoryLimitMB: 64}}}
		l := NewLoader(suites, storage.NewFSStore(t.TempDir()), fastPolicy, zap.NewNop())
		if _, err := l.Load(context.Background(), key); err == nil {
			t.Fatal("expected error for a zero time limit")
		}
	})
}

func TestLoad_StalledDescriptorLookupTimesOut(t *testing.T) {
	suites := &mock.SuiteRepository{
		GetSuiteFn: func(ctx context.Context, _ domain.SuiteKey) (*domain.TestSuiteDescriptor, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	policy := fastPolicy
	policy.AttemptTimeout = 20 * time.Millisecond
	l := NewLoader(suites, storage.NewFSStore(t.TempDir()), policy, zap.NewNop())

	start := time.Now()
	_, err := l.Load(context.Background(), key)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if len(suites.Calls) != policy.MaxAttempts {
		t.Errorf("expected %d lookups, got %d", policy.MaxAttempts, len(suites.Calls))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected lookups to be cut off, took %s", elapsed)
	}
}

type stalledStore struct{ storage.ObjectStore }

func (stalledStore) Get(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAt_StalledDownloadTimesOut(t *testing.T) {
	policy := fastPolicy
	policy.AttemptTimeout = 20 * time.Millisecond
	l := NewLoader(newSuites(1), stalledStore{}, policy, zap.NewNop())
	suite, err := l.Load(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := suite.At(context.Background(), 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
