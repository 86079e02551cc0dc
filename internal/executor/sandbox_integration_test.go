//go:build integration

package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

// ──────────────────────────────────────────────────────
// Integration tests: require python3 and g++
// Run with: go test -tags integration -v ./internal/executor/
// ──────────────────────────────────────────────────────

func skipIfMissing(t *testing.T, bin string) {
	t.Helper()
	if _, err := exec.LookPath(bin); err != nil {
		t.Skipf("%s not found in PATH, skipping integration test", bin)
	}
}

func writeSource(t *testing.T, name, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return dir, path
}

func TestIntegration_PythonSum(t *testing.T) {
	skipIfMissing(t, "python3")
	exe := NewSandboxExecutor(Options{}, zap.NewNop())
	dir, entry := writeSource(t, "solution.py", "a, b = map(int, input().split())\nprint(a + b)\n")

	prog, err := exe.Prepare(context.Background(), domain.LangPython, dir, entry)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	m, err := exe.Run(context.Background(), prog, []byte("2 3\n"), domain.Limits{Time: 5 * time.Second, MemoryMB: 256})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(string(m.Stdout)) != "5" {
		t.Errorf("expected 5, got %q", m.Stdout)
	}
	if m.MemoryMB <= 1 {
		t.Errorf("expected interpreter memory to be measured, got %.2f MiB", m.MemoryMB)
	}
}

func TestIntegration_PythonInfiniteLoop(t *testing.T) {
	skipIfMissing(t, "python3")
	exe := NewSandboxExecutor(Options{}, zap.NewNop())
	dir, entry := writeSource(t, "solution.py", "while True:\n    pass\n")

	prog, err := exe.Prepare(context.Background(), domain.LangPython, dir, entry)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	m, err := exe.Run(context.Background(), prog, nil, domain.Limits{Time: time.Second, MemoryMB: 256})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !m.TimedOut {
		t.Errorf("expected timeout, got %+v", m)
	}
}

func TestIntegration_CppCompileAndRun(t *testing.T) {
	skipIfMissing(t, "g++")
	exe := NewSandboxExecutor(Options{}, zap.NewNop())
	dir, entry := writeSource(t, "main.cpp", "#include <iostream>\nint main(){long a,b;std::cin>>a>>b;std::cout<<a*b<<\"\\n\";}\n")

	prog, err := exe.Prepare(context.Background(), domain.LangCpp, dir, entry)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	m, err := exe.Run(context.Background(), prog, []byte("6 7\n"), domain.Limits{Time: 2 * time.Second, MemoryMB: 256})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(string(m.Stdout)) != "42" {
		t.Errorf("expected 42, got %q", m.Stdout)
	}
}

func TestIntegration_CppCompileError(t *testing.T) {
	skipIfMissing(t, "g++")
	exe := NewSandboxExecutor(Options{}, zap.NewNop())
	dir, entry := writeSource(t, "main.cpp", "int main() { return x; }\n")

	_, err := exe.Prepare(context.Background(), domain.LangCpp, dir, entry)
	be, ok := err.(*domain.BuildError)
	if !ok {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if !strings.Contains(be.Log, "x") {
		t.Errorf("expected diagnostic to mention the identifier, got %q", be.Log)
	}
}
