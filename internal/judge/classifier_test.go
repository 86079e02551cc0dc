package judge

import (
	"testing"
	"time"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name             string
		actual, expected string
		want             bool
	}{
		{"exact", "42", "42", true},
		{"trailing newline", "42\n", "42", true},
		{"surrounding whitespace both sides", "  42 \r\n", "\n42\n\n", true},
		{"internal whitespace differs", "1  2", "1 2", false},
		{"internal newline differs", "1\n2", "1 2", false},
		{"case differs", "Yes", "yes", false},
		{"empty vs whitespace", "", " \n", true},
		{"prefix only", "4", "42", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match([]byte(tt.actual), []byte(tt.expected)); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	limits := domain.Limits{Time: 2 * time.Second, MemoryMB: 256}
	expected := []byte("3\n")

	tests := []struct {
		name string
		m    domain.Measurement
		want domain.Outcome
	}{
		{"ok", domain.Measurement{Stdout: []byte("3"), MemoryMB: 12}, domain.OutcomeOK},
		{"wrong answer", domain.Measurement{Stdout: []byte("4\n")}, domain.OutcomeWrongAnswer},
		{"runtime error", domain.Measurement{ExitCode: 1, Stderr: "ZeroDivisionError"}, domain.OutcomeRuntimeError},
		{"killed by signal", domain.Measurement{ExitCode: -1, Signaled: true}, domain.OutcomeRuntimeError},
		{"timeout wins over exit status", domain.Measurement{TimedOut: true, ExitCode: -1, Signaled: true}, domain.OutcomeTimeLimit},
		{"python memory error", domain.Measurement{ExitCode: 1, Stderr: "Traceback...\nMemoryError"}, domain.OutcomeMemoryLimit},
		{"cpp bad_alloc", domain.Measurement{ExitCode: -1, Signaled: true, Stderr: "terminate called after throwing an instance of 'std::bad_alloc'"}, domain.OutcomeMemoryLimit},
		{"peak above limit", domain.Measurement{Stdout: []byte("3"), MemoryMB: 300}, domain.OutcomeMemoryLimit},
		{"marker in stderr of clean exit", domain.Measurement{Stdout: []byte("3"), Stderr: "warning: out of memory cache"}, domain.OutcomeOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(&tt.m, expected, limits)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
