package judge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

// Allocation failure signatures of the supported runtimes.
var exhaustionMarkers = []string{
	"MemoryError",
	"std::bad_alloc",
	"Cannot allocate memory",
	"out of memory",
}

// Match compares actual and expected output with surrounding whitespace trimmed.
// Internal whitespace and case are significant.
func Match(actual, expected []byte) bool {
	return bytes.Equal(bytes.TrimSpace(actual), bytes.TrimSpace(expected))
}

// Classify maps one test's measurement to an outcome code and diagnostic text.
// Checks run in the order TL, ML, RE, WA.
func Classify(m *domain.Measurement, expected []byte, limits domain.Limits) (domain.Outcome, string) {
	switch {
	case m.TimedOut:
		return domain.OutcomeTimeLimit, fmt.Sprintf("time limit of %s exceeded", limits.Time)
	case memoryExhausted(m, limits):
		return domain.OutcomeMemoryLimit, fmt.Sprintf("memory limit of %d MB exceeded (peak %.1f MB)\n%s", limits.MemoryMB, m.MemoryMB, m.Stderr)
	case m.Signaled:
		return domain.OutcomeRuntimeError, "terminated by signal\n" + m.Stderr
	case m.ExitCode != 0:
		return domain.OutcomeRuntimeError, fmt.Sprintf("exit code %d\n%s", m.ExitCode, m.Stderr)
	case !Match(m.Stdout, expected):
		return domain.OutcomeWrongAnswer, "output does not match the expected answer"
	}
	return domain.OutcomeOK, ""
}

func memoryExhausted(m *domain.Measurement, limits domain.Limits) bool {
	if limits.MemoryMB > 0 && m.MemoryMB >= float64(limits.MemoryMB) {
		return true
	}
	if m.ExitCode == 0 && !m.Signaled {
		return false
	}
	for _, marker := range exhaustionMarkers {
		if strings.Contains(m.Stderr, marker) {
			return true
		}
	}
	return false
}
