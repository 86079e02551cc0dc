package domain

import (
	"fmt"
	"time"
)

// Program is a prepared, runnable submission.
type Program struct {
	Language Language
	Dir      string
	Argv     []string
}

// Limits are the per-test resource limits of a run.
type Limits struct {
	Time     time.Duration
	MemoryMB int
}

// LimitsOf derives the run limits from a suite descriptor.
func LimitsOf(d TestSuiteDescriptor) Limits {
	return Limits{Time: d.TimeLimit(), MemoryMB: d.MemoryLimitMB}
}

// BuildError reports a failed compilation of a submission.
type BuildError struct {
	ExitCode int
	Log      string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed with exit code %d", e.ExitCode)
}

// Measurement is what the sandbox observed for a single child process run.
type Measurement struct {
	Elapsed  time.Duration
	MemoryMB float64
	Stdout   []byte
	Stderr   string
	ExitCode int
	Signaled bool
	TimedOut bool
	// OutputTruncated is set when stdout hit the capture cap.
	OutputTruncated bool
}

// AggregateStats summarizes the measurements of one fully passing run.
// Times are in seconds, memory in MiB.
type AggregateStats struct {
	AvgTime   float64 `json:"avg_time"`
	MinTime   float64 `json:"min_time"`
	MaxTime   float64 `json:"max_time"`
	AvgMemory float64 `json:"avg_memory"`
	MinMemory float64 `json:"min_memory"`
	MaxMemory float64 `json:"max_memory"`
}

// HistoricalAggregate is a prior submission's aggregate for the same task.
type HistoricalAggregate struct {
	TaskID  string
	Contest string
	TaskN   int
	AggregateStats
}
