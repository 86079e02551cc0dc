package domain

import (
	"fmt"
	"time"
)

// SuiteKey identifies the fixture set of one task.
type SuiteKey struct {
	Course  string
	Contest string
	TaskN   int
}

// String returns the fixture store key `{contest}_{task_n}`.
func (k SuiteKey) String() string {
	return fmt.Sprintf("%s_%d", k.Contest, k.TaskN)
}

// TestSuiteDescriptor holds the declared limits of a task's test suite.
type TestSuiteDescriptor struct {
	Total         int `json:"total"`
	TimeLimitSec  int `json:"tl"`
	MemoryLimitMB int `json:"ml"`
}

// TimeLimit returns the per-test wall clock limit.
func (d TestSuiteDescriptor) TimeLimit() time.Duration {
	return time.Duration(d.TimeLimitSec) * time.Second
}

// TestCase is one input/expected-output pair, indexed from 1.
type TestCase struct {
	Index    int
	Input    []byte
	Expected []byte
}
