package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TaskStatus represents the lifecycle state of a submission task.
type TaskStatus string

const (
	StatusNew              TaskStatus = "NEW"
	StatusWaitingForUpload TaskStatus = "WAITING_FOR_UPLOAD"
	StatusProcessing       TaskStatus = "PROCESSING"
	StatusDone             TaskStatus = "DONE"
	StatusReqsNotPassed    TaskStatus = "REQS_NOT_PASSED"
)

// IsTerminal returns true if the status belongs to the DONE family.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusDone, StatusReqsNotPassed:
		return true
	}
	return false
}

// Outcome is the judging verdict written once per task run.
type Outcome string

const (
	OutcomeOK           Outcome = "OK"
	OutcomeWrongAnswer  Outcome = "WA"
	OutcomeRuntimeError Outcome = "RE"
	OutcomeTimeLimit    Outcome = "TL"
	OutcomeMemoryLimit  Outcome = "ML"
	OutcomeUndefined    Outcome = "UB"
	OutcomeCompileError Outcome = "CompileError"
)

// Language represents a supported programming language.
type Language string

const (
	LangPython Language = "python"
	LangCpp    Language = "cpp"
)

// ParseLanguage normalizes a declared language tag.
func ParseLanguage(s string) Language {
	return Language(strings.ToLower(strings.TrimSpace(s)))
}

// Compiled reports whether the language needs a build step.
func (l Language) Compiled() bool {
	return l == LangCpp
}

// Extension returns the source file extension for the language.
func (l Language) Extension() string {
	switch l {
	case LangPython:
		return ".py"
	case LangCpp:
		return ".cpp"
	}
	return ""
}

// EntryPoint returns the normalized source file name the runner expects.
func (l Language) EntryPoint() string {
	switch l {
	case LangPython:
		return "solution.py"
	case LangCpp:
		return "main.cpp"
	}
	return ""
}

// Task is the task descriptor consumed from the queue.
type Task struct {
	TaskID   string     `json:"task_id"`
	SrcURL   string     `json:"src_url"`
	Course   string     `json:"course"`
	Contest  string     `json:"contest"`
	Language Language   `json:"language"`
	TaskN    TaskNumber `json:"task_n"`
}

// TaskNumber accepts both JSON numbers and numeric strings.
type TaskNumber int

func (n *TaskNumber) UnmarshalJSON(b []byte) error {
	var num int
	if err := json.Unmarshal(b, &num); err == nil {
		*n = TaskNumber(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("task_n: %w", err)
	}
	num, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("task_n: %w", err)
	}
	*n = TaskNumber(num)
	return nil
}

// DecodeTask parses a queue message body and normalizes the language tag.
func DecodeTask(body []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	t.Language = ParseLanguage(string(t.Language))
	return &t, nil
}

// SuiteKey returns the fixture key `{contest}_{task_n}`.
func (t *Task) SuiteKey() SuiteKey {
	return SuiteKey{Course: t.Course, Contest: t.Contest, TaskN: int(t.TaskN)}
}

// Validate checks the fields needed to process the task at all.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.TaskID) == "" {
		return fmt.Errorf("task_id is required")
	}
	if strings.ContainsAny(t.TaskID, `/\`) || t.TaskID == "." || t.TaskID == ".." {
		return fmt.Errorf("task_id %q is not a valid path segment", t.TaskID)
	}
	if strings.TrimSpace(t.SrcURL) == "" {
		return fmt.Errorf("src_url is required")
	}
	if strings.TrimSpace(t.Contest) == "" || t.TaskN <= 0 {
		return fmt.Errorf("contest and task_n are required")
	}
	return nil
}

// TaskMessage wraps a task with its delivery acknowledgement callbacks.
type TaskMessage struct {
	Task *Task
	Ack  func() error
	Nack func(requeue bool) error
}

// StatusRecord is the persisted status row of a task. Optional fields are nil when unset.
type StatusRecord struct {
	TaskID     string
	Status     TaskStatus
	Result     *Outcome
	TestFailed *int
	Output     *string
	Stats      *AggregateStats
}

// NewTerminalRecord builds the single terminal record of a run.
func NewTerminalRecord(taskID string, rec OutcomeRecord) *StatusRecord {
	out := &StatusRecord{
		TaskID: taskID,
		Status: StatusDone,
	}
	code := rec.Code
	out.Result = &code
	if rec.FailedTest > 0 {
		idx := rec.FailedTest
		out.TestFailed = &idx
	}
	if rec.Diagnostic != "" {
		msg := rec.Diagnostic
		out.Output = &msg
	}
	if rec.Stats != nil {
		s := *rec.Stats
		out.Stats = &s
	}
	return out
}

// NewRejectedRecord builds the terminal record for a submission that failed validation.
func NewRejectedRecord(taskID, reason string) *StatusRecord {
	out := &StatusRecord{
		TaskID: taskID,
		Status: StatusReqsNotPassed,
	}
	if reason != "" {
		out.Output = &reason
	}
	return out
}

// OutcomeRecord is the classification result of one task run.
type OutcomeRecord struct {
	Code       Outcome
	FailedTest int
	Diagnostic string
	Stats      *AggregateStats
}

// Notification is published once a task reaches a terminal status.
type Notification struct {
	TaskID     string          `json:"task_id"`
	Status     TaskStatus      `json:"status"`
	Result     *Outcome        `json:"result,omitempty"`
	TestFailed *int            `json:"test_failed,omitempty"`
	Stats      *AggregateStats `json:"stats,omitempty"`
	// Charts are object keys of rendered comparison charts, when available.
	Charts []string `json:"charts,omitempty"`
}

// NewNotification builds the notification for a terminal record.
func NewNotification(rec *StatusRecord, charts []string) *Notification {
	return &Notification{
		TaskID:     rec.TaskID,
		Status:     rec.Status,
		Result:     rec.Result,
		TestFailed: rec.TestFailed,
		Stats:      rec.Stats,
		Charts:     charts,
	}
}
