package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
)

const (
	// maxStderrBytes caps captured stderr; only its head is used for diagnostics.
	maxStderrBytes = 64 * 1024

	defaultMaxOutputBytes = 16 * 1024 * 1024
	defaultTimeoutGrace   = 500 * time.Millisecond
	defaultBuildTimeout   = 30 * time.Second

	// LimitsEnv carries the resource limits to the sandbox-init wrapper.
	LimitsEnv = "GRADER_SANDBOX_LIMITS"

	// InitExitCode and InitErrorPrefix mark a failure of sandbox-init itself, before the
	// submission was started.
	InitExitCode    = 126
	InitErrorPrefix = "sandbox-init: "
)

// ErrSandboxInit means the sandbox-init wrapper failed, so the submission never ran.
var ErrSandboxInit = errors.New("sandbox-init failed")

// Options configures a SandboxExecutor.
type Options struct {
	PythonRunCmd  string
	CppCompileCmd string
	CppRunCmd     string
	BuildTimeout  time.Duration
	// TimeoutGrace bounds how long Run waits for output pipes after the process is killed.
	TimeoutGrace   time.Duration
	MaxOutputBytes int
	// InitPath, when set, is a sandbox-init binary that applies rlimits and execs the program.
	InitPath     string
	MaxProcesses int
}

// InitLimits is the payload of LimitsEnv.
type InitLimits struct {
	MemoryMB   int `json:"memory_mb"`
	CPUSeconds int `json:"cpu_seconds"`
	OutputMB   int `json:"output_mb"`
	Processes  int `json:"processes"`
}

// SandboxExecutor runs submissions as resource-limited child processes.
type SandboxExecutor struct {
	opts   Options
	logger *zap.Logger
}

var _ repository.Executor = (*SandboxExecutor)(nil)

// NewSandboxExecutor creates a new sandbox executor.
func NewSandboxExecutor(opts Options, logger *zap.Logger) *SandboxExecutor {
	if opts.PythonRunCmd == "" {
		opts.PythonRunCmd = "python3 {src}"
	}
	if opts.CppCompileCmd == "" {
		opts.CppCompileCmd = "g++ -std=c++17 -O2 -o {bin} {src}"
	}
	if opts.CppRunCmd == "" {
		opts.CppRunCmd = "{bin}"
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = defaultBuildTimeout
	}
	if opts.TimeoutGrace <= 0 {
		opts.TimeoutGrace = defaultTimeoutGrace
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &SandboxExecutor{opts: opts, logger: logger}
}

// Run executes prog once with input piped to stdin. The time limit is the only
// deadline: when it fires the whole process group is killed and the
// measurement is marked timed out.
func (e *SandboxExecutor) Run(ctx context.Context, prog *domain.Program, input []byte, limits domain.Limits) (*domain.Measurement, error) {
	if len(prog.Argv) == 0 {
		return nil, fmt.Errorf("executor: empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.Time)
	defer cancel()

	argv := prog.Argv
	env := os.Environ()
	if e.opts.InitPath != "" {
		payload, err := json.Marshal(e.initLimits(limits))
		if err != nil {
			return nil, fmt.Errorf("executor: encode limits: %w", err)
		}
		argv = append([]string{e.opts.InitPath, "--"}, argv...)
		env = append(env, LimitsEnv+"="+string(payload))
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = prog.Dir
	cmd.Env = env
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = e.opts.TimeoutGrace
	setProcessGroup(cmd)

	stdout := limitedBuffer{limit: e.opts.MaxOutputBytes}
	stderr := limitedBuffer{limit: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	err := cmd.Run()
	elapsed := time.Since(startTime)
	killProcessGroup(cmd)

	if cmd.ProcessState == nil {
		return nil, fmt.Errorf("executor: start %s: %w", argv[0], err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m := &domain.Measurement{
		Elapsed:         elapsed,
		MemoryMB:        peakMemoryMB(cmd.ProcessState),
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.String(),
		ExitCode:        cmd.ProcessState.ExitCode(),
		OutputTruncated: stdout.truncated,
	}
	m.Signaled = m.ExitCode == -1

	if e.opts.InitPath != "" && m.ExitCode == InitExitCode && strings.HasPrefix(m.Stderr, InitErrorPrefix) {
		return nil, fmt.Errorf("executor: %w: %s", ErrSandboxInit, strings.TrimSpace(strings.TrimPrefix(m.Stderr, InitErrorPrefix)))
	}
	m.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded) && elapsed >= limits.Time

	e.logger.Debug("Test run completed",
		zap.Strings("argv", argv),
		zap.Duration("elapsed", elapsed),
		zap.Float64("memory_mb", m.MemoryMB),
		zap.Int("exit_code", m.ExitCode),
		zap.Bool("timed_out", m.TimedOut),
	)
	return m, nil
}

func (e *SandboxExecutor) initLimits(limits domain.Limits) InitLimits {
	cpu := int((limits.Time + time.Second - 1) / time.Second)
	return InitLimits{
		MemoryMB:   limits.MemoryMB,
		CPUSeconds: cpu + 1,
		OutputMB:   (e.opts.MaxOutputBytes + (1 << 20) - 1) >> 20,
		Processes:  e.opts.MaxProcesses,
	}
}

// expandCommand splits a command template and substitutes placeholders per argument,
// so paths with spaces stay a single argument.
func expandCommand(tmpl string, vars map[string]string) ([]string, error) {
	args, err := shlex.Split(tmpl)
	if err != nil {
		return nil, fmt.Errorf("executor: parse command %q: %w", tmpl, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("executor: empty command template")
	}
	for i, a := range args {
		for k, v := range vars {
			a = strings.ReplaceAll(a, "{"+k+"}", v)
		}
		args[i] = a
	}
	return args, nil
}

// limitedBuffer is a bytes.Buffer that stops accepting writes after a limit.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (lb *limitedBuffer) Write(p []byte) (n int, err error) {
	if lb.truncated {
		return len(p), nil // discard silently
	}

	remaining := lb.limit - lb.buf.Len()
	if remaining <= 0 {
		lb.truncated = true
		return len(p), nil
	}

	if len(p) > remaining {
		lb.truncated = true
		lb.buf.Write(p[:remaining])
		return len(p), nil
	}

	return lb.buf.Write(p)
}

func (lb *limitedBuffer) Bytes() []byte {
	return lb.buf.Bytes()
}

func (lb *limitedBuffer) String() string {
	return lb.buf.String()
}
