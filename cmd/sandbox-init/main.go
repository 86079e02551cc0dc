//go:build linux

// Command sandbox-init applies resource limits to itself and then execs the
// submission, so the limits hold for the submission and all of its children.
//
//	sandbox-init -- python3 solution.py
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/Harsh-BH/Sentinel/grader/internal/executor"
)

const mb = 1024 * 1024

func main() {
	if err := run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprint(os.Stderr, executor.InitErrorPrefix, err.Error(), "\n")
		os.Exit(executor.InitExitCode)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		return fmt.Errorf("command is required")
	}

	limits, err := decodeLimits(os.Getenv(executor.LimitsEnv))
	if err != nil {
		return err
	}
	if err := applyRlimits(limits); err != nil {
		return err
	}
	if err := os.Unsetenv(executor.LimitsEnv); err != nil {
		return fmt.Errorf("unset limits env: %w", err)
	}

	cmdPath, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	return unix.Exec(cmdPath, args, os.Environ())
}

func decodeLimits(raw string) (executor.InitLimits, error) {
	var limits executor.InitLimits
	if raw == "" {
		return limits, nil
	}
	if err := json.Unmarshal([]byte(raw), &limits); err != nil {
		return limits, fmt.Errorf("decode limits: %w", err)
	}
	return limits, nil
}

func applyRlimits(limits executor.InitLimits) error {
	// The address space cap only stops runaway allocation; the memory verdict
	// comes from the measured peak RSS, so it gets twice the limit.
	if limits.MemoryMB > 0 {
		bytes := uint64(limits.MemoryMB) * 2 * mb
		if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("set rlimit as: %w", err)
		}
	}
	if limits.CPUSeconds > 0 {
		seconds := uint64(limits.CPUSeconds)
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: seconds, Max: seconds}); err != nil {
			return fmt.Errorf("set rlimit cpu: %w", err)
		}
	}
	if limits.OutputMB > 0 {
		bytes := uint64(limits.OutputMB) * mb
		if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("set rlimit fsize: %w", err)
		}
	}
	if limits.Processes > 0 {
		val := uint64(limits.Processes)
		if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: val, Max: val}); err != nil {
			return fmt.Errorf("set rlimit nproc: %w", err)
		}
	}
	return nil
}
