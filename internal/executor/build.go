package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

const (
	binaryName     = "solution.bin"
	maxBuildLogLen = 64 * 1024
)

// Prepare turns an extracted submission into a runnable program. Compiled languages
// are built first, with their own timeout.
func (e *SandboxExecutor) Prepare(ctx context.Context, lang domain.Language, dir, entryPoint string) (*domain.Program, error) {
	// The program runs inside dir, so relative paths would resolve against it twice.
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("executor: resolve dir: %w", err)
	}
	if !filepath.IsAbs(entryPoint) {
		if entryPoint, err = filepath.Abs(entryPoint); err != nil {
			return nil, fmt.Errorf("executor: resolve entry point: %w", err)
		}
	}

	switch lang {
	case domain.LangPython:
		argv, err := expandCommand(e.opts.PythonRunCmd, map[string]string{"src": entryPoint})
		if err != nil {
			return nil, err
		}
		return &domain.Program{Language: lang, Dir: dir, Argv: argv}, nil

	case domain.LangCpp:
		bin := filepath.Join(dir, binaryName)
		if err := e.build(ctx, dir, map[string]string{"src": entryPoint, "bin": bin}); err != nil {
			return nil, err
		}
		argv, err := expandCommand(e.opts.CppRunCmd, map[string]string{"bin": bin})
		if err != nil {
			return nil, err
		}
		return &domain.Program{Language: lang, Dir: dir, Argv: argv}, nil

	default:
		return nil, fmt.Errorf("executor: %w: %q", domain.ErrUnsupportedLanguage, lang)
	}
}

func (e *SandboxExecutor) build(ctx context.Context, dir string, vars map[string]string) error {
	argv, err := expandCommand(e.opts.CppCompileCmd, vars)
	if err != nil {
		return err
	}

	buildCtx, cancel := context.WithTimeout(ctx, e.opts.BuildTimeout)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = e.opts.TimeoutGrace
	setProcessGroup(cmd)

	out := limitedBuffer{limit: maxBuildLogLen}
	cmd.Stdout = &out
	cmd.Stderr = &out

	startTime := time.Now()
	err = cmd.Run()
	killProcessGroup(cmd)

	e.logger.Debug("Build finished",
		zap.Strings("argv", argv),
		zap.Duration("elapsed", time.Since(startTime)),
		zap.Error(err),
	)

	if cmd.ProcessState == nil {
		return fmt.Errorf("executor: start compiler: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
		return &domain.BuildError{ExitCode: -1, Log: fmt.Sprintf("compilation exceeded %s\n%s", e.opts.BuildTimeout, out.String())}
	}
	if code := cmd.ProcessState.ExitCode(); code != 0 {
		return &domain.BuildError{ExitCode: code, Log: out.String()}
	}
	return nil
}
