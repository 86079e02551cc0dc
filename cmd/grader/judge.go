package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/config"
	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/executor"
	"github.com/Harsh-BH/Sentinel/grader/internal/fixture"
	"github.com/Harsh-BH/Sentinel/grader/internal/judge"
	"github.com/Harsh-BH/Sentinel/grader/internal/logging"
	"github.com/Harsh-BH/Sentinel/grader/internal/retry"
	"github.com/Harsh-BH/Sentinel/grader/internal/storage"
	"github.com/Harsh-BH/Sentinel/grader/internal/validator"
)

func judgeCommand() *cli.Command {
	return &cli.Command{
		Name:      "judge",
		Usage:     "judge a local submission archive against fixtures in a directory",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "archive", Usage: "path to the submission zip", Required: true},
			&cli.StringFlag{Name: "lang", Usage: "python or cpp", Value: string(domain.LangPython)},
			&cli.StringFlag{Name: "fixtures", Usage: "directory holding {contest}_{task}_{i}_in.txt and _out.txt files", Required: true},
			&cli.StringFlag{Name: "contest", Usage: "contest part of the fixture key", Value: "local"},
			&cli.IntFlag{Name: "task", Usage: "task number part of the fixture key", Value: 1},
			&cli.IntFlag{Name: "total", Usage: "number of tests", Required: true},
			&cli.IntFlag{Name: "tl", Usage: "time limit per test in seconds", Value: 1},
			&cli.IntFlag{Name: "ml", Usage: "memory limit in MB", Value: 256},
			&cli.BoolFlag{Name: "single-file", Usage: "accept any single source file as the entry point"},
			&cli.StringFlag{Name: "sandbox-init", Usage: "path to the sandbox-init binary"},
			&cli.StringFlag{Name: "log-level", Value: "warn"},
		},
		Action: runJudge,
	}
}

// staticSuites serves one descriptor given on the command line.
type staticSuites struct {
	desc domain.TestSuiteDescriptor
}

func (s staticSuites) GetSuite(context.Context, domain.SuiteKey) (*domain.TestSuiteDescriptor, error) {
	d := s.desc
	if d.Total <= 0 {
		return nil, domain.ErrEmptySuite
	}
	return &d, nil
}

func runJudge(ctx context.Context, cmd *cli.Command) error {
	logger, err := logging.New(config.LogConfig{Level: cmd.String("log-level"), Format: "console"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	taskID := uuid.NewString()
	lang := domain.ParseLanguage(cmd.String("lang"))
	key := domain.SuiteKey{Contest: cmd.String("contest"), TaskN: int(cmd.Int("task"))}
	logger = logger.With(zap.String("task_id", taskID))

	scratch, err := os.MkdirTemp("", "grader-judge-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	v := validator.New(validator.Options{SingleFilePolicy: cmd.Bool("single-file")}, logger)
	sub, err := v.Validate(cmd.String("archive"), lang, filepath.Join(scratch, "src"))
	if err != nil {
		if domain.IsValidationError(err) {
			printRecord(domain.NewRejectedRecord(taskID, err.Error()))
			return cli.Exit("", 1)
		}
		return err
	}

	suites := staticSuites{desc: domain.TestSuiteDescriptor{
		Total:         int(cmd.Int("total")),
		TimeLimitSec:  int(cmd.Int("tl")),
		MemoryLimitMB: int(cmd.Int("ml")),
	}}
	fixtures, err := storage.WithZstdFallback(storage.NewFSStore(cmd.String("fixtures")))
	if err != nil {
		return err
	}
	suite, err := fixture.NewLoader(suites, fixtures, retry.Policy{MaxAttempts: 1}, logger).Load(ctx, key)
	if err != nil {
		return err
	}

	sandbox := executor.NewSandboxExecutor(executor.Options{InitPath: cmd.String("sandbox-init")}, logger)
	rec, err := judge.New(sandbox, 0, logger).Evaluate(ctx, judge.Submission{
		Language:   lang,
		Dir:        sub.Dir,
		EntryPoint: sub.EntryPoint,
	}, suite.Descriptor(), suite)
	if err != nil {
		return err
	}

	printRecord(domain.NewTerminalRecord(taskID, rec))
	if rec.Code != domain.OutcomeOK {
		return cli.Exit("", 1)
	}
	return nil
}

func printRecord(rec *domain.StatusRecord) {
	bold := color.New(color.Bold)
	verdict := color.New(color.FgRed, color.Bold)

	label := string(rec.Status)
	if rec.Result != nil {
		label = string(*rec.Result)
		if *rec.Result == domain.OutcomeOK {
			verdict = color.New(color.FgGreen, color.Bold)
		}
	} else if rec.Status == domain.StatusReqsNotPassed {
		verdict = color.New(color.FgYellow, color.Bold)
	}

	bold.Print("task:    ")
	fmt.Println(rec.TaskID)
	bold.Print("verdict: ")
	verdict.Println(label)
	if rec.TestFailed != nil {
		bold.Print("test:    ")
		fmt.Println(*rec.TestFailed)
	}
	if s := rec.Stats; s != nil {
		bold.Print("time:    ")
		fmt.Printf("avg %.3fs  min %.3fs  max %.3fs\n", s.AvgTime, s.MinTime, s.MaxTime)
		bold.Print("memory:  ")
		fmt.Printf("avg %.1fMB  min %.1fMB  max %.1fMB\n", s.AvgMemory, s.MinMemory, s.MaxMemory)
	}
	if rec.Output != nil {
		color.New(color.Faint).Println(*rec.Output)
	}
}
