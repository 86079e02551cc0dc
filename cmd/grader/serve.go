package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Harsh-BH/Sentinel/grader/internal/config"
	amqpdelivery "github.com/Harsh-BH/Sentinel/grader/internal/delivery/amqp"
	sqsdelivery "github.com/Harsh-BH/Sentinel/grader/internal/delivery/sqs"
	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/executor"
	"github.com/Harsh-BH/Sentinel/grader/internal/fetcher"
	"github.com/Harsh-BH/Sentinel/grader/internal/fixture"
	"github.com/Harsh-BH/Sentinel/grader/internal/judge"
	"github.com/Harsh-BH/Sentinel/grader/internal/logging"
	"github.com/Harsh-BH/Sentinel/grader/internal/notify"
	"github.com/Harsh-BH/Sentinel/grader/internal/pool"
	"github.com/Harsh-BH/Sentinel/grader/internal/report"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository/postgres"
	redisrepo "github.com/Harsh-BH/Sentinel/grader/internal/repository/redis"
	"github.com/Harsh-BH/Sentinel/grader/internal/retry"
	"github.com/Harsh-BH/Sentinel/grader/internal/storage"
	"github.com/Harsh-BH/Sentinel/grader/internal/usecase"
	"github.com/Harsh-BH/Sentinel/grader/internal/validator"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "consume grading tasks from the queue until interrupted",
		Action: serve,
	}
}

type taskConsumer interface {
	Start(ctx context.Context) error
}

func serve(ctx context.Context, _ *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger = logger.With(zap.String("instance", uuid.NewString()))
	logger.Info("Starting grader worker",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("notify_backend", cfg.Notify.Backend),
		zap.Int("pool_size", cfg.Worker.PoolSize),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if err := postgres.Migrate(ctx, dbPool); err != nil {
		return err
	}
	logger.Info("Connected to PostgreSQL")

	// Connect to Redis
	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	redisClient := goredis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("Connected to Redis")

	// Object storage
	s3Opts := storage.S3Options{
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
	}
	awsCfg, err := storage.LoadAWSConfig(ctx, s3Opts)
	if err != nil {
		return err
	}
	s3Client, err := storage.NewS3Client(ctx, s3Opts)
	if err != nil {
		return err
	}
	fixtureBucket := storage.NewS3Store(s3Client, cfg.Storage.FixtureBucket)
	fixtureStore, err := storage.WithZstdFallback(fixtureBucket)
	if err != nil {
		return err
	}
	reportStore := storage.NewS3Store(s3Client, cfg.Storage.ReportBucket)

	policy := retry.DefaultPolicy
	if cfg.Worker.RetryMax > 0 {
		policy.MaxAttempts = cfg.Worker.RetryMax
	}
	if cfg.Worker.StoreTimeout > 0 {
		policy.AttemptTimeout = cfg.Worker.StoreTimeout
	}

	suites := redisrepo.NewSuiteCache(redisClient, postgres.NewPostgresSuiteRepository(dbPool), cfg.Redis.CacheTTL, logger)
	sandbox := executor.NewSandboxExecutor(sandboxOptions(cfg.Sandbox), logger)

	notifier, closeNotifier, err := newNotifier(cfg.Notify, cfg.RabbitMQ.URL, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	executeUC := usecase.NewExecuteTaskUsecase(usecase.Deps{
		Tasks:     postgres.NewPostgresTaskRepository(dbPool),
		Results:   postgres.NewPostgresResultRepository(dbPool),
		Locks:     redisrepo.NewRedisLockStore(redisClient, cfg.Redis.LockTTL),
		Fetcher:   fetcher.New(fetcher.Options{MaxBytes: cfg.Judge.ArchiveMaxBytes}, fixtureBucket, policy, logger),
		Validator: validator.New(validatorOptions(cfg.Judge), logger),
		Fixtures:  fixture.NewLoader(suites, fixtureStore, policy, logger),
		Judge:     judge.New(sandbox, cfg.Judge.DiagnosticMaxSize, logger),
		Reports:   report.NewGenerator(reportStore, report.NewPNGRenderer(), cfg.Judge.HistogramBuckets, logger).WithPutTimeout(cfg.Worker.StoreTimeout),
		Notifier:  notifier,
	}, usecase.Options{
		ScratchRoot:  cfg.Worker.ScratchRoot,
		KeepScratch:  cfg.Worker.KeepScratch,
		StoreTimeout: cfg.Worker.StoreTimeout,
		Retry:        policy,
	}, logger)

	// Buffered task channel
	tasks := make(chan *domain.TaskMessage, cfg.Worker.PoolSize*2)

	var consumer taskConsumer
	switch cfg.Queue.Backend {
	case "sqs":
		consumer = sqsdelivery.NewConsumer(sqsdelivery.NewClient(awsCfg, cfg.SQS.Endpoint), sqsdelivery.Options{
			QueueURL:          cfg.SQS.QueueURL,
			WaitTime:          cfg.SQS.WaitTime,
			VisibilityTimeout: cfg.SQS.VisibilityTimeout,
			Batch:             cfg.Worker.PoolSize,
		}, tasks, logger)
		logger.Info("Polling SQS", zap.String("queue_url", cfg.SQS.QueueURL))
	default:
		c, err := amqpdelivery.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, cfg.Worker.PoolSize, tasks, logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer c.Close()
		consumer = c
		logger.Info("Connected to RabbitMQ", zap.String("queue", cfg.RabbitMQ.Queue))
	}

	g, gctx := errgroup.WithContext(ctx)

	workerPool := pool.NewWorkerPool(cfg.Worker.PoolSize, tasks, executeUC, logger).
		WithLockRequeueDelay(cfg.Worker.LockRequeueDelay)
	workerPool.Start(gctx)

	g.Go(func() error {
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		return serveMetrics(gctx, fmt.Sprintf(":%d", cfg.Worker.MetricsPort), logger)
	})

	err = g.Wait()
	logger.Info("Shutting down worker...")

	// Wait for workers to finish in-flight tasks
	workerPool.Stop()
	requeueBuffered(tasks, logger)

	logger.Info("Worker stopped")
	return err
}

// requeueBuffered hands back tasks that were dispatched but never picked up by a worker.
func requeueBuffered(tasks chan *domain.TaskMessage, logger *zap.Logger) {
	for {
		select {
		case msg := <-tasks:
			if err := msg.Nack(true); err != nil {
				logger.Warn("Failed to requeue buffered task", zap.String("task_id", msg.Task.TaskID), zap.Error(err))
			}
		default:
			return
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

func newNotifier(cfg config.NotifyConfig, amqpURL string, logger *zap.Logger) (repository.Notifier, func(), error) {
	switch cfg.Backend {
	case "amqp":
		n, err := notify.NewAMQPNotifier(amqpURL, cfg.AMQPExchange, logger)
		if err != nil {
			return nil, nil, err
		}
		return n, func() { _ = n.Close() }, nil
	case "nats":
		nc, err := notify.DialNATS(cfg.NATSURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewNATSNotifier(nc, cfg.NATSSubject, logger), func() { _ = nc.Drain() }, nil
	default:
		return notify.Nop{}, func() {}, nil
	}
}

func sandboxOptions(cfg config.SandboxConfig) executor.Options {
	return executor.Options{
		PythonRunCmd:   cfg.PythonRunCmd,
		CppCompileCmd:  cfg.CppCompileCmd,
		CppRunCmd:      cfg.CppRunCmd,
		BuildTimeout:   cfg.BuildTimeout,
		TimeoutGrace:   cfg.TimeoutGrace,
		MaxOutputBytes: cfg.MaxOutputBytes,
		InitPath:       cfg.InitPath,
		MaxProcesses:   cfg.MaxProcesses,
	}
}

func validatorOptions(cfg config.JudgeConfig) validator.Options {
	return validator.Options{
		MaxArchiveBytes:  cfg.ArchiveMaxBytes,
		MaxExtractBytes:  cfg.ExtractMaxBytes,
		SingleFilePolicy: cfg.SingleFilePolicy,
	}
}
