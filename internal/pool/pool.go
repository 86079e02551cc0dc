package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/metrics"
	"github.com/Harsh-BH/Sentinel/grader/internal/usecase"
)

// TaskExecutor runs one task. It reports whether the task had already been processed.
type TaskExecutor interface {
	Execute(ctx context.Context, task *domain.Task) (bool, error)
}

// DefaultLockRequeueDelay is how long a task locked elsewhere is held before requeueing.
const DefaultLockRequeueDelay = 2 * time.Second

// WorkerPool manages a fixed-size pool of goroutines that process tasks.
type WorkerPool struct {
	size        int
	tasks       <-chan *domain.TaskMessage
	exec        TaskExecutor
	lockBackoff time.Duration
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// NewWorkerPool creates a new fixed-size worker pool.
func NewWorkerPool(size int, tasks <-chan *domain.TaskMessage, exec TaskExecutor, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:        size,
		tasks:       tasks,
		exec:        exec,
		lockBackoff: DefaultLockRequeueDelay,
		logger:      logger,
	}
}

// WithLockRequeueDelay sets the delay before a locked task is requeued. Call it before Start.
func (p *WorkerPool) WithLockRequeueDelay(d time.Duration) *WorkerPool {
	if d >= 0 {
		p.lockBackoff = d
	}
	return p
}

// Start launches all worker goroutines. Call Stop to wait for them to finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("pool_size", p.size))

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop waits for all workers to finish their current tasks and exit.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case msg, ok := <-p.tasks:
			if !ok {
				p.logger.Debug("Task channel closed", zap.Int("worker_id", id))
				return
			}
			p.handle(ctx, id, msg)
		}
	}
}

func (p *WorkerPool) handle(ctx context.Context, id int, msg *domain.TaskMessage) {
	task := msg.Task
	log := p.logger.With(zap.Int("worker_id", id), zap.String("task_id", task.TaskID))

	metrics.WorkersActive.Inc()
	defer metrics.WorkersActive.Dec()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker panic recovered", zap.Any("panic", r))
			p.nack(msg, false, log)
		}
	}()

	log.Info("Worker processing task",
		zap.String("language", string(task.Language)),
		zap.String("contest", task.Contest),
		zap.Int("task_n", int(task.TaskN)),
	)

	isDuplicate, err := p.exec.Execute(ctx, task)
	switch {
	case err == nil && isDuplicate:
		log.Debug("Duplicate task skipped")
		// Duplicate → still ACK so the message is removed from the queue.
		p.ack(msg, log)
	case err == nil:
		p.ack(msg, log)
	case errors.Is(err, usecase.ErrTaskLocked):
		// Requeueing at once would bounce the message between workers until the
		// holder finishes.
		log.Debug("Task locked elsewhere, requeueing after delay", zap.Duration("delay", p.lockBackoff))
		p.wait(ctx, p.lockBackoff)
		p.nack(msg, true, log)
	case requeue(ctx, err):
		log.Warn("Task not finished, requeueing", zap.Error(err))
		p.nack(msg, true, log)
	default:
		log.Error("Task execution failed", zap.Error(err))
		// Nack without requeue: the message goes to the DLQ instead of looping.
		p.nack(msg, false, log)
	}
}

// requeue reports whether a task interrupted by shutdown should be delivered again.
func requeue(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// wait blocks for d or until ctx is done.
func (p *WorkerPool) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (p *WorkerPool) ack(msg *domain.TaskMessage, log *zap.Logger) {
	if err := msg.Ack(); err != nil {
		log.Error("Failed to ACK message", zap.Error(err))
	}
}

func (p *WorkerPool) nack(msg *domain.TaskMessage, requeue bool, log *zap.Logger) {
	if err := msg.Nack(requeue); err != nil {
		log.Error("Failed to NACK message", zap.Bool("requeue", requeue), zap.Error(err))
	}
}
