package sqs

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

const settleTimeout = 10 * time.Second

// API is the subset of *sqs.Client used by the consumer.
type API interface {
	ReceiveMessage(ctx context.Context, in *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *awssqs.ChangeMessageVisibilityInput, optFns ...func(*awssqs.Options)) (*awssqs.ChangeMessageVisibilityOutput, error)
}

// Options configures a Consumer.
type Options struct {
	QueueURL string
	// WaitTime is the long-poll duration, at most 20s.
	WaitTime time.Duration
	// VisibilityTimeout hides a received message for the duration of one task.
	VisibilityTimeout time.Duration
	// Batch is the number of messages received per poll, at most 10.
	Batch int
}

// Consumer long-polls an SQS queue and dispatches TaskMessage values to a channel.
//
// Ack deletes the message. Nack(true) makes it visible again at once; Nack(false)
// leaves it hidden until the visibility timeout expires, so the queue's redrive
// policy moves it to the dead-letter queue after enough receives.
type Consumer struct {
	client API
	opts   Options
	tasks  chan<- *domain.TaskMessage
	logger *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(client API, opts Options, tasks chan<- *domain.TaskMessage, logger *zap.Logger) *Consumer {
	if opts.WaitTime <= 0 || opts.WaitTime > 20*time.Second {
		opts.WaitTime = 20 * time.Second
	}
	if opts.Batch < 1 || opts.Batch > 10 {
		opts.Batch = 1
	}
	return &Consumer{client: client, opts: opts, tasks: tasks, logger: logger}
}

// Start polls until ctx is cancelled. Receive errors are retried with exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("SQS consumer started", zap.String("queue_url", c.opts.QueueURL))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			c.logger.Info("SQS consumer stopping (context cancelled)")
			return nil
		}

		in := &awssqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.opts.QueueURL),
			MaxNumberOfMessages: int32(c.opts.Batch),
			WaitTimeSeconds:     int32(c.opts.WaitTime / time.Second),
		}
		if c.opts.VisibilityTimeout > 0 {
			in.VisibilityTimeout = int32(c.opts.VisibilityTimeout / time.Second)
		}

		out, err := c.client.ReceiveMessage(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := bo.NextBackOff()
			c.logger.Warn("SQS receive failed", zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		bo.Reset()

		for i := range out.Messages {
			if !c.dispatch(ctx, out.Messages[i]) {
				// Hand the rest of the batch back to the queue.
				for _, rest := range out.Messages[i+1:] {
					c.release(rest.ReceiptHandle)
				}
				return nil
			}
		}
	}
}

// dispatch returns false when ctx was cancelled before the message was handed over.
func (c *Consumer) dispatch(ctx context.Context, m types.Message) bool {
	task, err := domain.DecodeTask([]byte(aws.ToString(m.Body)))
	if err != nil {
		c.logger.Error("Failed to decode task",
			zap.Error(err),
			zap.String("message_id", aws.ToString(m.MessageId)),
		)
		// Left hidden; the redrive policy takes it to the DLQ.
		return true
	}

	c.logger.Debug("Received task from queue",
		zap.String("task_id", task.TaskID),
		zap.String("language", string(task.Language)),
	)

	msg := c.newTaskMessage(task, m.ReceiptHandle)
	select {
	case c.tasks <- msg:
		return true
	case <-ctx.Done():
		c.release(m.ReceiptHandle)
		return false
	}
}

func (c *Consumer) newTaskMessage(task *domain.Task, receipt *string) *domain.TaskMessage {
	return &domain.TaskMessage{
		Task: task,
		Ack: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
			defer cancel()
			_, err := c.client.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
				QueueUrl:      aws.String(c.opts.QueueURL),
				ReceiptHandle: receipt,
			})
			return err
		},
		Nack: func(requeue bool) error {
			if !requeue {
				return nil
			}
			return c.makeVisible(receipt)
		},
	}
}

func (c *Consumer) release(receipt *string) {
	if err := c.makeVisible(receipt); err != nil {
		c.logger.Warn("Failed to release SQS message", zap.Error(err))
	}
}

func (c *Consumer) makeVisible(receipt *string) error {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	_, err := c.client.ChangeMessageVisibility(ctx, &awssqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.opts.QueueURL),
		ReceiptHandle:     receipt,
		VisibilityTimeout: 0,
	})
	return err
}

// NewClient builds an SQS client from a shared AWS config. A non-empty endpoint
// targets an SQS-compatible service.
func NewClient(cfg aws.Config, endpoint string) *awssqs.Client {
	return awssqs.NewFromConfig(cfg, func(o *awssqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}
