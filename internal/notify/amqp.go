package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
)

const (
	exchangeType = "topic"

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 30 * time.Second

	publishTimeout = 5 * time.Second
)

// ErrUnavailable is returned while the publisher is reconnecting.
var ErrUnavailable = errors.New("notify: channel not available")

// AMQPNotifier publishes notifications to a topic exchange with publisher confirms.
type AMQPNotifier struct {
	url      string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

var _ repository.Notifier = (*AMQPNotifier)(nil)

// NewAMQPNotifier connects, declares the exchange and starts the reconnect watcher.
func NewAMQPNotifier(url, exchange string, logger *zap.Logger) (*AMQPNotifier, error) {
	n := &AMQPNotifier{
		url:      url,
		exchange: exchange,
		logger:   logger,
	}
	if err := n.connect(); err != nil {
		return nil, err
	}
	go n.watchConnection()
	return n, nil
}

func (n *AMQPNotifier) connect() error {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("notify: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("notify: channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("notify: enable confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(n.exchange, exchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("notify: declare exchange: %w", err)
	}

	n.mu.Lock()
	n.conn = conn
	n.channel = ch
	n.mu.Unlock()

	n.logger.Info("Notification publisher initialized", zap.String("exchange", n.exchange))
	return nil
}

func (n *AMQPNotifier) watchConnection() {
	for {
		n.mu.RLock()
		if n.closed {
			n.mu.RUnlock()
			return
		}
		conn := n.conn
		n.mu.RUnlock()

		reason, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
		if !ok {
			return
		}

		n.logger.Warn("Notification connection lost, reconnecting", zap.String("reason", reason.Error()))

		n.mu.Lock()
		n.channel = nil
		n.mu.Unlock()

		delay := reconnectDelay
		for {
			n.mu.RLock()
			closed := n.closed
			n.mu.RUnlock()
			if closed {
				return
			}

			time.Sleep(delay)

			if err := n.connect(); err != nil {
				n.logger.Warn("Notification reconnect failed", zap.Error(err), zap.Duration("retry_in", delay))
				delay = min(delay*2, maxReconnectDelay)
				continue
			}
			n.logger.Info("Notification publisher reconnected")
			break
		}
	}
}

// Notify publishes n and waits for the broker confirmation.
func (n *AMQPNotifier) Notify(ctx context.Context, note *domain.Notification) error {
	body, err := encode(note)
	if err != nil {
		return err
	}

	n.mu.RLock()
	ch := n.channel
	n.mu.RUnlock()
	if ch == nil {
		return ErrUnavailable
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(publishCtx,
		n.exchange,
		routingKey(note),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    note.TaskID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}

	acked, err := confirm.WaitContext(publishCtx)
	if err != nil {
		return fmt.Errorf("notify: confirmation for task %s: %w", note.TaskID, err)
	}
	if !acked {
		return fmt.Errorf("notify: broker nacked notification for task %s", note.TaskID)
	}

	n.logger.Debug("Published notification",
		zap.String("task_id", note.TaskID),
		zap.String("status", string(note.Status)),
	)
	return nil
}

// Close stops reconnecting and closes the connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
