package notify

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
)

// Publisher is the subset of *nats.Conn used for notifications.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes notifications to "<subject>.<status>".
type NATSNotifier struct {
	conn    Publisher
	subject string
	logger  *zap.Logger
}

var _ repository.Notifier = (*NATSNotifier)(nil)

// DialNATS connects to url with unlimited reconnects.
func DialNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("grader"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: nats connect: %w", err)
	}
	return nc, nil
}

// NewNATSNotifier wraps an established connection.
func NewNATSNotifier(conn Publisher, subject string, logger *zap.Logger) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: subject, logger: logger}
}

func (n *NATSNotifier) Notify(ctx context.Context, note *domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encode(note)
	if err != nil {
		return err
	}
	subject := n.subject + "." + routingKey(note)
	if err := n.conn.Publish(subject, body); err != nil {
		return fmt.Errorf("notify: nats publish %s: %w", subject, err)
	}
	n.logger.Debug("Published notification", zap.String("task_id", note.TaskID), zap.String("subject", subject))
	return nil
}
