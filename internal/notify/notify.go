package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
)

// Nop discards notifications. It is used when NOTIFY_BACKEND=none.
type Nop struct{}

var _ repository.Notifier = Nop{}

func (Nop) Notify(context.Context, *domain.Notification) error { return nil }

func encode(n *domain.Notification) ([]byte, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal notification: %w", err)
	}
	return body, nil
}

// routingKey is "task.<status>", e.g. "task.done".
func routingKey(n *domain.Notification) string {
	return "task." + strings.ToLower(string(n.Status))
}
