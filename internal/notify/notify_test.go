package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

type fakePublisher struct {
	subjects []string
	bodies   [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, data)
	return nil
}

func doneNotification() *domain.Notification {
	ok := domain.OutcomeOK
	rec := &domain.StatusRecord{
		TaskID: "task-1",
		Status: domain.StatusDone,
		Result: &ok,
		Stats:  &domain.AggregateStats{AvgTime: 0.2, AvgMemory: 15},
	}
	return domain.NewNotification(rec, []string{"graphs/time_distribution/task-1.png"})
}

func TestNATSNotifier_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "grader", zap.NewNop())

	if err := n.Notify(context.Background(), doneNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "grader.task.done" {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}

	var got domain.Notification
	if err := json.Unmarshal(pub.bodies[0], &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.TaskID != "task-1" || got.Result == nil || *got.Result != domain.OutcomeOK {
		t.Errorf("unexpected notification %+v", got)
	}
	if len(got.Charts) != 1 {
		t.Errorf("expected chart keys to be carried, got %v", got.Charts)
	}
}

func TestNATSNotifier_PublishError(t *testing.T) {
	boom := errors.New("connection closed")
	n := NewNATSNotifier(&fakePublisher{err: boom}, "grader", zap.NewNop())

	if err := n.Notify(context.Background(), doneNotification()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}

func TestNATSNotifier_CancelledContext(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "grader", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Notify(ctx, doneNotification()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(pub.subjects) != 0 {
		t.Error("nothing should be published after cancellation")
	}
}

func TestRoutingKey(t *testing.T) {
	n := &domain.Notification{Status: domain.StatusReqsNotPassed}
	if got := routingKey(n); got != "task.reqs_not_passed" {
		t.Errorf("unexpected routing key %q", got)
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Notify(context.Background(), doneNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
