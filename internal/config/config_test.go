package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Queue.Backend != "amqp" {
		t.Errorf("expected amqp backend, got %q", cfg.Queue.Backend)
	}
	if cfg.Judge.ArchiveMaxBytes != 5*1024*1024 {
		t.Errorf("expected 5 MiB archive cap, got %d", cfg.Judge.ArchiveMaxBytes)
	}
	if cfg.Judge.HistogramBuckets != 9 {
		t.Errorf("expected 9 histogram buckets, got %d", cfg.Judge.HistogramBuckets)
	}
	if cfg.Worker.StoreTimeout != 10*time.Second {
		t.Errorf("expected 10s store timeout, got %s", cfg.Worker.StoreTimeout)
	}
	if cfg.Worker.LockRequeueDelay != 2*time.Second {
		t.Errorf("expected 2s lock requeue delay, got %s", cfg.Worker.LockRequeueDelay)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "SQS")
	t.Setenv("SQS_QUEUE_URL", "https://sqs.example/queue")
	t.Setenv("WORKER_POOL_SIZE", "8")
	t.Setenv("SINGLE_FILE_POLICY", "true")
	t.Setenv("BUILD_TIMEOUT", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Queue.Backend != "sqs" {
		t.Errorf("expected backend to be lowercased, got %q", cfg.Queue.Backend)
	}
	if cfg.Worker.PoolSize != 8 {
		t.Errorf("expected pool size 8, got %d", cfg.Worker.PoolSize)
	}
	if !cfg.Judge.SingleFilePolicy {
		t.Error("expected single file policy to be enabled")
	}
	if cfg.Sandbox.BuildTimeout != 45*time.Second {
		t.Errorf("expected 45s build timeout, got %s", cfg.Sandbox.BuildTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown queue", map[string]string{"QUEUE_BACKEND": "kafka"}},
		{"sqs without url", map[string]string{"QUEUE_BACKEND": "sqs"}},
		{"unknown notifier", map[string]string{"NOTIFY_BACKEND": "smtp"}},
		{"empty pool", map[string]string{"WORKER_POOL_SIZE": "0"}},
		{"no buckets", map[string]string{"HISTOGRAM_BUCKETS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
