//go:build linux

package main

import (
	"testing"

	"github.com/Harsh-BH/Sentinel/grader/internal/executor"
)

func TestDecodeLimits(t *testing.T) {
	limits, err := decodeLimits(`{"memory_mb":256,"cpu_seconds":3,"output_mb":16,"processes":8}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := executor.InitLimits{MemoryMB: 256, CPUSeconds: 3, OutputMB: 16, Processes: 8}
	if limits != want {
		t.Errorf("expected %+v, got %+v", want, limits)
	}
}

func TestDecodeLimits_Empty(t *testing.T) {
	limits, err := decodeLimits("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limits != (executor.InitLimits{}) {
		t.Errorf("expected zero limits, got %+v", limits)
	}
}

func TestDecodeLimits_Malformed(t *testing.T) {
	if _, err := decodeLimits("{memory"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRun_RequiresCommand(t *testing.T) {
	for _, args := range [][]string{nil, {"--"}} {
		if err := run(args); err == nil {
			t.Errorf("expected error for args %q", args)
		}
	}
}
