package echo

import (
	"testing"
	"time"

	"github.com/dengwxn/nexus/pkg/executor"
)

func TestForwardScalesWithBatchSize(t *testing.T) {
	m := New(8, Profile{PerTaskForward: time.Millisecond})
	m.sleep = func(time.Duration) {}

	batch := &executor.BatchTask{Tasks: []*executor.Task{{}, {}, {}}}
	d, err := m.Forward(batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 3*time.Millisecond {
		t.Fatalf("expected 3ms, got %v", d)
	}
	if m.ForwardCount() != 1 {
		t.Fatalf("expected 1 recorded forward, got %d", m.ForwardCount())
	}
}

func TestMaxBatchAndSharesPrefix(t *testing.T) {
	m := New(16, Profile{})
	if m.MaxBatch() != 16 {
		t.Fatalf("expected MaxBatch 16, got %d", m.MaxBatch())
	}
	if m.SharesPrefix() {
		t.Fatalf("echo model never shares prefixes")
	}
}

func TestPreprocessThenPostprocessReturnsInputUnchanged(t *testing.T) {
	m := New(8, Profile{})
	m.sleep = func(time.Duration) {}

	task := &executor.Task{Input: "payload"}
	if err := m.Preprocess(task); err != nil {
		t.Fatalf("unexpected preprocess error: %v", err)
	}
	if task.Tensor != "payload" {
		t.Fatalf("expected Tensor to carry the input through preprocess, got %v", task.Tensor)
	}
	if err := m.Postprocess(task); err != nil {
		t.Fatalf("unexpected postprocess error: %v", err)
	}
	if task.Output != "payload" {
		t.Fatalf("expected Output to equal the original input, got %v", task.Output)
	}
}
