package preprocess

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dengwxn/nexus/pkg/executor"
	"github.com/dengwxn/nexus/pkg/queue"
)

type fakeModel struct {
	fail func(task *executor.Task) bool
}

func (m *fakeModel) Preprocess(task *executor.Task) error {
	if m.fail != nil && m.fail(task) {
		return errors.New("preprocess failed")
	}
	return nil
}

type fakeSink struct {
	mu        sync.Mutex
	received  []*executor.Task
	forceVals []bool
}

func (s *fakeSink) AddPreprocessed(task *executor.Task, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, task)
	s.forceVals = append(s.forceVals, force)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestPoolProcessesTasksAndForwardsToSink(t *testing.T) {
	model := &fakeModel{}
	sink := &fakeSink{}
	in := queue.NewBounded[*executor.Task](8)

	pool := New(2, model, sink, in, nil, "test")
	pool.Start()
	defer pool.Stop()

	for i := 0; i < 5; i++ {
		in.Push(&executor.Task{ID: string(rune('a' + i))})
	}

	deadline := time.Now().Add(time.Second)
	for sink.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := sink.count(); got != 5 {
		t.Fatalf("expected 5 tasks forwarded to sink, got %d", got)
	}
	snap := pool.Snapshot()
	if snap.Preprocessed != 5 {
		t.Fatalf("expected 5 preprocessed, got %d", snap.Preprocessed)
	}
}

func TestPoolForwardsFailedPreprocessToSinkDropped(t *testing.T) {
	model := &fakeModel{fail: func(*executor.Task) bool { return true }}
	sink := &fakeSink{}
	in := queue.NewBounded[*executor.Task](8)

	pool := New(1, model, sink, in, nil, "test")
	pool.Start()
	defer pool.Stop()

	in.Push(&executor.Task{ID: "a"})

	deadline := time.Now().Add(time.Second)
	for sink.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatal("expected the sink to be notified even when preprocess fails, so the admission slot is released")
	}
	if sink.received[0].State != executor.StateDropped {
		t.Fatalf("expected task marked Dropped, got %v", sink.received[0].State)
	}
	snap := pool.Snapshot()
	if snap.Failed != 1 {
		t.Fatalf("expected 1 failed, got %d", snap.Failed)
	}
}

func TestPoolStopJoinsAllWorkers(t *testing.T) {
	model := &fakeModel{}
	sink := &fakeSink{}
	in := queue.NewBounded[*executor.Task](8)

	pool := New(4, model, sink, in, nil, "test")
	pool.Start()
	pool.Stop()

	// Stop must have joined every worker goroutine; pushing more work after
	// Stop should simply sit unconsumed rather than racing with a live worker.
	in.Push(&executor.Task{ID: "after-stop"})
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatal("expected no worker activity after Stop returned")
	}
}
