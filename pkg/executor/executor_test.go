package executor

import (
	"errors"
	"testing"
	"time"
)

type fakeModel struct {
	maxBatch int
	forward  func(batch *BatchTask) (time.Duration, error)
	calls    int
}

func (m *fakeModel) MaxBatch() int                                { return m.maxBatch }
func (m *fakeModel) Preprocess(task *Task) error                  { return nil }
func (m *fakeModel) Postprocess(task *Task) error                 { return nil }
func (m *fakeModel) SharesPrefix() bool                           { return false }
func (m *fakeModel) Profile() ModelProfile                        { return flatProfile{} }
func (m *fakeModel) Forward(b *BatchTask) (time.Duration, error) {
	m.calls++
	if m.forward != nil {
		return m.forward(b)
	}
	return time.Millisecond, nil
}

type flatProfile struct{}

func (flatProfile) ForwardLatency(batchSize int) time.Duration { return time.Millisecond }
func (flatProfile) PreprocessLatency() time.Duration            { return 0 }

func newTestTask(id string, deadline time.Time) *Task {
	return &Task{ID: id, Deadline: deadline, State: StateCreated}
}

func TestEnqueueRejectsPastDeadline(t *testing.T) {
	m := &fakeModel{maxBatch: 4}
	var replied *Task
	e := New(m, Config{AdmissionMultiplier: 2, PreBatchQueueDepth: 8}, func(t *Task) { replied = t }, nil)

	now := time.Now()
	task := newTestTask("a", now.Add(-time.Second))
	if e.Enqueue(task, now) {
		t.Fatal("expected rejection for a task already past its deadline")
	}
	if replied == nil || replied.DropReason != DropDeadlineMiss {
		t.Fatalf("expected deadline_miss reply, got %+v", replied)
	}
}

func TestEnqueueRejectsPastAdmissionCap(t *testing.T) {
	m := &fakeModel{maxBatch: 1}
	e := New(m, Config{AdmissionMultiplier: 1, PreBatchQueueDepth: 8}, func(*Task) {}, nil)

	now := time.Now()
	if !e.Enqueue(newTestTask("a", now.Add(time.Minute)), now) {
		t.Fatal("expected first task admitted under cap")
	}
	if e.Enqueue(newTestTask("b", now.Add(time.Minute)), now) {
		t.Fatal("expected second task rejected: cap is max_batch(1)*multiplier(1)=1")
	}
}

func TestPreprocessForceBypassesAdmissionCap(t *testing.T) {
	m := &fakeModel{maxBatch: 1}
	e := New(m, Config{AdmissionMultiplier: 1, PreBatchQueueDepth: 8}, func(*Task) {}, nil)

	now := time.Now()
	task := newTestTask("a", now.Add(time.Minute))
	if err := e.Preprocess(task, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.State != StateReady {
		t.Fatalf("expected task Ready after forced preprocess, got %v", task.State)
	}
}

func TestExecuteFormsBatchAndPostprocesses(t *testing.T) {
	m := &fakeModel{maxBatch: 4}
	var replies []*Task
	e := New(m, Config{AdmissionMultiplier: 4, PreBatchQueueDepth: 8}, func(t *Task) { replies = append(replies, t) }, nil)

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		task := newTestTask(id, now.Add(time.Minute))
		task.State = StatePreprocessing
		e.AddPreprocessed(task, true)
	}

	if _, err := e.Execute(4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.calls != 1 {
		t.Fatalf("expected one forward call, got %d", m.calls)
	}
	if len(replies) != 3 {
		t.Fatalf("expected 3 replies after postprocess, got %d", len(replies))
	}
	for _, r := range replies {
		if r.State != StateDone {
			t.Fatalf("expected Done, got %v", r.State)
		}
	}
}

func TestExecuteDropsTasksPastDeadlineBeforeBatching(t *testing.T) {
	m := &fakeModel{maxBatch: 4}
	var replies []*Task
	e := New(m, Config{AdmissionMultiplier: 4, PreBatchQueueDepth: 8}, func(t *Task) { replies = append(replies, t) }, nil)

	now := time.Now()
	expired := newTestTask("expired", now.Add(-time.Millisecond))
	expired.State = StatePreprocessing
	e.AddPreprocessed(expired, true)

	if _, err := e.Execute(4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.calls != 0 {
		t.Fatalf("expected no forward call when only an expired task is ready, got %d", m.calls)
	}
	if len(replies) != 1 || replies[0].DropReason != DropDeadlineMiss {
		t.Fatalf("expected a single deadline_miss reply, got %+v", replies)
	}
}

func TestExecuteNonPermanentForwardFailureDropsBatchOnly(t *testing.T) {
	m := &fakeModel{maxBatch: 4, forward: func(*BatchTask) (time.Duration, error) {
		return 0, &ForwardError{Err: errors.New("transient"), Permanent: false}
	}}
	var replies []*Task
	e := New(m, Config{AdmissionMultiplier: 4, PreBatchQueueDepth: 8, MaxConsecutiveFails: 8}, func(t *Task) { replies = append(replies, t) }, nil)

	now := time.Now()
	task := newTestTask("a", now.Add(time.Minute))
	task.State = StatePreprocessing
	e.AddPreprocessed(task, true)

	if _, err := e.Execute(4); err == nil {
		t.Fatal("expected forward error to propagate")
	}
	if len(replies) != 1 || replies[0].DropReason != DropForwardFailure {
		t.Fatalf("expected forward_failure reply, got %+v", replies)
	}
	if e.breaker.isTripped() {
		t.Fatal("a single non-permanent failure must not trip the breaker")
	}
}

func TestExecutePermanentForwardFailurePanics(t *testing.T) {
	m := &fakeModel{maxBatch: 4, forward: func(*BatchTask) (time.Duration, error) {
		return 0, &ForwardError{Err: errors.New("gpu fault"), Permanent: true}
	}}
	e := New(m, Config{AdmissionMultiplier: 4, PreBatchQueueDepth: 8}, func(*Task) {}, nil)

	now := time.Now()
	task := newTestTask("a", now.Add(time.Minute))
	task.State = StatePreprocessing
	e.AddPreprocessed(task, true)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a permanent forward failure to panic")
		}
	}()
	_, _ = e.Execute(4)
}

func TestAddPreprocessedReleasesAdmissionForFailedPreprocess(t *testing.T) {
	m := &fakeModel{maxBatch: 1}
	e := New(m, Config{AdmissionMultiplier: 1, PreBatchQueueDepth: 8}, func(*Task) {}, nil)

	now := time.Now()
	if !e.Enqueue(newTestTask("a", now.Add(time.Minute)), now) {
		t.Fatal("expected admission")
	}
	if e.admission.open() != 1 {
		t.Fatalf("expected 1 open request, got %d", e.admission.open())
	}

	task, _ := e.preBatchQueue.PopTimeout(time.Second)
	task.State = StateDropped
	task.DropReason = DropPreprocessFailure
	e.AddPreprocessed(task, false)

	if e.admission.open() != 0 {
		t.Fatalf("expected admission slot released, got %d open", e.admission.open())
	}
}

func TestNumberOfOpenRequests(t *testing.T) {
	m := &fakeModel{maxBatch: 4}
	e := New(m, Config{AdmissionMultiplier: 4, PreBatchQueueDepth: 8}, func(*Task) {}, nil)
	now := time.Now()
	e.Enqueue(newTestTask("a", now.Add(time.Minute)), now)
	e.Enqueue(newTestTask("b", now.Add(time.Minute)), now)
	if got := e.NumberOfOpenRequests(); got != 2 {
		t.Fatalf("expected 2 open requests, got %d", got)
	}
}
