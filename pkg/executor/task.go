// Package executor owns a single loaded model instance: admission,
// deadline-ordered batching, GPU forward, and postprocess.
package executor

import (
	"container/heap"
	"time"
)

// State is a Task's position in the executor's lifecycle.
type State int

const (
	StateCreated State = iota
	StateQueued
	StatePreprocessing
	StateReady
	StateBatched
	StateDone
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StatePreprocessing:
		return "preprocessing"
	case StateReady:
		return "ready"
	case StateBatched:
		return "batched"
	case StateDone:
		return "done"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// DropReason labels why a task never reached Done.
type DropReason int

const (
	DropNone DropReason = iota
	DropDeadlineMiss
	DropAdmissionReject
	DropPreprocessFailure
	DropForwardFailure
	DropModelUnsupported
)

func (r DropReason) String() string {
	switch r {
	case DropNone:
		return ""
	case DropDeadlineMiss:
		return "deadline_miss"
	case DropAdmissionReject:
		return "admission_reject"
	case DropPreprocessFailure:
		return "preprocess_failure"
	case DropForwardFailure:
		return "forward_failure"
	case DropModelUnsupported:
		return "model_unsupported"
	default:
		return "unknown"
	}
}

// Task is the unit of work accepted by an Executor. A Task is exclusively
// owned by the Executor from admission to Done/Dropped; shared references
// exist only transiently with the worker currently preprocessing it and
// with the batch assembler.
type Task struct {
	ID             string
	ModelSessionID string
	Deadline       time.Time
	EnqueuedAt     time.Time

	Input       any
	Tensor      any // filled in after preprocess
	Output      any // filled in after forward/postprocess
	NumNewTokens int

	State      State
	DropReason DropReason

	// heapIndex is maintained by container/heap; Pop sets it to -1.
	heapIndex int
}

// readyHeap orders Tasks by (Deadline, ID) for O(log n) insertion and
// min-extraction. Tasks leave the heap only through Pop; there is no
// operation that deletes an arbitrary task, and batch assembly does not
// skip tasks by State.
type readyHeap []*Task

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].Deadline.Equal(h[j].Deadline) {
		return h[i].ID < h[j].ID
	}
	return h[i].Deadline.Before(h[j].Deadline)
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *readyHeap) Push(x any) {
	t := x.(*Task)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// ReadyQueue is a deadline-ordered priority queue of Ready tasks.
// It is not safe for concurrent use; callers serialize access with
// Executor.taskMu.
type ReadyQueue struct {
	h readyHeap
}

// NewReadyQueue returns an empty ReadyQueue.
func NewReadyQueue() *ReadyQueue {
	rq := &ReadyQueue{}
	heap.Init(&rq.h)
	return rq
}

// Push inserts a task, O(log n).
func (rq *ReadyQueue) Push(t *Task) {
	heap.Push(&rq.h, t)
}

// Peek returns the earliest-deadline task without removing it, or nil.
func (rq *ReadyQueue) Peek() *Task {
	if len(rq.h) == 0 {
		return nil
	}
	return rq.h[0]
}

// Pop removes and returns the earliest-deadline task, or nil, O(log n).
func (rq *ReadyQueue) Pop() *Task {
	if len(rq.h) == 0 {
		return nil
	}
	return heap.Pop(&rq.h).(*Task)
}

// Len reports the number of tasks currently queued.
func (rq *ReadyQueue) Len() int { return len(rq.h) }

// BatchTask is a set of Tasks submitted together to a single model forward.
type BatchTask struct {
	BatchID      uint64
	Tasks        []*Task
	Input        any // contiguous, pinned/device-resident input array
	CompletedAt  time.Time
}
