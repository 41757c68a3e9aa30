package executor

import "time"

// BatchPolicy selects which Ready tasks enter the next BatchTask. Both
// policies repeatedly pop the ready-queue head (ordered by earliest
// deadline, tie-broken by task ID) and either admit, defer, or drop it.
type BatchPolicy interface {
	// FormBatch drains rq (by Pop) and returns the tasks admitted into the
	// batch, in batch order, plus the tasks dropped along the way (deadline
	// already past). Deferred tasks (sliding-window only) are pushed back
	// onto rq before FormBatch returns.
	FormBatch(rq *ReadyQueue, profile ModelProfile, batchSize int, now time.Time) (batch []*Task, dropped []*Task)
}

// EarliestDeadlineFirst is the default batch policy. It admits tasks in
// deadline order until the batch reaches batchSize or the next candidate's
// deadline would be violated by the forward latency a batch one task
// larger is expected to take.
type EarliestDeadlineFirst struct{}

func (EarliestDeadlineFirst) FormBatch(rq *ReadyQueue, profile ModelProfile, batchSize int, now time.Time) (batch, dropped []*Task) {
	for len(batch) < batchSize {
		next := rq.Peek()
		if next == nil {
			break
		}
		if !next.Deadline.After(now) {
			rq.Pop()
			next.State = StateDropped
			next.DropReason = DropDeadlineMiss
			dropped = append(dropped, next)
			continue
		}
		expected := profile.ForwardLatency(len(batch) + 1)
		if now.Add(expected).After(next.Deadline) {
			break
		}
		rq.Pop()
		next.State = StateBatched
		batch = append(batch, next)
	}
	return batch, dropped
}

// SlidingWindow behaves like EarliestDeadlineFirst but additionally
// enforces that the spread between the batch's earliest and latest
// deadlines never exceeds Window. Candidates outside the window are
// deferred (pushed back onto rq) rather than dropped.
type SlidingWindow struct {
	Window time.Duration
}

func (p SlidingWindow) FormBatch(rq *ReadyQueue, profile ModelProfile, batchSize int, now time.Time) (batch, dropped []*Task) {
	var deferred []*Task
	var earliest time.Time

	for len(batch) < batchSize {
		next := rq.Peek()
		if next == nil {
			break
		}
		if !next.Deadline.After(now) {
			rq.Pop()
			next.State = StateDropped
			next.DropReason = DropDeadlineMiss
			dropped = append(dropped, next)
			continue
		}
		if len(batch) > 0 && next.Deadline.Sub(earliest) > p.Window {
			rq.Pop()
			deferred = append(deferred, next)
			continue
		}
		expected := profile.ForwardLatency(len(batch) + 1)
		if now.Add(expected).After(next.Deadline) {
			break
		}
		rq.Pop()
		next.State = StateBatched
		if len(batch) == 0 {
			earliest = next.Deadline
		}
		batch = append(batch, next)
	}

	for _, t := range deferred {
		rq.Push(t)
	}
	return batch, dropped
}
