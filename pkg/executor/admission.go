package executor

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// admission tracks the executor's open-request count and enforces the
// admission cap (max_batch * multiplier) when the caller asks for it.
type admission struct {
	openRequests atomic.Int64
	maxBatch     int64
	multiplier   int64
	log          *zap.Logger
}

func newAdmission(maxBatch, multiplier int, log *zap.Logger) *admission {
	if multiplier < 1 {
		multiplier = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &admission{maxBatch: int64(maxBatch), multiplier: int64(multiplier), log: log}
}

func (a *admission) cap() int64 {
	return a.maxBatch * a.multiplier
}

// increase attempts to add n to open_requests. If limitMaxBatch is set and
// the new value would exceed max_batch*multiplier, the increase fails
// atomically (open_requests is left unchanged) and the caller must treat
// the task as rejected.
func (a *admission) increase(n int64, limitMaxBatch bool) bool {
	for {
		cur := a.openRequests.Load()
		next := cur + n
		if limitMaxBatch && next > a.cap() {
			return false
		}
		if a.openRequests.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// decrease never underflows; underflow is a fatal invariant violation
// (a task released its admission slot twice, or was never admitted).
func (a *admission) decrease(n int64) {
	for {
		cur := a.openRequests.Load()
		next := cur - n
		if next < 0 {
			a.log.Error("admission underflow", zap.Int64("open_requests", cur), zap.Int64("decrease", n))
			panic(fmt.Sprintf("executor: admission underflow (open_requests=%d, decrease=%d)", cur, n))
		}
		if a.openRequests.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (a *admission) open() int64 {
	return a.openRequests.Load()
}
