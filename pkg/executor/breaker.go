package executor

import (
	"sync/atomic"
)

// forwardBreaker tracks consecutive non-permanent forward failures. A
// single ForwardError.Permanent trips it immediately; the executor treats
// a tripped breaker as the fatal invariant violation spec.md §7 calls for
// ("forward failure ... is fatal only if the model reports permanent
// failure"). Non-permanent failures only drop the offending batch and
// reset nothing — the breaker exists to catch a model that degrades into
// permanent failure without ever setting the flag itself.
type forwardBreaker struct {
	maxConsecutive uint32
	consecutive    atomic.Uint32
	tripped        atomic.Bool
}

func newForwardBreaker(maxConsecutive uint32) *forwardBreaker {
	if maxConsecutive == 0 {
		maxConsecutive = 8
	}
	return &forwardBreaker{maxConsecutive: maxConsecutive}
}

// recordFailure returns true if the breaker is now (or was already) tripped.
func (b *forwardBreaker) recordFailure(permanent bool) bool {
	if permanent {
		b.tripped.Store(true)
		return true
	}
	n := b.consecutive.Add(1)
	if n >= b.maxConsecutive {
		b.tripped.Store(true)
	}
	return b.tripped.Load()
}

func (b *forwardBreaker) recordSuccess() {
	b.consecutive.Store(0)
}

func (b *forwardBreaker) isTripped() bool {
	return b.tripped.Load()
}
