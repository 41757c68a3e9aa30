package executor

import "testing"

func TestBreakerTripsAfterMaxConsecutiveFailures(t *testing.T) {
	b := newForwardBreaker(3)
	if b.recordFailure(false) {
		t.Fatal("expected not tripped after 1 failure")
	}
	if b.recordFailure(false) {
		t.Fatal("expected not tripped after 2 failures")
	}
	if !b.recordFailure(false) {
		t.Fatal("expected tripped after 3rd consecutive failure")
	}
	if !b.isTripped() {
		t.Fatal("expected breaker to remain tripped")
	}
}

func TestBreakerTripsImmediatelyOnPermanentFailure(t *testing.T) {
	b := newForwardBreaker(8)
	if !b.recordFailure(true) {
		t.Fatal("expected a permanent failure to trip the breaker immediately")
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := newForwardBreaker(3)
	b.recordFailure(false)
	b.recordFailure(false)
	b.recordSuccess()
	if b.recordFailure(false) {
		t.Fatal("expected counter reset after success; single failure should not trip")
	}
}
