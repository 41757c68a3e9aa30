package executor

import "testing"

func TestRateCounterEWMA(t *testing.T) {
	c := newRateCounter(0.5)
	c.Add(10)
	rate1 := c.Sample(1)
	if rate1 != 5 {
		t.Fatalf("expected 0.5*10 + 0.5*0 = 5, got %v", rate1)
	}
	c.Add(10)
	rate2 := c.Sample(1)
	if rate2 != 7.5 {
		t.Fatalf("expected 0.5*10 + 0.5*5 = 7.5, got %v", rate2)
	}
}

func TestRateCounterAlphaOutOfRangeFloorsToOne(t *testing.T) {
	c := newRateCounter(0)
	c.Add(4)
	if got := c.Sample(1); got != 4 {
		t.Fatalf("expected alpha=1 to pass the bucket rate through unchanged, got %v", got)
	}
}

func TestRateCounterResetsBucketOnSample(t *testing.T) {
	c := newRateCounter(1)
	c.Add(3)
	c.Sample(1)
	if got := c.Sample(1); got != 0 {
		t.Fatalf("expected bucket to reset after Sample, got %v", got)
	}
}
