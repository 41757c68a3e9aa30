// Package echo provides a trivial ModelInstance used to stand up a backend
// daemon without a real GPU-backed model: it copies each task's payload
// through preprocess/forward/postprocess with a configurable synthetic
// forward latency, for local testing and load generation.
package echo

import (
	"sync/atomic"
	"time"

	"github.com/dengwxn/nexus/pkg/executor"
)

// Profile is a flat-latency ModelProfile: constant per-task preprocess cost,
// and a forward cost that scales linearly with batch size.
type Profile struct {
	PerTaskForward    time.Duration
	PreprocessLatency_ time.Duration
}

func (p Profile) ForwardLatency(batchSize int) time.Duration {
	return p.PerTaskForward * time.Duration(batchSize)
}

func (p Profile) PreprocessLatency() time.Duration { return p.PreprocessLatency_ }

// Model is an identity ModelInstance: forward sleeps for the profile's
// predicted latency then returns success, so callers can exercise the
// batching, admission and breaker paths without GPU hardware.
type Model struct {
	maxBatch int
	profile  Profile
	sleep    func(time.Duration)

	forwards atomic.Uint64
}

// New returns a Model with the given max batch size and latency profile.
func New(maxBatch int, profile Profile) *Model {
	return &Model{maxBatch: maxBatch, profile: profile, sleep: time.Sleep}
}

func (m *Model) MaxBatch() int { return m.maxBatch }

func (m *Model) Preprocess(task *executor.Task) error {
	if m.profile.PreprocessLatency_ > 0 {
		m.sleep(m.profile.PreprocessLatency_)
	}
	task.Tensor = task.Input
	return nil
}

func (m *Model) Forward(batch *executor.BatchTask) (time.Duration, error) {
	m.forwards.Add(1)
	latency := m.profile.ForwardLatency(len(batch.Tasks))
	m.sleep(latency)
	return latency, nil
}

func (m *Model) Postprocess(task *executor.Task) error {
	task.Output = task.Tensor
	return nil
}

func (m *Model) Profile() executor.ModelProfile { return m.profile }

func (m *Model) SharesPrefix() bool { return false }

// ForwardCount returns the number of batches forwarded, for tests.
func (m *Model) ForwardCount() uint64 { return m.forwards.Load() }
