// Package preprocess runs a fixed pool of worker goroutines that drain an
// executor's pre-batch queue, invoke the model's preprocess step, and hand
// the result to the ready queue.
package preprocess

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dengwxn/nexus/internal/metrics"
	"github.com/dengwxn/nexus/pkg/executor"
	"github.com/dengwxn/nexus/pkg/queue"
)

const (
	popTimeout     = 50 * time.Millisecond
	startupSettle  = 20 * time.Millisecond
)

// Model is the subset of executor.ModelInstance the pool needs.
type Model interface {
	Preprocess(task *executor.Task) error
}

// Sink receives preprocessed tasks. executor.Executor satisfies this.
type Sink interface {
	AddPreprocessed(task *executor.Task, force bool)
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Preprocessed uint64
	Failed       uint64
}

// Pool is a fixed pool of num_workers threads, each looping: pop a task
// from the input queue with a 50ms timeout, call model.Preprocess on
// success, push the result to sink. Queues are bounded MPMC FIFOs with
// blocking pop-with-timeout semantics; under backpressure the producer
// (the executor's admission path) treats a full queue as a rejection.
type Pool struct {
	workers int
	model   Model
	sink    Sink
	in      *queue.Bounded[*executor.Task]
	log     *zap.Logger
	name    string

	running atomic.Bool
	wg      sync.WaitGroup

	preprocessed atomic.Uint64
	failed       atomic.Uint64
}

// New creates a pool of numWorkers threads draining in and forwarding
// successfully preprocessed tasks to sink. name labels the pool's metrics;
// it defaults to "default" when empty.
func New(numWorkers int, model Model, sink Sink, in *queue.Bounded[*executor.Task], log *zap.Logger, name string) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if name == "" {
		name = "default"
	}
	return &Pool{workers: numWorkers, model: model, sink: sink, in: in, log: log, name: name}
}

// Start launches the worker goroutines. Each worker sleeps 20ms on startup
// to let initialization (e.g. CUDA context warmup in the real model)
// settle before it starts popping work.
func (p *Pool) Start() {
	p.running.Store(true)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	time.Sleep(startupSettle)
	for p.running.Load() {
		metrics.PreprocessQueueDepth.WithLabelValues(p.name).Set(float64(p.in.Len()))
		task, ok := p.in.PopTimeout(popTimeout)
		if !ok {
			continue
		}
		if err := p.model.Preprocess(task); err != nil {
			p.failed.Add(1)
			metrics.PreprocessFailed.WithLabelValues(p.name).Inc()
			task.State = executor.StateDropped
			task.DropReason = executor.DropPreprocessFailure
			p.log.Warn("preprocess failed", zap.Int("worker", id), zap.String("task_id", task.ID), zap.Error(err))
			p.sink.AddPreprocessed(task, false)
			continue
		}
		p.preprocessed.Add(1)
		metrics.PreprocessProcessed.WithLabelValues(p.name).Inc()
		p.sink.AddPreprocessed(task, false)
	}
}

// Stop sets the running flag false and joins all worker goroutines. Workers
// observe the flag between pops (at most one 50ms pop-timeout interval of
// latency per worker).
func (p *Pool) Stop() {
	p.running.Store(false)
	p.wg.Wait()
}

// Snapshot returns current pool counters.
func (p *Pool) Snapshot() Stats {
	return Stats{Preprocessed: p.preprocessed.Load(), Failed: p.failed.Load()}
}
