package executor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dengwxn/nexus/internal/metrics"
	"github.com/dengwxn/nexus/pkg/queue"
)

// Config controls one Executor's admission and batching behavior.
type Config struct {
	Name                string // label used on Prometheus metrics; defaults to "default"
	AdmissionMultiplier int    // >= 1; cap = model.MaxBatch() * AdmissionMultiplier
	PreBatchQueueDepth  int
	Policy              BatchPolicy // defaults to EarliestDeadlineFirst
	EWMAAlpha           float64
	RateBucket          time.Duration // defaults to 1s
	MaxConsecutiveFails uint32        // forward breaker threshold
}

// ReplyFunc is invoked exactly once per terminal task (Done or Dropped) so
// the transport layer can deliver or discard the reply. It must not block.
type ReplyFunc func(task *Task)

// Executor owns one model instance: admits, batches, and executes requests
// under deadline constraints. The zero value is not usable; construct with
// New.
type Executor struct {
	model   ModelInstance
	profile ModelProfile
	policy  BatchPolicy

	admission *admission
	breaker   *forwardBreaker

	reqCounter  *rateCounter
	dropCounter *rateCounter
	ticker      *rateTicker

	// task_mu guards ready and processing. Lock order: task_mu before
	// time_mu; no other pair of locks is ever held simultaneously.
	taskMu     sync.Mutex
	ready      *ReadyQueue
	processing map[string]*Task

	timeMu            sync.Mutex
	lastExecuteFinish time.Time

	backupMu       sync.RWMutex
	backupBackends []string

	batchMu sync.Mutex
	batchID uint64

	preBatchQueue *queue.Bounded[*Task]

	onReply ReplyFunc
	log     *zap.Logger
	name    string
}

// New constructs an Executor bound to model, ready to accept Enqueue calls
// once Run has been called.
func New(model ModelInstance, cfg Config, onReply ReplyFunc, log *zap.Logger) *Executor {
	if cfg.Policy == nil {
		cfg.Policy = EarliestDeadlineFirst{}
	}
	if cfg.RateBucket <= 0 {
		cfg.RateBucket = time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if log == nil {
		log = zap.NewNop()
	}
	if onReply == nil {
		onReply = func(*Task) {}
	}
	e := &Executor{
		model:         model,
		profile:       model.Profile(),
		policy:        cfg.Policy,
		admission:     newAdmission(model.MaxBatch(), cfg.AdmissionMultiplier, log),
		breaker:       newForwardBreaker(cfg.MaxConsecutiveFails),
		reqCounter:    newRateCounter(cfg.EWMAAlpha),
		dropCounter:   newRateCounter(cfg.EWMAAlpha),
		ticker:        newRateTicker(cfg.RateBucket),
		ready:         NewReadyQueue(),
		processing:    make(map[string]*Task),
		preBatchQueue: queue.NewBounded[*Task](cfg.PreBatchQueueDepth),
		onReply:       onReply,
		log:           log,
		name:          cfg.Name,
	}
	return e
}

// Run starts the background rate-sampling ticker. Callers must call Close
// to join it on shutdown.
func (e *Executor) Run() {
	go e.ticker.run(func(secs float64) {
		e.reqCounter.Sample(secs)
		e.dropCounter.Sample(secs)
		metrics.RequestRate.WithLabelValues(e.name).Set(e.reqCounter.Rate())
		metrics.DropRate.WithLabelValues(e.name).Set(e.dropCounter.Rate())
		metrics.AdmissionOpenRequests.WithLabelValues(e.name).Set(float64(e.NumberOfOpenRequests()))
	})
}

// Close stops the rate ticker. It does not drain in-flight tasks; callers
// drain the preprocess pool and call Execute until it reports no work
// remains before calling Close.
func (e *Executor) Close() {
	e.ticker.Stop()
}

// PreBatchQueue exposes the bounded queue the preprocess worker pool
// drains. Enqueue pushes admitted tasks here; AddPreprocessed is how the
// pool returns a preprocessed task to the ready queue.
func (e *Executor) PreBatchQueue() *queue.Bounded[*Task] {
	return e.preBatchQueue
}

// Enqueue performs non-blocking admission. On acceptance the task
// transitions Created->Queued and is routed into the pre-batch queue; on
// rejection the task is dropped and counted. Rejection conditions:
// deadline already past, admission cap would be exceeded, or the pre-batch
// queue is full. The model is not consulted about the input here, so
// Enqueue never drops a task as model-unsupported.
func (e *Executor) Enqueue(task *Task, now time.Time) bool {
	if !task.Deadline.After(now) {
		e.reject(task, DropDeadlineMiss)
		return false
	}
	if !e.admission.increase(1, true) {
		metrics.AdmissionRejected.WithLabelValues(e.name).Inc()
		e.reject(task, DropAdmissionReject)
		return false
	}
	task.EnqueuedAt = now
	task.State = StateQueued
	e.reqCounter.Add(1)
	if !e.preBatchQueue.Push(task) {
		e.admission.decrease(1)
		metrics.AdmissionRejected.WithLabelValues(e.name).Inc()
		e.reject(task, DropAdmissionReject)
		return false
	}
	return true
}

func (e *Executor) reject(task *Task, reason DropReason) {
	task.State = StateDropped
	task.DropReason = reason
	e.dropCounter.Add(1)
	metrics.TasksDropped.WithLabelValues(e.name, reason.String()).Inc()
	e.log.Debug("task dropped", zap.String("task_id", task.ID), zap.String("reason", reason.String()))
	e.onReply(task)
}

// Preprocess is the synchronous shortcut: it runs preprocess in the
// caller's context and inserts the result into the ready queue. force
// bypasses the admission cap (used, e.g., for backup-backend retries that
// must not be throttled by the primary's cap); a forced task is still
// counted in open_requests.
func (e *Executor) Preprocess(task *Task, force bool) error {
	if !e.admission.increase(1, !force) {
		e.reject(task, DropAdmissionReject)
		return fmt.Errorf("executor: admission cap exceeded for task %s", task.ID)
	}
	task.State = StatePreprocessing
	if err := e.model.Preprocess(task); err != nil {
		e.admission.decrease(1)
		e.log.Warn("preprocess failed", zap.String("task_id", task.ID), zap.Error(err))
		e.reject(task, DropPreprocessFailure)
		return err
	}
	e.AddPreprocessed(task, false)
	return nil
}

// AddPreprocessed inserts an already-preprocessed task directly into the
// ready queue. Used by the preprocess worker pool, and by share-prefix
// models where an upstream stage already ran preprocess. With force=false
// the caller already holds the task's admission slot (Enqueue or
// Preprocess reserved it). With force=true it holds none: AddPreprocessed
// counts the task in open_requests without applying the admission cap, so
// the slot released after Execute is balanced.
//
// If the caller has already marked the task Dropped (the pool sets this on
// a failed Preprocess call before handing the task back), AddPreprocessed
// releases the admission slot (force=false only) and notifies the reply
// path instead of queueing it — a task that failed preprocess never
// reaches Ready.
func (e *Executor) AddPreprocessed(task *Task, force bool) {
	if task.State == StateDropped {
		if !force {
			e.admission.decrease(1)
		}
		e.dropCounter.Add(1)
		metrics.TasksDropped.WithLabelValues(e.name, task.DropReason.String()).Inc()
		e.onReply(task)
		return
	}
	if force {
		e.admission.increase(1, false)
	}
	task.State = StateReady
	e.taskMu.Lock()
	e.ready.Push(task)
	e.taskMu.Unlock()
}

// Execute pulls up to batchHint (or the model's MaxBatch if zero) ready
// tasks, assembles a BatchTask, runs the model forward, records the finish
// time, and hands constituent tasks to Postprocess. It returns the
// wall-clock forward duration. If fewer than one viable task exists,
// Execute returns immediately with duration zero and does not call
// Forward.
func (e *Executor) Execute(batchHint int) (time.Duration, error) {
	if batchHint <= 0 {
		batchHint = e.model.MaxBatch()
	}
	if batchHint > e.model.MaxBatch() {
		batchHint = e.model.MaxBatch()
	}

	now := time.Now()
	e.taskMu.Lock()
	batch, dropped := e.policy.FormBatch(e.ready, e.profile, batchHint, now)
	for _, t := range batch {
		e.processing[t.ID] = t
	}
	e.taskMu.Unlock()

	for _, t := range dropped {
		e.admission.decrease(1)
		e.dropCounter.Add(1)
		metrics.TasksDropped.WithLabelValues(e.name, t.DropReason.String()).Inc()
		e.onReply(t)
	}

	if len(batch) == 0 {
		return 0, nil
	}

	metrics.BatchSize.WithLabelValues(e.name).Observe(float64(len(batch)))

	bt := &BatchTask{BatchID: e.nextBatchID(), Tasks: batch}
	dur, err := e.model.Forward(bt)
	finish := time.Now()
	metrics.ForwardLatency.WithLabelValues(e.name).Observe(dur.Seconds())

	e.timeMu.Lock()
	e.lastExecuteFinish = finish
	e.timeMu.Unlock()
	bt.CompletedAt = finish

	if err != nil {
		permanent := false
		if fe, ok := err.(*ForwardError); ok {
			permanent = fe.Permanent
		}
		metrics.ForwardFailures.WithLabelValues(e.name, fmt.Sprintf("%t", permanent)).Inc()
		tripped := e.breaker.recordFailure(permanent)
		e.taskMu.Lock()
		for _, t := range batch {
			delete(e.processing, t.ID)
		}
		e.taskMu.Unlock()
		for _, t := range batch {
			e.admission.decrease(1)
			t.State = StateDropped
			t.DropReason = DropForwardFailure
			e.dropCounter.Add(1)
			metrics.TasksDropped.WithLabelValues(e.name, t.DropReason.String()).Inc()
			e.onReply(t)
		}
		if tripped {
			metrics.BreakerTripped.WithLabelValues(e.name).Inc()
			e.log.Error("forward breaker tripped", zap.String("model", e.name), zap.Bool("permanent", permanent), zap.Error(err))
			panic(fmt.Sprintf("executor: forward breaker tripped: %v", err))
		}
		e.log.Warn("batch forward failed", zap.String("model", e.name), zap.Int("batch_size", len(batch)), zap.Error(err))
		return dur, err
	}
	e.breaker.recordSuccess()

	for _, t := range batch {
		e.postprocess(t)
	}
	return dur, nil
}

func (e *Executor) nextBatchID() uint64 {
	e.batchMu.Lock()
	defer e.batchMu.Unlock()
	e.batchID++
	return e.batchID
}

// postprocess invokes model postprocess, transitions to Done, releases the
// admission slot, and notifies the reply path. Postprocess failures are
// treated the same as forward failures for that one task: dropped, not
// fatal.
func (e *Executor) postprocess(task *Task) {
	err := e.model.Postprocess(task)
	e.taskMu.Lock()
	delete(e.processing, task.ID)
	e.taskMu.Unlock()
	e.admission.decrease(1)
	if err != nil {
		task.State = StateDropped
		task.DropReason = DropForwardFailure
		e.dropCounter.Add(1)
		metrics.TasksDropped.WithLabelValues(e.name, task.DropReason.String()).Inc()
		e.log.Warn("postprocess failed", zap.String("task_id", task.ID), zap.Error(err))
	} else {
		task.State = StateDone
	}
	e.onReply(task)
}

// NumberOfOpenRequests returns |Queued|+|Preprocessing|+|Ready|+|Batched|.
func (e *Executor) NumberOfOpenRequests() int64 {
	return e.admission.open()
}

// RequestRate returns the current EWMA of admitted requests per second.
func (e *Executor) RequestRate() float64 { return e.reqCounter.Rate() }

// DropRate returns the current EWMA of dropped requests per second.
func (e *Executor) DropRate() float64 { return e.dropCounter.Rate() }

// LastExecuteFinishTime returns the wall-clock time the most recent
// non-empty Execute call's forward returned.
func (e *Executor) LastExecuteFinishTime() time.Time {
	e.timeMu.Lock()
	defer e.timeMu.Unlock()
	return e.lastExecuteFinish
}

// UpdateBackupBackends replaces the backup backend list under its own
// lock, independent of task_mu/time_mu.
func (e *Executor) UpdateBackupBackends(backends []string) {
	cp := make([]string, len(backends))
	copy(cp, backends)
	e.backupMu.Lock()
	e.backupBackends = cp
	e.backupMu.Unlock()
}

// BackupBackends returns a copy of the current backup backend list.
func (e *Executor) BackupBackends() []string {
	e.backupMu.RLock()
	defer e.backupMu.RUnlock()
	cp := make([]string, len(e.backupBackends))
	copy(cp, e.backupBackends)
	return cp
}
