package executor

import "time"

// ModelInstance is the external contract for one loaded model. Model kinds
// (TensorFlow, share-prefix, TF-share, ONNX) differ in preprocess/postprocess
// semantics and whether batches may share prefix tensors; Executor is
// polymorphic over any implementation of this capability set.
type ModelInstance interface {
	MaxBatch() int
	Preprocess(task *Task) error
	Forward(batch *BatchTask) (time.Duration, error)
	Postprocess(task *Task) error
	Profile() ModelProfile
	// SharesPrefix reports whether batches built from this model may share
	// prefix tensors across tasks (share-prefix / TF-share model kinds).
	SharesPrefix() bool
}

// ModelProfile is a read-only mapping from batch size to expected forward
// latency, plus a fixed per-task preprocess latency, used by batch assembly
// to predict whether admitting another task would violate a deadline.
type ModelProfile interface {
	ForwardLatency(batchSize int) time.Duration
	PreprocessLatency() time.Duration
}

// ForwardError is returned by ModelInstance.Forward. Permanent indicates the
// model reports an unrecoverable failure (GPU fault, corrupted weights);
// the Executor treats that as fatal. A non-permanent error drops only the
// current batch and leaves the Executor live for the next Execute call.
type ForwardError struct {
	Err       error
	Permanent bool
}

func (e *ForwardError) Error() string { return e.Err.Error() }
func (e *ForwardError) Unwrap() error { return e.Err }
