package azure_blob

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dengwxn/nexus/internal/metrics"
	"github.com/dengwxn/nexus/pkg/trace"
)

// DecisionSink batches trace.DecisionRecord values as newline-delimited JSON
// and writes them through an Output in block mode, the same batching shape
// the log pipeline used for its Event stream.
type DecisionSink struct {
	output *Output
	log    *zap.Logger
}

// NewDecisionSink builds an Output from cfg and wraps it for decision
// records. The caller must call Start before Write and Stop on shutdown.
func NewDecisionSink(cfg *Config, log *zap.Logger) (*DecisionSink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.Format = "jsonl"
	out, err := NewOutput(cfg, log.With(zap.String("sink", "azure_blob")))
	if err != nil {
		return nil, fmt.Errorf("build azure blob decision sink: %w", err)
	}
	return &DecisionSink{output: out, log: log}, nil
}

// Start opens the underlying output's flush timer and recovery loop.
func (s *DecisionSink) Start() error { return s.output.Start() }

// Stop flushes any pending batch and stops the underlying output.
func (s *DecisionSink) Stop() error { return s.output.Stop() }

// Write encodes rec as a jsonl Event and hands it to the block-mode writer.
// Failures are counted but never returned to the caller as fatal — trace
// delivery is best-effort observability, not something the dispatcher or
// executor blocks on.
func (s *DecisionSink) Write(rec trace.DecisionRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.log.Error("marshal decision record", zap.Error(err))
		metrics.TraceSinkFailures.WithLabelValues("azure_blob").Inc()
		return
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		s.log.Error("decode decision record fields", zap.Error(err))
		metrics.TraceSinkFailures.WithLabelValues("azure_blob").Inc()
		return
	}
	event := &Event{
		Timestamp: time.Now(),
		Source:    rec.ModelSessionID,
		Data:      fields,
		Raw:       data,
	}
	if err := s.output.Write(event); err != nil {
		s.log.Warn("write decision record to azure blob sink", zap.Error(err))
		metrics.TraceSinkFailures.WithLabelValues("azure_blob").Inc()
		return
	}
	metrics.TraceSinkFlushed.WithLabelValues("azure_blob").Inc()
}
