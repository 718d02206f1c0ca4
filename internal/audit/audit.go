// Package audit records one decision entry per stage execution.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Sahmey2004/xtern/internal/mcp"
)

// Status marks whether the audited stage succeeded.
type Status string

// Entry states
const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one decision record.
type Entry struct {
	RunID      string
	PONumber   string
	StageName  string
	Inputs     map[string]any
	Output     any
	Confidence *float64
	Rationale  string
	Status     Status
}

// Sink persists decision entries.
type Sink interface {
	LogDecision(ctx context.Context, e Entry) error
}

// SinkError wraps a failure to persist an entry.
type SinkError struct {
	StageName string
	Cause     error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("audit log for %s failed: %v", e.StageName, e.Cause)
}

func (e *SinkError) Unwrap() error {
	return e.Cause
}

// MCPSink writes entries through the po/log_decision tool.
type MCPSink struct {
	invoker mcp.Invoker
	logger  *zap.Logger
}

// NewMCPSink creates a sink over invoker.
func NewMCPSink(invoker mcp.Invoker, logger *zap.Logger) *MCPSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MCPSink{invoker: invoker, logger: logger.With(zap.String("component", "audit"))}
}

// Arguments builds the tool arguments for e.
func Arguments(e Entry) map[string]any {
	inputs := e.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	args := map[string]any{
		"run_id":     e.RunID,
		"agent_name": e.StageName,
		"inputs":     inputs,
		"output":     e.Output,
		"confidence": e.Confidence,
		"rationale":  e.Rationale,
	}
	if e.Output == nil {
		args["output"] = map[string]any{}
	}
	if e.PONumber != "" {
		args["po_number"] = e.PONumber
	}
	return args
}

// LogDecision implements Sink.
func (s *MCPSink) LogDecision(ctx context.Context, e Entry) error {
	if _, err := s.invoker.Invoke(ctx, mcp.ProviderPO, "log_decision", Arguments(e)); err != nil {
		s.logger.Warn("decision log write failed",
			zap.String("run_id", e.RunID),
			zap.String("stage", e.StageName),
			zap.Error(err),
		)
		return &SinkError{StageName: e.StageName, Cause: err}
	}
	s.logger.Debug("decision logged",
		zap.String("run_id", e.RunID),
		zap.String("stage", e.StageName),
		zap.String("status", string(e.Status)),
	)
	return nil
}

// Recorder is an in-memory Sink.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	// Err, when set, is returned by every LogDecision call after recording.
	Err error
}

// LogDecision implements Sink.
func (r *Recorder) LogDecision(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, cloneEntry(e))
	return r.Err
}

// Entries returns a copy of the recorded entries in write order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// StageNames returns the stage name of each entry in write order.
func (r *Recorder) StageNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.StageName
	}
	return names
}

// ForRun returns the entries written for runID.
func (r *Recorder) ForRun(runID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// CheckOrder returns an error unless the stage names recorded for runID
// are exactly want, in order.
func (r *Recorder) CheckOrder(runID string, want []string) error {
	entries := r.ForRun(runID)
	if len(entries) != len(want) {
		return fmt.Errorf("run %s: got %d audit entries, want %d", runID, len(entries), len(want))
	}
	for i, e := range entries {
		if e.StageName != want[i] {
			return fmt.Errorf("run %s: audit entry %d is %s, want %s", runID, i, e.StageName, want[i])
		}
	}
	return nil
}

// cloneEntry detaches e from caller-owned maps via a JSON round trip so later
// mutation of the record does not change what was audited.
func cloneEntry(e Entry) Entry {
	if data, err := json.Marshal(e.Inputs); err == nil {
		var inputs map[string]any
		if json.Unmarshal(data, &inputs) == nil {
			e.Inputs = inputs
		}
	}
	if data, err := json.Marshal(e.Output); err == nil {
		var output any
		if json.Unmarshal(data, &output) == nil {
			e.Output = output
		}
	}
	return e
}
