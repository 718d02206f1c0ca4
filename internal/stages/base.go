// Package stages implements the four purchase-order pipeline stages. Each
// stage calls its tool servers, asks for a rationale, writes exactly one
// decision-log entry and returns the updated record.
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/Sahmey2004/xtern/internal/audit"
	"github.com/Sahmey2004/xtern/internal/mcp"
	"github.com/Sahmey2004/xtern/internal/pipeline"
	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/prompts"
	"github.com/Sahmey2004/xtern/internal/rationale"
	"github.com/Sahmey2004/xtern/internal/types"
)

// Deps are the collaborators shared by every stage.
type Deps struct {
	Invoker   mcp.Invoker
	Explainer rationale.Explainer
	Audit     audit.Sink
	Logger    *zap.Logger
}

// All builds the four stages in pipeline order.
func All(deps Deps) []pipeline.Stage {
	return []pipeline.Stage{
		NewDemand(deps),
		NewSelection(deps),
		NewContainer(deps),
		NewCompiler(deps),
	}
}

type base struct {
	def    steps.StepDefinition
	deps   Deps
	logger *zap.Logger
}

func newBase(name string, deps Deps) base {
	def, ok := steps.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("stage %s is not registered", name))
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		def:    def,
		deps:   deps,
		logger: logger.With(zap.String("component", "stage"), zap.String("stage", name)),
	}
}

// Name implements pipeline.Stage.
func (b base) Name() string { return b.def.Name }

// report is what a stage hands to fail or succeed: the activity summary
// plus the decision-log payload.
type report struct {
	Summary    string
	Confidence *float64
	LLMUsed    bool
	LLMError   string
	Details    map[string]any
	Inputs     map[string]any
	Output     any
	PONumber   string
}

// call invokes a tool and decodes its payload into out.
func (b base) call(ctx context.Context, provider mcp.Provider, operation string, args any, out any) error {
	raw, err := b.deps.Invoker.Invoke(ctx, provider, operation, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s/%s result: %w", provider, operation, err)
	}
	return nil
}

func (b base) activity(status types.ActivityStatus, summary string, r report) types.Activity {
	a := types.Activity{
		Status:     status,
		Summary:    summary,
		Confidence: r.Confidence,
		LLMUsed:    r.LLMUsed,
		Details:    r.Details,
	}
	if r.LLMError != "" {
		llmErr := r.LLMError
		a.LLMError = &llmErr
	}
	if a.Details == nil {
		a.Details = map[string]any{}
	}
	return a
}

func (b base) entry(rec types.Record, status audit.Status, text string, r report) audit.Entry {
	return audit.Entry{
		RunID:      rec.RunID,
		PONumber:   r.PONumber,
		StageName:  b.def.AuditName,
		Inputs:     r.Inputs,
		Output:     r.Output,
		Confidence: r.Confidence,
		Rationale:  text,
		Status:     status,
	}
}

// fail records msg as the active error, keeps whatever namespace the caller
// already wrote, and writes one failed decision-log entry.
func (b base) fail(ctx context.Context, rec types.Record, msg string, r report) (types.Record, pipeline.Outcome) {
	rec.CurrentStage = b.def.Name
	rec.Error = &msg
	rec.Activity = rec.WithActivity(b.def.AuditName, b.activity(types.ActivityFailed, msg, r))

	if r.Output == nil {
		r.Output = map[string]any{"error": msg}
	}
	if err := b.deps.Audit.LogDecision(ctx, b.entry(rec, audit.StatusFailed, msg, r)); err != nil {
		b.logger.Warn("failed to log stage failure",
			zap.String("run_id", rec.RunID),
			zap.Error(err),
		)
	}

	b.logger.Warn("stage failed",
		zap.String("run_id", rec.RunID),
		zap.String("error", msg),
	)
	return rec, pipeline.Failure(msg)
}

// succeed clears the error and writes the decision-log entry. A log write
// failure turns the stage into a failure with its outputs kept.
func (b base) succeed(ctx context.Context, rec types.Record, r report, outcome pipeline.Outcome) (types.Record, pipeline.Outcome) {
	rec.CurrentStage = b.def.Name

	if err := b.deps.Audit.LogDecision(ctx, b.entry(rec, audit.StatusCompleted, r.Summary, r)); err != nil {
		msg := fmt.Sprintf("%s could not write decision log: %v", b.def.AuditName, err)
		rec.Error = &msg
		rec.Activity = rec.WithActivity(b.def.AuditName, b.activity(types.ActivityFailed, msg, r))
		b.logger.Warn("stage failed",
			zap.String("run_id", rec.RunID),
			zap.String("error", msg),
		)
		return rec, pipeline.Failure(msg)
	}

	rec.Error = nil
	rec.Activity = rec.WithActivity(b.def.AuditName, b.activity(types.ActivityCompleted, r.Summary, r))

	b.logger.Info("stage completed",
		zap.String("run_id", rec.RunID),
		zap.String("outcome", string(outcome.Status)),
		zap.Bool("llm_used", r.LLMUsed),
	)
	return rec, outcome
}

// generatorFailure splits a rationale error into the stage error message
// and the llm_error detail.
func (b base) generatorFailure(err error) (string, string) {
	var unreachable *rationale.UnreachableError
	if errors.As(err, &unreachable) {
		cause := unreachable.Error()
		if unreachable.Cause != nil {
			cause = unreachable.Cause.Error()
		}
		return unreachable.Error(), cause
	}
	return fmt.Sprintf("%s rationale failed: %v", b.def.AuditName, err), err.Error()
}

func (b base) explain(ctx context.Context, key string, data map[string]string, fallback string, confidence float64) (rationale.Result, error) {
	return b.deps.Explainer.Explain(ctx, rationale.Request{
		Stage:             b.def.AuditName,
		Prompt:            prompts.Format(prompts.MustGet(prompts.RationaleFile, key), data),
		Fallback:          fallback,
		DefaultConfidence: confidence,
	})
}

// indentJSON renders v the way it is shown to the model.
func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr[T any](v T) *T { return &v }
