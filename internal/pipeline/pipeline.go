package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/types"
)

// Observer is notified around each stage. Implementations must not block.
// The context OnStageStart returns is the one the stage runs with.
type Observer interface {
	OnStageStart(ctx context.Context, stage string, rec types.Record) context.Context
	OnStageEnd(ctx context.Context, stage string, rec types.Record, outcome Outcome, elapsed time.Duration)
}

// StageTrace is one traversed stage.
type StageTrace struct {
	Stage    string
	Outcome  Outcome
	Duration time.Duration
}

// Trace lists the stages a run traversed and why it stopped.
type Trace struct {
	Steps  []StageTrace
	Reason TerminationReason
}

// Stages returns the traversed stage names in order.
func (t Trace) Stages() []string {
	names := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		names[i] = s.Stage
	}
	return names
}

// Pipeline holds the stages. It has no per-run state, so one Pipeline may
// serve concurrent runs.
type Pipeline struct {
	stages map[string]Stage
	first  string
	logger *zap.Logger
}

// New builds a Pipeline. The stages must be given in the registry order.
func New(stages ...Stage) (*Pipeline, error) {
	names := make([]string, len(stages))
	byName := make(map[string]Stage, len(stages))
	for i, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("stage %d is nil", i)
		}
		names[i] = s.Name()
		byName[s.Name()] = s
	}
	if err := steps.ValidateOrder(names); err != nil {
		return nil, err
	}
	return &Pipeline{stages: byName, first: steps.Order[0], logger: zap.NewNop()}, nil
}

// WithLogger returns a copy of p that logs to l.
func (p *Pipeline) WithLogger(l *zap.Logger) *Pipeline {
	cp := *p
	cp.logger = l.With(zap.String("component", "pipeline"))
	return &cp
}

// Run executes stages from the first until the router terminates.
func (p *Pipeline) Run(ctx context.Context, rec types.Record, observers ...Observer) (types.Record, Trace) {
	var trace Trace
	current := p.first

	for range len(steps.Order) {
		stage, ok := p.stages[current]
		if !ok {
			trace.Reason = ReasonUnknownStage
			return rec, trace
		}

		if err := ctx.Err(); err != nil {
			msg := fmt.Sprintf("pipeline cancelled before %s: %v", current, err)
			rec.Error = &msg
			trace.Reason = ReasonError
			p.logger.Warn("run cancelled", zap.String("run_id", rec.RunID), zap.String("stage", current))
			return rec, trace
		}

		stageCtx := ctx
		for _, o := range observers {
			if c := o.OnStageStart(stageCtx, current, rec); c != nil {
				stageCtx = c
			}
		}

		start := time.Now()
		out, outcome := stage.Run(stageCtx, rec)
		elapsed := time.Since(start)
		rec = out

		trace.Steps = append(trace.Steps, StageTrace{Stage: current, Outcome: outcome, Duration: elapsed})
		for _, o := range observers {
			o.OnStageEnd(stageCtx, current, rec, outcome, elapsed)
		}

		p.logger.Debug("stage finished",
			zap.String("run_id", rec.RunID),
			zap.String("stage", current),
			zap.String("outcome", string(outcome.Status)),
			zap.Duration("elapsed", elapsed),
		)

		decision := Route(rec, current)
		if decision.Terminate {
			trace.Reason = decision.Reason
			return rec, trace
		}
		current = decision.Next
	}

	trace.Reason = ReasonFinal
	return rec, trace
}
