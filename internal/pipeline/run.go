package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Sahmey2004/xtern/internal/db"
	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/schemas"
	"github.com/Sahmey2004/xtern/internal/types"
	recordschema "github.com/Sahmey2004/xtern/schemas"
)

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	RunID    string    `json:"run_id"`
	Step     string    `json:"step"`
	Category string    `json:"category"`
	Phase    string    `json:"phase"`
	Status   string    `json:"status,omitempty"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Progress phases
const (
	PhaseStarted  = "started"
	PhaseFinished = "finished"
)

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// RunOptions holds the caller's parameters for one run
type RunOptions struct {
	SKUs          []string
	TriggeredBy   string
	HorizonMonths int
	OnProgress    ProgressCallback
}

// RunStore mirrors runs and their stages. Failures are logged, never fatal.
type RunStore interface {
	CreateRun(ctx context.Context, input db.RunInput) error
	CreateRunStep(ctx context.Context, runID uuid.UUID, input *db.RunStepInput) (*db.RunStep, error)
	UpdateRunStepStatus(ctx context.Context, runID uuid.UUID, stepName string, update db.StepUpdate) error
	CompleteRun(ctx context.Context, runID uuid.UUID, c db.RunCompletion) error
}

// Metrics receives run and stage measurements.
type Metrics interface {
	RecordRun(status string)
	RecordStage(stage, status string, d time.Duration)
}

// InvalidInputError is the only error Runner.Run returns.
type InvalidInputError struct {
	Cause error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid run request: %v", e.Cause)
}

func (e *InvalidInputError) Unwrap() error {
	return e.Cause
}

// Runner is the run entry point: it builds the initial record, drives the
// pipeline, and reports the terminal state.
type Runner struct {
	pipeline *Pipeline
	store    RunStore
	metrics  Metrics
	tracer   trace.Tracer
	logger   *zap.Logger
	newID    func() string
	validate bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore mirrors runs to store.
func WithStore(store RunStore) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithMetrics records run and stage metrics.
func WithMetrics(m Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithRunLogger sets the logger.
func WithRunLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(f func() string) RunnerOption {
	return func(r *Runner) { r.newID = f }
}

// WithRecordValidation checks every final record against record.schema.json.
// Mismatches are logged; the record is still returned.
func WithRecordValidation() RunnerOption {
	return func(r *Runner) { r.validate = true }
}

// ValidateRecord checks rec's wire form against record.schema.json.
func ValidateRecord(rec types.Record) error {
	return schemas.ValidateValue(recordschema.Record(), rec)
}

// NewRunner creates a Runner over p.
func NewRunner(p *Pipeline, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipeline: p,
		tracer:   otel.Tracer("xtern/pipeline"),
		logger:   zap.NewNop(),
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "runner"))
	r.pipeline = r.pipeline.WithLogger(r.logger)
	return r
}

// Run executes one pipeline run. The returned error is non-nil only for
// invalid input; pipeline failures are reported in the record's Error.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (types.Record, error) {
	req := types.RunRequest{SKUs: opts.SKUs, TriggeredBy: opts.TriggeredBy, HorizonMonths: opts.HorizonMonths}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return types.Record{}, &InvalidInputError{Cause: err}
	}

	rec := types.NewRecord(r.newID(), req.TriggeredBy, types.Params{SKUs: req.SKUs, HorizonMonths: req.HorizonMonths})

	ctx, span := r.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", rec.RunID),
		attribute.String("run.triggered_by", rec.TriggeredBy),
		attribute.Int("run.sku_count", len(rec.Params.SKUs)),
		attribute.Int("run.horizon_months", rec.Params.HorizonMonths),
	)

	logger := r.logger.With(zap.String("run_id", rec.RunID))
	logger.Info("run started",
		zap.String("triggered_by", rec.TriggeredBy),
		zap.Strings("skus", rec.Params.SKUs),
		zap.Int("horizon_months", rec.Params.HorizonMonths),
	)

	runUUID, idErr := uuid.Parse(rec.RunID)
	store := r.store
	if store != nil && idErr != nil {
		logger.Warn("run id is not a uuid, skipping database mirror", zap.Error(idErr))
		store = nil
	}
	if store != nil {
		if err := store.CreateRun(ctx, db.RunInput{
			ID:            runUUID,
			TriggeredBy:   rec.TriggeredBy,
			SKUs:          rec.Params.SKUs,
			HorizonMonths: rec.Params.HorizonMonths,
		}); err != nil {
			logger.Warn("failed to mirror run start", zap.Error(err))
			store = nil
		}
	}

	obs := &runObserver{
		runID:      runUUID,
		store:      store,
		metrics:    r.metrics,
		tracer:     r.tracer,
		logger:     logger,
		onProgress: opts.OnProgress,
		spans:      map[string]trace.Span{},
	}

	final, tr := r.pipeline.Run(ctx, rec, obs)
	final.Status = TerminalStatus(final, tr.Reason)

	span.SetAttributes(
		attribute.String("run.status", string(final.Status)),
		attribute.String("run.termination", string(tr.Reason)),
	)
	if final.HasError() {
		span.SetStatus(codes.Error, final.ErrorMessage())
	}

	if r.metrics != nil {
		r.metrics.RecordRun(string(final.Status))
	}

	if store != nil {
		if err := store.CompleteRun(ctx, runUUID, completionFor(final)); err != nil {
			logger.Warn("failed to mirror run completion", zap.Error(err))
		}
	}

	if r.validate {
		if err := ValidateRecord(final); err != nil {
			var verr *schemas.ValidationError
			if errors.As(err, &verr) {
				logger.Error("run record does not match schema", zap.String("violations", verr.Summary()))
			} else {
				logger.Error("run record validation failed", zap.Error(err))
			}
		}
	}

	fields := []zap.Field{
		zap.String("status", string(final.Status)),
		zap.String("termination", string(tr.Reason)),
		zap.Strings("stages", tr.Stages()),
	}
	if final.HasError() {
		logger.Warn("run finished with error", append(fields, zap.String("error", final.ErrorMessage()))...)
	} else {
		logger.Info("run finished", fields...)
	}

	return final, nil
}

// TerminalStatus derives the run status from the final record and the
// router's termination reason.
func TerminalStatus(rec types.Record, reason TerminationReason) types.RunStatus {
	switch {
	case rec.HasError():
		return types.RunStatusFailed
	case reason == ReasonEmpty:
		return types.RunStatusHaltedEmpty
	case reason == ReasonFinal:
		return types.RunStatusCompleted
	default:
		return types.RunStatusFailed
	}
}

func completionFor(rec types.Record) db.RunCompletion {
	c := db.RunCompletion{
		Status:       string(rec.Status),
		ErrorMessage: rec.Error,
		Record:       rec,
	}
	if rec.Compilation != nil && rec.Compilation.PONumber != "" {
		po := rec.Compilation.PONumber
		total := rec.Compilation.TotalUSD
		c.PONumber = &po
		c.TotalUSD = &total
	}
	return c
}

// runObserver fans stage events out to progress, metrics, tracing and the
// database mirror for a single run.
type runObserver struct {
	runID      uuid.UUID
	store      RunStore
	metrics    Metrics
	tracer     trace.Tracer
	logger     *zap.Logger
	onProgress ProgressCallback
	spans      map[string]trace.Span
}

func (o *runObserver) OnStageStart(ctx context.Context, stage string, rec types.Record) context.Context {
	def, _ := steps.Lookup(stage)

	ctx, span := o.tracer.Start(ctx, "stage."+stage)
	span.SetAttributes(attribute.String("run.id", rec.RunID), attribute.String("stage.name", stage))
	o.spans[stage] = span

	if o.store != nil {
		if _, err := o.store.CreateRunStep(ctx, o.runID, &db.RunStepInput{
			Step:     stage,
			Category: def.Category,
			Status:   db.StepStatusInProgress,
		}); err != nil {
			o.logger.Warn("failed to mirror stage start", zap.String("stage", stage), zap.Error(err))
		}
	}

	o.emit(ProgressEvent{
		RunID:    rec.RunID,
		Step:     stage,
		Category: def.Category,
		Phase:    PhaseStarted,
		Message:  fmt.Sprintf("%s started", def.AuditName),
	})
	return ctx
}

func (o *runObserver) OnStageEnd(ctx context.Context, stage string, rec types.Record, outcome Outcome, elapsed time.Duration) {
	def, _ := steps.Lookup(stage)

	if span, ok := o.spans[stage]; ok {
		span.SetAttributes(attribute.String("stage.outcome", string(outcome.Status)))
		if outcome.Status == OutcomeFailure {
			span.RecordError(errors.New(outcome.Reason))
			span.SetStatus(codes.Error, outcome.Reason)
		}
		span.End()
		delete(o.spans, stage)
	}

	if o.metrics != nil {
		o.metrics.RecordStage(stage, string(outcome.Status), elapsed)
	}

	summary := ""
	if a, ok := rec.Activity[def.AuditName]; ok {
		summary = a.Summary
	}

	if o.store != nil {
		update := db.StepUpdate{Status: db.StepStatusCompleted}
		if outcome.Status == OutcomeFailure {
			update.Status = db.StepStatusFailed
			update.ErrorMessage = rec.Error
		}
		if a, ok := rec.Activity[def.AuditName]; ok && a.Details != nil {
			update.Parameters = a.Details
		}
		if err := o.store.UpdateRunStepStatus(ctx, o.runID, stage, update); err != nil {
			o.logger.Warn("failed to mirror stage end", zap.String("stage", stage), zap.Error(err))
		}
	}

	o.emit(ProgressEvent{
		RunID:    rec.RunID,
		Step:     stage,
		Category: def.Category,
		Phase:    PhaseFinished,
		Status:   string(outcome.Status),
		Message:  summary,
	})
}

func (o *runObserver) emit(e ProgressEvent) {
	if o.onProgress == nil {
		return
	}
	e.Time = time.Now()
	o.onProgress(e)
}
