package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Sahmey2004/xtern/internal/db"
	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/types"
)

const fixedRunID = "4f1c2a3e-8d7b-4c21-9a55-0e6f3b2d1c9a"

type fakeStore struct {
	mu          sync.Mutex
	createErr   error
	created     []db.RunInput
	steps       []db.RunStepInput
	updates     map[string]db.StepUpdate
	completions []db.RunCompletion
}

func newFakeStore() *fakeStore {
	return &fakeStore{updates: map[string]db.StepUpdate{}}
}

func (s *fakeStore) CreateRun(_ context.Context, input db.RunInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, input)
	return nil
}

func (s *fakeStore) CreateRunStep(_ context.Context, runID uuid.UUID, input *db.RunStepInput) (*db.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, *input)
	return &db.RunStep{RunID: runID, Step: input.Step, Status: input.Status}, nil
}

func (s *fakeStore) UpdateRunStepStatus(_ context.Context, _ uuid.UUID, stepName string, update db.StepUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[stepName] = update
	return nil
}

func (s *fakeStore) CompleteRun(_ context.Context, _ uuid.UUID, c db.RunCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, c)
	return nil
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created) + len(s.steps) + len(s.updates) + len(s.completions)
}

type fakeMetrics struct {
	runs   []string
	stages []string
}

func (m *fakeMetrics) RecordRun(status string) { m.runs = append(m.runs, status) }

func (m *fakeMetrics) RecordStage(stage, status string, _ time.Duration) {
	m.stages = append(m.stages, stage+":"+status)
}

func newTestRunner(t *testing.T, f *fixture, opts ...RunnerOption) *Runner {
	t.Helper()
	opts = append([]RunnerOption{WithIDGenerator(func() string { return fixedRunID })}, opts...)
	return NewRunner(f.pipeline(t), opts...)
}

func TestRunner_InvalidInput(t *testing.T) {
	store := newFakeStore()
	r := newTestRunner(t, newFixture(), WithStore(store))

	_, err := r.Run(context.Background(), RunOptions{HorizonMonths: 30})

	var invalid *InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "invalid run request")
	assert.Zero(t, store.calls())
}

func TestRunner_AppliesDefaults(t *testing.T) {
	f := newFixture()
	r := newTestRunner(t, f)

	final, err := r.Run(context.Background(), RunOptions{SKUs: []string{" A ", "", "B"}})
	require.NoError(t, err)

	assert.Equal(t, fixedRunID, final.RunID)
	assert.Equal(t, types.DefaultTriggeredBy, final.TriggeredBy)
	assert.Equal(t, types.DefaultHorizonMonths, final.Params.HorizonMonths)
	assert.Equal(t, []string{"A", "B"}, final.Params.SKUs)
}

func TestRunner_HappyPathMirrorsAndReports(t *testing.T) {
	f := newFixture()
	store := newFakeStore()
	m := &fakeMetrics{}
	var events []ProgressEvent
	r := newTestRunner(t, f, WithStore(store), WithMetrics(m))

	final, err := r.Run(context.Background(), RunOptions{
		SKUs:          []string{"A", "B"},
		TriggeredBy:   "alice",
		HorizonMonths: 6,
		OnProgress:    func(e ProgressEvent) { events = append(events, e) },
	})
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusCompleted, final.Status)

	require.Len(t, store.created, 1)
	assert.Equal(t, uuid.MustParse(fixedRunID), store.created[0].ID)
	assert.Equal(t, "alice", store.created[0].TriggeredBy)
	assert.Equal(t, 6, store.created[0].HorizonMonths)

	require.Len(t, store.steps, 4)
	for i, s := range store.steps {
		assert.Equal(t, steps.Order[i], s.Step)
		assert.Equal(t, db.StepStatusInProgress, s.Status)
	}
	for _, name := range steps.Order {
		assert.Equal(t, db.StepStatusCompleted, store.updates[name].Status, name)
	}

	require.Len(t, store.completions, 1)
	c := store.completions[0]
	assert.Equal(t, string(types.RunStatusCompleted), c.Status)
	require.NotNil(t, c.PONumber)
	assert.Equal(t, "PO-2026-0001", *c.PONumber)
	require.NotNil(t, c.TotalUSD)
	assert.InDelta(t, 120.0, *c.TotalUSD, 1e-9)

	assert.Equal(t, []string{"completed"}, m.runs)
	assert.Len(t, m.stages, 4)

	require.Len(t, events, 8)
	assert.Equal(t, PhaseStarted, events[0].Phase)
	assert.Equal(t, steps.DemandAnalyst, events[0].Step)
	assert.Equal(t, db.StepCategoryDemand, events[0].Category)
	assert.Equal(t, PhaseFinished, events[7].Phase)
	assert.Equal(t, steps.POCompiler, events[7].Step)
	assert.Equal(t, string(OutcomeSuccess), events[7].Status)
	for _, e := range events {
		assert.Equal(t, fixedRunID, e.RunID)
		assert.False(t, e.Time.IsZero())
	}
}

func TestRunner_StagesRunInsideTheirSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture()
	r := newTestRunner(t, f, WithTracer(tp.Tracer("test")))

	_, err := r.Run(context.Background(), RunOptions{SKUs: []string{"A", "B"}})
	require.NoError(t, err)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range recorder.Ended() {
		byName[s.Name()] = s
	}
	root, ok := byName["pipeline.run"]
	require.True(t, ok)

	for _, stage := range []*scriptedStage{f.demand, f.selection, f.container, f.compiler} {
		span, ok := byName["stage."+stage.name]
		require.True(t, ok, stage.name)
		assert.Equal(t, root.SpanContext().SpanID(), span.Parent().SpanID(), stage.name)

		require.Len(t, stage.spans, 1, stage.name)
		assert.Equal(t, span.SpanContext().SpanID(), stage.spans[0].SpanID(), stage.name)
	}
}

func TestRunner_RecordValidation(t *testing.T) {
	t.Run("conforming record logs nothing", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		r := newTestRunner(t, newFixture(), WithRecordValidation(), WithRunLogger(zap.New(core)))

		final, err := r.Run(context.Background(), RunOptions{SKUs: []string{"A", "B"}})
		require.NoError(t, err)
		require.NoError(t, ValidateRecord(final))
		assert.Zero(t, logs.Len())
	})

	t.Run("negative total is reported", func(t *testing.T) {
		f := newFixture()
		f.compiler.fn = succeedWith(func(r *types.Record) {
			r.Compilation = &types.CompilationOutput{PONumber: "PO-2026-0002", TotalUSD: -5}
		})
		core, logs := observer.New(zapcore.ErrorLevel)
		r := newTestRunner(t, f, WithRecordValidation(), WithRunLogger(zap.New(core)))

		final, err := r.Run(context.Background(), RunOptions{SKUs: []string{"A", "B"}})
		require.NoError(t, err)
		assert.Equal(t, types.RunStatusCompleted, final.Status)

		entries := logs.FilterMessage("run record does not match schema").All()
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].ContextMap()["violations"], "po_total_usd")
	})
}

func TestRunner_FailedStageMirrorsError(t *testing.T) {
	f := newFixture()
	f.container.fn = failWith("ContainerOptimizer could not calculate a container plan: exit status 1")
	store := newFakeStore()
	r := newTestRunner(t, f, WithStore(store))

	final, err := r.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusFailed, final.Status)
	update := store.updates[steps.ContainerOptimizer]
	assert.Equal(t, db.StepStatusFailed, update.Status)
	require.NotNil(t, update.ErrorMessage)
	assert.Contains(t, *update.ErrorMessage, "container plan")

	require.Len(t, store.completions, 1)
	assert.Nil(t, store.completions[0].PONumber)
	require.NotNil(t, store.completions[0].ErrorMessage)
}

func TestRunner_EmptyRunIsHalted(t *testing.T) {
	f := newFixture()
	f.demand.fn = func(rec types.Record) (types.Record, Outcome) {
		rec.Demand = &types.DemandOutput{Complete: true}
		return rec, Empty("no SKUs need replenishment")
	}
	m := &fakeMetrics{}
	r := newTestRunner(t, f, WithMetrics(m))

	final, err := r.Run(context.Background(), RunOptions{SKUs: []string{"A", "B"}, HorizonMonths: 3})
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusHaltedEmpty, final.Status)
	assert.Nil(t, final.Error)
	assert.Equal(t, []string{"halted_empty"}, m.runs)
	assert.Equal(t, []string{"demand_analyst:empty"}, m.stages)
}

func TestRunner_StoreFailuresAreNotFatal(t *testing.T) {
	t.Run("create fails", func(t *testing.T) {
		store := newFakeStore()
		store.createErr = errors.New("connection refused")
		r := newTestRunner(t, newFixture(), WithStore(store))

		final, err := r.Run(context.Background(), RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, types.RunStatusCompleted, final.Status)
		assert.Zero(t, store.calls())
	})

	t.Run("non-uuid run id skips the mirror", func(t *testing.T) {
		store := newFakeStore()
		r := NewRunner(newFixture().pipeline(t), WithStore(store), WithIDGenerator(func() string { return "run-1" }))

		final, err := r.Run(context.Background(), RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, "run-1", final.RunID)
		assert.Zero(t, store.calls())
	})
}

func TestRunner_GeneratesFreshIDs(t *testing.T) {
	r := NewRunner(newFixture().pipeline(t))

	a, err := r.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	b, err := r.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	_, err = uuid.Parse(a.RunID)
	assert.NoError(t, err)
}

func TestTerminalStatus(t *testing.T) {
	ok := types.NewRecord("r", "planner", types.Params{})
	failed := withError(ok)

	assert.Equal(t, types.RunStatusCompleted, TerminalStatus(ok, ReasonFinal))
	assert.Equal(t, types.RunStatusHaltedEmpty, TerminalStatus(ok, ReasonEmpty))
	assert.Equal(t, types.RunStatusFailed, TerminalStatus(failed, ReasonError))
	assert.Equal(t, types.RunStatusFailed, TerminalStatus(failed, ReasonFinal))
	assert.Equal(t, types.RunStatusFailed, TerminalStatus(ok, ReasonUnknownStage))
}

func TestSummarize(t *testing.T) {
	f := newFixture()
	r := newTestRunner(t, f)

	final, err := r.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	s := Summarize(final)

	assert.Equal(t, SummaryCompleted, s.Status)
	assert.Equal(t, fixedRunID, s.RunID)
	require.NotNil(t, s.PONumber)
	assert.Equal(t, "PO-2026-0001", *s.PONumber)
	require.NotNil(t, s.POTotalUSD)
	assert.InDelta(t, 120.0, *s.POTotalUSD, 1e-9)
	assert.Equal(t, 2, s.NetRequirementsCount)
	assert.Equal(t, 2, s.SupplierSelectionsCount)
	require.NotNil(t, s.ContainerPlan)
	assert.Equal(t, "20ft", s.ContainerPlan.ContainerType)
	assert.Equal(t, types.ApprovalPending, s.ApprovalStatus)
	assert.Equal(t, types.RunStatusCompleted, s.RunStatus)
	assert.Nil(t, s.Error)

	failed := Summarize(withError(types.NewRecord("r", "planner", types.Params{})))
	assert.Equal(t, SummaryError, failed.Status)
	assert.Nil(t, failed.PONumber)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "boom", *failed.Error)
}
