package stages

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/Sahmey2004/xtern/internal/audit"
	"github.com/Sahmey2004/xtern/internal/llm"
	"github.com/Sahmey2004/xtern/internal/mcp"
	"github.com/Sahmey2004/xtern/internal/pipeline"
	"github.com/Sahmey2004/xtern/internal/rationale"
	"github.com/Sahmey2004/xtern/internal/types"
)

type toolCall struct {
	Provider  mcp.Provider
	Operation string
	Args      map[string]any
}

func (c toolCall) Name() string { return string(c.Provider) + "/" + c.Operation }

type handler func(args map[string]any) (any, error)

// fakeInvoker answers tool calls from handlers keyed by "provider/operation".
type fakeInvoker struct {
	mu       sync.Mutex
	handlers map[string]handler
	calls    []toolCall
}

func (f *fakeInvoker) Invoke(_ context.Context, provider mcp.Provider, operation string, args any) (json.RawMessage, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, toolCall{Provider: provider, Operation: operation, Args: decoded})
	h, ok := f.handlers[string(provider)+"/"+operation]
	f.mu.Unlock()

	if !ok {
		return nil, &mcp.ToolError{Provider: provider, Operation: operation, Text: "unexpected call " + operation}
	}
	v, err := h(decoded)
	if err != nil {
		return nil, err
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func (f *fakeInvoker) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.Name()
	}
	return names
}

func (f *fakeInvoker) callsTo(name string) []toolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []toolCall
	for _, c := range f.calls {
		if c.Name() == name {
			out = append(out, c)
		}
	}
	return out
}

// scriptedLLM answers generation requests from functions of the prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	json    func(prompt string) (string, error)
	text    func(prompt string) (string, error)
	prompts []string
}

func (s *scriptedLLM) GenerateContent(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	s.record(prompt)
	return s.text(prompt)
}

func (s *scriptedLLM) GenerateJSON(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	s.record(prompt)
	return s.json(prompt)
}

func (s *scriptedLLM) GetModel(llm.ModelTier) string { return "scripted" }
func (s *scriptedLLM) Close() error                  { return nil }

func (s *scriptedLLM) record(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
}

func (s *scriptedLLM) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func unreachable() error {
	return &llm.ConnectivityError{Provider: llm.ProviderOpenRouter, Cause: context.DeadlineExceeded}
}

// world is a complete set of stage collaborators with a happy-path script.
type world struct {
	invoker *fakeInvoker
	llm     *scriptedLLM
	sink    *audit.Recorder
}

func newWorld() *world {
	w := &world{
		invoker: &fakeInvoker{handlers: map[string]handler{}},
		llm: &scriptedLLM{
			json: func(prompt string) (string, error) {
				return `{"rationale": "Looks right.", "confidence": 0.9}`, nil
			},
			text: func(string) (string, error) {
				return "Draft PO covering two SKUs in one 20ft container.", nil
			},
		},
		sink: &audit.Recorder{},
	}

	w.invoker.handlers["erp/get_inventory"] = func(map[string]any) (any, error) {
		return map[string]any{"inventory": []map[string]any{
			{"sku": "A", "current_stock": 10, "in_transit": 0, "safety_stock": 20, "products": map[string]any{"name": "Widget", "moq": 50}},
			{"sku": "B", "current_stock": 100, "in_transit": 20, "safety_stock": 30, "products": map[string]any{"name": "Gadget", "moq": 1}},
		}}, nil
	}
	w.invoker.handlers["erp/get_forecasts"] = func(map[string]any) (any, error) {
		return map[string]any{"summary_by_sku": []map[string]any{
			{"sku": "A", "total_forecast": 40},
			{"sku": "B", "total_forecast": 150},
		}}, nil
	}
	w.invoker.handlers["supplier/score_suppliers"] = func(args map[string]any) (any, error) {
		switch args["sku"] {
		case "A":
			return map[string]any{
				"ranked_suppliers": []map[string]any{{"supplier_id": "SUP-1"}, {"supplier_id": "SUP-3"}, {"supplier_id": "SUP-4"}, {"supplier_id": "SUP-5"}},
				"recommended_supplier": map[string]any{
					"supplier_id": "SUP-1", "supplier_name": "Acme", "unit_price": 2.5, "score": 91, "lead_time_days": 14, "moq_fit_pct": 100,
				},
			}, nil
		default:
			return map[string]any{
				"ranked_suppliers": []map[string]any{{"supplier_id": "SUP-2"}},
				"recommended_supplier": map[string]any{
					"supplier_id": "SUP-2", "supplier_name": "Globex", "unit_price": 4.0, "score": 85.5, "lead_time_days": 21,
				},
			}, nil
		}
	}
	w.invoker.handlers["erp/get_products"] = func(map[string]any) (any, error) {
		return map[string]any{"products": []map[string]any{
			{"sku": "A", "unit_weight_kg": 2.0, "unit_cbm": 0.02},
		}}, nil
	}
	w.invoker.handlers["logistics/calculate_container_plan"] = func(map[string]any) (any, error) {
		return map[string]any{
			"recommended_plan": map[string]any{
				"container_type":          "20ft",
				"num_containers":          1,
				"volume_utilisation_pct":  40.5,
				"weight_utilisation_pct":  30.2,
				"binding_utilisation_pct": 40.5,
				"estimated_freight_usd":   1850,
			},
			"total_cbm": 1.6,
		}, nil
	}
	w.invoker.handlers["po/create_draft_po"] = func(map[string]any) (any, error) {
		return map[string]any{"po_number": "PO-20261015-001", "status": "draft"}, nil
	}
	return w
}

func (w *world) deps() Deps {
	return Deps{Invoker: w.invoker, Explainer: rationale.New(w.llm), Audit: w.sink}
}

func newRecord(skus ...string) types.Record {
	return types.NewRecord("run-1", "planner", types.Params{SKUs: skus, HorizonMonths: 3})
}

// recordBefore runs every stage that precedes stage on a fresh record.
func recordBefore(t *testing.T, w *world, stage string) types.Record {
	t.Helper()
	rec := newRecord("A", "B")
	for _, s := range All(w.deps()) {
		if s.Name() == stage {
			return rec
		}
		var outcome pipeline.Outcome
		rec, outcome = s.Run(context.Background(), rec)
		if outcome.Status == pipeline.OutcomeFailure {
			t.Fatalf("%s failed while preparing: %s", s.Name(), outcome.Reason)
		}
	}
	t.Fatalf("unknown stage %s", stage)
	return rec
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
