package stages

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sahmey2004/xtern/internal/audit"
	"github.com/Sahmey2004/xtern/internal/mcp"
	"github.com/Sahmey2004/xtern/internal/pipeline"
	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/types"
)

func TestContainerFallback(t *testing.T) {
	assert.Equal(t,
		"2x 40ft container(s) at 85% utilisation, est. $4,250 freight.",
		ContainerFallback(types.ContainerPlan{ContainerType: "40ft", NumContainers: 2, BindingUtilisationPct: 84.6, EstimatedFreightUSD: 4250}),
	)
	assert.Equal(t,
		"1x 40ft container(s) at 0% utilisation, est. $0 freight.",
		ContainerFallback(types.ContainerPlan{}),
	)
}

func TestLineItems(t *testing.T) {
	weight, cbm := 2.0, 0.02
	selections := []types.Selection{
		{SKU: "A", SupplierID: strPtr("SUP-1"), NetQty: 50, UnitPrice: 2.5, Rationale: "r1"},
		{SKU: "B", SupplierID: strPtr("SUP-2"), NetQty: 60, UnitPrice: 4},
	}

	shipment, items := LineItems(selections, []types.Product{{SKU: "A", UnitWeightKg: &weight, UnitCBM: &cbm}})

	assert.Equal(t, []types.ShipmentLine{
		{SKU: "A", Qty: 50, UnitWeightKg: 2.0, UnitCBM: 0.02},
		{SKU: "B", Qty: 60, UnitWeightKg: types.DefaultUnitWeightKg, UnitCBM: types.DefaultUnitCBM},
	}, shipment)
	assert.Equal(t, []types.OrderLineItem{
		{SKU: "A", SupplierID: "SUP-1", Qty: 50, UnitPrice: 2.5, Rationale: "r1"},
		{SKU: "B", SupplierID: "SUP-2", Qty: 60, UnitPrice: 4},
	}, items)
}

func strPtr(s string) *string { return &s }

func TestContainer_Success(t *testing.T) {
	w := newWorld()
	rec := recordBefore(t, w, steps.ContainerOptimizer)
	w.sink = &audit.Recorder{}

	out, outcome := NewContainer(w.deps()).Run(context.Background(), rec)

	assert.Equal(t, pipeline.OutcomeSuccess, outcome.Status)
	assert.Nil(t, out.Error)
	require.NotNil(t, out.Container)
	assert.Len(t, out.Container.OrderLineItems, 2)
	require.NotNil(t, out.Container.Plan)
	assert.Equal(t, "20ft", out.Container.Plan.ContainerType)
	require.NotNil(t, out.Container.TotalCBM)
	assert.InDelta(t, 1.6, *out.Container.TotalCBM, 1e-9)

	plan := w.invoker.callsTo("logistics/calculate_container_plan")
	require.Len(t, plan, 1)
	assert.Equal(t, "auto", plan[0].Args["preferred_container_type"])
	lines := plan[0].Args["line_items"].([]any)
	require.Len(t, lines, 2)
	assert.EqualValues(t, 1.0, lines[1].(map[string]any)["unit_weight_kg"])

	prompt := w.llm.prompts[len(w.llm.prompts)-1]
	assert.True(t, containsAll(prompt, "Container type: 20ft", "Count: 1", "Volume utilisation: 40.5%", "Estimated freight: $1,850"), prompt)

	entries := w.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "ContainerOptimizer", entries[0].StageName)
	assert.EqualValues(t, 1.6, entries[0].Inputs["total_cbm"])
	assert.Equal(t, "20ft", entries[0].Output.(map[string]any)["container_type"])
}

func TestContainer_PreconditionMakesNoCalls(t *testing.T) {
	w := newWorld()
	rec := newRecord("A")
	rec.Selection = &types.SelectionOutput{Selections: []types.Selection{{SKU: "A", Error: "no eligible supplier"}}}

	out, outcome := NewContainer(w.deps()).Run(context.Background(), rec)

	assert.Equal(t, pipeline.OutcomeFailure, outcome.Status)
	assert.Equal(t, "No valid supplier selections for container planning", out.ErrorMessage())
	assert.Empty(t, w.invoker.callNames())
	assert.Equal(t, 1, out.Activity["ContainerOptimizer"].Details["supplier_selection_count"])
	assert.Len(t, w.sink.Entries(), 1)
}

func TestContainer_PlanFailureKeepsLineItems(t *testing.T) {
	w := newWorld()
	rec := recordBefore(t, w, steps.ContainerOptimizer)
	w.invoker.handlers["logistics/calculate_container_plan"] = func(map[string]any) (any, error) {
		return nil, &mcp.ProviderError{Provider: mcp.ProviderLogistics, Operation: "calculate_container_plan", Code: -32603, Message: "internal error"}
	}

	out, outcome := NewContainer(w.deps()).Run(context.Background(), rec)

	assert.Equal(t, pipeline.OutcomeFailure, outcome.Status)
	assert.True(t, strings.HasPrefix(out.ErrorMessage(), "ContainerOptimizer could not calculate a container plan: "))
	require.NotNil(t, out.Container)
	assert.Len(t, out.Container.OrderLineItems, 2)
	assert.Nil(t, out.Container.Plan)
}

func TestContainer_ProductFailure(t *testing.T) {
	w := newWorld()
	rec := recordBefore(t, w, steps.ContainerOptimizer)
	w.invoker.handlers["erp/get_products"] = func(map[string]any) (any, error) {
		return nil, &mcp.TransportError{Provider: mcp.ProviderERP, Operation: "get_products", Message: "no response with id 2"}
	}

	out, outcome := NewContainer(w.deps()).Run(context.Background(), rec)

	assert.Equal(t, pipeline.OutcomeFailure, outcome.Status)
	assert.Contains(t, out.ErrorMessage(), "ContainerOptimizer could not load product dimensions")
	assert.Nil(t, out.Container)
}

func TestContainer_GeneratorUnreachableKeepsPlan(t *testing.T) {
	w := newWorld()
	rec := recordBefore(t, w, steps.ContainerOptimizer)
	w.llm.json = func(string) (string, error) { return "", unreachable() }

	out, outcome := NewContainer(w.deps()).Run(context.Background(), rec)

	assert.Equal(t, pipeline.OutcomeFailure, outcome.Status)
	assert.Contains(t, out.ErrorMessage(), "ContainerOptimizer could not reach OpenRouter")
	require.NotNil(t, out.Container)
	require.NotNil(t, out.Container.Plan)
	assert.Equal(t, 1850.0, out.Container.Plan.EstimatedFreightUSD)
	assert.Len(t, out.Container.OrderLineItems, 2)
	assert.Contains(t, out.FieldSet(), "container_plan")
}

func TestContainer_FallbackRationale(t *testing.T) {
	w := newWorld()
	rec := recordBefore(t, w, steps.ContainerOptimizer)
	w.llm.json = func(string) (string, error) { return `{"rationale": ""}`, nil }

	out, outcome := NewContainer(w.deps()).Run(context.Background(), rec)

	assert.Equal(t, pipeline.OutcomeSuccess, outcome.Status)
	assert.Equal(t, "1x 20ft container(s) at 40% utilisation, est. $1,850 freight.", out.Container.Rationale)
	act := out.Activity["ContainerOptimizer"]
	require.NotNil(t, act.LLMError)
	assert.Contains(t, *act.LLMError, "parse failed")
}
