package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sahmey2004/xtern/internal/types"
)

func strPtr(s string) *string { return &s }

func TestPrintNetRequirements(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintNetRequirements(&types.DemandOutput{
		NetRequirements: []types.NetRequirement{
			{SKU: "SKU-001", NetQty: 120, CurrentStock: 10, ForecastDemand: 90, Urgency: types.UrgencyCritical},
			{SKU: "SKU-002", NetQty: 40, CurrentStock: 60, ForecastDemand: 75, Urgency: types.UrgencyNormal},
		},
		Rationale: "Two SKUs fall below safety stock within the horizon.",
	})
	output := buf.String()

	assert.Contains(t, output, "NET REQUIREMENTS")
	assert.Contains(t, output, "SKU-001: order 120 (stock 10, forecast 90) [critical]")
	assert.Contains(t, output, "SKU-002: order 40")
	assert.Contains(t, output, "Rationale:")
}

func TestPrintNetRequirements_Empty(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintNetRequirements(&types.DemandOutput{Complete: true})
	assert.Contains(t, buf.String(), "Nothing to replenish.")

	buf.Reset()
	p.PrintNetRequirements(nil)
	assert.Empty(t, buf.String())
}

func TestPrintNetRequirements_Truncates(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	var reqs []types.NetRequirement
	for _, sku := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		reqs = append(reqs, types.NetRequirement{SKU: sku, NetQty: 1})
	}
	p.PrintNetRequirements(&types.DemandOutput{NetRequirements: reqs})

	assert.Contains(t, buf.String(), "... and 2 more")
	assert.NotContains(t, buf.String(), "G: order")
}

func TestPrintSelections(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintSelections(&types.SelectionOutput{Selections: []types.Selection{
		{SKU: "A", SupplierID: strPtr("SUP-1"), UnitPrice: 2.5, Score: 0.91, LeadTimeDays: 14},
		{SKU: "B", Error: "no eligible supplier"},
	}})
	output := buf.String()

	assert.Contains(t, output, "SUPPLIER SELECTIONS")
	assert.Contains(t, output, "A → SUP-1 @ $2.50, score 0.91, 14d lead")
	assert.Contains(t, output, "B: no supplier (no eligible supplier)")
}

func TestPrintContainerPlan(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintContainerPlan(&types.ContainerOutput{Plan: &types.ContainerPlan{
		ContainerType:        "40ft",
		NumContainers:        2,
		VolumeUtilisationPct: 84.6,
		WeightUtilisationPct: 51.2,
		EstimatedFreightUSD:  4250,
	}})
	output := buf.String()

	assert.Contains(t, output, "Containers: 2x 40ft")
	assert.Contains(t, output, "Volume:     85%")
	assert.Contains(t, output, "Freight:    $4,250")

	buf.Reset()
	p.PrintContainerPlan(&types.ContainerOutput{})
	assert.Empty(t, buf.String())
}

func TestPrintPurchaseOrder(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	rec := types.NewRecord("run-1", "planner", types.Params{})
	rec.Container = &types.ContainerOutput{OrderLineItems: []types.OrderLineItem{{SKU: "A"}, {SKU: "B"}}}
	rec.Compilation = &types.CompilationOutput{
		PONumber:    "PO-20261015-001",
		SubtotalUSD: 12365.5,
		FreightUSD:  1850,
		TotalUSD:    14215.5,
		Notes:       "Draft PO covering two SKUs in one 20ft container.",
	}
	rec.ApprovalStatus = types.ApprovalPending

	p.PrintPurchaseOrder(rec)
	output := buf.String()

	assert.Contains(t, output, "PO:        PO-20261015-001")
	assert.Contains(t, output, "Lines:     2")
	assert.Contains(t, output, "Total:     $14,215.50")
	assert.Contains(t, output, "Approval:  pending")

	buf.Reset()
	rec.Compilation.PONumber = ""
	p.PrintPurchaseOrder(rec)
	assert.Empty(t, buf.String())
}

func TestPrintActivity_PipelineOrder(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	conf := 0.8
	rec := types.NewRecord("run-7", "planner", types.Params{})
	rec.Status = types.RunStatusFailed
	msg := "ContainerOptimizer could not reach OpenRouter: connection refused"
	rec.Error = &msg
	rec.Activity = map[string]types.Activity{
		"ContainerOptimizer": {Status: types.ActivityFailed, Summary: "plan failed"},
		"DemandAnalyst":      {Status: types.ActivityCompleted, Summary: "2 SKUs", Confidence: &conf, LLMUsed: true},
		"SupplierSelector":   {Status: types.ActivityCompleted, Summary: "2 suppliers"},
	}

	p.PrintActivity(rec)
	output := buf.String()

	assert.Contains(t, output, "RUN run-7: FAILED")
	demand := strings.Index(output, "DemandAnalyst")
	supplier := strings.Index(output, "SupplierSelector")
	container := strings.Index(output, "ContainerOptimizer could not")
	assert.Less(t, demand, supplier)
	assert.Contains(t, output, "✓ DemandAnalyst")
	assert.Contains(t, output, "(80%)")
	assert.Contains(t, output, "2 suppliers [fallback]")
	assert.Contains(t, output, "✗ ContainerOptimizer")
	assert.Greater(t, container, supplier)
}

func TestPrintBox_TruncatesLongLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.printBox("TITLE", strings.Repeat("x", 200))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, lines[3], "...")
}

func TestPrintRecord_SkipsMissingSections(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRecord(types.NewRecord("run-1", "planner", types.Params{}))

	assert.Empty(t, buf.String())
}
