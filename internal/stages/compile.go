package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sahmey2004/xtern/internal/mcp"
	"github.com/Sahmey2004/xtern/internal/pipeline"
	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/prompts"
	"github.com/Sahmey2004/xtern/internal/rationale"
	"github.com/Sahmey2004/xtern/internal/types"
)

const compilerConfidence = 0.95

// Compiler turns the order lines into a draft PO awaiting review.
type Compiler struct {
	base
}

// NewCompiler creates the PO compilation stage.
func NewCompiler(deps Deps) *Compiler {
	return &Compiler{base: newBase(steps.POCompiler, deps)}
}

// Totals are the money figures of a draft PO.
type Totals struct {
	Subtotal float64
	Freight  float64
	Total    float64
}

// POLines converts order line items to the PO server's line format.
func POLines(items []types.OrderLineItem) []types.POLine {
	lines := make([]types.POLine, len(items))
	for i, item := range items {
		lines[i] = types.POLine{
			SKU:        item.SKU,
			SupplierID: item.SupplierID,
			QtyOrdered: item.Qty,
			UnitPrice:  item.UnitPrice,
			Rationale:  item.Rationale,
		}
	}
	return lines
}

// ComputeTotals sums qty*price per line and adds the plan's freight.
func ComputeTotals(lines []types.POLine, plan *types.ContainerPlan) Totals {
	var t Totals
	for _, l := range lines {
		t.Subtotal += float64(l.QtyOrdered) * l.UnitPrice
	}
	if plan != nil {
		t.Freight = plan.EstimatedFreightUSD
	}
	t.Total = t.Subtotal + t.Freight
	return t
}

// Run implements pipeline.Stage.
func (s *Compiler) Run(ctx context.Context, rec types.Record) (types.Record, pipeline.Outcome) {
	items := rec.OrderLineItems()
	if len(items) == 0 {
		return s.fail(ctx, rec, "No order line items to compile", report{
			Inputs:  map[string]any{"line_item_count": 0},
			Details: map[string]any{"line_item_count": 0},
		})
	}

	var plan *types.ContainerPlan
	if rec.Container != nil {
		plan = rec.Container.Plan
	}
	lines := POLines(items)
	totals := ComputeTotals(lines, plan)
	inputs := map[string]any{"line_item_count": len(lines), "subtotal_usd": round2(totals.Subtotal)}

	notesPlan := types.ContainerPlan{NumContainers: 1, ContainerType: "N/A"}
	if plan != nil {
		notesPlan = *plan
		if notesPlan.NumContainers == 0 {
			notesPlan.NumContainers = 1
		}
		if notesPlan.ContainerType == "" {
			notesPlan.ContainerType = "N/A"
		}
	}
	notes, err := s.deps.Explainer.Notes(ctx, rationale.NotesRequest{
		Stage: s.def.AuditName,
		Prompt: prompts.Format(prompts.MustGet(prompts.RationaleFile, prompts.KeyPONotes), map[string]string{
			"LineCount":     strconv.Itoa(len(lines)),
			"Subtotal":      rationale.Money(totals.Subtotal),
			"Freight":       rationale.WholeMoney(totals.Freight),
			"Total":         rationale.Money(totals.Total),
			"NumContainers": strconv.Itoa(notesPlan.NumContainers),
			"ContainerType": notesPlan.ContainerType,
			"Utilisation":   rationale.Percent(notesPlan.BindingUtilisationPct),
		}),
		Fallback: NotesFallback(len(lines), totals),
	})
	if err != nil {
		msg, llmErr := s.generatorFailure(err)
		return s.fail(ctx, rec, msg, report{Inputs: inputs, LLMError: llmErr, Details: inputs})
	}

	out := &types.CompilationOutput{
		SubtotalUSD: round2(totals.Subtotal),
		FreightUSD:  round2(totals.Freight),
		TotalUSD:    round2(totals.Total),
		Notes:       notes.Text,
	}
	rec.Compilation = out

	var containerPlan any
	if plan != nil {
		containerPlan = plan
	}
	raw, err := s.deps.Invoker.Invoke(ctx, mcp.ProviderPO, "create_draft_po", map[string]any{
		"run_id":         rec.RunID,
		"created_by":     rec.TriggeredBy,
		"line_items":     lines,
		"container_plan": containerPlan,
		"notes":          notes.Text,
	})
	if err != nil {
		return s.fail(ctx, rec, fmt.Sprintf("%s could not create the draft PO: %v", s.def.AuditName, err), report{
			Inputs:   inputs,
			LLMUsed:  notes.LLMUsed,
			LLMError: notes.LLMError,
			Details:  inputs,
		})
	}

	var created types.DraftPOResult
	if err := json.Unmarshal(raw, &created); err != nil || created.PONumber == "" {
		return s.fail(ctx, rec, fmt.Sprintf("PO creation failed: %s", strings.TrimSpace(string(raw))), report{
			Inputs:   inputs,
			LLMUsed:  notes.LLMUsed,
			LLMError: notes.LLMError,
			Details:  inputs,
		})
	}

	out.PONumber = created.PONumber
	out.Rationale = fmt.Sprintf("Draft PO %s created with %d line items. Total $%s (freight included). Awaiting planner review.",
		created.PONumber, len(lines), rationale.Money(totals.Total))
	rec.ApprovalStatus = types.ApprovalPending

	return s.succeed(ctx, rec, report{
		Summary:    out.Rationale,
		Confidence: ptr(compilerConfidence),
		LLMUsed:    notes.LLMUsed,
		LLMError:   notes.LLMError,
		PONumber:   created.PONumber,
		Inputs:     inputs,
		Output:     map[string]any{"po_number": created.PONumber, "total_usd": out.TotalUSD, "status": "draft"},
		Details: map[string]any{
			"po_number":       created.PONumber,
			"line_item_count": len(lines),
			"subtotal_usd":    out.SubtotalUSD,
			"freight_usd":     out.FreightUSD,
			"total_usd":       out.TotalUSD,
		},
	}, pipeline.Success())
}

// NotesFallback is the deterministic PO summary.
func NotesFallback(lineCount int, t Totals) string {
	return fmt.Sprintf("Draft PO: %d SKUs, subtotal $%s, est. freight $%s, total $%s.",
		lineCount, rationale.Money(t.Subtotal), rationale.WholeMoney(t.Freight), rationale.Money(t.Total))
}
