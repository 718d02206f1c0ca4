package stages

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/Sahmey2004/xtern/internal/mcp"
	"github.com/Sahmey2004/xtern/internal/pipeline"
	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/prompts"
	"github.com/Sahmey2004/xtern/internal/types"
)

const demandConfidence = 0.85

// Demand nets inventory positions against the forecast to find the SKUs
// that need replenishment.
type Demand struct {
	base
}

// NewDemand creates the demand stage.
func NewDemand(deps Deps) *Demand {
	return &Demand{base: newBase(steps.DemandAnalyst, deps)}
}

// Run implements pipeline.Stage.
func (s *Demand) Run(ctx context.Context, rec types.Record) (types.Record, pipeline.Outcome) {
	requested := append([]string{}, rec.Params.SKUs...)
	horizon := rec.Params.HorizonMonths

	invArgs := map[string]any{}
	if len(requested) > 0 {
		invArgs["skus"] = requested
	} else {
		invArgs["below_reorder_only"] = true
	}
	inputs := map[string]any{"skus_requested": requested, "horizon_months": horizon, "inventory_count": 0}

	var inv types.InventoryResult
	if err := s.call(ctx, mcp.ProviderERP, "get_inventory", invArgs, &inv); err != nil {
		return s.fail(ctx, rec, fmt.Sprintf("%s could not load inventory data: %v", s.def.AuditName, err), report{
			Inputs:  inputs,
			Details: map[string]any{"requested_skus": requested, "horizon_months": horizon},
		})
	}
	if len(inv.Inventory) == 0 {
		return s.fail(ctx, rec, "No inventory records found", report{
			Inputs:  inputs,
			Details: map[string]any{"inventory_count": 0, "requested_skus": requested, "horizon_months": horizon},
		})
	}

	skus := make([]string, len(inv.Inventory))
	for i, row := range inv.Inventory {
		skus[i] = row.SKU
	}
	inputs["inventory_count"] = len(inv.Inventory)

	out := &types.DemandOutput{InventorySnapshot: inv.Inventory, PlannedSKUs: skus}
	rec.Demand = out

	var forecast types.ForecastResult
	if err := s.call(ctx, mcp.ProviderERP, "get_forecasts", map[string]any{"skus": skus, "months_ahead": horizon}, &forecast); err != nil {
		return s.fail(ctx, rec, fmt.Sprintf("%s could not load forecast data: %v", s.def.AuditName, err), report{
			Inputs:  inputs,
			Details: map[string]any{"inventory_count": len(inv.Inventory), "horizon_months": horizon},
		})
	}
	out.ForecastSummary = forecast.SummaryBySKU
	out.NetRequirements = NetRequirements(inv.Inventory, forecast.SummaryBySKU)
	out.Complete = true

	reqs := out.NetRequirements
	fallback := fmt.Sprintf("Net requirements calculated: %d SKUs need replenishment across %d-month horizon.", len(reqs), horizon)
	res, err := s.explain(ctx, prompts.KeyDemand, map[string]string{
		"TopRequirements":  indentJSON(firstN(reqs, 5)),
		"RequirementCount": strconv.Itoa(len(reqs)),
		"HorizonMonths":    strconv.Itoa(horizon),
	}, fallback, demandConfidence)
	if err != nil {
		msg, llmErr := s.generatorFailure(err)
		return s.fail(ctx, rec, msg, report{
			Inputs:   inputs,
			LLMError: llmErr,
			Details: map[string]any{
				"inventory_count":        len(inv.Inventory),
				"net_requirements_count": len(reqs),
				"horizon_months":         horizon,
			},
		})
	}

	out.Rationale = res.Text
	out.Confidence = ptr(res.Confidence)

	reqSKUs := make([]string, len(reqs))
	for i, r := range reqs {
		reqSKUs[i] = r.SKU
	}
	sample := reqSKUs
	if len(sample) > 5 {
		sample = sample[:5]
	}

	outcome := pipeline.Success()
	if len(reqs) == 0 {
		outcome = pipeline.Empty("no SKUs need replenishment")
	}
	return s.succeed(ctx, rec, report{
		Summary:    res.Text,
		Confidence: out.Confidence,
		LLMUsed:    res.LLMUsed,
		LLMError:   res.ParseError,
		Inputs:     inputs,
		Output:     map[string]any{"net_requirements_count": len(reqs), "skus": reqSKUs},
		Details: map[string]any{
			"inventory_count":        len(inv.Inventory),
			"net_requirements_count": len(reqs),
			"sample_skus":            sample,
			"horizon_months":         horizon,
		},
	}, outcome)
}

// NetRequirements nets each inventory row against its forecast and keeps
// the rows that need ordering, in inventory order.
func NetRequirements(inventory []types.InventoryRow, forecasts []types.ForecastSummary) []types.NetRequirement {
	bySKU := make(map[string]float64, len(forecasts))
	for _, f := range forecasts {
		bySKU[f.SKU] = f.TotalForecast
	}

	reqs := make([]types.NetRequirement, 0, len(inventory))
	for _, row := range inventory {
		forecast := bySKU[row.SKU]
		qty := NetQuantity(row, forecast)
		if qty == 0 {
			continue
		}
		urgency := types.UrgencyNormal
		if row.CurrentStock <= row.SafetyStock {
			urgency = types.UrgencyCritical
		}
		reqs = append(reqs, types.NetRequirement{
			SKU:            row.SKU,
			NetQty:         qty,
			CurrentStock:   row.CurrentStock,
			InTransit:      row.InTransit,
			SafetyStock:    row.SafetyStock,
			ForecastDemand: forecast,
			Urgency:        urgency,
			MOQ:            row.MOQ(),
		})
	}
	return reqs
}

// NetQuantity is max(0, forecast + safety - available), rounded up to a
// whole unit and raised to the MOQ when positive.
func NetQuantity(row types.InventoryRow, forecast float64) int {
	available := row.CurrentStock + row.InTransit
	need := forecast + float64(row.SafetyStock-available)
	if need <= 0 {
		return 0
	}
	qty := int(math.Ceil(need - 1e-9))
	if qty <= 0 {
		return 0
	}
	if moq := row.MOQ(); qty < moq {
		qty = moq
	}
	return qty
}

func firstN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
