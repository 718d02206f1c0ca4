package stages

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Sahmey2004/xtern/internal/mcp"
	"github.com/Sahmey2004/xtern/internal/pipeline"
	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/prompts"
	"github.com/Sahmey2004/xtern/internal/rationale"
	"github.com/Sahmey2004/xtern/internal/types"
)

const containerConfidence = 0.88

// Container prices the selected lines and asks the logistics server for a
// container plan.
type Container struct {
	base
}

// NewContainer creates the container optimization stage.
func NewContainer(deps Deps) *Container {
	return &Container{base: newBase(steps.ContainerOptimizer, deps)}
}

// Run implements pipeline.Stage.
func (s *Container) Run(ctx context.Context, rec types.Record) (types.Record, pipeline.Outcome) {
	valid := rec.ValidSelections()
	if len(valid) == 0 {
		total := 0
		if rec.Selection != nil {
			total = len(rec.Selection.Selections)
		}
		return s.fail(ctx, rec, "No valid supplier selections for container planning", report{
			Inputs:  map[string]any{"sku_count": 0},
			Details: map[string]any{"supplier_selection_count": total},
		})
	}

	skus := make([]string, len(valid))
	for i, sel := range valid {
		skus[i] = sel.SKU
	}
	inputs := map[string]any{"sku_count": len(valid)}

	var products types.ProductsResult
	if err := s.call(ctx, mcp.ProviderERP, "get_products", map[string]any{"skus": skus}, &products); err != nil {
		return s.fail(ctx, rec, fmt.Sprintf("%s could not load product dimensions: %v", s.def.AuditName, err), report{
			Inputs:  inputs,
			Details: map[string]any{"sku_count": len(skus)},
		})
	}

	shipment, items := LineItems(valid, products.Products)
	out := &types.ContainerOutput{OrderLineItems: items}
	rec.Container = out

	var planned types.ContainerPlanResult
	if err := s.call(ctx, mcp.ProviderLogistics, "calculate_container_plan", map[string]any{
		"line_items":               shipment,
		"preferred_container_type": "auto",
	}, &planned); err != nil {
		return s.fail(ctx, rec, fmt.Sprintf("%s could not calculate a container plan: %v", s.def.AuditName, err), report{
			Inputs:  inputs,
			Details: map[string]any{"sku_count": len(shipment)},
		})
	}

	plan := types.ContainerPlan{}
	if planned.RecommendedPlan != nil {
		plan = *planned.RecommendedPlan
	}
	out.Plan = &plan
	out.TotalCBM = planned.TotalCBM
	inputs["total_cbm"] = planned.TotalCBM

	res, err := s.explain(ctx, prompts.KeyContainer, map[string]string{
		"ContainerType":     plan.ContainerType,
		"NumContainers":     strconv.Itoa(plan.NumContainers),
		"VolumeUtilisation": strconv.FormatFloat(plan.VolumeUtilisationPct, 'f', -1, 64),
		"WeightUtilisation": strconv.FormatFloat(plan.WeightUtilisationPct, 'f', -1, 64),
		"Freight":           rationale.WholeMoney(plan.EstimatedFreightUSD),
	}, ContainerFallback(plan), containerConfidence)
	if err != nil {
		msg, llmErr := s.generatorFailure(err)
		return s.fail(ctx, rec, msg, report{
			Inputs:   inputs,
			LLMError: llmErr,
			Details:  map[string]any{"sku_count": len(shipment), "container_plan": plan},
		})
	}

	out.Rationale = res.Text
	out.Confidence = ptr(res.Confidence)

	return s.succeed(ctx, rec, report{
		Summary:    res.Text,
		Confidence: out.Confidence,
		LLMUsed:    res.LLMUsed,
		LLMError:   res.ParseError,
		Inputs:     inputs,
		Output:     plan,
		Details: map[string]any{
			"sku_count":               len(shipment),
			"container_type":          plan.ContainerType,
			"num_containers":          plan.NumContainers,
			"binding_utilisation_pct": plan.BindingUtilisationPct,
			"estimated_freight_usd":   plan.EstimatedFreightUSD,
		},
	}, pipeline.Success())
}

// LineItems joins the selections with product dimensions. It returns the
// shipment lines for the logistics server and the priced order lines.
func LineItems(selections []types.Selection, products []types.Product) ([]types.ShipmentLine, []types.OrderLineItem) {
	bySKU := make(map[string]types.Product, len(products))
	for _, p := range products {
		bySKU[p.SKU] = p
	}

	shipment := make([]types.ShipmentLine, 0, len(selections))
	items := make([]types.OrderLineItem, 0, len(selections))
	for _, sel := range selections {
		weight, cbm := types.DefaultUnitWeightKg, types.DefaultUnitCBM
		if p, ok := bySKU[sel.SKU]; ok {
			if p.UnitWeightKg != nil {
				weight = *p.UnitWeightKg
			}
			if p.UnitCBM != nil {
				cbm = *p.UnitCBM
			}
		}
		shipment = append(shipment, types.ShipmentLine{
			SKU:          sel.SKU,
			Qty:          sel.NetQty,
			UnitWeightKg: weight,
			UnitCBM:      cbm,
		})

		supplierID := ""
		if sel.SupplierID != nil {
			supplierID = *sel.SupplierID
		}
		items = append(items, types.OrderLineItem{
			SKU:        sel.SKU,
			SupplierID: supplierID,
			Qty:        sel.NetQty,
			UnitPrice:  sel.UnitPrice,
			Rationale:  sel.Rationale,
		})
	}
	return shipment, items
}

// ContainerFallback is the deterministic rationale for a plan.
func ContainerFallback(plan types.ContainerPlan) string {
	num := plan.NumContainers
	if num == 0 {
		num = 1
	}
	kind := plan.ContainerType
	if kind == "" {
		kind = "40ft"
	}
	return fmt.Sprintf("%dx %s container(s) at %s%% utilisation, est. $%s freight.",
		num, kind, rationale.Percent(plan.BindingUtilisationPct), rationale.WholeMoney(plan.EstimatedFreightUSD))
}
