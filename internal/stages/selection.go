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

const selectionConfidence = 0.82

// errNoEligibleSupplier is recorded when scoring returns no recommendation.
const errNoEligibleSupplier = "no eligible supplier"

// Selection scores suppliers for every net requirement and keeps the
// recommended one per SKU.
type Selection struct {
	base
}

// NewSelection creates the supplier selection stage.
func NewSelection(deps Deps) *Selection {
	return &Selection{base: newBase(steps.SupplierSelector, deps)}
}

// Run implements pipeline.Stage.
func (s *Selection) Run(ctx context.Context, rec types.Record) (types.Record, pipeline.Outcome) {
	reqs := rec.NetRequirements()
	if len(reqs) == 0 {
		return s.fail(ctx, rec, "No net requirements — demand analyst must run first", report{
			Inputs:  map[string]any{"sku_count": 0},
			Details: map[string]any{"net_requirements_count": 0},
		})
	}
	inputs := map[string]any{"sku_count": len(reqs)}

	out := &types.SelectionOutput{Selections: make([]types.Selection, 0, len(reqs))}
	rec.Selection = out

	matched := 0
	var firstErr error
	for _, req := range reqs {
		var scored types.ScoreResult
		err := s.call(ctx, mcp.ProviderSupplier, "score_suppliers", map[string]any{"sku": req.SKU, "order_qty": req.NetQty}, &scored)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			out.Selections = append(out.Selections, types.Selection{
				SKU:     req.SKU,
				NetQty:  req.NetQty,
				Urgency: req.Urgency,
				Error:   err.Error(),
			})
			continue
		}

		best := scored.RecommendedSupplier
		if best == nil || best.SupplierID == "" {
			out.Selections = append(out.Selections, types.Selection{
				SKU:     req.SKU,
				NetQty:  req.NetQty,
				Urgency: req.Urgency,
				Error:   errNoEligibleSupplier,
			})
			continue
		}

		out.Selections = append(out.Selections, types.Selection{
			SKU:           req.SKU,
			SupplierID:    ptr(best.SupplierID),
			SupplierName:  best.SupplierName,
			UnitPrice:     best.UnitPrice,
			Score:         best.Score,
			LeadTimeDays:  best.LeadTimeDays,
			NetQty:        req.NetQty,
			Urgency:       req.Urgency,
			Rationale:     SelectionRationale(*best),
			AllCandidates: firstN(scored.RankedSuppliers, 3),
		})
		matched++
	}

	details := map[string]any{"matched_count": matched, "net_requirements_count": len(reqs)}

	if matched == 0 && firstErr != nil {
		return s.fail(ctx, rec, fmt.Sprintf("%s could not score suppliers for any SKU: %v", s.def.AuditName, firstErr), report{
			Inputs:  inputs,
			Details: details,
		})
	}

	var sample []types.Selection
	for _, sel := range firstN(out.Selections, 3) {
		if sel.Matched() {
			sample = append(sample, sel)
		}
	}
	if sample == nil {
		sample = []types.Selection{}
	}

	fallback := fmt.Sprintf("Supplier selected for %d/%d SKUs using weighted scoring.", matched, len(reqs))
	res, err := s.explain(ctx, prompts.KeySupplier, map[string]string{
		"MatchedCount":     strconv.Itoa(matched),
		"RequirementCount": strconv.Itoa(len(reqs)),
		"SampleSelections": indentJSON(sample),
	}, fallback, selectionConfidence)
	if err != nil {
		msg, llmErr := s.generatorFailure(err)
		return s.fail(ctx, rec, msg, report{Inputs: inputs, LLMError: llmErr, Details: details})
	}

	out.Rationale = res.Text
	out.Confidence = ptr(res.Confidence)

	auditSelections := make([]map[string]any, len(out.Selections))
	for i, sel := range out.Selections {
		auditSelections[i] = map[string]any{"sku": sel.SKU, "supplier": sel.SupplierID}
	}
	top := make([]map[string]any, 0, 5)
	for _, sel := range firstN(out.Selections, 5) {
		entry := map[string]any{"sku": sel.SKU, "supplier_id": sel.SupplierID, "score": nil}
		if sel.Matched() {
			entry["score"] = sel.Score
		}
		top = append(top, entry)
	}
	details["top_suppliers"] = top

	outcome := pipeline.Success()
	if matched == 0 {
		outcome = pipeline.Empty("no SKU matched a supplier")
	}
	return s.succeed(ctx, rec, report{
		Summary:    res.Text,
		Confidence: out.Confidence,
		LLMUsed:    res.LLMUsed,
		LLMError:   res.ParseError,
		Inputs:     inputs,
		Output:     map[string]any{"matched_count": matched, "selections": auditSelections},
		Details:    details,
	}, outcome)
}

// SelectionRationale describes why a supplier was chosen for one SKU.
func SelectionRationale(c types.SupplierCandidate) string {
	moqFit := 100.0
	if c.MOQFitPct != nil {
		moqFit = *c.MOQFitPct
	}
	return fmt.Sprintf("Selected %s (score %s/100): $%s/unit, %dd lead time, MOQ fit %s%%",
		c.SupplierName,
		strconv.FormatFloat(c.Score, 'f', -1, 64),
		rationale.Price(c.UnitPrice),
		c.LeadTimeDays,
		strconv.FormatFloat(moqFit, 'f', -1, 64),
	)
}
