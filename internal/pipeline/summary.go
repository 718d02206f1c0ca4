package pipeline

import "github.com/Sahmey2004/xtern/internal/types"

// Summary status values
const (
	SummaryCompleted = "completed"
	SummaryError     = "error"
)

// RunSummary is the compact response for a finished run.
type RunSummary struct {
	Status                  string               `json:"status"`
	RunID                   string               `json:"run_id"`
	PONumber                *string              `json:"po_number"`
	POTotalUSD              *float64             `json:"po_total_usd"`
	ApprovalStatus          types.ApprovalStatus `json:"approval_status"`
	NetRequirementsCount    int                  `json:"net_requirements_count"`
	SupplierSelectionsCount int                  `json:"supplier_selections_count"`
	ContainerPlan           *types.ContainerPlan `json:"container_plan"`
	DemandRationale         *string              `json:"demand_rationale"`
	SupplierRationale       *string              `json:"supplier_rationale"`
	ContainerRationale      *string              `json:"container_rationale"`
	PORationale             *string              `json:"po_rationale"`
	Error                   *string              `json:"error"`
	RunStatus               types.RunStatus      `json:"run_status"`
}

// Summarize projects a record onto a RunSummary.
func Summarize(rec types.Record) RunSummary {
	s := RunSummary{
		Status:         SummaryCompleted,
		RunID:          rec.RunID,
		ApprovalStatus: rec.ApprovalStatus,
		Error:          rec.Error,
		RunStatus:      rec.Status,
	}
	if rec.HasError() {
		s.Status = SummaryError
	}
	if d := rec.Demand; d != nil {
		s.NetRequirementsCount = len(d.NetRequirements)
		s.DemandRationale = optional(d.Rationale)
	}
	if sel := rec.Selection; sel != nil {
		s.SupplierSelectionsCount = len(sel.Selections)
		s.SupplierRationale = optional(sel.Rationale)
	}
	if c := rec.Container; c != nil {
		s.ContainerPlan = c.Plan
		s.ContainerRationale = optional(c.Rationale)
	}
	if c := rec.Compilation; c != nil && c.PONumber != "" {
		po := c.PONumber
		total := c.TotalUSD
		s.PONumber = &po
		s.POTotalUSD = &total
		s.PORationale = optional(c.Rationale)
	}
	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
