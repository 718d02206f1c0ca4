// Package types provides the accumulated run record and the data shapes exchanged with tool servers.
package types

import (
	"encoding/json"
	"sort"
)

// ApprovalStatus is the human review state of a compiled PO.
type ApprovalStatus string

// Approval states
const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// RunStatus is the terminal state of a run. It separates a run that stopped
// because there was nothing to do from one that stopped on an error.
type RunStatus string

// Run states
const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusHaltedEmpty RunStatus = "halted_empty"
	RunStatusFailed      RunStatus = "failed"
)

// ActivityStatus is the outcome recorded for a stage in Record.Activity.
type ActivityStatus string

// Activity states
const (
	ActivityCompleted ActivityStatus = "completed"
	ActivityFailed    ActivityStatus = "failed"
)

// InitialStage is CurrentStage before any stage has run.
const InitialStage = "orchestrator"

// Params are the caller-supplied run parameters.
type Params struct {
	SKUs          []string
	HorizonMonths int
}

// Activity summarises one stage's outcome.
type Activity struct {
	Status     ActivityStatus `json:"status"`
	Summary    string         `json:"summary"`
	Confidence *float64       `json:"confidence"`
	LLMUsed    bool           `json:"llm_used"`
	LLMError   *string        `json:"llm_error"`
	Details    map[string]any `json:"details"`
}

// Record is the value threaded through the pipeline for one run.
// Each stage owns exactly one of the namespace pointers; nil means the stage
// has not written it. Records are copied, never shared, between stages.
type Record struct {
	RunID       string
	TriggeredBy string
	Params      Params

	Demand      *DemandOutput
	Selection   *SelectionOutput
	Container   *ContainerOutput
	Compilation *CompilationOutput

	CurrentStage string
	Error        *string
	Activity     map[string]Activity

	ApprovalStatus ApprovalStatus
	Status         RunStatus
}

// NewRecord creates the initial record for a run.
func NewRecord(runID, triggeredBy string, params Params) Record {
	return Record{
		RunID:          runID,
		TriggeredBy:    triggeredBy,
		Params:         Params{SKUs: append([]string{}, params.SKUs...), HorizonMonths: params.HorizonMonths},
		CurrentStage:   InitialStage,
		Activity:       map[string]Activity{},
		ApprovalStatus: ApprovalPending,
		Status:         RunStatusRunning,
	}
}

// WithActivity returns a copy of the activity map with name set to a.
func (r Record) WithActivity(name string, a Activity) map[string]Activity {
	out := make(map[string]Activity, len(r.Activity)+1)
	for k, v := range r.Activity {
		out[k] = v
	}
	out[name] = a
	return out
}

// ErrorMessage returns the active error or "".
func (r Record) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// HasError reports whether a failure is active.
func (r Record) HasError() bool {
	return r.Error != nil
}

// NetRequirements returns the demand output, or nil.
func (r Record) NetRequirements() []NetRequirement {
	if r.Demand == nil {
		return nil
	}
	return r.Demand.NetRequirements
}

// ValidSelections returns the selections that were matched to a supplier.
func (r Record) ValidSelections() []Selection {
	if r.Selection == nil {
		return nil
	}
	var out []Selection
	for _, s := range r.Selection.Selections {
		if s.Matched() {
			out = append(out, s)
		}
	}
	return out
}

// OrderLineItems returns the container stage's line items, or nil.
func (r Record) OrderLineItems() []OrderLineItem {
	if r.Container == nil {
		return nil
	}
	return r.Container.OrderLineItems
}

// recordJSON is the flat wire form of a Record.
type recordJSON struct {
	RunID                 string              `json:"run_id"`
	TriggeredBy           string              `json:"triggered_by"`
	PlanningHorizonMonths int                 `json:"planning_horizon_months"`
	SKUsToPlan            []string            `json:"skus_to_plan"`
	InventorySnapshot     []InventoryRow      `json:"inventory_snapshot,omitempty"`
	ForecastSummary       []ForecastSummary   `json:"forecast_summary,omitempty"`
	NetRequirements       *[]NetRequirement   `json:"net_requirements,omitempty"`
	PlannedSKUs           []string            `json:"planned_skus,omitempty"`
	DemandRationale       *string             `json:"demand_rationale,omitempty"`
	DemandConfidence      *float64            `json:"demand_confidence,omitempty"`
	SupplierSelections    []Selection         `json:"supplier_selections,omitempty"`
	SupplierRationale     *string             `json:"supplier_rationale,omitempty"`
	SupplierConfidence    *float64            `json:"supplier_confidence,omitempty"`
	OrderLineItems        []OrderLineItem     `json:"order_line_items,omitempty"`
	ContainerPlan         *ContainerPlan      `json:"container_plan,omitempty"`
	ContainerRationale    *string             `json:"container_rationale,omitempty"`
	ContainerConfidence   *float64            `json:"container_confidence,omitempty"`
	PONumber              *string             `json:"po_number,omitempty"`
	POTotalUSD            *float64            `json:"po_total_usd,omitempty"`
	PONotes               *string             `json:"po_notes,omitempty"`
	PORationale           *string             `json:"po_rationale,omitempty"`
	ApprovalStatus        ApprovalStatus      `json:"approval_status"`
	CurrentAgent          string              `json:"current_agent"`
	Error                 *string             `json:"error"`
	AgentActivity         map[string]Activity `json:"agent_activity"`
	RunStatus             RunStatus           `json:"run_status,omitempty"`
}

// MarshalJSON flattens the namespaces into the record's wire field names.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		RunID:                 r.RunID,
		TriggeredBy:           r.TriggeredBy,
		PlanningHorizonMonths: r.Params.HorizonMonths,
		SKUsToPlan:            r.Params.SKUs,
		ApprovalStatus:        r.ApprovalStatus,
		CurrentAgent:          r.CurrentStage,
		Error:                 r.Error,
		AgentActivity:         r.Activity,
		RunStatus:             r.Status,
	}
	if out.SKUsToPlan == nil {
		out.SKUsToPlan = []string{}
	}
	if out.AgentActivity == nil {
		out.AgentActivity = map[string]Activity{}
	}

	if d := r.Demand; d != nil {
		out.InventorySnapshot = d.InventorySnapshot
		out.ForecastSummary = d.ForecastSummary
		if reqs := d.NetRequirements; len(reqs) > 0 || d.Complete {
			if reqs == nil {
				reqs = []NetRequirement{}
			}
			out.NetRequirements = &reqs
		}
		out.PlannedSKUs = d.PlannedSKUs
		out.DemandRationale = nonEmpty(d.Rationale)
		out.DemandConfidence = d.Confidence
	}
	if s := r.Selection; s != nil {
		out.SupplierSelections = s.Selections
		out.SupplierRationale = nonEmpty(s.Rationale)
		out.SupplierConfidence = s.Confidence
	}
	if c := r.Container; c != nil {
		out.OrderLineItems = c.OrderLineItems
		out.ContainerPlan = c.Plan
		out.ContainerRationale = nonEmpty(c.Rationale)
		out.ContainerConfidence = c.Confidence
	}
	if c := r.Compilation; c != nil {
		out.PONumber = nonEmpty(c.PONumber)
		if c.PONumber != "" {
			total := c.TotalUSD
			out.POTotalUSD = &total
		}
		out.PONotes = nonEmpty(c.Notes)
		out.PORationale = nonEmpty(c.Rationale)
	}

	return json.Marshal(out)
}

// FieldSet returns the sorted names of the non-null top-level fields in the
// record's wire form.
func (r Record) FieldSet() []string {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if string(v) == "null" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
