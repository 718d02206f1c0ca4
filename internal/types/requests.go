package types

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request defaults
const (
	DefaultTriggeredBy   = "planner"
	DefaultHorizonMonths = 3
)

// RunRequest triggers a pipeline run. An empty SKU list means "every SKU
// below its reorder point".
type RunRequest struct {
	SKUs          []string `json:"skus" validate:"omitempty,dive,required"`
	TriggeredBy   string   `json:"triggered_by" validate:"omitempty,max=128"`
	HorizonMonths int      `json:"horizon_months" validate:"omitempty,min=1,max=24"`
}

// Validate validates the RunRequest using the validator.
func (r *RunRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Normalize fills defaults and trims SKU identifiers.
func (r *RunRequest) Normalize() {
	if strings.TrimSpace(r.TriggeredBy) == "" {
		r.TriggeredBy = DefaultTriggeredBy
	}
	if r.HorizonMonths == 0 {
		r.HorizonMonths = DefaultHorizonMonths
	}
	skus := make([]string, 0, len(r.SKUs))
	for _, s := range r.SKUs {
		if s = strings.TrimSpace(s); s != "" {
			skus = append(skus, s)
		}
	}
	r.SKUs = skus
}

// ReviewAction is the reviewer's decision.
type ReviewAction string

// Review actions
const (
	ActionApprove ReviewAction = "approve"
	ActionReject  ReviewAction = "reject"
)

// ApprovalRequest approves or rejects a draft PO.
type ApprovalRequest struct {
	Reviewer          string           `json:"reviewer" validate:"required,min=1"`
	Action            ReviewAction     `json:"action" validate:"required,oneof=approve reject"`
	Notes             string           `json:"notes,omitempty"`
	LineItemOverrides []map[string]any `json:"line_item_overrides,omitempty"`
}

// Validate validates the ApprovalRequest using the validator.
func (r *ApprovalRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// NewStatus maps the action onto the PO's approval status.
func (r *ApprovalRequest) NewStatus() ApprovalStatus {
	if r.Action == ActionApprove {
		return ApprovalApproved
	}
	return ApprovalRejected
}
