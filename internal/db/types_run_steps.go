package db

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus constants
const (
	StepStatusPending    = "pending"
	StepStatusInProgress = "in_progress"
	StepStatusCompleted  = "completed"
	StepStatusFailed     = "failed"
	StepStatusSkipped    = "skipped"
	StepStatusBlocked    = "blocked"
)

// StepCategory constants
const (
	StepCategoryDemand      = "demand"
	StepCategorySourcing    = "sourcing"
	StepCategoryLogistics   = "logistics"
	StepCategoryProcurement = "procurement"
)

// RunStep represents a single stage execution for a pipeline run
type RunStep struct {
	ID           uuid.UUID              `json:"id"`
	RunID        uuid.UUID              `json:"run_id"`
	Step         string                 `json:"step"`
	Category     string                 `json:"category"`
	Status       string                 `json:"status"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	DurationMs   *int                   `json:"duration_ms,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// RunStepInput represents input for creating/updating a run step
type RunStepInput struct {
	Step       string
	Category   string
	Status     string
	Parameters map[string]interface{}
}

// StepUpdate is the state written when a step changes status.
type StepUpdate struct {
	Status       string
	ErrorMessage *string
	Parameters   map[string]interface{}
}
