package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run status values mirror types.RunStatus.
const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusHaltedEmpty = "halted_empty"
	RunStatusFailed      = "failed"
)

// Run represents a pipeline run record
type Run struct {
	ID            uuid.UUID       `json:"id"`
	TriggeredBy   string          `json:"triggered_by"`
	SKUs          []string        `json:"skus"`
	HorizonMonths int             `json:"horizon_months"`
	Status        string          `json:"status"`
	PONumber      *string         `json:"po_number,omitempty"`
	TotalUSD      *float64        `json:"total_usd,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	Record        json.RawMessage `json:"record,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// RunInput represents input for creating a run
type RunInput struct {
	ID            uuid.UUID
	TriggeredBy   string
	SKUs          []string
	HorizonMonths int
}

// RunCompletion is the terminal state written when a run ends.
type RunCompletion struct {
	Status       string
	PONumber     *string
	TotalUSD     *float64
	ErrorMessage *string
	Record       any
}

// RunFilters holds optional filters for listing runs
type RunFilters struct {
	Status      string
	TriggeredBy string
	Limit       int
}
