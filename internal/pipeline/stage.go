// Package pipeline runs the purchase-order stages in their fixed order,
// consulting the router after each one.
package pipeline

import (
	"context"

	"github.com/Sahmey2004/xtern/internal/types"
)

// OutcomeStatus classifies how a stage ended.
type OutcomeStatus string

// Outcome states
const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
	OutcomeEmpty   OutcomeStatus = "empty"
)

// Outcome is a stage's own account of how it ended. Routing reads the
// record, not the outcome.
type Outcome struct {
	Status OutcomeStatus
	Reason string
}

// Success is a successful outcome.
func Success() Outcome { return Outcome{Status: OutcomeSuccess} }

// Empty is a successful outcome that produced nothing to act on.
func Empty(reason string) Outcome { return Outcome{Status: OutcomeEmpty, Reason: reason} }

// Failure is a failed outcome carrying the record's error message.
func Failure(reason string) Outcome { return Outcome{Status: OutcomeFailure, Reason: reason} }

// Stage is one step of the pipeline. Run receives a copy of the record and
// returns the updated copy. A stage never returns an error; failures are
// written to the record.
type Stage interface {
	Name() string
	Run(ctx context.Context, rec types.Record) (types.Record, Outcome)
}
