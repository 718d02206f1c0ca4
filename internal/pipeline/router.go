package pipeline

import (
	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/types"
)

// TerminationReason says why a run stopped.
type TerminationReason string

// Termination reasons
const (
	ReasonNone         TerminationReason = ""
	ReasonError        TerminationReason = "error"
	ReasonEmpty        TerminationReason = "empty"
	ReasonFinal        TerminationReason = "final"
	ReasonUnknownStage TerminationReason = "unknown_stage"
)

// Decision is the router's answer after a stage.
type Decision struct {
	Next      string
	Terminate bool
	Reason    TerminationReason
}

func next(stage string) Decision { return Decision{Next: stage} }

func stop(reason TerminationReason) Decision {
	return Decision{Terminate: true, Reason: reason}
}

// Route decides what follows stage. It reads only the record's error, the
// namespace stage just wrote, and the stage name.
func Route(rec types.Record, stage string) Decision {
	switch stage {
	case steps.DemandAnalyst:
		if rec.HasError() {
			return stop(ReasonError)
		}
		if len(rec.NetRequirements()) == 0 {
			return stop(ReasonEmpty)
		}
		return next(steps.SupplierSelector)

	case steps.SupplierSelector:
		if rec.HasError() {
			return stop(ReasonError)
		}
		if len(rec.ValidSelections()) == 0 {
			return stop(ReasonEmpty)
		}
		return next(steps.ContainerOptimizer)

	case steps.ContainerOptimizer:
		if rec.HasError() {
			return stop(ReasonError)
		}
		return next(steps.POCompiler)

	case steps.POCompiler:
		if rec.HasError() {
			return stop(ReasonError)
		}
		return stop(ReasonFinal)

	default:
		return stop(ReasonUnknownStage)
	}
}
