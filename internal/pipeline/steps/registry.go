// Package steps provides the static definitions of the pipeline stages:
// their order, audit names, record namespaces, and dependencies.
package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	dbpkg "github.com/Sahmey2004/xtern/internal/db"
)

// Stage names, also used as the record's current_agent value.
const (
	DemandAnalyst      = "demand_analyst"
	SupplierSelector   = "supplier_selector"
	ContainerOptimizer = "container_optimizer"
	POCompiler         = "po_compiler"
)

// StepDefinition defines metadata for a pipeline stage
type StepDefinition struct {
	Name         string
	AuditName    string
	Category     string
	Namespace    string
	Dependencies []string
}

// Order is the fixed execution order.
var Order = []string{DemandAnalyst, SupplierSelector, ContainerOptimizer, POCompiler}

// StepRegistry holds all stage definitions
var StepRegistry = map[string]StepDefinition{
	DemandAnalyst: {
		Name:         DemandAnalyst,
		AuditName:    "DemandAnalyst",
		Category:     dbpkg.StepCategoryDemand,
		Namespace:    "demand",
		Dependencies: []string{},
	},
	SupplierSelector: {
		Name:         SupplierSelector,
		AuditName:    "SupplierSelector",
		Category:     dbpkg.StepCategorySourcing,
		Namespace:    "selection",
		Dependencies: []string{DemandAnalyst},
	},
	ContainerOptimizer: {
		Name:         ContainerOptimizer,
		AuditName:    "ContainerOptimizer",
		Category:     dbpkg.StepCategoryLogistics,
		Namespace:    "container",
		Dependencies: []string{SupplierSelector},
	},
	POCompiler: {
		Name:         POCompiler,
		AuditName:    "POCompiler",
		Category:     dbpkg.StepCategoryProcurement,
		Namespace:    "compilation",
		Dependencies: []string{ContainerOptimizer},
	},
}

// Lookup returns the definition for name.
func Lookup(name string) (StepDefinition, bool) {
	def, ok := StepRegistry[name]
	return def, ok
}

// AuditName returns the audit name for a stage, or the stage name itself
// when it is unknown.
func AuditName(name string) string {
	if def, ok := StepRegistry[name]; ok {
		return def.AuditName
	}
	return name
}

// Next returns the stage after name in Order.
func Next(name string) (string, bool) {
	for i, n := range Order {
		if n == name && i+1 < len(Order) {
			return Order[i+1], true
		}
	}
	return "", false
}

// OrderError is returned when a stage list does not match Order.
type OrderError struct {
	Got []string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("stages must be [%s], got [%s]", strings.Join(Order, ", "), strings.Join(e.Got, ", "))
}

// ValidateOrder checks that names is exactly Order.
func ValidateOrder(names []string) error {
	if len(names) != len(Order) {
		return &OrderError{Got: names}
	}
	for i, n := range names {
		if n != Order[i] {
			return &OrderError{Got: names}
		}
	}
	return nil
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Step                string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("missing dependencies: %v", e.MissingDependencies)
}

// StepReader reads mirrored stage state.
type StepReader interface {
	GetRunStep(ctx context.Context, runID uuid.UUID, stepName string) (*dbpkg.RunStep, error)
}

// ValidateDependencies checks if all required dependencies for a step are completed
func ValidateDependencies(ctx context.Context, reader StepReader, runID uuid.UUID, stepName string) error {
	def, ok := StepRegistry[stepName]
	if !ok {
		return fmt.Errorf("unknown step: %s", stepName)
	}

	var missing []string

	// Check each required dependency
	for _, dep := range def.Dependencies {
		step, err := reader.GetRunStep(ctx, runID, dep)
		if err != nil {
			return fmt.Errorf("failed to check dependency %s: %w", dep, err)
		}
		if step == nil || step.Status != dbpkg.StepStatusCompleted {
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return &DependencyError{
			Step:                stepName,
			MissingDependencies: missing,
		}
	}

	return nil
}

// BlockedSteps returns the stages whose dependencies are not complete and
// that have not themselves completed or started.
func BlockedSteps(ctx context.Context, reader StepReader, runID uuid.UUID) ([]string, error) {
	var blocked []string

	for _, stepName := range Order {
		existing, err := reader.GetRunStep(ctx, runID, stepName)
		if err != nil {
			return nil, fmt.Errorf("failed to check step %s: %w", stepName, err)
		}
		if existing != nil && (existing.Status == dbpkg.StepStatusCompleted || existing.Status == dbpkg.StepStatusInProgress) {
			continue
		}

		if err := ValidateDependencies(ctx, reader, runID, stepName); err != nil {
			blocked = append(blocked, stepName)
		}
	}

	return blocked, nil
}
