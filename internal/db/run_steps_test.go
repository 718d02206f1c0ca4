package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepStatusConstants(t *testing.T) {
	assert.Equal(t, "pending", StepStatusPending)
	assert.Equal(t, "in_progress", StepStatusInProgress)
	assert.Equal(t, "completed", StepStatusCompleted)
	assert.Equal(t, "failed", StepStatusFailed)
	assert.Equal(t, "skipped", StepStatusSkipped)
	assert.Equal(t, "blocked", StepStatusBlocked)
}

func TestStepCategoryConstants(t *testing.T) {
	assert.Equal(t, "demand", StepCategoryDemand)
	assert.Equal(t, "sourcing", StepCategorySourcing)
	assert.Equal(t, "logistics", StepCategoryLogistics)
	assert.Equal(t, "procurement", StepCategoryProcurement)
}

func TestIsTerminalStepStatus(t *testing.T) {
	assert.True(t, isTerminalStepStatus(StepStatusCompleted))
	assert.True(t, isTerminalStepStatus(StepStatusFailed))
	assert.True(t, isTerminalStepStatus(StepStatusSkipped))
	assert.False(t, isTerminalStepStatus(StepStatusInProgress))
	assert.False(t, isTerminalStepStatus(StepStatusPending))
}
