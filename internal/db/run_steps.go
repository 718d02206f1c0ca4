package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const stepColumns = `id, run_id, step, category, status, started_at, completed_at,
	duration_ms, error_message, parameters, created_at, updated_at`

func scanRunStep(row pgx.Row) (*RunStep, error) {
	var step RunStep
	var parametersJSON []byte
	if err := row.Scan(&step.ID, &step.RunID, &step.Step, &step.Category, &step.Status,
		&step.StartedAt, &step.CompletedAt, &step.DurationMs,
		&step.ErrorMessage, &parametersJSON, &step.CreatedAt, &step.UpdatedAt); err != nil {
		return nil, err
	}
	if parametersJSON != nil {
		_ = json.Unmarshal(parametersJSON, &step.Parameters)
	}
	return &step, nil
}

// CreateRunStep creates a run step record. A step that already exists for
// the run is reset to the new status.
func (db *DB) CreateRunStep(ctx context.Context, runID uuid.UUID, input *RunStepInput) (*RunStep, error) {
	var parametersJSON []byte
	if input.Parameters != nil {
		var err error
		parametersJSON, err = json.Marshal(input.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal parameters: %w", err)
		}
	}

	var startedAt *time.Time
	if input.Status == StepStatusInProgress {
		now := time.Now()
		startedAt = &now
	}

	step, err := scanRunStep(db.pool.QueryRow(ctx,
		`INSERT INTO run_steps (run_id, step, category, status, parameters, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id, step) DO UPDATE
		 SET status = EXCLUDED.status, parameters = EXCLUDED.parameters,
		     started_at = EXCLUDED.started_at, completed_at = NULL,
		     duration_ms = NULL, error_message = NULL, updated_at = NOW()
		 RETURNING `+stepColumns,
		runID, input.Step, input.Category, input.Status, parametersJSON, startedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create run step: %w", err)
	}
	return step, nil
}

// GetRunStep retrieves a run step by run_id and step name
func (db *DB) GetRunStep(ctx context.Context, runID uuid.UUID, stepName string) (*RunStep, error) {
	step, err := scanRunStep(db.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = $1 AND step = $2`,
		runID, stepName,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run step: %w", err)
	}
	return step, nil
}

// ListRunSteps retrieves all steps for a run, optionally filtered by status or category
func (db *DB) ListRunSteps(ctx context.Context, runID uuid.UUID, status, category *string) ([]RunStep, error) {
	query, args := buildListRunStepsQuery(runID, status, category)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	var steps []RunStep
	for rows.Next() {
		step, err := scanRunStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}
		steps = append(steps, *step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}

	return steps, nil
}

func buildListRunStepsQuery(runID uuid.UUID, status, category *string) (string, []any) {
	query := `SELECT ` + stepColumns + ` FROM run_steps WHERE run_id = $1`
	args := []any{runID}
	argPos := 2

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *status)
		argPos++
	}

	if category != nil {
		query += fmt.Sprintf(" AND category = $%d", argPos)
		args = append(args, *category)
	}

	query += " ORDER BY created_at"
	return query, args
}

// UpdateRunStepStatus updates the status and related fields of a run step
func (db *DB) UpdateRunStepStatus(ctx context.Context, runID uuid.UUID, stepName string, update StepUpdate) error {
	now := time.Now()

	// Get current step to calculate duration
	currentStep, err := db.GetRunStep(ctx, runID, stepName)
	if err != nil {
		return err
	}
	if currentStep == nil {
		return fmt.Errorf("step not found: %s", stepName)
	}

	var durationMs *int
	if isTerminalStepStatus(update.Status) && currentStep.StartedAt != nil {
		dur := int(now.Sub(*currentStep.StartedAt).Milliseconds())
		durationMs = &dur
	}

	var startedAt *time.Time
	if update.Status == StepStatusInProgress && currentStep.StartedAt == nil {
		startedAt = &now
	}

	var completedAt *time.Time
	if isTerminalStepStatus(update.Status) {
		completedAt = &now
	}

	var parametersJSON []byte
	if update.Parameters != nil {
		parametersJSON, err = json.Marshal(update.Parameters)
		if err != nil {
			return fmt.Errorf("failed to marshal parameters: %w", err)
		}
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE run_steps
		 SET status = $1, started_at = COALESCE($2, started_at), completed_at = $3,
		     duration_ms = $4, error_message = $5, parameters = COALESCE($6, parameters),
		     updated_at = NOW()
		 WHERE run_id = $7 AND step = $8`,
		update.Status, startedAt, completedAt, durationMs, update.ErrorMessage, parametersJSON, runID, stepName,
	)
	if err != nil {
		return fmt.Errorf("failed to update run step status: %w", err)
	}

	return nil
}

func isTerminalStepStatus(status string) bool {
	return status == StepStatusCompleted || status == StepStatusFailed || status == StepStatusSkipped
}
