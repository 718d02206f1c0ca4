// Package db provides the PostgreSQL mirror of pipeline runs and their stages.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultListLimit bounds ListRuns when no limit is given.
const DefaultListLimit = 50

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// CreateRun inserts a pipeline run in the running state
func (db *DB) CreateRun(ctx context.Context, input RunInput) error {
	skus := input.SKUs
	if skus == nil {
		skus = []string{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, triggered_by, skus, horizon_months, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		input.ID, input.TriggeredBy, skus, input.HorizonMonths, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun writes the terminal state of a pipeline run
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, c RunCompletion) error {
	var recordJSON []byte
	if c.Record != nil {
		var err error
		recordJSON, err = json.Marshal(c.Record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
	}

	result, err := db.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $1, po_number = $2, total_usd = $3, error_message = $4,
		     record = $5, completed_at = NOW()
		 WHERE id = $6`,
		c.Status, c.PONumber, c.TotalUSD, c.ErrorMessage, recordJSON, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

const runColumns = `id, triggered_by, skus, horizon_months, status, po_number,
	total_usd::float8, error_message, record, created_at, completed_at`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var record []byte
	if err := row.Scan(&run.ID, &run.TriggeredBy, &run.SKUs, &run.HorizonMonths, &run.Status,
		&run.PONumber, &run.TotalUSD, &run.ErrorMessage, &record, &run.CreatedAt, &run.CompletedAt); err != nil {
		return nil, err
	}
	if len(record) > 0 {
		run.Record = json.RawMessage(record)
	}
	return &run, nil
}

// GetRun retrieves a pipeline run by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`,
		runID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves recent runs with optional filters. The full record is
// left out of list results.
func (db *DB) ListRuns(ctx context.Context, filters RunFilters) ([]Run, error) {
	query, args := buildListRunsQuery(filters)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Record = nil
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func buildListRunsQuery(filters RunFilters) (string, []any) {
	if filters.Limit <= 0 {
		filters.Limit = DefaultListLimit
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.TriggeredBy != "" {
		query += fmt.Sprintf(" AND triggered_by = $%d", argNum)
		args = append(args, filters.TriggeredBy)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, filters.Limit)
	return query, args
}
