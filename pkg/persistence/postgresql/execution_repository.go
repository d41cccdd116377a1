package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/persistence"
)

const executionColumns = `id, workflow_id, transaction_id, state, payload,
	step_states, retention_ms, created_at, updated_at, deleted_at`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Save upserts the execution keyed by its (workflow_id, transaction_id) pair.
func (er *ExecutionRepository) Save(ctx context.Context, trx *models.TransactionContext) error {
	payloadJSON, err := json.Marshal(trx.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	stepStatesJSON, err := json.Marshal(trx.StepStates)
	if err != nil {
		return fmt.Errorf("failed to marshal step states: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, transaction_id, state, payload,
			step_states, retention_ms, created_at, updated_at, deleted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (workflow_id, transaction_id) DO UPDATE SET
			state = EXCLUDED.state,
			payload = EXCLUDED.payload,
			step_states = EXCLUDED.step_states,
			retention_ms = EXCLUDED.retention_ms,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = er.db.ExecContext(ctx, query,
		trx.ID,
		trx.WorkflowID,
		trx.TransactionID,
		trx.State,
		payloadJSON,
		stepStatesJSON,
		trx.RetentionTime.Milliseconds(),
		trx.CreatedAt,
		trx.UpdatedAt,
		trx.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// Get retrieves a live execution by the (workflow_id, transaction_id) pair.
func (er *ExecutionRepository) Get(ctx context.Context, workflowID, transactionID string) (*models.TransactionContext, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1 AND transaction_id = $2 AND deleted_at IS NULL
	`

	row := er.db.QueryRowContext(ctx, query, workflowID, transactionID)

	trx, err := er.scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return trx, nil
}

// GetByID retrieves a live execution by its record id.
func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.TransactionContext, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := er.db.QueryRowContext(ctx, query, id)

	trx, err := er.scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return trx, nil
}

// List returns the filtered executions ordered by created_at ascending plus
// the total match count before pagination.
func (er *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ListExecutionsResult, error) {
	where, args := buildListFilter(opts)

	var count int64

	countQuery := "SELECT COUNT(*) FROM workflow_executions WHERE " + where

	err := er.db.QueryRowContext(ctx, countQuery, args...).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE ` + where + `
		ORDER BY created_at ASC, id ASC`

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := er.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var executions []*models.TransactionContext

	for rows.Next() {
		trx, err := er.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, trx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return &persistence.ListExecutionsResult{Executions: executions, Count: count}, nil
}

// MarkExpired soft deletes terminal executions whose retention elapsed.
func (er *ExecutionRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE workflow_executions
		SET deleted_at = $1, updated_at = $1
		WHERE deleted_at IS NULL
		  AND state IN ('done', 'failed', 'reverted')
		  AND retention_ms > 0
		  AND updated_at + make_interval(secs => retention_ms / 1000.0) < $1
	`

	result, err := er.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired executions: %w", err)
	}

	marked, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return marked, nil
}

// PurgeExpired removes soft deleted executions once a further retention period
// has passed since deletion.
func (er *ExecutionRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM workflow_executions
		WHERE deleted_at IS NOT NULL
		  AND deleted_at + make_interval(secs => retention_ms / 1000.0) < $1
	`

	result, err := er.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired executions: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return purged, nil
}

func buildListFilter(opts persistence.ListExecutionsOptions) (string, []any) {
	conditions := []string{"deleted_at IS NULL"}

	var args []any

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		conditions = append(conditions, fmt.Sprintf("workflow_id = $%d", len(args)))
	}

	if len(opts.TransactionIDs) > 0 {
		args = append(args, pq.Array(opts.TransactionIDs))
		conditions = append(conditions, fmt.Sprintf("transaction_id = ANY($%d)", len(args)))
	}

	if len(opts.States) > 0 {
		states := make([]string, 0, len(opts.States))
		for _, state := range opts.States {
			states = append(states, string(state))
		}

		args = append(args, pq.Array(states))
		conditions = append(conditions, fmt.Sprintf("state = ANY($%d)", len(args)))
	}

	if opts.CreatedAfter != nil {
		args = append(args, *opts.CreatedAfter)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	if opts.CreatedBefore != nil {
		args = append(args, *opts.CreatedBefore)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	return strings.Join(conditions, " AND "), args
}

// scanExecution scans an execution from a database row.
func (er *ExecutionRepository) scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.TransactionContext, error) {
	var (
		trx                        models.TransactionContext
		payloadJSON, stepStateJSON []byte
		retentionMS                int64
		deletedAt                  sql.NullTime
	)

	err := scanner.Scan(
		&trx.ID,
		&trx.WorkflowID,
		&trx.TransactionID,
		&trx.State,
		&payloadJSON,
		&stepStateJSON,
		&retentionMS,
		&trx.CreatedAt,
		&trx.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	trx.RetentionTime = time.Duration(retentionMS) * time.Millisecond
	trx.StepStates = make(map[string]*models.StepState)

	if deletedAt.Valid {
		trx.DeletedAt = &deletedAt.Time
	}

	if payloadJSON != nil {
		err := json.Unmarshal(payloadJSON, &trx.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	if stepStateJSON != nil {
		err := json.Unmarshal(stepStateJSON, &trx.StepStates)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step states: %w", err)
		}
	}

	return &trx, nil
}
