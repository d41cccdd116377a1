// Package persistence provides the durable execution store abstraction for
// workflow transaction contexts.
package persistence

import (
	"context"
	"time"

	"github.com/mercato/mercato/pkg/models"
)

// ListExecutionsOptions filters and paginates execution listings.
type ListExecutionsOptions struct {
	WorkflowID     string
	TransactionIDs []string
	States         []models.TransactionState
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time

	Limit  int
	Offset int
}

// ListExecutionsResult carries one page of executions plus the total count of
// matches, ordered by created_at ascending for stable pagination.
type ListExecutionsResult struct {
	Executions []*models.TransactionContext
	Count      int64
}

// Persistence is the durable store of transaction contexts. SaveExecution is
// an idempotent upsert keyed by (workflow id, transaction id); every state
// transition of a running execution goes through it.
type Persistence interface {
	SaveExecution(ctx context.Context, trx *models.TransactionContext) error

	// Execution fetches by the (workflow id, transaction id) pair. Soft
	// deleted records are not found.
	Execution(ctx context.Context, workflowID, transactionID string) (*models.TransactionContext, error)

	// ExecutionByID fetches by the execution record id.
	ExecutionByID(ctx context.Context, id string) (*models.TransactionContext, error)

	ListExecutions(ctx context.Context, opts ListExecutionsOptions) (*ListExecutionsResult, error)

	// MarkExpired soft deletes terminal executions whose retention time has
	// elapsed. Returns how many records were marked.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)

	// PurgeExpired physically deletes soft deleted executions once a further
	// retention period has passed since deletion. Returns how many records
	// were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
