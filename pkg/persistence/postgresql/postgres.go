// Package postgresql provides the PostgreSQL execution store.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/persistence"
	"github.com/mercato/mercato/pkg/persistence/sqlbase"
)

// Persistence implements the execution store on PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	executionRepo *ExecutionRepository
}

// NewPersistence connects to the database and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		executionRepo: NewExecutionRepository(database, logger),
	}, nil
}

// SaveExecution upserts the execution record.
func (p *Persistence) SaveExecution(ctx context.Context, trx *models.TransactionContext) error {
	err := p.executionRepo.Save(ctx, trx)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", trx.WorkflowID, trx.TransactionID, err)
	}

	return nil
}

// Execution fetches by the (workflow id, transaction id) pair.
func (p *Persistence) Execution(ctx context.Context, workflowID, transactionID string) (*models.TransactionContext, error) {
	trx, err := p.executionRepo.Get(ctx, workflowID, transactionID)
	if err != nil {
		return nil, persistence.NewExecutionError("Execution", workflowID, transactionID, err)
	}

	return trx, nil
}

// ExecutionByID fetches by the record id.
func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.TransactionContext, error) {
	trx, err := p.executionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", "", "", err)
	}

	return trx, nil
}

// ListExecutions filters, orders and paginates execution records.
func (p *Persistence) ListExecutions(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ListExecutionsResult, error) {
	result, err := p.executionRepo.List(ctx, opts)
	if err != nil {
		return nil, persistence.NewExecutionError("ListExecutions", opts.WorkflowID, "", err)
	}

	return result, nil
}

// MarkExpired soft deletes terminal executions whose retention elapsed.
func (p *Persistence) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	return p.executionRepo.MarkExpired(ctx, now)
}

// PurgeExpired removes soft deleted executions past their retention window.
func (p *Persistence) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return p.executionRepo.PurgeExpired(ctx, now)
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
