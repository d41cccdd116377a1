package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/persistence"
	"github.com/mercato/mercato/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"workflow_executions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("mercato_test"),
			postgres.WithUsername("mercato"),
			postgres.WithPassword("mercato"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err := p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func newExecution(id, workflowID, transactionID string) *models.TransactionContext {
	def := &models.WorkflowDefinition{
		Name: workflowID,
		Steps: map[string]*models.StepRef{
			"step-one": {Step: &models.StepDefinition{Name: "step-one"}},
			"step-two": {Step: &models.StepDefinition{Name: "step-two", Async: true}},
		},
		Stages: [][]string{{"step-one", "step-two"}},
	}

	return models.NewTransactionContext(id, def, transactionID, map[string]any{"initial": "abc"})
}

func TestPostgresPersistence_SaveAndGet(t *testing.T) {
	p, ctx := setupTestDB(t)

	trx := newExecution("exec-1", "my-workflow", "trx_1")
	trx.MarkStepSuccess("step-one", models.NewStepResponse(map[string]any{"result": "abc"}))
	require.NoError(t, p.SaveExecution(ctx, trx))

	loaded, err := p.Execution(ctx, "my-workflow", "trx_1")
	require.NoError(t, err)

	assert.Equal(t, "exec-1", loaded.ID)
	assert.Equal(t, models.TransactionStateInvoking, loaded.State)
	require.Contains(t, loaded.StepStates, "step-one")
	assert.Equal(t, models.StepStatusSuccess, loaded.StepStates["step-one"].Status)
	assert.Equal(t, map[string]any{"result": "abc"}, loaded.StepStates["step-one"].Output)
	assert.Equal(t, map[string]any{"initial": "abc"}, loaded.Payload)
}

func TestPostgresPersistence_UpsertByPair(t *testing.T) {
	p, ctx := setupTestDB(t)

	trx := newExecution("exec-1", "my-workflow", "trx_1")
	require.NoError(t, p.SaveExecution(ctx, trx))

	trx.SetState(models.TransactionStateDone)
	require.NoError(t, p.SaveExecution(ctx, trx))

	loaded, err := p.Execution(ctx, "my-workflow", "trx_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateDone, loaded.State)

	result, err := p.ListExecutions(ctx, persistence.ListExecutionsOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Count)
}

func TestPostgresPersistence_NotFound(t *testing.T) {
	p, ctx := setupTestDB(t)

	_, err := p.Execution(ctx, "my-workflow", "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = p.ExecutionByID(ctx, "missing-id")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestPostgresPersistence_ListFiltersAndPaginates(t *testing.T) {
	p, ctx := setupTestDB(t)

	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, id := range []string{"a", "b", "c", "d"} {
		trx := newExecution("exec-"+id, "my-workflow", id)
		trx.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, p.SaveExecution(ctx, trx))
	}

	other := newExecution("exec-other", "other-workflow", "trx_other")
	require.NoError(t, p.SaveExecution(ctx, other))

	result, err := p.ListExecutions(ctx, persistence.ListExecutionsOptions{
		WorkflowID:     "my-workflow",
		TransactionIDs: []string{"a", "b", "c"},
		Limit:          2,
		Offset:         1,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.Count)
	require.Len(t, result.Executions, 2)
	assert.Equal(t, "b", result.Executions[0].TransactionID)
	assert.Equal(t, "c", result.Executions[1].TransactionID)
}

func TestPostgresPersistence_ListFiltersByState(t *testing.T) {
	p, ctx := setupTestDB(t)

	done := newExecution("exec-done", "my-workflow", "trx_done")
	done.SetState(models.TransactionStateDone)
	require.NoError(t, p.SaveExecution(ctx, done))

	require.NoError(t, p.SaveExecution(ctx, newExecution("exec-run", "my-workflow", "trx_run")))

	result, err := p.ListExecutions(ctx, persistence.ListExecutionsOptions{
		States: []models.TransactionState{models.TransactionStateDone},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Count)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, "trx_done", result.Executions[0].TransactionID)
}

func TestPostgresPersistence_MarkAndPurgeExpired(t *testing.T) {
	p, ctx := setupTestDB(t)

	expired := newExecution("exec-expired", "my-workflow", "trx_expired")
	expired.RetentionTime = time.Hour
	expired.SetState(models.TransactionStateDone)
	require.NoError(t, p.SaveExecution(ctx, expired))

	keeper := newExecution("exec-keeper", "my-workflow", "trx_keeper")
	require.NoError(t, p.SaveExecution(ctx, keeper))

	marked, err := p.MarkExpired(ctx, time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	_, err = p.Execution(ctx, "my-workflow", "trx_expired")
	assert.True(t, persistence.IsExecutionNotFound(err))

	purged, err := p.PurgeExpired(ctx, time.Now().UTC().Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	result, err := p.ListExecutions(ctx, persistence.ListExecutionsOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Count)
	assert.Equal(t, "trx_keeper", result.Executions[0].TransactionID)
}

func TestPostgresPersistence_HealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))
}
