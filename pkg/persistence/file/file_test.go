package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/persistence"
	"github.com/mercato/mercato/pkg/persistence/file"
)

func setupStore(t *testing.T) *file.Persistence {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	return store
}

func newExecution(id, workflowID, transactionID string) *models.TransactionContext {
	def := &models.WorkflowDefinition{
		Name: workflowID,
		Steps: map[string]*models.StepRef{
			"step-one": {Step: &models.StepDefinition{Name: "step-one"}},
		},
		Stages: [][]string{{"step-one"}},
	}

	return models.NewTransactionContext(id, def, transactionID, map[string]any{"initial": "abc"})
}

func TestFilePersistence_SaveAndGet(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	trx := newExecution("exec-1", "my-workflow", "trx_1")
	require.NoError(t, store.SaveExecution(ctx, trx))

	loaded, err := store.Execution(ctx, "my-workflow", "trx_1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", loaded.ID)
	assert.Equal(t, models.TransactionStateInvoking, loaded.State)
	assert.Contains(t, loaded.StepStates, "step-one")
}

func TestFilePersistence_SaveIsUpsert(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	trx := newExecution("exec-1", "my-workflow", "trx_1")
	require.NoError(t, store.SaveExecution(ctx, trx))

	trx.SetState(models.TransactionStateDone)
	require.NoError(t, store.SaveExecution(ctx, trx))

	loaded, err := store.Execution(ctx, "my-workflow", "trx_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStateDone, loaded.State)
}

func TestFilePersistence_NotFound(t *testing.T) {
	t.Parallel()

	store := setupStore(t)

	_, err := store.Execution(context.Background(), "my-workflow", "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestFilePersistence_ExecutionByID(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveExecution(ctx, newExecution("exec-1", "my-workflow", "trx_1")))
	require.NoError(t, store.SaveExecution(ctx, newExecution("exec-2", "my-workflow", "trx_2")))

	loaded, err := store.ExecutionByID(ctx, "exec-2")
	require.NoError(t, err)
	assert.Equal(t, "trx_2", loaded.TransactionID)

	_, err = store.ExecutionByID(ctx, "exec-3")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestFilePersistence_ListFiltersByTransactionIDs(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveExecution(ctx, newExecution("exec-"+id, "my-workflow", id)))
	}

	result, err := store.ListExecutions(ctx, persistence.ListExecutionsOptions{
		TransactionIDs: []string{"a", "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.Count)
	require.Len(t, result.Executions, 2)

	ids := []string{result.Executions[0].TransactionID, result.Executions[1].TransactionID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestFilePersistence_ListFiltersByStateAndWorkflow(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	done := newExecution("exec-done", "flow-a", "trx_done")
	done.SetState(models.TransactionStateDone)
	require.NoError(t, store.SaveExecution(ctx, done))

	require.NoError(t, store.SaveExecution(ctx, newExecution("exec-run", "flow-a", "trx_run")))
	require.NoError(t, store.SaveExecution(ctx, newExecution("exec-other", "flow-b", "trx_other")))

	result, err := store.ListExecutions(ctx, persistence.ListExecutionsOptions{
		WorkflowID: "flow-a",
		States:     []models.TransactionState{models.TransactionStateDone},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Count)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, "trx_done", result.Executions[0].TransactionID)
}

func TestFilePersistence_ListPagination(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	base := time.Now().UTC()

	for i, id := range []string{"a", "b", "c", "d"} {
		trx := newExecution("exec-"+id, "my-workflow", id)
		trx.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.SaveExecution(ctx, trx))
	}

	result, err := store.ListExecutions(ctx, persistence.ListExecutionsOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)

	// Count reports total matches, not the page size.
	assert.Equal(t, int64(4), result.Count)
	require.Len(t, result.Executions, 2)
	assert.Equal(t, "b", result.Executions[0].TransactionID)
	assert.Equal(t, "c", result.Executions[1].TransactionID)
}

func TestFilePersistence_MarkAndPurgeExpired(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	trx := newExecution("exec-1", "my-workflow", "trx_1")
	trx.RetentionTime = time.Hour
	trx.SetState(models.TransactionStateDone)
	require.NoError(t, store.SaveExecution(ctx, trx))

	keeper := newExecution("exec-2", "my-workflow", "trx_2")
	require.NoError(t, store.SaveExecution(ctx, keeper))

	marked, err := store.MarkExpired(ctx, time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	// Soft deleted records disappear from reads.
	_, err = store.Execution(ctx, "my-workflow", "trx_1")
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = store.Execution(ctx, "my-workflow", "trx_2")
	require.NoError(t, err)

	purged, err := store.PurgeExpired(ctx, time.Now().UTC().Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	result, err := store.ListExecutions(ctx, persistence.ListExecutionsOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Count)
}

func TestFilePersistence_HealthCheck(t *testing.T) {
	t.Parallel()

	store := setupStore(t)

	require.NoError(t, store.HealthCheck(context.Background()))
	require.NoError(t, store.Close(context.Background()))
}
