// Package file provides a file-based execution store for development and
// tests. One JSON document per execution, keyed by the workflow and
// transaction ids.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/persistence"
)

const executionsDir = "executions"

// Persistence implements persistence.Persistence on the local filesystem.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates the store rooted at the given directory.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	err := os.MkdirAll(filepath.Join(cleanRoot, executionsDir), 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create executions directory: %w", err)
	}

	return &Persistence{root: cleanRoot}, nil
}

func (fp *Persistence) executionPath(workflowID, transactionID string) string {
	name := url.PathEscape(workflowID) + "__" + url.PathEscape(transactionID) + ".json"

	return filepath.Join(fp.root, executionsDir, name)
}

// SaveExecution upserts the execution document, using write-then-rename so a
// crash never leaves a torn file behind.
func (fp *Persistence) SaveExecution(ctx context.Context, trx *models.TransactionContext) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	data, err := json.MarshalIndent(trx, "", "  ")
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", trx.WorkflowID, trx.TransactionID, err)
	}

	path := fp.executionPath(trx.WorkflowID, trx.TransactionID)
	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0o644)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", trx.WorkflowID, trx.TransactionID,
			fmt.Errorf("%w: %v", persistence.ErrStoreUnavailable, err))
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", trx.WorkflowID, trx.TransactionID,
			fmt.Errorf("%w: %v", persistence.ErrStoreUnavailable, err))
	}

	return nil
}

// Execution fetches by the (workflow id, transaction id) pair. Soft deleted
// records are reported as not found.
func (fp *Persistence) Execution(ctx context.Context, workflowID, transactionID string) (*models.TransactionContext, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	trx, err := fp.readExecution(fp.executionPath(workflowID, transactionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewExecutionError("Execution", workflowID, transactionID, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("Execution", workflowID, transactionID, err)
	}

	if trx.DeletedAt != nil {
		return nil, persistence.NewExecutionError("Execution", workflowID, transactionID, persistence.ErrExecutionNotFound)
	}

	return trx, nil
}

// ExecutionByID scans the store for the record id. The dev backend trades a
// linear scan for not maintaining a second index.
func (fp *Persistence) ExecutionByID(ctx context.Context, id string) (*models.TransactionContext, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	all, err := fp.readAll()
	if err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", "", "", err)
	}

	for _, trx := range all {
		if trx.ID == id && trx.DeletedAt == nil {
			return trx, nil
		}
	}

	return nil, persistence.NewExecutionError("ExecutionByID", "", "", persistence.ErrExecutionNotFound)
}

// ListExecutions filters, orders by created_at ascending and paginates.
func (fp *Persistence) ListExecutions(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ListExecutionsResult, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	all, err := fp.readAll()
	if err != nil {
		return nil, persistence.NewExecutionError("ListExecutions", opts.WorkflowID, "", err)
	}

	var matches []*models.TransactionContext

	for _, trx := range all {
		if trx.DeletedAt != nil || !matchesFilter(trx, opts) {
			continue
		}

		matches = append(matches, trx)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}

		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	count := int64(len(matches))

	if opts.Offset > 0 {
		if opts.Offset >= len(matches) {
			matches = nil
		} else {
			matches = matches[opts.Offset:]
		}
	}

	if opts.Limit > 0 && opts.Limit < len(matches) {
		matches = matches[:opts.Limit]
	}

	return &persistence.ListExecutionsResult{Executions: matches, Count: count}, nil
}

func matchesFilter(trx *models.TransactionContext, opts persistence.ListExecutionsOptions) bool {
	if opts.WorkflowID != "" && trx.WorkflowID != opts.WorkflowID {
		return false
	}

	if len(opts.TransactionIDs) > 0 {
		found := false

		for _, id := range opts.TransactionIDs {
			if trx.TransactionID == id {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	if len(opts.States) > 0 {
		found := false

		for _, state := range opts.States {
			if trx.State == state {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	if opts.CreatedAfter != nil && trx.CreatedAt.Before(*opts.CreatedAfter) {
		return false
	}

	if opts.CreatedBefore != nil && trx.CreatedAt.After(*opts.CreatedBefore) {
		return false
	}

	return true
}

// MarkExpired soft deletes terminal executions whose retention elapsed.
func (fp *Persistence) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	all, err := fp.readAll()
	if err != nil {
		return 0, persistence.NewExecutionError("MarkExpired", "", "", err)
	}

	var marked int64

	for _, trx := range all {
		if trx.DeletedAt != nil || !trx.Expired(now) {
			continue
		}

		deletedAt := now
		trx.DeletedAt = &deletedAt

		data, err := json.MarshalIndent(trx, "", "  ")
		if err != nil {
			return marked, persistence.NewExecutionError("MarkExpired", trx.WorkflowID, trx.TransactionID, err)
		}

		err = os.WriteFile(fp.executionPath(trx.WorkflowID, trx.TransactionID), data, 0o644)
		if err != nil {
			return marked, persistence.NewExecutionError("MarkExpired", trx.WorkflowID, trx.TransactionID, err)
		}

		marked++
	}

	return marked, nil
}

// PurgeExpired removes soft deleted records once a further retention period
// has passed since deletion.
func (fp *Persistence) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	all, err := fp.readAll()
	if err != nil {
		return 0, persistence.NewExecutionError("PurgeExpired", "", "", err)
	}

	var purged int64

	for _, trx := range all {
		if trx.DeletedAt == nil || now.Before(trx.DeletedAt.Add(trx.RetentionTime)) {
			continue
		}

		err = os.Remove(fp.executionPath(trx.WorkflowID, trx.TransactionID))
		if err != nil {
			return purged, persistence.NewExecutionError("PurgeExpired", trx.WorkflowID, trx.TransactionID, err)
		}

		purged++
	}

	return purged, nil
}

// HealthCheck verifies the root directory is reachable.
func (fp *Persistence) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close is a no-op for the file store.
func (fp *Persistence) Close(ctx context.Context) error {
	return nil
}

func (fp *Persistence) readExecution(path string) (*models.TransactionContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var trx models.TransactionContext

	err = json.Unmarshal(data, &trx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode execution document %s: %w", path, err)
	}

	return &trx, nil
}

func (fp *Persistence) readAll() ([]*models.TransactionContext, error) {
	entries, err := os.ReadDir(filepath.Join(fp.root, executionsDir))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", persistence.ErrStoreUnavailable, err)
	}

	var all []*models.TransactionContext

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		trx, err := fp.readExecution(filepath.Join(fp.root, executionsDir, entry.Name()))
		if err != nil {
			return nil, err
		}

		all = append(all, trx)
	}

	return all, nil
}
