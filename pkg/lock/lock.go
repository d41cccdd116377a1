// Package lock serializes mutations of a single workflow transaction.
// Concurrent async-step responses and retry callbacks for the same
// transaction id must not interleave, or step state updates get lost.
package lock

import "context"

// Releaser releases a held lock.
type Releaser func()

// TransactionLocker grants exclusive access to one transaction id at a time.
// Acquire blocks until the lock is held or the context is done.
type TransactionLocker interface {
	Acquire(ctx context.Context, key string) (Releaser, error)
}

// Key builds the canonical lock key for an execution.
func Key(workflowID, transactionID string) string {
	return "wfe:" + workflowID + ":" + transactionID
}
