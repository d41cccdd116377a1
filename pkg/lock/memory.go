package lock

import (
	"context"
	"sync"
)

// MemoryLocker is an in-process locker keyed by transaction id. It is the
// right choice when a single instance owns all executions, and for tests.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}

	return slot
}

// Acquire blocks until the keyed slot is free or the context is done.
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (Releaser, error) {
	slot := l.slot(key)

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
