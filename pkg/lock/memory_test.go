package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato/pkg/lock"
)

func TestMemoryLocker_SerializesSameKey(t *testing.T) {
	t.Parallel()

	locker := lock.NewMemoryLocker()
	key := lock.Key("my-workflow", "trx_1")

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	acquired := make(chan struct{})

	go func() {
		secondRelease, err := locker.Acquire(context.Background(), key)
		if err == nil {
			defer secondRelease()
		}

		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	t.Parallel()

	locker := lock.NewMemoryLocker()

	releaseA, err := locker.Acquire(context.Background(), lock.Key("wf", "a"))
	require.NoError(t, err)

	defer releaseA()

	releaseB, err := locker.Acquire(context.Background(), lock.Key("wf", "b"))
	require.NoError(t, err)

	defer releaseB()
}

func TestMemoryLocker_ContextCancellation(t *testing.T) {
	t.Parallel()

	locker := lock.NewMemoryLocker()
	key := lock.Key("wf", "trx_cancel")

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "wfe:my-workflow:trx_1", lock.Key("my-workflow", "trx_1"))
}
