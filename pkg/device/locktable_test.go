package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAllNoLocksReturnsImmediately(t *testing.T) {
	lt := newLockTable()
	release, err := lt.acquireAll(context.Background(), nil)
	require.NoError(t, err)
	release()
}

func TestAcquireAllGrantsAndReleases(t *testing.T) {
	lt := newLockTable()
	release, err := lt.acquireAll(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	release()

	release2, err := lt.acquireAll(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	release2()
}

func TestAcquireAllBlocksOnHeldLock(t *testing.T) {
	lt := newLockTable()
	release1, err := lt.acquireAll(context.Background(), []string{"a"})
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release2, err := lt.acquireAll(context.Background(), []string{"a"})
		require.NoError(t, err)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquireAll should not have succeeded while first holds the lock")
	case <-time.After(20 * time.Millisecond):
	}

	release1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquireAll did not succeed after release")
	}
}

func TestAcquireAllCancelledContextReturnsError(t *testing.T) {
	lt := newLockTable()
	release1, err := lt.acquireAll(context.Background(), []string{"shared"})
	require.NoError(t, err)
	defer release1()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = lt.acquireAll(ctx, []string{"shared"})
	assert.Error(t, err)
}

func TestAcquireAllOrdersLexicographically(t *testing.T) {
	lt := newLockTable()
	var order []string
	var mu sync.Mutex

	wrapGet := func(id string) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}

	// acquireAll sorts internally; verify it does not deadlock when two
	// callers request the same locks in opposite input order.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		release, err := lt.acquireAll(context.Background(), []string{"z", "a"})
		if err == nil {
			wrapGet("first")
			time.Sleep(5 * time.Millisecond)
			release()
		}
	}()
	go func() {
		defer wg.Done()
		release, err := lt.acquireAll(context.Background(), []string{"a", "z"})
		if err == nil {
			wrapGet("second")
			time.Sleep(5 * time.Millisecond)
			release()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquireAll deadlocked on shared lock ids in opposite order")
	}
	assert.Len(t, order, 2)
}
