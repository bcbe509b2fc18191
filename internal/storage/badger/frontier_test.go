package badger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

func newTestBadgerDB(t *testing.T) *BadgerDB {
	t.Helper()
	dir := t.TempDir()

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}

func newTestFrontier(t *testing.T) *FrontierStorage {
	t.Helper()
	return NewFrontierStorage(newTestBadgerDB(t), arbor.NewLogger()).(*FrontierStorage)
}

func TestTryLockSingleWinner(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/page", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim on the same URL loses
	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/page", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Different URL in the same crawl is unaffected
	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same URL in a different crawl is unaffected
	ok, err = frontier.TryLock(ctx, "crawl-2", "https://example.com/page", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryLockConcurrentClaims(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	const workers = 8
	var wins int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/contested", time.Minute)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}

func TestTryLockAfterVisited(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/done", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, frontier.MarkVisited(ctx, "crawl-1", "https://example.com/done"))

	visited, err := frontier.IsVisited(ctx, "crawl-1", "https://example.com/done")
	require.NoError(t, err)
	assert.True(t, visited)

	// Visited URLs are never claimable again, even after lock release
	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/done", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseLockReopensURL(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/retry", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, frontier.ReleaseLock(ctx, "crawl-1", "https://example.com/retry"))

	// Released but not visited, so a retry can claim it
	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/retry", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExpiresByTTL(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/crashed", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/crashed", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	// Holder never marked it visited, so the URL reopens when the TTL lapses
	require.Eventually(t, func() bool {
		ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/crashed", time.Minute)
		require.NoError(t, err)
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestReserveSlotCap(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	granted := 0
	for i := 0; i < 5; i++ {
		ok, err := frontier.ReserveSlot(ctx, "crawl-1", 3)
		require.NoError(t, err)
		if ok {
			granted++
		}
	}
	assert.Equal(t, 3, granted)

	// Other crawls have their own counter
	ok, err := frontier.ReserveSlot(ctx, "crawl-2", 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReserveSlotConcurrentExactCapacity(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	const attempts = 12
	const limit = 5

	var granted int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := frontier.ReserveSlot(ctx, "crawl-1", limit)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt64(&granted, 1)
			}
		}()
	}
	wg.Wait()

	// Contending reservations must grant exactly the remaining capacity
	assert.Equal(t, int64(limit), atomic.LoadInt64(&granted))
}

func TestReserveSlotUncapped(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ok, err := frontier.ReserveSlot(ctx, "crawl-1", 0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestVisitedCountAndClear(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	urls := []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
	}
	for _, url := range urls {
		require.NoError(t, frontier.MarkVisited(ctx, "crawl-1", url))
	}

	count, err := frontier.VisitedCount(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Locks and the counter go away with the visited set
	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/c", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = frontier.ReserveSlot(ctx, "crawl-1", 10)
	require.NoError(t, err)

	require.NoError(t, frontier.Clear(ctx, "crawl-1"))

	count, err = frontier.VisitedCount(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkVisitedIdempotent(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	require.NoError(t, frontier.MarkVisited(ctx, "crawl-1", "https://example.com/"))
	require.NoError(t, frontier.MarkVisited(ctx, "crawl-1", "https://example.com/"))

	count, err := frontier.VisitedCount(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSeenCoversVisitedAndLocked(t *testing.T) {
	frontier := newTestFrontier(t)
	ctx := context.Background()

	seen, err := frontier.Seen(ctx, "crawl-1", "https://example.com/fresh")
	require.NoError(t, err)
	assert.False(t, seen)

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/fresh", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	seen, err = frontier.Seen(ctx, "crawl-1", "https://example.com/fresh")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, frontier.MarkVisited(ctx, "crawl-1", "https://example.com/fresh"))

	seen, err = frontier.Seen(ctx, "crawl-1", "https://example.com/fresh")
	require.NoError(t, err)
	assert.True(t, seen)
}
