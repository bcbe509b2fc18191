package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestFrontier(t *testing.T) (*FrontierStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewFrontierStoreWithClient(client, "messor:", arbor.NewLogger()), mr
}

func TestRedisTryLockSingleWinner(t *testing.T) {
	frontier, _ := newTestFrontier(t)
	ctx := context.Background()

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/page", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/page", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = frontier.TryLock(ctx, "crawl-2", "https://example.com/page", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisTryLockAfterVisited(t *testing.T) {
	frontier, _ := newTestFrontier(t)
	ctx := context.Background()

	require.NoError(t, frontier.MarkVisited(ctx, "crawl-1", "https://example.com/done"))

	visited, err := frontier.IsVisited(ctx, "crawl-1", "https://example.com/done")
	require.NoError(t, err)
	assert.True(t, visited)

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/done", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockExpiry(t *testing.T) {
	frontier, mr := newTestFrontier(t)
	ctx := context.Background()

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/crashed", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/crashed", 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	// miniredis expires keys on FastForward rather than wall clock
	mr.FastForward(150 * time.Millisecond)

	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/crashed", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisMarkVisitedDropsLock(t *testing.T) {
	frontier, _ := newTestFrontier(t)
	ctx := context.Background()

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, frontier.MarkVisited(ctx, "crawl-1", "https://example.com/a"))

	// The lock key is gone; only the visited set blocks a reclaim now
	visited, err := frontier.IsVisited(ctx, "crawl-1", "https://example.com/a")
	require.NoError(t, err)
	assert.True(t, visited)

	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisReleaseLock(t *testing.T) {
	frontier, _ := newTestFrontier(t)
	ctx := context.Background()

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://example.com/retry", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, frontier.ReleaseLock(ctx, "crawl-1", "https://example.com/retry"))

	ok, err = frontier.TryLock(ctx, "crawl-1", "https://example.com/retry", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisReserveSlotCap(t *testing.T) {
	frontier, _ := newTestFrontier(t)
	ctx := context.Background()

	granted := 0
	for i := 0; i < 8; i++ {
		ok, err := frontier.ReserveSlot(ctx, "crawl-1", 5)
		require.NoError(t, err)
		if ok {
			granted++
		}
	}
	assert.Equal(t, 5, granted)

	// Uncapped crawls always reserve
	ok, err := frontier.ReserveSlot(ctx, "crawl-2", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisVisitedCountAndClear(t *testing.T) {
	frontier, _ := newTestFrontier(t)
	ctx := context.Background()

	for _, url := range []string{"https://a.com/", "https://a.com/x", "https://a.com/y"} {
		require.NoError(t, frontier.MarkVisited(ctx, "crawl-1", url))
	}

	count, err := frontier.VisitedCount(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	ok, err := frontier.TryLock(ctx, "crawl-1", "https://a.com/z", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, frontier.Clear(ctx, "crawl-1"))

	count, err = frontier.VisitedCount(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	ok, err = frontier.TryLock(ctx, "crawl-1", "https://a.com/z", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisSeenCoversVisitedAndLocked(t *testing.T) {
	frontier, _ := newTestFrontier(t)
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
