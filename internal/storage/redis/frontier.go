package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
)

// tryLockScript claims a URL only if it is neither visited nor locked. The
// visited check and the NX lock write run as one script, so concurrent
// claimants race inside Redis and exactly one wins.
var tryLockScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
  return 0
end
if redis.call('SET', KEYS[2], ARGV[2], 'NX', 'PX', ARGV[3]) then
  return 1
end
return 0
`)

// markVisitedScript adds the URL to the visited set and drops its lock
var markVisitedScript = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

// reserveSlotScript increments the page counter iff it is below the limit
var reserveSlotScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
  return 0
end
redis.call('INCR', KEYS[1])
return 1
`)

// FrontierStore keeps crawl frontier state in Redis so multiple crawler
// processes share one visited set. Layout:
//
//	{prefix}frontier:{crawlID}:visited    -> set of normalized URLs
//	{prefix}frontier:{crawlID}:lock:{url} -> claim timestamp, PX-expired
//	{prefix}frontier:{crawlID}:count      -> reserved slot count
type FrontierStore struct {
	client *redis.Client
	prefix string
	logger arbor.ILogger
}

// NewFrontierStore initializes a Redis-backed frontier
func NewFrontierStore(config *common.RedisConfig, logger arbor.ILogger) *FrontierStore {
	return &FrontierStore{
		client: redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		}),
		prefix: config.KeyPrefix,
		logger: logger,
	}
}

// NewFrontierStoreWithClient wraps an existing client, used by tests
func NewFrontierStoreWithClient(client *redis.Client, prefix string, logger arbor.ILogger) *FrontierStore {
	return &FrontierStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Redis client
func (f *FrontierStore) Close() error {
	return f.client.Close()
}

// Ping verifies connectivity
func (f *FrontierStore) Ping(ctx context.Context) error {
	if err := f.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis frontier unreachable: %w", err)
	}
	return nil
}

// TryLock atomically claims a URL for processing
func (f *FrontierStore) TryLock(ctx context.Context, crawlID, url string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	res, err := tryLockScript.Run(ctx, f.client,
		[]string{f.visitedKey(crawlID), f.lockKey(crawlID, url)},
		url, time.Now().UnixNano(), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to lock url: %w", err)
	}
	return res == 1, nil
}

// MarkVisited moves a URL into the visited set and drops its lock
func (f *FrontierStore) MarkVisited(ctx context.Context, crawlID, url string) error {
	err := markVisitedScript.Run(ctx, f.client,
		[]string{f.visitedKey(crawlID), f.lockKey(crawlID, url)},
		url,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to mark url visited: %w", err)
	}
	return nil
}

// ReleaseLock drops a lock early
func (f *FrontierStore) ReleaseLock(ctx context.Context, crawlID, url string) error {
	if err := f.client.Del(ctx, f.lockKey(crawlID, url)).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsVisited reports whether the URL is in the visited set
func (f *FrontierStore) IsVisited(ctx context.Context, crawlID, url string) (bool, error) {
	visited, err := f.client.SIsMember(ctx, f.visitedKey(crawlID), url).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check visited: %w", err)
	}
	return visited, nil
}

// Seen reports whether the URL is visited or holds a live lock
func (f *FrontierStore) Seen(ctx context.Context, crawlID, url string) (bool, error) {
	visited, err := f.IsVisited(ctx, crawlID, url)
	if err != nil {
		return false, err
	}
	if visited {
		return true, nil
	}

	locked, err := f.client.Exists(ctx, f.lockKey(crawlID, url)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock: %w", err)
	}
	return locked > 0, nil
}

// ReserveSlot increments the crawl's page counter iff it is below limit.
// A non-positive limit means uncapped.
func (f *FrontierStore) ReserveSlot(ctx context.Context, crawlID string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	res, err := reserveSlotScript.Run(ctx, f.client,
		[]string{f.countKey(crawlID)},
		limit,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to reserve slot: %w", err)
	}
	return res == 1, nil
}

// VisitedCount returns the size of the visited set
func (f *FrontierStore) VisitedCount(ctx context.Context, crawlID string) (int, error) {
	n, err := f.client.SCard(ctx, f.visitedKey(crawlID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count visited urls: %w", err)
	}
	return int(n), nil
}

// Clear removes all frontier state for a crawl
func (f *FrontierStore) Clear(ctx context.Context, crawlID string) error {
	if err := f.client.Del(ctx, f.visitedKey(crawlID), f.countKey(crawlID)).Err(); err != nil {
		return fmt.Errorf("failed to clear frontier: %w", err)
	}

	// Locks are individual keys; walk them with SCAN
	pattern := f.lockKey(crawlID, "*")
	var cursor uint64
	for {
		keys, next, err := f.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan frontier locks: %w", err)
		}
		if len(keys) > 0 {
			if err := f.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete frontier locks: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	f.logger.Debug().Str("crawl_id", crawlID).Msg("Frontier cleared")
	return nil
}

func (f *FrontierStore) visitedKey(crawlID string) string {
	return fmt.Sprintf("%sfrontier:%s:visited", f.prefix, crawlID)
}

func (f *FrontierStore) lockKey(crawlID, url string) string {
	return fmt.Sprintf("%sfrontier:%s:lock:%s", f.prefix, crawlID, url)
}

func (f *FrontierStore) countKey(crawlID string) string {
	return fmt.Sprintf("%sfrontier:%s:count", f.prefix, crawlID)
}

var _ interfaces.FrontierStore = (*FrontierStore)(nil)
