package interfaces

import (
	"context"
	"time"
)

// FrontierStore is the shared visited/locked state for crawl frontiers.
// All methods operate on normalized URLs; callers normalize before calling.
//
// The store guarantees that for a given (crawlID, url) at most one TryLock
// succeeds until the lock expires, is released, or the URL is marked
// visited. A crashed worker's lock self-expires so the URL becomes claimable
// again: at-least-once, never concurrent, processing.
type FrontierStore interface {
	// TryLock atomically claims a URL for processing. Returns false if the
	// URL is already visited or locked by another worker.
	TryLock(ctx context.Context, crawlID, url string, ttl time.Duration) (bool, error)

	// MarkVisited moves a URL into the visited set and drops its lock.
	// A visited URL is never claimable again for this crawl.
	MarkVisited(ctx context.Context, crawlID, url string) error

	// ReleaseLock drops a lock early so another worker or a retry may claim
	// the URL before the TTL expires.
	ReleaseLock(ctx context.Context, crawlID, url string) error

	// IsVisited reports whether the URL is in the visited set.
	IsVisited(ctx context.Context, crawlID, url string) (bool, error)

	// Seen reports whether the URL is visited or currently locked. Used by
	// the policy evaluator as a side-effect-free dedup probe; the answer is
	// advisory and TryLock remains the authoritative claim.
	Seen(ctx context.Context, crawlID, url string) (bool, error)

	// ReserveSlot atomically increments the crawl's discovered-page counter
	// iff it is still below limit. Shared across workers so concurrent
	// acceptance cannot jointly overshoot the cap.
	ReserveSlot(ctx context.Context, crawlID string, limit int) (bool, error)

	// VisitedCount returns the size of the visited set.
	VisitedCount(ctx context.Context, crawlID string) (int, error)

	// Clear removes all frontier state for a crawl.
	Clear(ctx context.Context, crawlID string) error
}
