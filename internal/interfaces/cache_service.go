package interfaces

import "context"

// CacheService avoids repeated expensive conversions by content addressing.
// Keys derive from the raw input bytes, never from the source URL, so
// identical content reached through different URLs shares one entry.
type CacheService interface {
	// Key returns the cache key for a blob of raw input bytes
	Key(data []byte) string

	// Lookup returns the cached payload for the raw input, or a miss.
	// Bypass always misses so the caller recomputes.
	Lookup(ctx context.Context, data []byte, bypass bool) ([]byte, bool)

	// Store writes the payload for the raw input, overwriting any prior
	// entry. Called on bypassed scrapes too.
	Store(ctx context.Context, data, payload []byte) error

	// Count returns the number of cached entries
	Count(ctx context.Context) (int, error)
}
