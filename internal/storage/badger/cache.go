package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/messor/internal/interfaces"
)

// CacheStorage persists content-addressed scrape results. Keys are content
// digests computed by the cache service, so entries never expire and a
// concurrent double-write is harmless.
type CacheStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCacheStorage creates a cache store on the shared Badger DB
func NewCacheStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CacheStore {
	return &CacheStorage{
		db:     db,
		logger: logger,
	}
}

// Get returns the entry for the digest, or ErrKeyNotFound on miss
func (s *CacheStorage) Get(ctx context.Context, key string) (*interfaces.CacheEntry, error) {
	var entry interfaces.CacheEntry
	err := s.db.Store().Get(key, &entry)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &entry, nil
}

// Put stores or overwrites the entry for the digest
func (s *CacheStorage) Put(ctx context.Context, key string, payload []byte) error {
	entry := interfaces.CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(key, &entry); err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// Count returns the number of cached entries
func (s *CacheStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&interfaces.CacheEntry{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return int(count), nil
}
