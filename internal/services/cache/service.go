// Package cache provides the content-addressed conversion cache. Entries are
// keyed by a digest of the raw input bytes, so the same document reached via
// different URLs resolves to one entry and concurrent writers for a key can
// only ever write identical meaning.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
)

// Service provides content-addressed caching of conversion results.
type Service struct {
	store  interfaces.CacheStore
	logger arbor.ILogger
}

// NewService creates a new cache service.
func NewService(store interfaces.CacheStore, logger arbor.ILogger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Key returns the hex SHA-256 digest of the raw input bytes.
func (s *Service) Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached payload for the raw input. Bypass always misses,
// forcing the caller to recompute; a store failure degrades to a miss rather
// than failing the scrape.
func (s *Service) Lookup(ctx context.Context, data []byte, bypass bool) ([]byte, bool) {
	if bypass {
		return nil, false
	}

	key := s.Key(data)
	entry, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, interfaces.ErrKeyNotFound) {
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return nil, false
	}

	s.logger.Debug().Str("key", key).Int("size", len(entry.Payload)).Msg("Cache hit")
	return entry.Payload, true
}

// Store writes the payload under the input's digest. Overwrites are safe:
// identical input bytes imply an equivalent payload, so last write wins.
func (s *Service) Store(ctx context.Context, data, payload []byte) error {
	key := s.Key(data)
	if err := s.store.Put(ctx, key, payload); err != nil {
		return err
	}

	s.logger.Debug().Str("key", key).Int("size", len(payload)).Msg("Cache write")
	return nil
}

// Count returns the number of cached entries.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

var _ interfaces.CacheService = (*Service)(nil)
