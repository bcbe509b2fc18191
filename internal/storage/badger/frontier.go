package badger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
)

// FrontierStorage keeps the per-crawl visited set, URL locks, and the
// discovered-page counter in raw Badger keys:
//
//	frontier:{crawlID}:visited:{url} -> claim timestamp
//	frontier:{crawlID}:lock:{url}    -> claim timestamp (TTL'd entry)
//	frontier:{crawlID}:count         -> reserved slot count
//
// Locks ride Badger's native entry TTL, so a worker that dies holding one
// leaves nothing to clean up.
type FrontierStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewFrontierStorage creates a frontier store on the shared Badger DB
func NewFrontierStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FrontierStore {
	return &FrontierStorage{
		db:     db,
		logger: logger,
	}
}

// TryLock atomically claims a URL. The visited check, lock check, and lock
// write share one transaction; concurrent claimants conflict at commit and
// exactly one wins.
func (f *FrontierStorage) TryLock(ctx context.Context, crawlID, url string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	claimed := false
	err := f.db.DB().Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(f.visitedKey(crawlID, url)); err == nil {
			return nil
		} else if err != badgerdb.ErrKeyNotFound {
			return err
		}

		if _, err := txn.Get(f.lockKey(crawlID, url)); err == nil {
			return nil
		} else if err != badgerdb.ErrKeyNotFound {
			return err
		}

		entry := badgerdb.NewEntry(f.lockKey(crawlID, url), timestampValue()).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		// A commit conflict means another worker claimed the URL first
		if err == badgerdb.ErrConflict {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock url: %w", err)
	}
	return claimed, nil
}

// MarkVisited moves a URL into the visited set and drops its lock. Idempotent.
func (f *FrontierStorage) MarkVisited(ctx context.Context, crawlID, url string) error {
	err := f.db.DB().Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(f.visitedKey(crawlID, url), timestampValue()); err != nil {
			return err
		}
		if err := txn.Delete(f.lockKey(crawlID, url)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark url visited: %w", err)
	}
	return nil
}

// ReleaseLock drops a lock early so the URL becomes claimable again
func (f *FrontierStorage) ReleaseLock(ctx context.Context, crawlID, url string) error {
	err := f.db.DB().Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(f.lockKey(crawlID, url)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsVisited reports whether the URL is in the visited set
func (f *FrontierStorage) IsVisited(ctx context.Context, crawlID, url string) (bool, error) {
	visited := false
	err := f.db.DB().View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(f.visitedKey(crawlID, url))
		if err == nil {
			visited = true
			return nil
		}
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to check visited: %w", err)
	}
	return visited, nil
}

// Seen reports whether the URL is visited or holds a live lock
func (f *FrontierStorage) Seen(ctx context.Context, crawlID, url string) (bool, error) {
	seen := false
	err := f.db.DB().View(func(txn *badgerdb.Txn) error {
		for _, key := range [][]byte{f.visitedKey(crawlID, url), f.lockKey(crawlID, url)} {
			_, err := txn.Get(key)
			if err == nil {
				seen = true
				return nil
			}
			if err != badgerdb.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check seen: %w", err)
	}
	return seen, nil
}

// ReserveSlot increments the crawl's page counter iff it is below limit.
// Losers of a commit conflict retry rather than report a full crawl, so K
// remaining slots admit exactly K concurrent reservations. A non-positive
// limit means uncapped.
func (f *FrontierStorage) ReserveSlot(ctx context.Context, crawlID string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	key := f.countKey(crawlID)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		granted := false
		err := f.db.DB().Update(func(txn *badgerdb.Txn) error {
			count := 0
			item, err := txn.Get(key)
			if err == nil {
				if verr := item.Value(func(val []byte) error {
					n, perr := strconv.Atoi(string(val))
					if perr != nil {
						return perr
					}
					count = n
					return nil
				}); verr != nil {
					return verr
				}
			} else if err != badgerdb.ErrKeyNotFound {
				return err
			}

			if count >= limit {
				return nil
			}
			granted = true
			return txn.Set(key, []byte(strconv.Itoa(count+1)))
		})
		if err == badgerdb.ErrConflict {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to reserve slot: %w", err)
		}
		return granted, nil
	}
}

// VisitedCount returns the size of the visited set
func (f *FrontierStorage) VisitedCount(ctx context.Context, crawlID string) (int, error) {
	count := 0
	prefix := []byte(fmt.Sprintf("frontier:%s:visited:", crawlID))
	err := f.db.DB().View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count visited urls: %w", err)
	}
	return count, nil
}

// Clear removes all frontier state for a crawl
func (f *FrontierStorage) Clear(ctx context.Context, crawlID string) error {
	prefix := []byte(fmt.Sprintf("frontier:%s:", crawlID))

	var keys [][]byte
	err := f.db.DB().View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan frontier keys: %w", err)
	}

	// Delete in chunks to stay under the transaction size cap
	const chunk = 1000
	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		err := f.db.DB().Update(func(txn *badgerdb.Txn) error {
			for _, key := range keys[start:end] {
				if err := txn.Delete(key); err != nil && err != badgerdb.ErrKeyNotFound {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to clear frontier: %w", err)
		}
	}

	f.logger.Debug().
		Str("crawl_id", crawlID).
		Int("keys", len(keys)).
		Msg("Frontier cleared")
	return nil
}

func (f *FrontierStorage) visitedKey(crawlID, url string) []byte {
	return []byte(fmt.Sprintf("frontier:%s:visited:%s", crawlID, url))
}

func (f *FrontierStorage) lockKey(crawlID, url string) []byte {
	return []byte(fmt.Sprintf("frontier:%s:lock:%s", crawlID, url))
}

func (f *FrontierStorage) countKey(crawlID string) []byte {
	return []byte(fmt.Sprintf("frontier:%s:count", crawlID))
}

func timestampValue() []byte {
	return []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
}
