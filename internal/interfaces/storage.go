package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/messor/internal/models"
)

// ErrKeyNotFound is returned when a key is not found in a store
var ErrKeyNotFound = errors.New("key not found")

// KeyValuePair represents a single key/value pair with metadata
type KeyValuePair struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeyValueStorage defines operations for generic key/value storage. Crawl
// and research state blobs not needing typed queries go through here.
type KeyValueStorage interface {
	// Get retrieves a value by key, returns ErrKeyNotFound if absent
	Get(ctx context.Context, key string) (string, error)

	// Set inserts or updates a key/value pair
	Set(ctx context.Context, key, value string) error

	// Delete removes a key, no error if absent
	Delete(ctx context.Context, key string) error

	// List returns pairs whose keys start with prefix
	List(ctx context.Context, prefix string) ([]KeyValuePair, error)
}

// CacheEntry is one content-addressed cache record.
type CacheEntry struct {
	Key       string    `json:"key" badgerhold:"key"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// CacheStore persists content-addressed conversion results. Keys are content
// digests, so concurrent writers for the same key always carry identical
// meaning and last write wins safely. No TTL at this layer.
type CacheStore interface {
	// Get returns the entry for the digest, or ErrKeyNotFound on miss
	Get(ctx context.Context, key string) (*CacheEntry, error)

	// Put stores or overwrites the entry for the digest
	Put(ctx context.Context, key string, payload []byte) error

	// Count returns the number of cached entries
	Count(ctx context.Context) (int, error)
}

// CrawlStateStore persists per-crawl state blobs.
type CrawlStateStore interface {
	SaveCrawl(ctx context.Context, state *models.CrawlState) error
	GetCrawl(ctx context.Context, crawlID string) (*models.CrawlState, error)
	ListCrawls(ctx context.Context, status models.JobStatus, limit int) ([]*models.CrawlState, error)
	SaveResult(ctx context.Context, result *models.JobResult) error
	ListResults(ctx context.Context, crawlID string, limit int) ([]*models.JobResult, error)
	CountResults(ctx context.Context, crawlID string) (int, error)
}

// ResearchStateStore persists research run state.
type ResearchStateStore interface {
	SaveResearch(ctx context.Context, state *models.ResearchState) error
	GetResearch(ctx context.Context, id string) (*models.ResearchState, error)
	ListResearch(ctx context.Context, status models.JobStatus, limit int) ([]*models.ResearchState, error)
}

// LedgerStore persists per-team credit balances. Debit is atomic: either the
// full amount is subtracted and an event recorded, or nothing changes.
type LedgerStore interface {
	// Debit subtracts units from the team's balance, seeding an absent
	// ledger with seedCredits first. Returns the remaining balance, or
	// ErrInsufficientCredits leaving the ledger untouched.
	Debit(ctx context.Context, teamID string, units, seedCredits int, event *models.BillingEvent) (int, error)

	// Credit adds units to the team's balance, seeding an absent ledger
	Credit(ctx context.Context, teamID string, units, seedCredits int) (int, error)

	// Balance returns the team's remaining credits, or ErrKeyNotFound when
	// the team has never been billed
	Balance(ctx context.Context, teamID string) (int, error)

	// ListEvents returns a team's charges, newest first
	ListEvents(ctx context.Context, teamID string, limit int) ([]*models.BillingEvent, error)
}

// StorageManager aggregates every store behind one lifecycle. Constructed
// once at process start, closed at shutdown; no hidden package state.
type StorageManager interface {
	KeyValue() KeyValueStorage
	Frontier() FrontierStore
	Cache() CacheStore
	CrawlState() CrawlStateStore
	ResearchState() ResearchStateStore
	Ledger() LedgerStore

	// LoadVariablesFromFiles seeds the KV store from TOML files in dir.
	LoadVariablesFromFiles(ctx context.Context, dir string) error

	// LoadEnvFile seeds the KV store from a KEY=value file if it exists.
	LoadEnvFile(ctx context.Context, path string) error

	Close() error
}
