package badger

import (
	"io"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	kv       interfaces.KeyValueStorage
	frontier interfaces.FrontierStore
	cache    interfaces.CacheStore
	crawl    interfaces.CrawlStateStore
	research interfaces.ResearchStateStore
	ledger   interfaces.LedgerStore
	logger   arbor.ILogger
}

// NewManager creates a Badger storage manager. A non-nil frontier overrides
// the local Badger-backed one, which multi-process deployments use to share
// state through Redis.
func NewManager(logger arbor.ILogger, config *common.StorageConfig, frontier interfaces.FrontierStore) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, &config.Badger)
	if err != nil {
		return nil, err
	}

	if frontier == nil {
		frontier = NewFrontierStorage(db, logger)
	}

	manager := &Manager{
		db:       db,
		kv:       NewKVStorage(db, logger),
		frontier: frontier,
		cache:    NewCacheStorage(db, logger),
		crawl:    NewCrawlStorage(db, logger),
		research: NewResearchStorage(db, logger),
		ledger:   NewLedgerStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// DB returns the shared database connection for stores that manage their own
// key layout (the job queue rides the same Badger instance).
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// KeyValue returns the key/value storage interface
func (m *Manager) KeyValue() interfaces.KeyValueStorage {
	return m.kv
}

// Frontier returns the crawl frontier store
func (m *Manager) Frontier() interfaces.FrontierStore {
	return m.frontier
}

// Cache returns the content-addressed cache store
func (m *Manager) Cache() interfaces.CacheStore {
	return m.cache
}

// CrawlState returns the crawl state store
func (m *Manager) CrawlState() interfaces.CrawlStateStore {
	return m.crawl
}

// ResearchState returns the research state store
func (m *Manager) ResearchState() interfaces.ResearchStateStore {
	return m.research
}

// Ledger returns the per-team credit ledger
func (m *Manager) Ledger() interfaces.LedgerStore {
	return m.ledger
}

// Close closes the database and any external frontier connection
func (m *Manager) Close() error {
	if closer, ok := m.frontier.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to close frontier store")
		}
	}
	return m.db.Close()
}
