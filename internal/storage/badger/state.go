package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// CrawlStorage persists crawl state and per-URL results
type CrawlStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCrawlStorage creates a crawl state store on the shared Badger DB
func NewCrawlStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CrawlStateStore {
	return &CrawlStorage{
		db:     db,
		logger: logger,
	}
}

// SaveCrawl inserts or updates a crawl state
func (s *CrawlStorage) SaveCrawl(ctx context.Context, state *models.CrawlState) error {
	if err := s.db.Store().Upsert(state.CrawlID, state); err != nil {
		return fmt.Errorf("failed to save crawl state: %w", err)
	}
	return nil
}

// GetCrawl retrieves a crawl state by ID
func (s *CrawlStorage) GetCrawl(ctx context.Context, crawlID string) (*models.CrawlState, error) {
	var state models.CrawlState
	err := s.db.Store().Get(crawlID, &state)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl state: %w", err)
	}
	return &state, nil
}

// ListCrawls lists crawls, newest first. An empty status matches all.
func (s *CrawlStorage) ListCrawls(ctx context.Context, status models.JobStatus, limit int) ([]*models.CrawlState, error) {
	var query *badgerhold.Query
	if status == "" {
		query = badgerhold.Where("CrawlID").Ne("")
	} else {
		query = badgerhold.Where("Status").Eq(status)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var states []*models.CrawlState
	if err := s.db.Store().Find(&states, query); err != nil {
		return nil, fmt.Errorf("failed to list crawls: %w", err)
	}
	return states, nil
}

// SaveResult inserts or updates a per-URL job result
func (s *CrawlStorage) SaveResult(ctx context.Context, result *models.JobResult) error {
	if err := s.db.Store().Upsert(result.JobID, result); err != nil {
		return fmt.Errorf("failed to save job result: %w", err)
	}
	return nil
}

// ListResults lists results for a crawl in completion order
func (s *CrawlStorage) ListResults(ctx context.Context, crawlID string, limit int) ([]*models.JobResult, error) {
	query := badgerhold.Where("CrawlID").Eq(crawlID).SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var results []*models.JobResult
	if err := s.db.Store().Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to list job results: %w", err)
	}
	return results, nil
}

// CountResults returns the number of stored results for a crawl
func (s *CrawlStorage) CountResults(ctx context.Context, crawlID string) (int, error) {
	count, err := s.db.Store().Count(&models.JobResult{}, badgerhold.Where("CrawlID").Eq(crawlID))
	if err != nil {
		return 0, fmt.Errorf("failed to count job results: %w", err)
	}
	return int(count), nil
}

// ResearchStorage persists research run state
type ResearchStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResearchStorage creates a research state store on the shared Badger DB
func NewResearchStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResearchStateStore {
	return &ResearchStorage{
		db:     db,
		logger: logger,
	}
}

// SaveResearch inserts or updates a research state
func (s *ResearchStorage) SaveResearch(ctx context.Context, state *models.ResearchState) error {
	if err := s.db.Store().Upsert(state.ID, state); err != nil {
		return fmt.Errorf("failed to save research state: %w", err)
	}
	return nil
}

// GetResearch retrieves a research state by ID
func (s *ResearchStorage) GetResearch(ctx context.Context, id string) (*models.ResearchState, error) {
	var state models.ResearchState
	err := s.db.Store().Get(id, &state)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get research state: %w", err)
	}
	return &state, nil
}

// ListResearch lists research runs, newest first. An empty status matches all.
func (s *ResearchStorage) ListResearch(ctx context.Context, status models.JobStatus, limit int) ([]*models.ResearchState, error) {
	var query *badgerhold.Query
	if status == "" {
		query = badgerhold.Where("ID").Ne("")
	} else {
		query = badgerhold.Where("Status").Eq(status)
	}
	query = query.SortBy("StartTime").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var states []*models.ResearchState
	if err := s.db.Store().Find(&states, query); err != nil {
		return nil, fmt.Errorf("failed to list research runs: %w", err)
	}
	return states, nil
}
