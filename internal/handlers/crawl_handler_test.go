package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// stubCrawlerService implements interfaces.CrawlerService with per-method
// function fields so each test overrides only what it exercises.
type stubCrawlerService struct {
	startCrawlFunc func(ctx context.Context, req *models.CrawlRequest) (*models.CrawlState, error)
	startBatchFunc func(ctx context.Context, req *models.BatchRequest) (*models.CrawlState, error)
	statusFunc     func(ctx context.Context, crawlID string) (*models.CrawlSnapshot, error)
	resultsFunc    func(ctx context.Context, crawlID string, limit int) ([]*models.JobResult, error)
	cancelFunc     func(ctx context.Context, crawlID string) error
}

var _ interfaces.CrawlerService = (*stubCrawlerService)(nil)

func (s *stubCrawlerService) StartCrawl(ctx context.Context, req *models.CrawlRequest) (*models.CrawlState, error) {
	if s.startCrawlFunc != nil {
		return s.startCrawlFunc(ctx, req)
	}
	return nil, nil
}

func (s *stubCrawlerService) StartBatch(ctx context.Context, req *models.BatchRequest) (*models.CrawlState, error) {
	if s.startBatchFunc != nil {
		return s.startBatchFunc(ctx, req)
	}
	return nil, nil
}

func (s *stubCrawlerService) Status(ctx context.Context, crawlID string) (*models.CrawlSnapshot, error) {
	if s.statusFunc != nil {
		return s.statusFunc(ctx, crawlID)
	}
	return nil, interfaces.ErrKeyNotFound
}

func (s *stubCrawlerService) Results(ctx context.Context, crawlID string, limit int) ([]*models.JobResult, error) {
	if s.resultsFunc != nil {
		return s.resultsFunc(ctx, crawlID, limit)
	}
	return nil, nil
}

func (s *stubCrawlerService) Cancel(ctx context.Context, crawlID string) error {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, crawlID)
	}
	return nil
}

func newCrawlHandler(service interfaces.CrawlerService) *CrawlHandler {
	return NewCrawlHandler(service, arbor.NewLogger())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestStartCrawlAccepted(t *testing.T) {
	var submitted *models.CrawlRequest
	service := &stubCrawlerService{
		startCrawlFunc: func(ctx context.Context, req *models.CrawlRequest) (*models.CrawlState, error) {
			submitted = req
			return &models.CrawlState{
				CrawlID:   "crawl-1",
				OriginURL: req.URL,
				Status:    models.JobStatusPending,
				UpdatedAt: time.Now(),
			}, nil
		},
	}
	handler := newCrawlHandler(service)

	req := httptest.NewRequest("POST", "/api/crawl", strings.NewReader(`{"url":"https://example.com","options":{"limit":50}}`))
	rec := httptest.NewRecorder()
	handler.StartCrawlHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, submitted)
	assert.Equal(t, "https://example.com", submitted.URL)
	assert.Equal(t, 50, submitted.Options.Limit)

	body := decodeBody(t, rec)
	assert.Equal(t, "crawl-1", body["crawl_id"])
	assert.Equal(t, string(models.JobStatusPending), body["status"])
	assert.Equal(t, "https://example.com", body["origin_url"])
}

func TestStartCrawlInvalidBody(t *testing.T) {
	handler := newCrawlHandler(&stubCrawlerService{})

	req := httptest.NewRequest("POST", "/api/crawl", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.StartCrawlHandler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["status"])
}

func TestStartCrawlValidationRejection(t *testing.T) {
	service := &stubCrawlerService{
		startCrawlFunc: func(ctx context.Context, req *models.CrawlRequest) (*models.CrawlState, error) {
			return nil, &models.ErrorRecord{Code: models.ErrCodeValidation, Message: "url is required"}
		},
	}
	handler := newCrawlHandler(service)

	req := httptest.NewRequest("POST", "/api/crawl", strings.NewReader(`{"url":""}`))
	rec := httptest.NewRecorder()
	handler.StartCrawlHandler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "url is required", body["error"])
}

func TestStartCrawlInsufficientCredits(t *testing.T) {
	service := &stubCrawlerService{
		startCrawlFunc: func(ctx context.Context, req *models.CrawlRequest) (*models.CrawlState, error) {
			return nil, &models.ErrorRecord{Code: models.ErrCodeInsufficientCredits, Message: "insufficient credits"}
		},
	}
	handler := newCrawlHandler(service)

	req := httptest.NewRequest("POST", "/api/crawl", strings.NewReader(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	handler.StartCrawlHandler(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestStartCrawlMethodNotAllowed(t *testing.T) {
	handler := newCrawlHandler(&stubCrawlerService{})

	req := httptest.NewRequest("GET", "/api/crawl", nil)
	rec := httptest.NewRecorder()
	handler.StartCrawlHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartBatchAccepted(t *testing.T) {
	var submitted *models.BatchRequest
	service := &stubCrawlerService{
		startBatchFunc: func(ctx context.Context, req *models.BatchRequest) (*models.CrawlState, error) {
			submitted = req
			return &models.CrawlState{
				CrawlID: "batch-1",
				Status:  models.JobStatusPending,
			}, nil
		},
	}
	handler := newCrawlHandler(service)

	payload := `{"urls":["https://example.com/a","https://example.com/b"]}`
	req := httptest.NewRequest("POST", "/api/batch", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.StartBatchHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, submitted)
	assert.Len(t, submitted.URLs, 2)

	body := decodeBody(t, rec)
	assert.Equal(t, "batch-1", body["crawl_id"])
}

func TestCrawlStatusReturnsSnapshot(t *testing.T) {
	service := &stubCrawlerService{
		statusFunc: func(ctx context.Context, crawlID string) (*models.CrawlSnapshot, error) {
			require.Equal(t, "crawl-7", crawlID)
			return &models.CrawlSnapshot{
				CrawlID:   crawlID,
				Status:    models.JobStatusRunning,
				OriginURL: "https://example.com",
				Total:     10,
				Completed: 4,
				Failed:    1,
			}, nil
		},
	}
	handler := newCrawlHandler(service)

	req := httptest.NewRequest("GET", "/api/crawl/crawl-7", nil)
	rec := httptest.NewRecorder()
	handler.StatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "crawl-7", body["crawl_id"])
	assert.Equal(t, string(models.JobStatusRunning), body["status"])
	assert.Equal(t, float64(10), body["total"])
	assert.Equal(t, float64(4), body["completed"])
	assert.Equal(t, float64(1), body["failed"])
}

func TestCrawlStatusUnknownID(t *testing.T) {
	handler := newCrawlHandler(&stubCrawlerService{})

	req := httptest.NewRequest("GET", "/api/crawl/ghost", nil)
	rec := httptest.NewRecorder()
	handler.StatusHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCrawlStatusMissingID(t *testing.T) {
	handler := newCrawlHandler(&stubCrawlerService{})

	req := httptest.NewRequest("GET", "/api/crawl/", nil)
	rec := httptest.NewRecorder()
	handler.StatusHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrawlResultsListed(t *testing.T) {
	var capturedLimit int
	service := &stubCrawlerService{
		statusFunc: func(ctx context.Context, crawlID string) (*models.CrawlSnapshot, error) {
			return &models.CrawlSnapshot{CrawlID: crawlID}, nil
		},
		resultsFunc: func(ctx context.Context, crawlID string, limit int) ([]*models.JobResult, error) {
			capturedLimit = limit
			return []*models.JobResult{
				{JobID: "job-1", CrawlID: crawlID, URL: "https://example.com/a"},
				{JobID: "job-2", CrawlID: crawlID, URL: "https://example.com/b"},
			}, nil
		},
	}
	handler := newCrawlHandler(service)

	req := httptest.NewRequest("GET", "/api/crawl/crawl-7/results?limit=25", nil)
	rec := httptest.NewRecorder()
	handler.ResultsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, capturedLimit)

	body := decodeBody(t, rec)
	assert.Equal(t, "crawl-7", body["crawl_id"])
	assert.Equal(t, float64(2), body["count"])
	results := body["results"].([]interface{})
	require.Len(t, results, 2)
}

func TestCrawlResultsUnknownID(t *testing.T) {
	resultsCalled := false
	service := &stubCrawlerService{
		resultsFunc: func(ctx context.Context, crawlID string, limit int) ([]*models.JobResult, error) {
			resultsCalled = true
			return nil, nil
		},
	}
	handler := newCrawlHandler(service)

	req := httptest.NewRequest("GET", "/api/crawl/ghost/results", nil)
	rec := httptest.NewRecorder()
	handler.ResultsHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resultsCalled, "unknown runs are rejected before listing")
}

func TestCancelCrawl(t *testing.T) {
	var cancelled string
	service := &stubCrawlerService{
		cancelFunc: func(ctx context.Context, crawlID string) error {
			cancelled = crawlID
			return nil
		},
	}
	handler := newCrawlHandler(service)

	req := httptest.NewRequest("POST", "/api/crawl/crawl-7/cancel", nil)
	rec := httptest.NewRecorder()
	handler.CancelHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "crawl-7", cancelled)

	body := decodeBody(t, rec)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, "crawl-7", body["crawl_id"])
}

func TestCancelUnknownCrawl(t *testing.T) {
	service := &stubCrawlerService{
		cancelFunc: func(ctx context.Context, crawlID string) error {
			return interfaces.ErrKeyNotFound
		},
	}
	handler := newCrawlHandler(service)

	req := httptest.NewRequest("POST", "/api/crawl/ghost/cancel", nil)
	rec := httptest.NewRecorder()
	handler.CancelHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCrawlIDFromPath(t *testing.T) {
	tests := []struct {
		path   string
		suffix string
		want   string
	}{
		{"/api/crawl/abc", "", "abc"},
		{"/api/crawl/abc/", "", "abc"},
		{"/api/crawl/abc/results", "/results", "abc"},
		{"/api/crawl/abc/cancel", "/cancel", "abc"},
		{"/api/crawl/", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, crawlIDFromPath(tt.path, tt.suffix), tt.path)
	}
}
