package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// CrawlHandler serves crawl and batch submissions and their progress queries.
type CrawlHandler struct {
	crawler interfaces.CrawlerService
	logger  arbor.ILogger
}

// NewCrawlHandler creates a crawl handler
func NewCrawlHandler(crawlerService interfaces.CrawlerService, logger arbor.ILogger) *CrawlHandler {
	return &CrawlHandler{
		crawler: crawlerService,
		logger:  logger,
	}
}

// StartCrawlHandler handles POST /api/crawl
func (h *CrawlHandler) StartCrawlHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req models.CrawlRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	state, err := h.crawler.StartCrawl(r.Context(), &req)
	if err != nil {
		h.logger.Warn().Err(err).Str("url", req.URL).Msg("Crawl submission rejected")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, state.Snapshot())
}

// StartBatchHandler handles POST /api/batch
func (h *CrawlHandler) StartBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req models.BatchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	state, err := h.crawler.StartBatch(r.Context(), &req)
	if err != nil {
		h.logger.Warn().Err(err).Int("urls", len(req.URLs)).Msg("Batch submission rejected")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, state.Snapshot())
}

// StatusHandler handles GET /api/crawl/{id}
func (h *CrawlHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	id := crawlIDFromPath(r.URL.Path, "")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "crawl id required")
		return
	}

	snapshot, err := h.crawler.Status(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, snapshot)
}

// ResultsHandler handles GET /api/crawl/{id}/results?limit=N
func (h *CrawlHandler) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	id := crawlIDFromPath(r.URL.Path, "/results")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "crawl id required")
		return
	}

	// The run must exist before its results are listed; an unknown id is a
	// 404, not an empty list.
	if _, err := h.crawler.Status(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}

	limit := QueryInt(r, "limit", 0)
	results, err := h.crawler.Results(r.Context(), id, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"crawl_id": id,
		"count":    len(results),
		"results":  results,
	})
}

// CancelHandler handles POST /api/crawl/{id}/cancel
func (h *CrawlHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	id := crawlIDFromPath(r.URL.Path, "/cancel")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "crawl id required")
		return
	}

	if err := h.crawler.Cancel(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("crawl_id", id).Msg("Crawl cancel requested")
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":   "cancelled",
		"crawl_id": id,
	})
}

// crawlIDFromPath extracts the crawl id from /api/crawl/{id}[suffix].
func crawlIDFromPath(path, suffix string) string {
	id := strings.TrimPrefix(path, "/api/crawl/")
	id = strings.TrimSuffix(id, suffix)
	return strings.Trim(id, "/")
}
