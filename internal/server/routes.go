package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - crawl and batch submissions
	mux.HandleFunc("/api/crawl", s.app.CrawlHandler.StartCrawlHandler) // POST - submit a crawl
	mux.HandleFunc("/api/crawl/", s.handleCrawlRoutes)                 // /{id}, /{id}/results, /{id}/cancel
	mux.HandleFunc("/api/batch", s.app.CrawlHandler.StartBatchHandler) // POST - batch scrape without discovery

	// API routes - research
	mux.HandleFunc("/api/research", s.app.ResearchHandler.StartResearchHandler) // POST - start a research run
	mux.HandleFunc("/api/research/", s.handleResearchRoutes)                    // /{id}, /{id}/report

	// API routes - scheduler
	mux.HandleFunc("/api/scheduler/jobs", s.app.SchedulerHandler.ListJobsHandler)
	mux.HandleFunc("/api/scheduler/trigger/", s.app.SchedulerHandler.TriggerHandler)

	// API routes - logs
	mux.HandleFunc("/api/logs/recent", s.app.WSHandler.GetRecentLogsHandler)

	// API routes - system
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // Graceful shutdown endpoint (dev mode)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleCrawlRoutes routes /api/crawl/{id} requests
func (s *Server) handleCrawlRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/crawl/"), "/")
	if path == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// POST /api/crawl/{id}/cancel
	if r.Method == "POST" && strings.HasSuffix(path, "/cancel") {
		s.app.CrawlHandler.CancelHandler(w, r)
		return
	}

	// GET /api/crawl/{id}/results
	if r.Method == "GET" && strings.HasSuffix(path, "/results") {
		s.app.CrawlHandler.ResultsHandler(w, r)
		return
	}

	// GET /api/crawl/{id}
	if r.Method == "GET" && !strings.Contains(path, "/") {
		s.app.CrawlHandler.StatusHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// handleResearchRoutes routes /api/research/{id} requests
func (s *Server) handleResearchRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/research/"), "/")
	if path == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// GET /api/research/{id}/report
	if r.Method == "GET" && strings.HasSuffix(path, "/report") {
		s.app.ResearchHandler.ReportHandler(w, r)
		return
	}

	// GET /api/research/{id}
	if r.Method == "GET" && !strings.Contains(path, "/") {
		s.app.ResearchHandler.StatusHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
