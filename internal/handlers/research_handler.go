package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
	"github.com/ternarybob/messor/internal/services/research"
)

// ResearchHandler serves research submissions, live status and report export.
type ResearchHandler struct {
	research interfaces.ResearchService
	logger   arbor.ILogger
}

// NewResearchHandler creates a research handler
func NewResearchHandler(researchService interfaces.ResearchService, logger arbor.ILogger) *ResearchHandler {
	return &ResearchHandler{
		research: researchService,
		logger:   logger,
	}
}

// StartResearchHandler handles POST /api/research
func (h *ResearchHandler) StartResearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req models.ResearchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	state, err := h.research.Start(r.Context(), &req)
	if err != nil {
		h.logger.Warn().Err(err).Str("query", req.Query).Msg("Research submission rejected")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     state.ID,
		"status": state.Status,
		"query":  state.Query,
	})
}

// StatusHandler handles GET /api/research/{id}. The full state goes out,
// partial findings and the activity log included, so clients can render
// progress without a streaming connection.
func (h *ResearchHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	id := researchIDFromPath(r.URL.Path, "")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "research id required")
		return
	}

	state, err := h.research.Status(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, state)
}

// ReportHandler handles GET /api/research/{id}/report?format=markdown|html|pdf
func (h *ResearchHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	id := researchIDFromPath(r.URL.Path, "/report")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "research id required")
		return
	}

	format := r.URL.Query().Get("format")
	doc, contentType, err := h.research.Report(r.Context(), id, format)
	if err != nil {
		if errors.Is(err, research.ErrReportNotReady) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// researchIDFromPath extracts the research id from /api/research/{id}[suffix].
func researchIDFromPath(path, suffix string) string {
	id := strings.TrimPrefix(path, "/api/research/")
	id = strings.TrimSuffix(id, suffix)
	return strings.Trim(id, "/")
}
