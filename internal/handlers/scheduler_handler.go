package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/services/scheduler"
)

// SchedulerHandler exposes the schedule list and a manual trigger.
type SchedulerHandler struct {
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

// NewSchedulerHandler creates a scheduler handler
func NewSchedulerHandler(schedulerService interfaces.SchedulerService, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: schedulerService,
		logger:    logger,
	}
}

// ListJobsHandler handles GET /api/scheduler/jobs
func (h *SchedulerHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.scheduler.IsRunning(),
		"jobs":    h.scheduler.Jobs(),
	})
}

// TriggerHandler handles POST /api/scheduler/trigger/{name}. The tick runs
// synchronously; a submission failure lands in the job's last_error field
// rather than in this response.
func (h *SchedulerHandler) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/scheduler/trigger/"), "/")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "schedule name required")
		return
	}

	if err := h.scheduler.Trigger(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownSchedule) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("schedule", name).Msg("Schedule triggered manually")
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":   "triggered",
		"schedule": name,
	})
}
