package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/services/scheduler"
)

type stubSchedulerService struct {
	running     bool
	jobs        []interfaces.ScheduledJob
	triggerFunc func(name string) error
	triggered   []string
}

var _ interfaces.SchedulerService = (*stubSchedulerService)(nil)

func (s *stubSchedulerService) Start() error    { return nil }
func (s *stubSchedulerService) Stop() error     { return nil }
func (s *stubSchedulerService) IsRunning() bool { return s.running }

func (s *stubSchedulerService) Trigger(name string) error {
	s.triggered = append(s.triggered, name)
	if s.triggerFunc != nil {
		return s.triggerFunc(name)
	}
	return nil
}

func (s *stubSchedulerService) Jobs() []interfaces.ScheduledJob { return s.jobs }

func TestListScheduledJobs(t *testing.T) {
	service := &stubSchedulerService{
		running: true,
		jobs: []interfaces.ScheduledJob{
			{Name: "docs-nightly", Schedule: "0 2 * * *", URL: "https://docs.example.com", Runs: 3},
		},
	}
	handler := NewSchedulerHandler(service, arbor.NewLogger())

	req := httptest.NewRequest("GET", "/api/scheduler/jobs", nil)
	rec := httptest.NewRecorder()
	handler.ListJobsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["running"])

	jobs := body["jobs"].([]interface{})
	require.Len(t, jobs, 1)
	job := jobs[0].(map[string]interface{})
	assert.Equal(t, "docs-nightly", job["name"])
	assert.Equal(t, "0 2 * * *", job["schedule"])
	assert.Equal(t, float64(3), job["runs"])
}

func TestTriggerSchedule(t *testing.T) {
	service := &stubSchedulerService{}
	handler := NewSchedulerHandler(service, arbor.NewLogger())

	req := httptest.NewRequest("POST", "/api/scheduler/trigger/docs-nightly", nil)
	rec := httptest.NewRecorder()
	handler.TriggerHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"docs-nightly"}, service.triggered)

	body := decodeBody(t, rec)
	assert.Equal(t, "triggered", body["status"])
	assert.Equal(t, "docs-nightly", body["schedule"])
}

func TestTriggerUnknownSchedule(t *testing.T) {
	service := &stubSchedulerService{
		triggerFunc: func(name string) error {
			return fmt.Errorf("no schedule named %q: %w", name, scheduler.ErrUnknownSchedule)
		},
	}
	handler := NewSchedulerHandler(service, arbor.NewLogger())

	req := httptest.NewRequest("POST", "/api/scheduler/trigger/ghost", nil)
	rec := httptest.NewRecorder()
	handler.TriggerHandler(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "ghost")
}

func TestTriggerMissingName(t *testing.T) {
	handler := NewSchedulerHandler(&stubSchedulerService{}, arbor.NewLogger())

	req := httptest.NewRequest("POST", "/api/scheduler/trigger/", nil)
	rec := httptest.NewRecorder()
	handler.TriggerHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerMethodNotAllowed(t *testing.T) {
	handler := NewSchedulerHandler(&stubSchedulerService{}, arbor.NewLogger())

	req := httptest.NewRequest("GET", "/api/scheduler/trigger/docs-nightly", nil)
	rec := httptest.NewRecorder()
	handler.TriggerHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
