package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/messor/internal/models"
)

// ErrNoMessage is returned when no message is claimable
var ErrNoMessage = errors.New("no message")

// Job types routed through the queue
const (
	JobTypeCrawlKickoff = "crawl_kickoff"
	JobTypeCrawlPage    = "crawl_page"
	JobTypeResearch     = "research"
)

// Priorities. Numerically lower is scheduled first; kickoff jobs expand
// seeds into page jobs, so they jump the page backlog.
const (
	PriorityKickoff  = 5
	PriorityResearch = 5
	PriorityPage     = 10
)

// JobMessage is the durable queue envelope. Payload is the job-type-specific
// body; handlers decode it themselves.
type JobMessage struct {
	ID              string              `json:"id"`
	Type            string              `json:"type"`
	Priority        int                 `json:"priority"`
	TeamID          string              `json:"team_id,omitempty"`
	TeamConcurrency int                 `json:"team_concurrency,omitempty"`
	Payload         json.RawMessage     `json:"payload"`
	EnqueuedAt      time.Time           `json:"enqueued_at"`
	VisibleAt       time.Time           `json:"visible_at"`
	ReceiveCount    int                 `json:"receive_count"`
	LastError       *models.ErrorRecord `json:"last_error,omitempty"`
}

// ToJSON serializes the message
func (m *JobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON deserializes a message
func FromJSON(data []byte) (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job message: %w", err)
	}
	return &msg, nil
}

// DecodePayload unmarshals the payload into v
func (m *JobMessage) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("job message %s has no payload", m.ID)
	}
	return json.Unmarshal(m.Payload, v)
}

// NewCrawlJobMessage wraps a crawl job for the queue. Kickoff jobs get
// kickoff priority; page jobs sit in the page band offset by the job's
// depth-derived priority, so shallower pages are claimed first and
// discovery order breaks ties within a depth.
func NewCrawlJobMessage(job *models.CrawlJob) (*JobMessage, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal crawl job: %w", err)
	}

	jobType := JobTypeCrawlPage
	priority := PriorityPage + job.Priority
	if job.Mode == models.JobModeKickoff {
		jobType = JobTypeCrawlKickoff
		priority = PriorityKickoff
	}

	return &JobMessage{
		ID:       job.ID,
		Type:     jobType,
		Priority: priority,
		TeamID:   job.TeamID,
		Payload:  payload,
	}, nil
}

// NewResearchMessage wraps a research request for the queue
func NewResearchMessage(id string, req *models.ResearchRequest) (*JobMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal research request: %w", err)
	}
	return &JobMessage{
		ID:       id,
		Type:     JobTypeResearch,
		Priority: PriorityResearch,
		TeamID:   req.TeamID,
		Payload:  payload,
	}, nil
}

// FailOutcome reports what Fail did with a message
type FailOutcome string

const (
	FailOutcomeRetry      FailOutcome = "retry_scheduled"
	FailOutcomeDeadLetter FailOutcome = "dead_lettered"
)

// DeadLetter is a message that exhausted its receive budget or failed with a
// non-retryable error. Kept for inspection rather than deleted.
type DeadLetter struct {
	Message JobMessage          `json:"message"`
	Error   *models.ErrorRecord `json:"error,omitempty"`
	DeadAt  time.Time           `json:"dead_at"`
}

// JobHandler processes one claimed message. A nil return acks the message;
// an error routes it through retry or dead-letter classification.
type JobHandler func(ctx context.Context, msg *JobMessage) error
