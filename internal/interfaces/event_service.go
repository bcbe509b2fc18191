package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventCrawlProgress    EventType = "crawl_progress"
	EventCrawlCompleted   EventType = "crawl_completed"
	EventDocumentScraped  EventType = "document_scraped"
	EventJobFailed        EventType = "job_failed"
	EventResearchActivity EventType = "research_activity"
	EventResearchDone     EventType = "research_done"
	EventScheduleFired    EventType = "schedule_fired"
	EventLogEntry         EventType = "log_entry"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Unsubscribe from an event type
	Unsubscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes an event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
