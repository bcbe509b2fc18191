package status

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// Service fans crawl and research progress out to subscribers. Writers
// persist state first and then call in here, so a poller reading the state
// store and a subscriber reading a stream always describe the same moment;
// the stream is a push view over the same writes, never a second source of
// truth.
type Service struct {
	eventService interfaces.EventService
	logger       arbor.ILogger

	mu          sync.Mutex
	subscribers map[string][]chan models.ProgressEvent
}

// subscriberBuffer bounds per-subscriber queues. Intermediate snapshots are
// droppable; the channel close carries terminality even if the last event
// was dropped.
const subscriberBuffer = 64

// NewService creates a status service
func NewService(eventService interfaces.EventService, logger arbor.ILogger) interfaces.StatusService {
	return &Service{
		eventService: eventService,
		logger:       logger,
		subscribers:  make(map[string][]chan models.ProgressEvent),
	}
}

// LogJob records a finished job. Failures also go out as events so
// dashboards see them without tailing logs.
func (s *Service) LogJob(ctx context.Context, result *models.JobResult) {
	if result.Error != nil {
		s.logger.Warn().
			Str("job_id", result.JobID).
			Str("crawl_id", result.CrawlID).
			Str("url", result.URL).
			Str("error_code", string(result.Error.Code)).
			Int("attempts", result.Attempts).
			Msg("Job failed")

		s.eventService.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventJobFailed,
			Payload: result,
		})
		return
	}

	s.logger.Info().
		Str("job_id", result.JobID).
		Str("crawl_id", result.CrawlID).
		Str("url", result.URL).
		Msg("Job completed")
}

// UpdateCrawlProgress pushes a crawl snapshot to subscribers and the event
// bus. Call after persisting the state. Terminal states close the streams.
func (s *Service) UpdateCrawlProgress(ctx context.Context, state *models.CrawlState) error {
	snapshot := state.Snapshot()

	s.eventService.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventCrawlProgress,
		Payload: snapshot,
	})

	s.deliver(state.CrawlID, models.ProgressEvent{
		ID:       state.CrawlID,
		Snapshot: &snapshot,
	})

	if state.Status.Terminal() {
		s.eventService.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventCrawlCompleted,
			Payload: snapshot,
		})
		s.finish(state.CrawlID, state.Error)
	}
	return nil
}

// UpdateResearchProgress pushes research run progress to subscribers and the
// event bus. Terminal states close the streams.
func (s *Service) UpdateResearchProgress(ctx context.Context, state *models.ResearchState) error {
	s.eventService.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventResearchActivity,
		Payload: state,
	})

	if state.Status.Terminal() {
		s.eventService.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventResearchDone,
			Payload: state,
		})
		s.finish(state.ID, state.Error)
	}
	return nil
}

// PublishDocument streams a scraped document to subscribers of a run
func (s *Service) PublishDocument(ctx context.Context, id string, doc *models.ScrapeResult) {
	s.eventService.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventDocumentScraped,
		Payload: doc,
	})

	s.deliver(id, models.ProgressEvent{
		ID:       id,
		Document: doc,
	})
}

// PublishActivity streams a research activity entry to subscribers of a run
func (s *Service) PublishActivity(ctx context.Context, id string, activity models.Activity) {
	s.eventService.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventResearchActivity,
		Payload: activity,
	})

	s.deliver(id, models.ProgressEvent{
		ID:       id,
		Activity: &activity,
	})
}

// Subscribe opens a progress stream for a crawl or research run. The channel
// closes once the run reaches a terminal state; a full buffer drops
// intermediate events rather than block the writer.
func (s *Service) Subscribe(id string) (<-chan models.ProgressEvent, error) {
	ch := make(chan models.ProgressEvent, subscriberBuffer)

	s.mu.Lock()
	s.subscribers[id] = append(s.subscribers[id], ch)
	count := len(s.subscribers[id])
	s.mu.Unlock()

	s.logger.Debug().
		Str("id", id).
		Int("subscriber_count", count).
		Msg("Progress subscriber added")
	return ch, nil
}

// Unsubscribe closes and removes a progress stream early
func (s *Service) Unsubscribe(id string, ch <-chan models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := s.subscribers[id]
	for i, existing := range channels {
		if existing == ch {
			s.subscribers[id] = append(channels[:i], channels[i+1:]...)
			close(existing)
			break
		}
	}
	if len(s.subscribers[id]) == 0 {
		delete(s.subscribers, id)
	}
}

// deliver fans an event out to a run's subscribers without blocking
func (s *Service) deliver(id string, event models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subscribers[id] {
		select {
		case ch <- event:
		default:
			// Slow subscriber; it still learns the outcome from the close
		}
	}
}

// finish sends a terminal event and closes every stream for the run
func (s *Service) finish(id string, rec *models.ErrorRecord) {
	s.mu.Lock()
	channels := s.subscribers[id]
	delete(s.subscribers, id)
	s.mu.Unlock()

	done := models.ProgressEvent{ID: id, Done: true, Error: rec}
	for _, ch := range channels {
		select {
		case ch <- done:
		default:
		}
		close(ch)
	}
}

var _ interfaces.StatusService = (*Service)(nil)
