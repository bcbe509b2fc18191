package interfaces

import (
	"context"

	"github.com/ternarybob/messor/internal/models"
)

// StatusService is the single source of truth for run progress. Polling
// endpoints read the persisted snapshots; streaming subscribers observe the
// same writes as events, so both transports always agree.
type StatusService interface {
	// LogJob records a one-line summary for a finished job
	LogJob(ctx context.Context, result *models.JobResult)

	// UpdateCrawlProgress persists a crawl snapshot and notifies subscribers
	UpdateCrawlProgress(ctx context.Context, state *models.CrawlState) error

	// UpdateResearchProgress persists research progress and notifies subscribers
	UpdateResearchProgress(ctx context.Context, state *models.ResearchState) error

	// PublishDocument streams a scraped document to subscribers of its run
	PublishDocument(ctx context.Context, id string, doc *models.ScrapeResult)

	// PublishActivity streams a research activity entry
	PublishActivity(ctx context.Context, id string, activity models.Activity)

	// Subscribe returns a stream of progress events for one crawl or
	// research id. The channel closes after a Done event.
	Subscribe(id string) (<-chan models.ProgressEvent, error)

	// Unsubscribe releases a subscription before its Done event
	Unsubscribe(id string, ch <-chan models.ProgressEvent)
}
