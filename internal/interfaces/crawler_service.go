package interfaces

import (
	"context"

	"github.com/ternarybob/messor/internal/models"
)

// CrawlerService admits crawl and batch submissions and answers progress
// queries. Page work happens asynchronously on the queue; none of these
// methods block on it.
type CrawlerService interface {
	// StartCrawl validates a submission, persists the run and enqueues its
	// kickoff job. Returns the pending state.
	StartCrawl(ctx context.Context, req *models.CrawlRequest) (*models.CrawlState, error)

	// StartBatch does the same for an explicit URL list with no link
	// discovery and no page limit.
	StartBatch(ctx context.Context, req *models.BatchRequest) (*models.CrawlState, error)

	// Status returns the progress snapshot for a run.
	Status(ctx context.Context, crawlID string) (*models.CrawlSnapshot, error)

	// Results lists per-URL outcomes in completion order.
	Results(ctx context.Context, crawlID string, limit int) ([]*models.JobResult, error)

	// Cancel stops frontier expansion at the next policy evaluation.
	// Queued jobs drain as skips, the page being processed finishes.
	// Idempotent on terminal runs.
	Cancel(ctx context.Context, crawlID string) error
}
