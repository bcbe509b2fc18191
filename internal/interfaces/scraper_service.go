package interfaces

import (
	"context"

	"github.com/ternarybob/messor/internal/models"
)

// ScraperService resolves one URL into converted content. Per-URL failures
// come back as a classified ErrorRecord on the result, never as a Go error;
// the error return is reserved for context cancellation so callers can tell
// "this URL failed" from "we are shutting down".
type ScraperService interface {
	Scrape(ctx context.Context, url string, opts models.ScrapeOptions) (*models.ScrapeResult, error)
}
