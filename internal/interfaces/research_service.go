package interfaces

import (
	"context"

	"github.com/ternarybob/messor/internal/models"
)

// ResearchService runs iterative deep-research: alternating search, scrape
// and analysis rounds against hard budgets, ending in a synthesized report.
type ResearchService interface {
	// Start validates a research submission, persists its state and
	// enqueues the run. Returns the pending state; progress is
	// asynchronous.
	Start(ctx context.Context, req *models.ResearchRequest) (*models.ResearchState, error)

	// Status returns the live state for a run, partial results included.
	Status(ctx context.Context, id string) (*models.ResearchState, error)

	// Report renders the final analysis of a finished run in the given
	// format (markdown, html or pdf). Returns the document bytes and
	// their content type.
	Report(ctx context.Context, id, format string) ([]byte, string, error)
}
