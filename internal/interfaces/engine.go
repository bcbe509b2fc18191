package interfaces

import (
	"context"

	"github.com/ternarybob/messor/internal/models"
)

// Engine is one distinct method of fetching a URL's content. Every engine
// call carries its own bounded timeout via opts or ctx.
type Engine interface {
	// Name identifies the engine in results and logs
	Name() string

	// Fetch retrieves the raw content of a URL
	Fetch(ctx context.Context, url string, opts models.ScrapeOptions) (*models.FetchResult, error)
}
