package interfaces

import (
	"context"

	"github.com/ternarybob/messor/internal/models"
)

// SearchProvider turns a query into candidate URLs for the research loop.
type SearchProvider interface {
	// Search returns up to limit results for the query. An empty result
	// set is not an error.
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)

	// Name identifies the provider for logs and activity entries
	Name() string

	// Close releases provider resources
	Close() error
}
