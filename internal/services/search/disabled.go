package search

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// ErrSearchDisabled is returned when no search provider is configured.
var ErrSearchDisabled = fmt.Errorf("search provider is disabled: no provider configured")

// DisabledSearchProvider is a no-op implementation used when search is not
// configured. Research runs that need search fail with a typed error instead
// of a nil dereference.
type DisabledSearchProvider struct {
	logger arbor.ILogger
}

// NewDisabledSearchProvider creates a no-op search provider.
func NewDisabledSearchProvider(logger arbor.ILogger) interfaces.SearchProvider {
	return &DisabledSearchProvider{
		logger: logger,
	}
}

// Search returns ErrSearchDisabled.
func (p *DisabledSearchProvider) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	p.logger.Warn().
		Str("query", query).
		Msg("Search attempted but no provider is configured")
	return nil, ErrSearchDisabled
}

// Name identifies the provider.
func (p *DisabledSearchProvider) Name() string {
	return "disabled"
}

// Close is a no-op.
func (p *DisabledSearchProvider) Close() error {
	return nil
}
