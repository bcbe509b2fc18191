package search

import (
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
)

// NewSearchProvider creates a search provider based on configuration.
// Supported providers:
//   - "gemini": Google-grounded web search through the Gemini API (default)
//   - "none": no-op provider; research requests fail with a typed error
//
// A gemini selection without an API key degrades to the disabled provider so
// crawl-only deployments start cleanly.
func NewSearchProvider(config *common.Config, logger arbor.ILogger) (interfaces.SearchProvider, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Search.Provider))

	switch provider {
	case "gemini", "":
		if config.LLM.Gemini.APIKey == "" {
			logger.Warn().
				Str("provider", "gemini").
				Msg("No Gemini API key set: web search disabled")
			return NewDisabledSearchProvider(logger), nil
		}

		logger.Info().
			Str("provider", "gemini").
			Msg("Initializing Gemini web search provider")
		return NewGeminiSearchProvider(&config.Search, &config.LLM.Gemini, logger)

	case "none", "disabled":
		logger.Warn().
			Str("provider", provider).
			Msg("Search provider explicitly disabled via configuration")
		return NewDisabledSearchProvider(logger), nil

	default:
		logger.Warn().
			Str("provider", provider).
			Str("fallback", "disabled").
			Msg("Unknown search provider, search disabled")
		return NewDisabledSearchProvider(logger), nil
	}
}
