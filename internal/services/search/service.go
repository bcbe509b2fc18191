// Package search provides the web search collaborator used by the research
// loop. The Gemini provider grounds queries through Google Search and returns
// the grounding sources as results.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
	"github.com/ternarybob/messor/internal/services/llm"
)

// GeminiSearchProvider searches the web through Gemini with the GoogleSearch
// grounding tool and surfaces the grounding chunks as results.
type GeminiSearchProvider struct {
	client     *genai.Client
	model      string
	maxResults int
	timeout    time.Duration
	retry      *llm.RetryConfig
	logger     arbor.ILogger
}

// NewGeminiSearchProvider creates the Gemini-backed search provider. A
// missing API key is a constructor error.
func NewGeminiSearchProvider(searchConfig *common.SearchConfig, geminiConfig *common.GeminiConfig, logger arbor.ILogger) (*GeminiSearchProvider, error) {
	if geminiConfig.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key required for web search", llm.ErrNotConfigured)
	}

	model := geminiConfig.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	timeout, err := time.ParseDuration(geminiConfig.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid gemini timeout duration '%s': %w", geminiConfig.Timeout, err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  geminiConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	maxResults := searchConfig.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	logger.Debug().
		Str("model", model).
		Int("max_results", maxResults).
		Msg("Gemini search provider initialized")

	return &GeminiSearchProvider{
		client:     client,
		model:      model,
		maxResults: maxResults,
		timeout:    timeout,
		retry:      llm.NewDefaultRetryConfig(),
		logger:     logger,
	}, nil
}

// Name identifies the provider.
func (p *GeminiSearchProvider) Name() string {
	return "gemini"
}

// Search runs a grounded query and returns the grounding sources. Includes
// the current date in the prompt so "latest" and "recent" queries resolve
// against the right year.
func (p *GeminiSearchProvider) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 || limit > p.maxResults {
		limit = p.maxResults
	}

	searchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	searchTool := &genai.Tool{GoogleSearch: &genai.GoogleSearch{}}
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{searchTool},
	}

	currentDate := time.Now().Format("January 2, 2006")
	prompt := fmt.Sprintf(
		"Today's date is %s. Search the web for: %s\nPrioritize recent, authoritative sources and cover the topic broadly.",
		currentDate, query,
	)

	p.logger.Debug().Str("query", query).Int("limit", limit).Msg("Executing web search")

	var resp *genai.GenerateContentResponse
	err := retrySearch(searchCtx, p.retry, p.logger, func() error {
		var callErr error
		resp, callErr = p.client.Models.GenerateContent(
			searchCtx,
			p.model,
			[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
			config,
		)
		return callErr
	})
	if err != nil {
		return nil, models.RecordFromError(fmt.Errorf("web search failed: %w", err))
	}

	results := resultsFromResponse(resp, limit)

	p.logger.Debug().
		Str("query", query).
		Int("result_count", len(results)).
		Msg("Web search completed")

	return results, nil
}

// Close releases the client.
func (p *GeminiSearchProvider) Close() error {
	p.client = nil
	return nil
}

// retrySearch applies the provider retry discipline to a search call.
func retrySearch(ctx context.Context, cfg *llm.RetryConfig, logger arbor.ILogger, call func() error) error {
	var apiErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		apiErr = call()
		if apiErr == nil {
			return nil
		}

		if attempt == cfg.MaxRetries {
			break
		}

		var backoff time.Duration
		if llm.IsRateLimitError(apiErr) {
			backoff = cfg.CalculateBackoff(attempt, llm.ExtractRetryDelay(apiErr))
		} else {
			backoff = time.Duration(attempt+1) * 2 * time.Second
		}

		logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Retrying web search")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return apiErr
}

// resultsFromResponse extracts grounding sources, deduplicated by URL in
// first-seen order and capped at limit.
func resultsFromResponse(resp *genai.GenerateContentResponse, limit int) []models.SearchResult {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}

	candidate := resp.Candidates[0]
	if candidate.GroundingMetadata == nil || candidate.GroundingMetadata.GroundingChunks == nil {
		return nil
	}

	seen := make(map[string]bool)
	var results []models.SearchResult
	for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
		if chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		if seen[chunk.Web.URI] {
			continue
		}
		seen[chunk.Web.URI] = true

		results = append(results, models.SearchResult{
			URL:   chunk.Web.URI,
			Title: chunk.Web.Title,
		})
		if len(results) >= limit {
			break
		}
	}

	return results
}

var _ interfaces.SearchProvider = (*GeminiSearchProvider)(nil)
