// Package llm provides the language-model providers behind research analysis
// and the image alt-text side chain. Providers share one interface so callers
// can run fallback chains without knowing which vendor answers.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// ErrNotConfigured marks a provider that cannot be built because its API key
// is absent. Callers decide whether that is fatal; a crawl-only deployment
// runs fine without any provider.
var ErrNotConfigured = errors.New("llm provider not configured")

// altTextPrompt is the instruction used by DescribeImage.
const altTextPrompt = "Write concise alt text for this image in one sentence. " +
	"Describe what the image shows; do not mention that it is an image."

// Service fronts the configured providers. Calls go to the default provider
// first and fall through to the others on failure; a refusal stops the chain
// because a second vendor answering does not make the content acceptable.
type Service struct {
	providers []interfaces.LLMService
	logger    arbor.ILogger
}

// NewService builds every provider that has an API key, ordered with the
// configured default first. Returns ErrNotConfigured when no provider can be
// built.
func NewService(config *common.LLMConfig, logger arbor.ILogger) (*Service, error) {
	var providers []interfaces.LLMService

	if config.Gemini.APIKey != "" {
		gemini, err := NewGeminiProvider(&config.Gemini, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, gemini)
	}

	if config.Claude.APIKey != "" {
		claude, err := NewAnthropicProvider(&config.Claude, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, claude)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no api key set for any provider", ErrNotConfigured)
	}

	orderByDefault(providers, string(config.DefaultProvider))

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	logger.Info().Strs("providers", names).Msg("LLM service initialized")

	return &Service{providers: providers, logger: logger}, nil
}

// NewServiceWithProviders wires explicit providers, default first. Used by
// tests and by callers that build providers themselves.
func NewServiceWithProviders(logger arbor.ILogger, providers ...interfaces.LLMService) (*Service, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers given", ErrNotConfigured)
	}
	return &Service{providers: providers, logger: logger}, nil
}

// orderByDefault moves the named provider to the front.
func orderByDefault(providers []interfaces.LLMService, defaultName string) {
	for i, p := range providers {
		if p.Name() == defaultName && i != 0 {
			providers[0], providers[i] = providers[i], providers[0]
			return
		}
	}
}

// Name identifies the active default provider.
func (s *Service) Name() string {
	return s.providers[0].Name()
}

// Complete returns the first provider's response, falling through on failure.
func (s *Service) Complete(ctx context.Context, prompt string) (string, error) {
	var result string
	err := s.fallback(ctx, func(p interfaces.LLMService) error {
		var callErr error
		result, callErr = p.Complete(ctx, prompt)
		return callErr
	})
	return result, err
}

// CompleteWithSystem runs a prompt under a system instruction with fallback.
func (s *Service) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	var result string
	err := s.fallback(ctx, func(p interfaces.LLMService) error {
		var callErr error
		result, callErr = p.CompleteWithSystem(ctx, system, prompt)
		return callErr
	})
	return result, err
}

// CompleteJSON asks for schema-shaped JSON with fallback.
func (s *Service) CompleteJSON(ctx context.Context, prompt string, schema map[string]interface{}, out interface{}) error {
	return s.fallback(ctx, func(p interfaces.LLMService) error {
		return p.CompleteJSON(ctx, prompt, schema, out)
	})
}

// DescribeImage returns alt text with fallback across every provider.
func (s *Service) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	var result string
	err := s.fallback(ctx, func(p interfaces.LLMService) error {
		var callErr error
		result, callErr = p.DescribeImage(ctx, data, mimeType)
		return callErr
	})
	return result, err
}

// Close shuts down every provider.
func (s *Service) Close() error {
	var firstErr error
	for _, p := range s.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fallback tries providers in order. Refusals and cancellations stop the
// chain; transport failures move on to the next provider.
func (s *Service) fallback(ctx context.Context, call func(interfaces.LLMService) error) error {
	var lastErr error

	for _, provider := range s.providers {
		err := call(provider)
		if err == nil {
			return nil
		}

		lastErr = err

		if rec := models.RecordFromError(err); rec.Code == models.ErrCodeLLMRefusal {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		s.logger.Warn().
			Str("provider", provider.Name()).
			Err(err).
			Msg("Provider failed, trying next")
	}

	return lastErr
}

// buildJSONPrompt embeds the schema in the prompt for providers without
// native structured output.
func buildJSONPrompt(prompt string, schema map[string]interface{}) string {
	if len(schema) == 0 {
		return prompt + "\n\nRespond with a single valid JSON object and nothing else."
	}

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return prompt + "\n\nRespond with a single valid JSON object and nothing else."
	}

	return fmt.Sprintf("%s\n\nRespond with a single valid JSON object matching this schema and nothing else:\n%s", prompt, schemaJSON)
}

// decodeJSONResponse strips markdown fences and decodes the first JSON value
// in a model response.
func decodeJSONResponse(text string, out interface{}) error {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	// Models sometimes wrap the object in prose; cut to the outermost braces.
	if !strings.HasPrefix(cleaned, "{") && !strings.HasPrefix(cleaned, "[") {
		start := strings.IndexAny(cleaned, "{[")
		end := strings.LastIndexAny(cleaned, "}]")
		if start >= 0 && end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("model response is not valid JSON: %w", err)
	}
	return nil
}

// truncateForRecord bounds refusal text stored on an error record.
func truncateForRecord(text string) string {
	const max = 200
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return text[:max]
}

var _ interfaces.LLMService = (*Service)(nil)
