package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// AnthropicProvider implements the LLMService interface using the Anthropic
// Claude API.
type AnthropicProvider struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    anthropic.Client
	timeout   time.Duration
	maxTokens int
	retry     *RetryConfig
}

// NewAnthropicProvider creates a Claude-backed provider. A missing API key is
// a constructor error, never a deferred runtime failure.
func NewAnthropicProvider(config *common.ClaudeConfig, logger arbor.ILogger) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key not set (MESSOR_CLAUDE_API_KEY, ANTHROPIC_API_KEY or llm.claude.api_key)", ErrNotConfigured)
	}

	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid claude timeout duration '%s': %w", config.Timeout, err)
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	provider := &AnthropicProvider{
		config:    config,
		logger:    logger,
		client:    client,
		timeout:   timeout,
		maxTokens: maxTokens,
		retry:     NewDefaultRetryConfig(),
	}

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Int("max_tokens", maxTokens).
		Msg("Anthropic provider initialized")

	return provider, nil
}

// Name identifies the provider.
func (p *AnthropicProvider) Name() string {
	return "claude"
}

// Complete returns the model's text response for a prompt.
func (p *AnthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem runs a prompt under a system instruction.
func (p *AnthropicProvider) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)}
	return p.generate(ctx, system, blocks)
}

// CompleteJSON asks for a JSON object matching schema and decodes it into
// out. Claude has no native schema enforcement, so the schema rides in the
// prompt and the response is fence-stripped before decoding.
func (p *AnthropicProvider) CompleteJSON(ctx context.Context, prompt string, schema map[string]interface{}, out interface{}) error {
	fullPrompt := buildJSONPrompt(prompt, schema)

	text, err := p.Complete(ctx, fullPrompt)
	if err != nil {
		return err
	}

	return decodeJSONResponse(text, out)
}

// DescribeImage returns a short description of the image bytes.
func (p *AnthropicProvider) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image data cannot be empty")
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	blocks := []anthropic.ContentBlockParamUnion{
		anthropic.NewImageBlockBase64(mimeType, encoded),
		anthropic.NewTextBlock(altTextPrompt),
	}

	return p.generate(ctx, "", blocks)
}

// Close releases resources.
func (p *AnthropicProvider) Close() error {
	p.logger.Debug().Msg("Closing Anthropic provider")
	return nil
}

// generate encapsulates the Claude API call: timeout, retry, text extraction
// and refusal detection.
func (p *AnthropicProvider) generate(ctx context.Context, system string, blocks []anthropic.ContentBlockParamUnion) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.maxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}

	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(p.config.Temperature)
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	startTime := time.Now()

	var resp *anthropic.Message
	err := retryCall(timeoutCtx, p.retry, p.logger, "claude", func() error {
		var callErr error
		resp, callErr = p.client.Messages.New(timeoutCtx, params)
		return callErr
	})
	if err != nil {
		return "", models.RecordFromError(fmt.Errorf("claude api call failed: %w", err))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from claude api")
	}

	response := text.String()
	if IsRefusal(response) {
		return "", &models.ErrorRecord{
			Code:    models.ErrCodeLLMRefusal,
			Message: "model refused to answer",
			Details: truncateForRecord(response),
		}
	}

	p.logger.Debug().
		Int("response_length", len(response)).
		Dur("duration", time.Since(startTime)).
		Msg("Claude completion finished")

	return response, nil
}

var _ interfaces.LLMService = (*AnthropicProvider)(nil)
