package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// GeminiProvider implements the LLMService interface using the Google Gemini
// API. Structured output goes through native response schemas instead of
// prompt engineering.
type GeminiProvider struct {
	config  *common.GeminiConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
	retry   *RetryConfig
}

// NewGeminiProvider creates a Gemini-backed provider. A missing API key is a
// constructor error, never a deferred runtime failure.
func NewGeminiProvider(config *common.GeminiConfig, logger arbor.ILogger) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not set (MESSOR_GEMINI_API_KEY, GEMINI_API_KEY or llm.gemini.api_key)", ErrNotConfigured)
	}

	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid gemini timeout duration '%s': %w", config.Timeout, err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	provider := &GeminiProvider{
		config:  config,
		logger:  logger,
		client:  client,
		timeout: timeout,
		retry:   NewDefaultRetryConfig(),
	}

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Msg("Gemini provider initialized")

	return provider, nil
}

// Name identifies the provider.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete returns the model's text response for a prompt.
func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem runs a prompt under a system instruction.
func (p *GeminiProvider) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	return p.generate(ctx, system, contents, nil)
}

// CompleteJSON asks for a JSON object matching schema and decodes it into
// out. Gemini enforces the schema natively through the response MIME type.
func (p *GeminiProvider) CompleteJSON(ctx context.Context, prompt string, schema map[string]interface{}, out interface{}) error {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	genaiSchema, err := convertToGenaiSchema(schema)
	if err != nil {
		return fmt.Errorf("invalid output schema: %w", err)
	}

	text, err := p.generate(ctx, "", contents, genaiSchema)
	if err != nil {
		return err
	}

	return decodeJSONResponse(text, out)
}

// DescribeImage returns a short description of the image bytes.
func (p *GeminiProvider) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image data cannot be empty")
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(altTextPrompt),
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}

	return p.generate(ctx, "", contents, nil)
}

// Close releases resources.
func (p *GeminiProvider) Close() error {
	p.logger.Debug().Msg("Closing Gemini provider")
	p.client = nil
	return nil
}

// generate encapsulates the Gemini API call: timeout, retry, text extraction
// and refusal detection.
func (p *GeminiProvider) generate(ctx context.Context, system string, contents []*genai.Content, schema *genai.Schema) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{}
	if p.config.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(p.config.Temperature))
	}

	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	// When a schema is provided, Gemini enforces JSON output matching it
	if schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schema
	}

	startTime := time.Now()

	var resp *genai.GenerateContentResponse
	err := retryCall(timeoutCtx, p.retry, p.logger, "gemini", func() error {
		var callErr error
		resp, callErr = p.client.Models.GenerateContent(timeoutCtx, p.config.Model, contents, config)
		return callErr
	})
	if err != nil {
		return "", models.RecordFromError(fmt.Errorf("gemini api call failed: %w", err))
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from gemini api")
	}

	response := resp.Text()
	if response == "" {
		return "", fmt.Errorf("empty text in gemini response")
	}

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
		Msg("Gemini completion finished")

	return response, nil
}

// convertToGenaiSchema converts a plain-map JSON schema to a genai.Schema.
func convertToGenaiSchema(schemaMap map[string]interface{}) (*genai.Schema, error) {
	if len(schemaMap) == 0 {
		return nil, nil
	}

	schema := &genai.Schema{}

	if typeStr, ok := schemaMap["type"].(string); ok {
		switch strings.ToLower(typeStr) {
		case "object":
			schema.Type = genai.TypeObject
		case "array":
			schema.Type = genai.TypeArray
		case "string":
			schema.Type = genai.TypeString
		case "number":
			schema.Type = genai.TypeNumber
		case "integer":
			schema.Type = genai.TypeInteger
		case "boolean":
			schema.Type = genai.TypeBoolean
		}
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	if enumVals, ok := schemaMap["enum"].([]interface{}); ok {
		for _, v := range enumVals {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	} else if enumVals, ok := schemaMap["enum"].([]string); ok {
		schema.Enum = enumVals
	}

	if reqVals, ok := schemaMap["required"].([]interface{}); ok {
		for _, v := range reqVals {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	} else if reqVals, ok := schemaMap["required"].([]string); ok {
		schema.Required = reqVals
	}

	if props, ok := schemaMap["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			propMap, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("schema property %q is not an object", name)
			}
			propSchema, err := convertToGenaiSchema(propMap)
			if err != nil {
				return nil, err
			}
			schema.Properties[name] = propSchema
		}
	}

	if items, ok := schemaMap["items"].(map[string]interface{}); ok {
		itemSchema, err := convertToGenaiSchema(items)
		if err != nil {
			return nil, err
		}
		schema.Items = itemSchema
	}

	return schema, nil
}

var _ interfaces.LLMService = (*GeminiProvider)(nil)
