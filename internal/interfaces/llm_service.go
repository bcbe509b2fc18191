package interfaces

import (
	"context"
)

// LLMService is the language-model dependency of the research loop and the
// alt-text side chain. Implementations return *models.ErrorRecord errors for
// refusals and rate limits so callers can route them through the classifier.
type LLMService interface {
	// Complete returns the model's text response for a prompt
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem runs a prompt under a system instruction
	CompleteWithSystem(ctx context.Context, system, prompt string) (string, error)

	// CompleteJSON asks for a JSON object matching schema and decodes it
	// into out. Schema uses JSON Schema vocabulary as a plain map.
	CompleteJSON(ctx context.Context, prompt string, schema map[string]interface{}, out interface{}) error

	// DescribeImage returns a short description of the image bytes,
	// suitable for alt text
	DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error)

	// Name identifies the provider for logs and activity entries
	Name() string

	// Close releases provider resources
	Close() error
}
