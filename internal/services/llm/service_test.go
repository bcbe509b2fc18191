package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/models"
)

// stubProvider scripts one provider's behavior for fallback tests.
type stubProvider struct {
	name     string
	response string
	err      error
	calls    int
}

func (s *stubProvider) Complete(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.response, s.err
}

func (s *stubProvider) CompleteWithSystem(ctx context.Context, _, prompt string) (string, error) {
	return s.Complete(ctx, prompt)
}

func (s *stubProvider) CompleteJSON(ctx context.Context, prompt string, _ map[string]interface{}, out interface{}) error {
	text, err := s.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	return decodeJSONResponse(text, out)
}

func (s *stubProvider) DescribeImage(ctx context.Context, _ []byte, _ string) (string, error) {
	return s.Complete(ctx, "")
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Close() error { return nil }

func TestFallbackUsesFirstProvider(t *testing.T) {
	primary := &stubProvider{name: "primary", response: "from primary"}
	secondary := &stubProvider{name: "secondary", response: "from secondary"}

	svc, err := NewServiceWithProviders(arbor.NewLogger(), primary, secondary)
	require.NoError(t, err)

	result, err := svc.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "from primary", result)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls, "secondary must not run when primary succeeds")
}

func TestFallbackMovesToNextOnFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("connection reset")}
	secondary := &stubProvider{name: "secondary", response: "recovered"}

	svc, err := NewServiceWithProviders(arbor.NewLogger(), primary, secondary)
	require.NoError(t, err)

	result, err := svc.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestFallbackStopsOnRefusal(t *testing.T) {
	refusing := &stubProvider{name: "refusing", err: &models.ErrorRecord{
		Code:    models.ErrCodeLLMRefusal,
		Message: "model refused to answer",
	}}
	secondary := &stubProvider{name: "secondary", response: "should not be asked"}

	svc, err := NewServiceWithProviders(arbor.NewLogger(), refusing, secondary)
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLLMRefusal, models.RecordFromError(err).Code)
	assert.Equal(t, 0, secondary.calls, "a refusal must not escalate to another vendor")
}

func TestFallbackReturnsLastErrorWhenAllFail(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("timeout after 30s")}
	second := &stubProvider{name: "second", err: errors.New("connection refused")}

	svc, err := NewServiceWithProviders(arbor.NewLogger(), first, second)
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewServiceRequiresProviders(t *testing.T) {
	_, err := NewServiceWithProviders(arbor.NewLogger())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestOrderByDefaultMovesProviderFirst(t *testing.T) {
	gemini := &stubProvider{name: "gemini"}
	claude := &stubProvider{name: "claude"}

	svc, err := NewServiceWithProviders(arbor.NewLogger(), gemini, claude)
	require.NoError(t, err)
	assert.Equal(t, "gemini", svc.Name())

	orderByDefault(svc.providers, "claude")
	assert.Equal(t, "claude", svc.Name())
}

func TestDecodeJSONResponse(t *testing.T) {
	type payload struct {
		Topic    string `json:"topic"`
		Continue bool   `json:"continue"`
	}

	tests := []struct {
		name string
		text string
	}{
		{"bare object", `{"topic":"go crawlers","continue":true}`},
		{"fenced object", "```json\n{\"topic\":\"go crawlers\",\"continue\":true}\n```"},
		{"plain fence", "```\n{\"topic\":\"go crawlers\",\"continue\":true}\n```"},
		{"prose wrapped", "Here is the result:\n{\"topic\":\"go crawlers\",\"continue\":true}\nHope that helps."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out payload
			require.NoError(t, decodeJSONResponse(tt.text, &out))
			assert.Equal(t, "go crawlers", out.Topic)
			assert.True(t, out.Continue)
		})
	}

	var out payload
	assert.Error(t, decodeJSONResponse("no json here at all", &out))
}

func TestBuildJSONPromptEmbedsSchema(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []string{"topic"},
		"properties": map[string]interface{}{
			"topic": map[string]interface{}{"type": "string"},
		},
	}

	prompt := buildJSONPrompt("What next?", schema)
	assert.Contains(t, prompt, "What next?")
	assert.Contains(t, prompt, `"topic"`)
	assert.Contains(t, prompt, "matching this schema")
}

func TestConvertToGenaiSchema(t *testing.T) {
	schema, err := convertToGenaiSchema(map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"queries"},
		"properties": map[string]interface{}{
			"queries": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"depth": map[string]interface{}{
				"type":        "integer",
				"description": "search depth",
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, schema)

	assert.Equal(t, []string{"queries"}, schema.Required)
	require.Contains(t, schema.Properties, "queries")
	require.Contains(t, schema.Properties, "depth")
	assert.NotNil(t, schema.Properties["queries"].Items)
	assert.Equal(t, "search depth", schema.Properties["depth"].Description)

	empty, err := convertToGenaiSchema(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
