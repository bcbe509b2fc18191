package common

import (
	"context"
	"fmt"
	"os"
)

// keyValueGetter is the slice of the interfaces.KeyValueStorage contract that
// ResolveAPIKey uses. It is declared locally because importing
// internal/interfaces here would close an import cycle
// (interfaces -> queue -> common); any KeyValueStorage satisfies it.
type keyValueGetter interface {
	// Get retrieves a value by key, returns an error if absent
	Get(ctx context.Context, key string) (string, error)
}

// ResolveAPIKey resolves an API key by variable name.
// Resolution order: environment variables -> KV store -> config fallback -> error.
// MESSOR_* environment variables always take precedence over seeded variables.
func ResolveAPIKey(ctx context.Context, kvStorage keyValueGetter, name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key": {"MESSOR_GEMINI_API_KEY", "GEMINI_API_KEY"},
		"claude_api_key": {"MESSOR_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	}

	if envVarNames, hasMappedEnv := keyToEnvMapping[name]; hasMappedEnv {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if kvStorage != nil {
		apiKey, err := kvStorage.Get(ctx, name)
		if err == nil && apiKey != "" {
			return apiKey, nil
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment, variables store, or config", name)
}
