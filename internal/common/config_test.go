package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 8085, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 4, config.Queue.Concurrency)
	assert.Equal(t, 3, config.Queue.MaxReceive)
	assert.Equal(t, "badger", config.Storage.FrontierBackend)
	assert.Equal(t, 3, config.Crawler.MaxDepth)
	assert.Equal(t, 100, config.Crawler.Limit)
	assert.Equal(t, 7, config.Research.MaxDepth)
	assert.Equal(t, 15, config.Research.MaxURLs)
	assert.Equal(t, LLMProviderGemini, config.LLM.DefaultProvider)

	require.NoError(t, config.Validate())
}

func TestQueueConfigDurations(t *testing.T) {
	q := QueueConfig{
		PollInterval:      "250ms",
		VisibilityTimeout: "2m",
		RetryBackoffBase:  "500ms",
	}
	assert.Equal(t, 250*time.Millisecond, q.PollIntervalDuration())
	assert.Equal(t, 2*time.Minute, q.VisibilityTimeoutDuration())
	assert.Equal(t, 500*time.Millisecond, q.RetryBackoffBaseDuration())

	// Unparseable and empty strings fall back to defaults.
	bad := QueueConfig{PollInterval: "soon", VisibilityTimeout: ""}
	assert.Equal(t, 500*time.Millisecond, bad.PollIntervalDuration())
	assert.Equal(t, 5*time.Minute, bad.VisibilityTimeoutDuration())
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	require.NoError(t, os.WriteFile(base, []byte(`
[server]
port = 9090

[crawler]
max_depth = 5
`), 0644))

	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 9191
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	// Later file wins, untouched values keep earlier file and defaults.
	assert.Equal(t, 9191, config.Server.Port)
	assert.Equal(t, 5, config.Crawler.MaxDepth)
	assert.Equal(t, "localhost", config.Server.Host)
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/messor.toml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MESSOR_SERVER_PORT", "7070")
	t.Setenv("MESSOR_QUEUE_CONCURRENCY", "8")
	t.Setenv("MESSOR_FRONTIER_BACKEND", "redis")
	t.Setenv("MESSOR_LOG_OUTPUT", "stdout, file")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, 8, config.Queue.Concurrency)
	assert.Equal(t, "redis", config.Storage.FrontierBackend)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	config := NewDefaultConfig()
	config.Server.Port = 0
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Storage.FrontierBackend = "postgres"
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Logging.Level = "verbose"
	assert.Error(t, config.Validate())
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 4242, "0.0.0.0")
	assert.Equal(t, 4242, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)

	// Zero values leave config untouched.
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 4242, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}
