package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDefinitions(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefinitions(t *testing.T) {
	path := writeDefinitions(t, `
schedules:
  - name: docs-nightly
    schedule: "0 2 * * *"
    crawl:
      url: https://docs.example.com
      team_id: team-docs
      max_depth: 3
      limit: 200
      include_paths:
        - "^/guides/"
      delay: 1500ms
      formats: [markdown, links]
      only_main_content: true
  - name: blog-hourly
    schedule: "@hourly"
    disabled: true
    crawl:
      url: https://blog.example.com
`)

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	nightly := defs[0]
	assert.Equal(t, "docs-nightly", nightly.Name)
	assert.Equal(t, "0 2 * * *", nightly.Schedule)
	assert.False(t, nightly.Disabled)
	assert.Equal(t, "https://docs.example.com", nightly.Crawl.URL)
	assert.Equal(t, "team-docs", nightly.Crawl.TeamID)
	assert.Equal(t, 3, nightly.Crawl.MaxDepth)
	assert.Equal(t, 200, nightly.Crawl.Limit)
	assert.Equal(t, []string{"^/guides/"}, nightly.Crawl.IncludePaths)
	assert.Equal(t, 1500*time.Millisecond, nightly.Crawl.Delay.Duration)
	assert.Equal(t, []string{"markdown", "links"}, nightly.Crawl.Formats)
	assert.True(t, nightly.Crawl.OnlyMainContent)

	assert.True(t, defs[1].Disabled)
}

func TestLoadDefinitionsValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "schedules:\n  - schedule: \"@hourly\"\n    crawl:\n      url: https://example.com\n",
			want: "name is required",
		},
		{
			name: "missing url",
			body: "schedules:\n  - name: a\n    schedule: \"@hourly\"\n    crawl: {}\n",
			want: "crawl url is required",
		},
		{
			name: "missing cron",
			body: "schedules:\n  - name: a\n    crawl:\n      url: https://example.com\n",
			want: "cron expression is required",
		},
		{
			name: "bad cron",
			body: "schedules:\n  - name: a\n    schedule: \"not cron\"\n    crawl:\n      url: https://example.com\n",
			want: "invalid cron expression",
		},
		{
			name: "duplicate names",
			body: "schedules:\n  - name: a\n    schedule: \"@hourly\"\n    crawl:\n      url: https://example.com\n  - name: a\n    schedule: \"@daily\"\n    crawl:\n      url: https://example.org\n",
			want: "duplicate schedule name",
		},
		{
			name: "bad delay",
			body: "schedules:\n  - name: a\n    schedule: \"@hourly\"\n    crawl:\n      url: https://example.com\n      delay: soon\n",
			want: "invalid duration",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadDefinitions(writeDefinitions(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadDefinitionsMissingFile(t *testing.T) {
	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDefinitionRequest(t *testing.T) {
	def := Definition{
		Name:     "docs",
		Schedule: "@daily",
		Crawl: CrawlSpec{
			URL:                   "https://docs.example.com",
			TeamID:                "team-docs",
			MaxDepth:              2,
			Limit:                 50,
			ExcludePaths:          []string{"/archive/"},
			CrawlEntireDomain:     true,
			IgnoreQueryParameters: true,
			Delay:                 duration{250 * time.Millisecond},
			MaxConcurrency:        4,
			Formats:               []string{"markdown", "html"},
			OnlyMainContent:       true,
			FastMode:              true,
		},
	}

	req := def.Request()
	assert.Equal(t, "https://docs.example.com", req.URL)
	assert.Equal(t, "team-docs", req.TeamID)
	assert.Equal(t, 2, req.Options.MaxDepth)
	assert.Equal(t, 50, req.Options.Limit)
	assert.Equal(t, []string{"/archive/"}, req.Options.ExcludePaths)
	assert.True(t, req.Options.CrawlEntireDomain)
	assert.True(t, req.Options.IgnoreQueryParameters)
	assert.Equal(t, 250*time.Millisecond, req.Options.Delay)
	assert.Equal(t, 4, req.Options.MaxConcurrency)
	assert.Equal(t, []string{"markdown", "html"}, req.Scrape.Formats)
	assert.True(t, req.Scrape.OnlyMainContent)
	assert.True(t, req.Scrape.FastMode)
}
