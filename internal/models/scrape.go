package models

import (
	"time"
)

// Output format constants for scrape results
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatRawHTML  = "raw_html"
	FormatLinks    = "links"
)

// ScrapeOptions control how a single URL is fetched and converted.
type ScrapeOptions struct {
	Formats         []string          `json:"formats,omitempty" toml:"formats"`
	OnlyMainContent bool              `json:"only_main_content,omitempty" toml:"only_main_content"`
	// FastMode skips the browser engine even when the heuristic wants it.
	FastMode        bool              `json:"fast_mode,omitempty" toml:"fast_mode"`
	Timeout         time.Duration     `json:"timeout,omitempty" toml:"timeout"`
	// WaitFor is the post-navigation settle time for the browser engine.
	WaitFor         time.Duration     `json:"wait_for,omitempty" toml:"wait_for"`
	Headers         map[string]string `json:"headers,omitempty" toml:"headers"`
	GenerateAltText bool              `json:"generate_alt_text,omitempty" toml:"generate_alt_text"`
	// CacheBypass forces fresh conversion and a fresh cache write without
	// touching the prior entry.
	CacheBypass bool `json:"cache_bypass,omitempty" toml:"cache_bypass"`
	// ZeroDataRetention forbids persisting fetched content anywhere.
	ZeroDataRetention bool `json:"zero_data_retention,omitempty" toml:"zero_data_retention"`
}

// WantsFormat reports whether the caller asked for the given output format.
// An empty format list means markdown only.
func (o ScrapeOptions) WantsFormat(format string) bool {
	if len(o.Formats) == 0 {
		return format == FormatMarkdown
	}
	for _, f := range o.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// ScrapeResult is the converted output for one URL. Immutable once produced;
// attached to the CrawlJob it answers.
type ScrapeResult struct {
	URL         string `json:"url"`
	EngineUsed  string `json:"engine_used,omitempty"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`

	Markdown    string `json:"markdown,omitempty"`
	HTML        string `json:"html,omitempty"`
	RawHTML     string `json:"raw_html,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`

	Links    []string               `json:"links,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	CacheHit  bool          `json:"cache_hit,omitempty"`

	Error *ErrorRecord `json:"error,omitempty"`
}

// Success reports whether the scrape produced usable content.
func (r *ScrapeResult) Success() bool {
	return r != nil && r.Error == nil
}

// Content returns the best available representation, preferring markdown.
func (r *ScrapeResult) Content() string {
	if r.Markdown != "" {
		return r.Markdown
	}
	if r.HTML != "" {
		return r.HTML
	}
	return r.RawHTML
}

// FetchResult is the raw engine output before conversion.
type FetchResult struct {
	Body        []byte            `json:"-"`
	StatusCode  int               `json:"status_code"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	FinalURL    string            `json:"final_url,omitempty"`
}
