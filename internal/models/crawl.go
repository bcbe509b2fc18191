package models

import (
	"time"
)

// CrawlOptions control frontier expansion for one crawl. Field semantics
// follow the public crawl API: path patterns are regular expressions matched
// against the URL path (or the full URL when RegexOnFullURL is set).
type CrawlOptions struct {
	IncludePaths           []string      `json:"include_paths,omitempty" toml:"include_paths"`
	ExcludePaths           []string      `json:"exclude_paths,omitempty" toml:"exclude_paths"`
	MaxDepth               int           `json:"max_depth" toml:"max_depth" validate:"gte=0"`
	Limit                  int           `json:"limit" toml:"limit" validate:"gte=0"`
	AllowExternalLinks     bool          `json:"allow_external_links,omitempty" toml:"allow_external_links"`
	AllowSubdomains        bool          `json:"allow_subdomains,omitempty" toml:"allow_subdomains"`
	CrawlEntireDomain      bool          `json:"crawl_entire_domain,omitempty" toml:"crawl_entire_domain"`
	DeduplicateSimilarURLs bool          `json:"deduplicate_similar_urls,omitempty" toml:"deduplicate_similar_urls"`
	IgnoreQueryParameters  bool          `json:"ignore_query_parameters,omitempty" toml:"ignore_query_parameters"`
	RegexOnFullURL         bool          `json:"regex_on_full_url,omitempty" toml:"regex_on_full_url"`
	IgnoreRobotsTxt        bool          `json:"ignore_robots_txt,omitempty" toml:"ignore_robots_txt"`
	Delay                  time.Duration `json:"delay,omitempty" toml:"delay"`
	// MaxConcurrency bounds this team's in-flight jobs (queue lane width).
	MaxConcurrency int `json:"max_concurrency,omitempty" toml:"max_concurrency" validate:"gte=0"`
}

// CrawlRequest is a crawl submission: one seed URL plus the policy and
// scrape configuration snapshot onto every job the crawl spawns.
type CrawlRequest struct {
	URL      string          `json:"url" validate:"required,url"`
	Options  CrawlOptions    `json:"options"`
	Scrape   ScrapeOptions   `json:"scrape"`
	Internal InternalOptions `json:"internal"`
	TeamID   string          `json:"team_id,omitempty"`
	PlanID   string          `json:"plan_id,omitempty"`
}

// BatchRequest is a batch scrape submission: explicit URLs, no link
// discovery, same queue/retry/frontier semantics as a crawl.
type BatchRequest struct {
	URLs     []string        `json:"urls" validate:"required,min=1,dive,url"`
	Scrape   ScrapeOptions   `json:"scrape"`
	Internal InternalOptions `json:"internal"`
	TeamID   string          `json:"team_id,omitempty"`
	PlanID   string          `json:"plan_id,omitempty"`
	// MaxConcurrency bounds the batch's in-flight jobs (queue lane width).
	MaxConcurrency int `json:"max_concurrency,omitempty" validate:"gte=0"`
}

// CrawlState is the per-crawl blob persisted alongside the frontier. The
// visited set, lock set and discovered-page counter live in the frontier
// store where they can be mutated atomically; everything else lives here.
type CrawlState struct {
	CrawlID   string        `json:"crawl_id" badgerhold:"key"`
	OriginURL string        `json:"origin_url"`
	Options   CrawlOptions  `json:"options"`
	Scrape    ScrapeOptions `json:"scrape"`
	TeamID    string        `json:"team_id,omitempty"`
	PlanID    string        `json:"plan_id,omitempty"`

	Status    JobStatus `json:"status"`
	Cancelled bool      `json:"cancelled"`

	// RobotsTxt is the origin's robots.txt body, fetched once at kickoff.
	// Empty means none was served and every path is allowed.
	RobotsTxt string `json:"robots_txt,omitempty"`

	// Counters for completion detection. Enqueued is incremented before a
	// job is handed to the queue; Completed covers success, dead-letter and
	// terminal failure alike so Enqueued == Completed means the crawl drained.
	Enqueued  int `json:"enqueued"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	// Billed counts settled units, checked against the per-run cost ceiling.
	Billed int `json:"billed"`

	Error      *ErrorRecord `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Drained reports whether every enqueued job has reached a terminal outcome.
func (s *CrawlState) Drained() bool {
	return s.Enqueued > 0 && s.Completed >= s.Enqueued
}

// CrawlSnapshot is the progress view served to polling and streaming clients.
type CrawlSnapshot struct {
	CrawlID   string       `json:"crawl_id"`
	Status    JobStatus    `json:"status"`
	OriginURL string       `json:"origin_url"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Error     *ErrorRecord `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Snapshot derives the progress view from state.
func (s *CrawlState) Snapshot() CrawlSnapshot {
	return CrawlSnapshot{
		CrawlID:   s.CrawlID,
		Status:    s.Status,
		OriginURL: s.OriginURL,
		Total:     s.Enqueued,
		Completed: s.Completed,
		Failed:    s.Failed,
		Error:     s.Error,
		UpdatedAt: s.UpdatedAt,
	}
}

// ProgressEvent is one message on a status subscription stream. Exactly one
// of Document, Snapshot or Error is set unless Done closes the stream.
type ProgressEvent struct {
	ID       string         `json:"id"`
	Document *ScrapeResult  `json:"document,omitempty"`
	Snapshot *CrawlSnapshot `json:"snapshot,omitempty"`
	Activity *Activity      `json:"activity,omitempty"`
	Done     bool           `json:"done,omitempty"`
	Error    *ErrorRecord   `json:"error,omitempty"`
}
