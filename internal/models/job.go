package models

import (
	"time"
)

// JobStatus represents the state of a crawl or research run
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobMode selects how a CrawlJob is executed
type JobMode string

const (
	// JobModeKickoff seeds a crawl: scrape the origin, then expand the frontier.
	JobModeKickoff JobMode = "kickoff"
	// JobModeCrawl processes one discovered URL and may expand the frontier.
	JobModeCrawl JobMode = "crawl"
	// JobModeSingleURLs scrapes an explicit URL list without link discovery.
	JobModeSingleURLs JobMode = "single_urls"
)

// InternalOptions carry per-job switches that are not part of the public
// crawl or scrape options. Snapshot onto the job so a requeued job behaves
// identically to its first attempt.
type InternalOptions struct {
	// BypassCache forces a fresh conversion and a fresh cache write.
	BypassCache bool `json:"bypass_cache,omitempty"`
	// ZeroDataRetention forbids persisting page content for this job.
	ZeroDataRetention bool `json:"zero_data_retention,omitempty"`
	// SkipBilling suppresses the billing call, used for internal re-runs.
	SkipBilling bool `json:"skip_billing,omitempty"`
}

// CrawlJob is one unit of crawl work. Configuration is snapshot at creation
// time so jobs are self-contained across requeues and restarts. Queue
// identity is ID; dedup identity is (CrawlID, normalized URL), enforced by
// the frontier store rather than the queue.
type CrawlJob struct {
	ID       string          `json:"id"`
	CrawlID  string          `json:"crawl_id"`
	URL      string          `json:"url"`
	URLs     []string        `json:"urls,omitempty"` // single_urls mode only
	Depth    int             `json:"depth"`
	Priority int             `json:"priority"`
	Mode     JobMode         `json:"mode"`
	Options  CrawlOptions    `json:"options"`
	Scrape   ScrapeOptions   `json:"scrape"`
	Internal InternalOptions `json:"internal"`
	TeamID   string          `json:"team_id,omitempty"`
	PlanID   string          `json:"plan_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// JobResult records the terminal outcome of one CrawlJob.
type JobResult struct {
	JobID     string        `json:"job_id"`
	CrawlID   string        `json:"crawl_id"`
	URL       string        `json:"url"`
	Result    *ScrapeResult `json:"result,omitempty"`
	Error     *ErrorRecord  `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	CreatedAt time.Time     `json:"created_at"`
}
