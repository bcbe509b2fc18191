package models

import (
	"time"
)

// ActivityType labels one step in a research run's activity log.
type ActivityType string

const (
	ActivitySearch    ActivityType = "search"
	ActivityScrape    ActivityType = "scrape"
	ActivityAnalyze   ActivityType = "analyze"
	ActivitySynthesis ActivityType = "synthesis"
	ActivityThought   ActivityType = "thought"
	ActivityError     ActivityType = "error"
)

// ActivityStatus is the lifecycle of one activity entry.
type ActivityStatus string

const (
	ActivityStatusProcessing ActivityStatus = "processing"
	ActivityStatusComplete   ActivityStatus = "complete"
	ActivityStatusError      ActivityStatus = "error"
)

// Activity is one entry in the live research activity log.
type Activity struct {
	Type      ActivityType   `json:"type"`
	Status    ActivityStatus `json:"status"`
	Message   string         `json:"message"`
	Depth     int            `json:"depth"`
	Timestamp time.Time      `json:"timestamp"`
}

// Finding is a piece of extracted content attributed to its source URL.
type Finding struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Source is a reference collected during research.
type Source struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// SearchResult is one hit returned by a web search provider.
type SearchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// ResearchRequest starts a research run. Budgets are hard caps; zero values
// fall back to configured defaults before validation.
type ResearchRequest struct {
	Query             string        `json:"query" validate:"required,min=3"`
	MaxDepth          int           `json:"max_depth" validate:"gte=1,lte=12"`
	TimeLimit         time.Duration `json:"time_limit" validate:"gt=0"`
	MaxURLs           int           `json:"max_urls" validate:"gte=1"`
	MaxFailedAttempts int           `json:"max_failed_attempts" validate:"gte=1"`
	SystemPrompt      string        `json:"system_prompt,omitempty"`
	TeamID            string        `json:"team_id,omitempty"`
	SubscriptionID    string        `json:"subscription_id,omitempty"`
}

// ResearchState is the single source of truth for one research run. The
// orchestrator loop is its sole mutator and persists it after every step so
// status queries observe live progress, partial results included.
//
// Invariants held at every observation point:
//
//	URLsUsed <= MaxURLs
//	CurrentDepth <= MaxDepth
//	FailedAttempts <= MaxFailedAttempts
type ResearchState struct {
	ID    string `json:"id" badgerhold:"key"`
	Query string `json:"query"`

	Status       JobStatus `json:"status"`
	CurrentDepth int       `json:"current_depth"`
	MaxDepth     int       `json:"max_depth"`

	SeenURLs   map[string]bool `json:"seen_urls"`
	Findings   []Finding       `json:"findings"`
	Sources    []Source        `json:"sources"`
	Summaries  []string        `json:"summaries"`
	Activities []Activity      `json:"activities"`

	FailedAttempts    int `json:"failed_attempts"`
	MaxFailedAttempts int `json:"max_failed_attempts"`

	StartTime time.Time     `json:"start_time"`
	TimeLimit time.Duration `json:"time_limit"`
	MaxURLs   int           `json:"max_urls"`
	URLsUsed  int           `json:"urls_used"`

	FinalAnalysis string       `json:"final_analysis,omitempty"`
	Error         *ErrorRecord `json:"error,omitempty"`

	TeamID         string    `json:"team_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Elapsed is the wall-clock time since the run started.
func (s *ResearchState) Elapsed() time.Duration {
	return time.Since(s.StartTime)
}

// RemainingURLBudget is how many more URLs may be scraped this run.
func (s *ResearchState) RemainingURLBudget() int {
	remaining := s.MaxURLs - s.URLsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BudgetExhausted reports the first exhausted budget, if any. Checked at
// iteration boundaries only; a single step may slightly overrun the time
// limit but the loop exits promptly afterward.
func (s *ResearchState) BudgetExhausted() (string, bool) {
	switch {
	case s.CurrentDepth >= s.MaxDepth:
		return "max depth reached", true
	case s.FailedAttempts >= s.MaxFailedAttempts:
		return "max failed attempts reached", true
	case s.Elapsed() >= s.TimeLimit:
		return "time limit reached", true
	case s.URLsUsed >= s.MaxURLs:
		return "max urls reached", true
	}
	return "", false
}
