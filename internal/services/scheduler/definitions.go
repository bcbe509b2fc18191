package scheduler

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/messor/internal/models"
)

// duration lets definition files spell intervals as "250ms" or "2s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// CrawlSpec is the YAML shape of one scheduled crawl submission. Field
// meanings mirror the crawl API request.
type CrawlSpec struct {
	URL                    string   `yaml:"url"`
	TeamID                 string   `yaml:"team_id"`
	MaxDepth               int      `yaml:"max_depth"`
	Limit                  int      `yaml:"limit"`
	IncludePaths           []string `yaml:"include_paths"`
	ExcludePaths           []string `yaml:"exclude_paths"`
	AllowExternalLinks     bool     `yaml:"allow_external_links"`
	AllowSubdomains        bool     `yaml:"allow_subdomains"`
	CrawlEntireDomain      bool     `yaml:"crawl_entire_domain"`
	DeduplicateSimilarURLs bool     `yaml:"deduplicate_similar_urls"`
	IgnoreQueryParameters  bool     `yaml:"ignore_query_parameters"`
	IgnoreRobotsTxt        bool     `yaml:"ignore_robots_txt"`
	Delay                  duration `yaml:"delay"`
	MaxConcurrency         int      `yaml:"max_concurrency"`
	Formats                []string `yaml:"formats"`
	OnlyMainContent        bool     `yaml:"only_main_content"`
	FastMode               bool     `yaml:"fast_mode"`
}

// Definition is one named entry from the schedules file.
type Definition struct {
	Name     string    `yaml:"name"`
	Schedule string    `yaml:"schedule"`
	Disabled bool      `yaml:"disabled"`
	Crawl    CrawlSpec `yaml:"crawl"`
}

// Request builds the crawl submission for this definition.
func (d *Definition) Request() *models.CrawlRequest {
	return &models.CrawlRequest{
		URL: d.Crawl.URL,
		Options: models.CrawlOptions{
			IncludePaths:           d.Crawl.IncludePaths,
			ExcludePaths:           d.Crawl.ExcludePaths,
			MaxDepth:               d.Crawl.MaxDepth,
			Limit:                  d.Crawl.Limit,
			AllowExternalLinks:     d.Crawl.AllowExternalLinks,
			AllowSubdomains:        d.Crawl.AllowSubdomains,
			CrawlEntireDomain:      d.Crawl.CrawlEntireDomain,
			DeduplicateSimilarURLs: d.Crawl.DeduplicateSimilarURLs,
			IgnoreQueryParameters:  d.Crawl.IgnoreQueryParameters,
			IgnoreRobotsTxt:        d.Crawl.IgnoreRobotsTxt,
			Delay:                  d.Crawl.Delay.Duration,
			MaxConcurrency:         d.Crawl.MaxConcurrency,
		},
		Scrape: models.ScrapeOptions{
			Formats:         d.Crawl.Formats,
			OnlyMainContent: d.Crawl.OnlyMainContent,
			FastMode:        d.Crawl.FastMode,
		},
		TeamID: d.Crawl.TeamID,
	}
}

type definitionsFile struct {
	Schedules []Definition `yaml:"schedules"`
}

// LoadDefinitions reads and validates the schedules file. A misconfigured
// entry fails the whole load; a schedule silently skipped at startup would
// surface as a crawl that never happens.
func LoadDefinitions(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule definitions: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse schedule definitions: %w", err)
	}

	seen := make(map[string]bool, len(file.Schedules))
	for i := range file.Schedules {
		def := &file.Schedules[i]
		if def.Name == "" {
			return nil, fmt.Errorf("schedule %d: name is required", i)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("duplicate schedule name %q", def.Name)
		}
		seen[def.Name] = true
		if def.Crawl.URL == "" {
			return nil, fmt.Errorf("schedule %q: crawl url is required", def.Name)
		}
		if def.Schedule == "" {
			return nil, fmt.Errorf("schedule %q: cron expression is required", def.Name)
		}
		if _, err := cron.ParseStandard(def.Schedule); err != nil {
			return nil, fmt.Errorf("schedule %q: invalid cron expression: %w", def.Name, err)
		}
	}

	return file.Schedules, nil
}
