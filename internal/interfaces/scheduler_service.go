package interfaces

import "time"

// ScheduledJob is the observable state of one registered schedule.
type ScheduledJob struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	URL         string     `json:"url"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastCrawlID string     `json:"last_crawl_id,omitempty"`
	Runs        int        `json:"runs"`
	LastError   string     `json:"last_error,omitempty"`
}

// SchedulerService fires recurring work: YAML-defined scheduled crawls and
// the stale-run janitor that fails runs whose workers vanished.
type SchedulerService interface {
	Start() error
	Stop() error
	IsRunning() bool

	// Trigger fires a registered schedule immediately, off-cycle
	Trigger(name string) error

	// Jobs lists registered schedules with their run history
	Jobs() []ScheduledJob
}
