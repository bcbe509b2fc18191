package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// ErrUnknownSchedule is returned by Trigger for a name with no registered
// schedule.
var ErrUnknownSchedule = errors.New("unknown schedule")

// jobEntry tracks one registered schedule and its run history.
type jobEntry struct {
	def         Definition
	cronID      cron.EntryID
	lastRun     *time.Time
	lastCrawlID string
	runs        int
	lastError   string
}

// Service fires YAML-defined recurring crawls on cron expressions and runs
// the stale-run janitor that fails runs whose workers vanished.
type Service struct {
	config   *common.Config
	crawler  interfaces.CrawlerService
	states   interfaces.CrawlStateStore
	research interfaces.ResearchStateStore
	frontier interfaces.FrontierStore
	events   interfaces.EventService
	logger   arbor.ILogger

	cron    *cron.Cron
	mu      sync.Mutex
	jobs    map[string]*jobEntry
	running bool
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates the scheduler. Definitions are not loaded until Start.
func NewService(
	crawlerService interfaces.CrawlerService,
	states interfaces.CrawlStateStore,
	research interfaces.ResearchStateStore,
	frontier interfaces.FrontierStore,
	events interfaces.EventService,
	logger arbor.ILogger,
	config *common.Config,
) *Service {
	return &Service{
		config:   config,
		crawler:  crawlerService,
		states:   states,
		research: research,
		frontier: frontier,
		events:   events,
		logger:   logger,
		cron:     cron.New(),
		jobs:     make(map[string]*jobEntry),
	}
}

// Start loads the definitions file, registers every enabled schedule plus the
// stale check, and starts the cron runner.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if path := s.config.Scheduler.DefinitionsPath; path != "" {
		defs, err := LoadDefinitions(path)
		if err != nil {
			return err
		}
		for _, def := range defs {
			if def.Disabled {
				s.logger.Info().Str("schedule", def.Name).Msg("Schedule disabled, skipping")
				continue
			}
			if err := s.register(def); err != nil {
				return err
			}
		}
	}

	if interval := s.config.Scheduler.StaleCheckInterval; interval > 0 {
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.reapStaleRuns); err != nil {
			return fmt.Errorf("register stale check: %w", err)
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("schedules", len(s.jobs)).
		Str("stale_threshold", s.config.Scheduler.StaleThreshold.String()).
		Msg("Scheduler started")
	return nil
}

// register adds one schedule to the cron runner. Caller holds s.mu.
func (s *Service) register(def Definition) error {
	if _, exists := s.jobs[def.Name]; exists {
		return fmt.Errorf("duplicate schedule name %q", def.Name)
	}

	entry := &jobEntry{def: def}
	cronID, err := s.cron.AddFunc(def.Schedule, func() { s.fire(def.Name) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", def.Name, err)
	}
	entry.cronID = cronID
	s.jobs[def.Name] = entry

	s.logger.Info().
		Str("schedule", def.Name).
		Str("cron", def.Schedule).
		Str("url", def.Crawl.URL).
		Msg("Schedule registered")
	return nil
}

// Stop halts the cron runner and waits for in-flight ticks to finish.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	// fire() takes s.mu, so the lock must be released before waiting on
	// in-flight ticks here.
	<-s.cron.Stop().Done()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the cron runner is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger fires a registered schedule immediately, on the caller's goroutine.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no schedule named %q: %w", name, ErrUnknownSchedule)
	}
	s.fire(name)
	return nil
}

// Jobs lists registered schedules sorted by name.
func (s *Service) Jobs() []interfaces.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]interfaces.ScheduledJob, 0, len(s.jobs))
	for name, entry := range s.jobs {
		job := interfaces.ScheduledJob{
			Name:        name,
			Schedule:    entry.def.Schedule,
			URL:         entry.def.Crawl.URL,
			LastRun:     entry.lastRun,
			LastCrawlID: entry.lastCrawlID,
			Runs:        entry.runs,
			LastError:   entry.lastError,
		}
		if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
			t := next
			job.NextRun = &t
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// fire submits the crawl for one schedule. A tick is skipped while the
// previous submission is still running, so a crawl slower than its cadence
// never stacks duplicates.
func (s *Service) fire(name string) {
	s.mu.Lock()
	entry, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	def := entry.def
	lastCrawlID := entry.lastCrawlID
	s.mu.Unlock()

	ctx := context.Background()

	if lastCrawlID != "" {
		prev, err := s.states.GetCrawl(ctx, lastCrawlID)
		if err == nil && !prev.Status.Terminal() {
			s.logger.Warn().
				Str("schedule", name).
				Str("crawl_id", lastCrawlID).
				Msg("Previous scheduled crawl still running, skipping tick")
			return
		}
	}

	state, err := s.crawler.StartCrawl(ctx, def.Request())

	now := time.Now()
	s.mu.Lock()
	entry.lastRun = &now
	entry.runs++
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
		entry.lastCrawlID = state.CrawlID
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("schedule", name).
			Str("url", def.Crawl.URL).
			Msg("Scheduled crawl submission failed")
		return
	}

	s.logger.Info().
		Str("schedule", name).
		Str("crawl_id", state.CrawlID).
		Str("url", def.Crawl.URL).
		Msg("Scheduled crawl submitted")

	if s.events != nil {
		s.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventScheduleFired,
			Payload: map[string]interface{}{
				"schedule": name,
				"crawl_id": state.CrawlID,
				"url":      def.Crawl.URL,
			},
		})
	}
}

// reapStaleRuns fails runs whose state has not moved for the stale threshold.
// A run past that silence has lost its workers: the process holding its jobs
// died without acking, and the retry budget was spent or the messages were
// lost with the process. Failing the run lets pollers stop waiting and frees
// the frontier.
func (s *Service) reapStaleRuns() {
	threshold := s.config.Scheduler.StaleThreshold
	if threshold <= 0 {
		return
	}

	ctx := context.Background()
	cutoff := time.Now().Add(-threshold)

	for _, status := range []models.JobStatus{models.JobStatusRunning, models.JobStatusPending} {
		crawls, err := s.states.ListCrawls(ctx, status, 0)
		if err != nil {
			s.logger.Warn().Err(err).Str("status", string(status)).Msg("Stale check: listing crawls failed")
			continue
		}
		for _, state := range crawls {
			if state.UpdatedAt.After(cutoff) {
				continue
			}
			s.failStaleCrawl(ctx, state, threshold)
		}

		research, err := s.research.ListResearch(ctx, status, 0)
		if err != nil {
			s.logger.Warn().Err(err).Str("status", string(status)).Msg("Stale check: listing research failed")
			continue
		}
		for _, state := range research {
			if state.UpdatedAt.After(cutoff) {
				continue
			}
			s.failStaleResearch(ctx, state, threshold)
		}
	}
}

func (s *Service) failStaleCrawl(ctx context.Context, state *models.CrawlState, threshold time.Duration) {
	now := time.Now()
	state.Status = models.JobStatusFailed
	state.Error = &models.ErrorRecord{
		Code:    models.ErrCodeTimeout,
		Message: fmt.Sprintf("no progress for %s, marked stale", threshold),
	}
	state.UpdatedAt = now
	state.FinishedAt = &now

	if err := s.states.SaveCrawl(ctx, state); err != nil {
		s.logger.Warn().Err(err).Str("crawl_id", state.CrawlID).Msg("Stale check: saving crawl failed")
		return
	}
	if err := s.frontier.Clear(ctx, state.CrawlID); err != nil {
		s.logger.Warn().Err(err).Str("crawl_id", state.CrawlID).Msg("Stale check: clearing frontier failed")
	}

	s.logger.Warn().
		Str("crawl_id", state.CrawlID).
		Str("url", state.OriginURL).
		Msg("Crawl made no progress within the stale threshold, marked failed")
}

func (s *Service) failStaleResearch(ctx context.Context, state *models.ResearchState, threshold time.Duration) {
	state.Status = models.JobStatusFailed
	state.Error = &models.ErrorRecord{
		Code:    models.ErrCodeTimeout,
		Message: fmt.Sprintf("no progress for %s, marked stale", threshold),
	}
	state.UpdatedAt = time.Now()

	if err := s.research.SaveResearch(ctx, state); err != nil {
		s.logger.Warn().Err(err).Str("research_id", state.ID).Msg("Stale check: saving research failed")
		return
	}

	s.logger.Warn().
		Str("research_id", state.ID).
		Str("query", state.Query).
		Msg("Research made no progress within the stale threshold, marked failed")
}
