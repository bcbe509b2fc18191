package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
	"github.com/ternarybob/messor/internal/queue"
)

// maxRobotsBytes caps the robots.txt body read at kickoff.
const maxRobotsBytes = 512 * 1024

// Service owns crawl runs end to end: it admits submissions, seeds the
// frontier through kickoff jobs, processes page jobs off the queue, expands
// links through the policy evaluator, and detects drain. One instance is
// shared by all worker goroutines.
//
// Counter updates go through stateMu because the state store is
// last-write-wins; the frontier store holds everything that must be atomic
// across processes (visited set, locks, the page-limit counter).
type Service struct {
	config   *common.Config
	queue    interfaces.QueueManager
	frontier interfaces.FrontierStore
	states   interfaces.CrawlStateStore
	scraper  interfaces.ScraperService
	billing  interfaces.BillingService
	status   interfaces.StatusService
	logger   arbor.ILogger

	validate *validator.Validate
	client   *http.Client // robots.txt side fetches

	stateMu sync.Mutex

	// Compiled policies per crawl. Rebuilt lazily from state after a
	// restart, dropped when the run goes terminal.
	policyMu sync.Mutex
	policies map[string]*Policy
}

// NewService creates the crawler service. Handlers are registered on the
// worker pool by the caller.
func NewService(queueManager interfaces.QueueManager, frontier interfaces.FrontierStore, states interfaces.CrawlStateStore, scraper interfaces.ScraperService, billing interfaces.BillingService, status interfaces.StatusService, logger arbor.ILogger, config *common.Config) *Service {
	return &Service{
		config:   config,
		queue:    queueManager,
		frontier: frontier,
		states:   states,
		scraper:  scraper,
		billing:  billing,
		status:   status,
		logger:   logger,
		validate: validator.New(),
		client:   &http.Client{Timeout: 10 * time.Second},
		policies: make(map[string]*Policy),
	}
}

// StartCrawl validates a crawl submission, persists its state and enqueues
// the kickoff job. Returns the pending state; progress is asynchronous.
func (s *Service) StartCrawl(ctx context.Context, req *models.CrawlRequest) (*models.CrawlState, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &models.ErrorRecord{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("invalid crawl request: %v", err),
		}
	}

	opts := req.Options
	s.applyDefaults(&opts)

	// Compile the policy up front so bad regex patterns fail the submission
	// instead of the kickoff job. Robots arrives later, at kickoff.
	if _, err := NewPolicy(req.URL, opts, "", s.config.Scraper.UserAgent); err != nil {
		return nil, &models.ErrorRecord{Code: models.ErrCodeValidation, Message: err.Error()}
	}

	now := time.Now()
	state := &models.CrawlState{
		CrawlID:   uuid.New().String(),
		OriginURL: Normalize(req.URL),
		Options:   opts,
		Scrape:    req.Scrape,
		TeamID:    req.TeamID,
		PlanID:    req.PlanID,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.states.SaveCrawl(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist crawl state: %w", err)
	}

	kickoff := &models.CrawlJob{
		ID:        uuid.New().String(),
		CrawlID:   state.CrawlID,
		URL:       state.OriginURL,
		Mode:      models.JobModeKickoff,
		Options:   opts,
		Scrape:    req.Scrape,
		Internal:  req.Internal,
		TeamID:    req.TeamID,
		PlanID:    req.PlanID,
		CreatedAt: now,
	}
	if err := s.enqueueJob(ctx, kickoff); err != nil {
		return nil, fmt.Errorf("failed to enqueue kickoff job: %w", err)
	}

	s.logger.Info().
		Str("crawl_id", state.CrawlID).
		Str("url", state.OriginURL).
		Int("max_depth", opts.MaxDepth).
		Int("limit", opts.Limit).
		Msg("Crawl submitted")

	return state, nil
}

// StartBatch validates a batch submission and enqueues its kickoff. Batch
// runs share crawl state, queue and frontier semantics but never discover
// links and carry no page limit.
func (s *Service) StartBatch(ctx context.Context, req *models.BatchRequest) (*models.CrawlState, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &models.ErrorRecord{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("invalid batch request: %v", err),
		}
	}

	opts := models.CrawlOptions{MaxConcurrency: req.MaxConcurrency}
	now := time.Now()
	state := &models.CrawlState{
		CrawlID:   uuid.New().String(),
		OriginURL: Normalize(req.URLs[0]),
		Options:   opts,
		Scrape:    req.Scrape,
		TeamID:    req.TeamID,
		PlanID:    req.PlanID,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.states.SaveCrawl(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist crawl state: %w", err)
	}

	kickoff := &models.CrawlJob{
		ID:        uuid.New().String(),
		CrawlID:   state.CrawlID,
		URL:       state.OriginURL,
		URLs:      req.URLs,
		Mode:      models.JobModeSingleURLs,
		Options:   opts,
		Scrape:    req.Scrape,
		Internal:  req.Internal,
		TeamID:    req.TeamID,
		PlanID:    req.PlanID,
		CreatedAt: now,
	}
	// Batch kickoffs ride the kickoff lane too, so the fan-out happens
	// ahead of any page backlog.
	msg, err := queue.NewCrawlJobMessage(kickoff)
	if err != nil {
		return nil, fmt.Errorf("failed to build kickoff message: %w", err)
	}
	msg.Type = queue.JobTypeCrawlKickoff
	msg.Priority = queue.PriorityKickoff
	msg.TeamConcurrency = opts.MaxConcurrency
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue kickoff job: %w", err)
	}

	s.logger.Info().
		Str("crawl_id", state.CrawlID).
		Int("urls", len(req.URLs)).
		Msg("Batch submitted")

	return state, nil
}

// Status returns the progress snapshot for a run.
func (s *Service) Status(ctx context.Context, crawlID string) (*models.CrawlSnapshot, error) {
	state, err := s.states.GetCrawl(ctx, crawlID)
	if err != nil {
		return nil, err
	}
	snap := state.Snapshot()
	return &snap, nil
}

// Results lists per-URL outcomes in completion order.
func (s *Service) Results(ctx context.Context, crawlID string, limit int) ([]*models.JobResult, error) {
	return s.states.ListResults(ctx, crawlID, limit)
}

// Cancel flips the run terminal. Queued jobs drain as skips; the job being
// processed right now finishes, because cancellation is only observed at
// the next policy evaluation.
func (s *Service) Cancel(ctx context.Context, crawlID string) error {
	state, err := s.mutateState(ctx, crawlID, func(st *models.CrawlState) {
		if st.Status.Terminal() {
			return
		}
		st.Cancelled = true
		st.Status = models.JobStatusCancelled
		now := time.Now()
		st.FinishedAt = &now
	})
	if err != nil {
		return err
	}
	s.forgetPolicy(crawlID)
	if err := s.status.UpdateCrawlProgress(ctx, state); err != nil {
		s.logger.Warn().Err(err).Str("crawl_id", crawlID).Msg("Failed to publish cancel progress")
	}

	s.logger.Info().Str("crawl_id", crawlID).Msg("Crawl cancelled")
	return nil
}

// HandleKickoff processes a kickoff message: fetch robots, admit the seed
// (or fan out the batch URL list) and flip the run to running.
func (s *Service) HandleKickoff(ctx context.Context, msg *queue.JobMessage) error {
	var job models.CrawlJob
	if err := msg.DecodePayload(&job); err != nil {
		// Poison payload, send it straight to the dead letter bucket.
		return &models.ErrorRecord{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("undecodable kickoff payload: %v", err),
		}
	}

	state, err := s.states.GetCrawl(ctx, job.CrawlID)
	if err != nil {
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			s.logger.Warn().Str("crawl_id", job.CrawlID).Msg("Kickoff for unknown crawl dropped")
			return nil
		}
		return err
	}
	if state.Cancelled || state.Status.Terminal() {
		return nil
	}
	if state.Enqueued > 0 {
		// Redelivered kickoff after a crash between seeding and ack.
		return nil
	}

	// Results are persisted per page, which zero data retention forbids.
	// Direct scrapes honor ZDR in the pipeline instead; a crawl cannot.
	if job.Internal.ZeroDataRetention {
		rec := &models.ErrorRecord{
			Code:    models.ErrCodeZDRViolation,
			Message: "zero data retention forbids persisting crawl results",
		}
		s.failRun(ctx, job.CrawlID, rec)
		return rec
	}

	if job.Mode == models.JobModeSingleURLs {
		return s.seedBatch(ctx, &job)
	}
	return s.seedCrawl(ctx, state, &job)
}

// seedCrawl fetches robots.txt, runs the origin through the policy and
// enqueues the depth-0 page job.
func (s *Service) seedCrawl(ctx context.Context, state *models.CrawlState, job *models.CrawlJob) error {
	if state.RobotsTxt == "" && !job.Options.IgnoreRobotsTxt {
		if robots := s.fetchRobotsTxt(ctx, state.OriginURL); robots != "" {
			var err error
			state, err = s.mutateState(ctx, job.CrawlID, func(st *models.CrawlState) {
				st.RobotsTxt = robots
			})
			if err != nil {
				return err
			}
		}
	}

	policy, err := s.policyFor(state)
	if err != nil {
		rec := &models.ErrorRecord{Code: models.ErrCodeValidation, Message: err.Error()}
		s.failRun(ctx, job.CrawlID, rec)
		return rec
	}

	decision, err := policy.Admit(ctx, s.frontier, job.CrawlID, state.OriginURL, 0)
	if err != nil {
		return err
	}
	if !decision.Accept {
		if decision.Reason == ReasonDuplicate {
			// Seed already went out on a previous delivery.
			return nil
		}
		rec := &models.ErrorRecord{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("seed url rejected: %s", decision.Reason),
			Details: decision.Detail,
		}
		s.failRun(ctx, job.CrawlID, rec)
		return rec
	}

	seed := s.childJob(job, state.OriginURL, 0)
	if err := s.enqueueJob(ctx, seed); err != nil {
		return fmt.Errorf("failed to enqueue seed job: %w", err)
	}

	state, err = s.mutateState(ctx, job.CrawlID, func(st *models.CrawlState) {
		st.Status = models.JobStatusRunning
		st.Enqueued++
	})
	if err != nil {
		return err
	}
	s.publishProgress(ctx, state)

	s.logger.Info().
		Str("crawl_id", job.CrawlID).
		Str("url", state.OriginURL).
		Msg("Crawl seeded")
	return nil
}

// seedBatch fans the URL list out into page jobs. Duplicate URLs within the
// list collapse to one job.
func (s *Service) seedBatch(ctx context.Context, job *models.CrawlJob) error {
	seen := make(map[string]struct{}, len(job.URLs))
	enqueued := 0
	for _, raw := range job.URLs {
		key := DedupKey(raw, job.Options)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		child := s.childJob(job, raw, 0)
		child.Mode = models.JobModeSingleURLs
		if err := s.enqueueJob(ctx, child); err != nil {
			s.logger.Warn().Err(err).Str("url", raw).Msg("Failed to enqueue batch job")
			continue
		}
		enqueued++
	}

	state, err := s.mutateState(ctx, job.CrawlID, func(st *models.CrawlState) {
		st.Enqueued += enqueued
		if enqueued == 0 {
			// Nothing to do; close the run out instead of waiting on a
			// drain that can never happen.
			st.Status = models.JobStatusCompleted
			now := time.Now()
			st.FinishedAt = &now
			return
		}
		st.Status = models.JobStatusRunning
	})
	if err != nil {
		return err
	}
	s.publishProgress(ctx, state)

	s.logger.Info().
		Str("crawl_id", job.CrawlID).
		Int("enqueued", enqueued).
		Msg("Batch seeded")
	return nil
}

// HandlePage processes one page job: claim the URL, scrape it, record the
// outcome, expand the frontier (crawl mode only) and advance the counters.
func (s *Service) HandlePage(ctx context.Context, msg *queue.JobMessage) error {
	var job models.CrawlJob
	if err := msg.DecodePayload(&job); err != nil {
		return &models.ErrorRecord{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("undecodable page payload: %v", err),
		}
	}

	state, err := s.states.GetCrawl(ctx, job.CrawlID)
	if err != nil {
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			s.logger.Warn().Str("crawl_id", job.CrawlID).Str("url", job.URL).Msg("Page job for unknown crawl dropped")
			return nil
		}
		return err
	}

	if state.Cancelled || state.Status.Terminal() {
		// Queued leftovers drain as skips so the counters still converge.
		s.finishJob(ctx, job.CrawlID, jobOutcome{})
		return nil
	}

	key := DedupKey(job.URL, job.Options)
	locked, err := s.frontier.TryLock(ctx, job.CrawlID, key, s.config.Crawler.LockTTL)
	if err != nil {
		return err
	}
	if !locked {
		// Another worker holds or completed this URL. Count the skip so
		// double-enqueued discoveries still drain.
		s.logger.Debug().Str("crawl_id", job.CrawlID).Str("url", job.URL).Msg("URL already claimed, skipping")
		s.finishJob(ctx, job.CrawlID, jobOutcome{})
		return nil
	}

	if job.Options.Delay > 0 {
		select {
		case <-ctx.Done():
			s.releaseLock(job.CrawlID, key)
			return ctx.Err()
		case <-time.After(job.Options.Delay):
		}
	}

	opts := job.Scrape
	opts.CacheBypass = opts.CacheBypass || job.Internal.BypassCache
	opts.ZeroDataRetention = opts.ZeroDataRetention || job.Internal.ZeroDataRetention

	result, err := s.scraper.Scrape(ctx, job.URL, opts)
	if err != nil {
		// Only context cancellation surfaces here; release the claim so a
		// redelivery can take it.
		s.releaseLock(job.CrawlID, key)
		return err
	}

	rec := result.Error
	if rec != nil && rec.Code.IsTransient() && msg.ReceiveCount < s.config.Queue.MaxReceive {
		// Receive budget remains: hand the claim back and let the queue
		// schedule the retry with backoff.
		s.releaseLock(job.CrawlID, key)
		return rec
	}

	// Terminal outcome from here on. The lock converts to a visited mark.
	outcome := jobOutcome{failed: rec != nil}

	if rec == nil {
		if fatal := s.billPage(ctx, &job, state); fatal != nil {
			// INSUFFICIENT_CREDITS or COST_LIMIT_EXCEEDED kills the whole
			// run; this page still settles, under the fatal record.
			s.failRun(ctx, job.CrawlID, fatal)
			rec = fatal
			outcome.failed = true
		} else {
			outcome.billed = s.billed(&job)
		}
	}

	if err := s.frontier.MarkVisited(ctx, job.CrawlID, key); err != nil {
		s.logger.Warn().Err(err).Str("crawl_id", job.CrawlID).Str("url", job.URL).Msg("Failed to mark url visited")
	}

	jobResult := &models.JobResult{
		JobID:     job.ID,
		CrawlID:   job.CrawlID,
		URL:       job.URL,
		Attempts:  msg.ReceiveCount,
		CreatedAt: time.Now(),
	}
	if rec != nil {
		jobResult.Error = rec
	} else {
		jobResult.Result = result
	}
	if err := s.states.SaveResult(ctx, jobResult); err != nil {
		s.logger.Warn().Err(err).Str("crawl_id", job.CrawlID).Str("url", job.URL).Msg("Failed to persist job result")
	}
	s.status.LogJob(ctx, jobResult)
	if rec == nil {
		s.status.PublishDocument(ctx, job.CrawlID, result)
	}

	if rec == nil && job.Mode == models.JobModeCrawl && len(result.Links) > 0 {
		// Reload the state so a cancel or run failure issued mid-scrape
		// stops expansion here, at the next policy evaluation.
		if fresh, err := s.states.GetCrawl(ctx, job.CrawlID); err == nil && !fresh.Cancelled && !fresh.Status.Terminal() {
			outcome.enqueued = s.expandLinks(ctx, fresh, &job, result.Links)
		}
	}

	s.finishJob(ctx, job.CrawlID, outcome)

	if rec != nil && rec.Code.IsTransient() {
		// Out of receive budget: the outcome is recorded above, and the
		// returned record sends the message to the dead letter bucket.
		return rec
	}
	return nil
}

// jobOutcome carries one page job's contribution to the crawl counters.
type jobOutcome struct {
	failed   bool
	billed   bool
	enqueued int
}

// finishJob advances the counters for one settled job and closes the run
// when it drains. Terminal statuses set elsewhere (cancel, run failure) are
// never overwritten.
func (s *Service) finishJob(ctx context.Context, crawlID string, outcome jobOutcome) {
	state, err := s.mutateState(ctx, crawlID, func(st *models.CrawlState) {
		st.Enqueued += outcome.enqueued
		st.Completed++
		if outcome.failed {
			st.Failed++
		}
		if outcome.billed {
			st.Billed++
		}
		if st.Status == models.JobStatusRunning && st.Drained() {
			st.Status = models.JobStatusCompleted
			now := time.Now()
			st.FinishedAt = &now
		}
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("crawl_id", crawlID).Msg("Failed to advance crawl counters")
		return
	}
	s.publishProgress(ctx, state)

	if state.Status == models.JobStatusCompleted {
		s.forgetPolicy(crawlID)
		s.logger.Info().
			Str("crawl_id", crawlID).
			Int("completed", state.Completed).
			Int("failed", state.Failed).
			Msg("Crawl completed")
	}
}

// expandLinks admits each discovered link and enqueues the accepted ones a
// level deeper. Returns how many jobs went out.
func (s *Service) expandLinks(ctx context.Context, state *models.CrawlState, job *models.CrawlJob, links []string) int {
	policy, err := s.policyFor(state)
	if err != nil {
		s.logger.Warn().Err(err).Str("crawl_id", job.CrawlID).Msg("Failed to build crawl policy for expansion")
		return 0
	}

	depth := job.Depth + 1
	enqueued := 0
	rejected := 0
	// Pages repeat links (nav menus, footers); collapse them here so each
	// one costs at most one page-limit slot.
	admitted := make(map[string]struct{}, len(links))
	for _, link := range links {
		key := DedupKey(link, job.Options)
		if _, dup := admitted[key]; dup {
			continue
		}
		decision, err := policy.Admit(ctx, s.frontier, job.CrawlID, link, depth)
		if err != nil {
			s.logger.Warn().Err(err).Str("crawl_id", job.CrawlID).Str("link", link).Msg("Frontier admission failed")
			continue
		}
		if !decision.Accept {
			rejected++
			continue
		}
		admitted[key] = struct{}{}
		child := s.childJob(job, link, depth)
		if err := s.enqueueJob(ctx, child); err != nil {
			s.logger.Warn().Err(err).Str("crawl_id", job.CrawlID).Str("link", link).Msg("Failed to enqueue discovered link")
			continue
		}
		enqueued++
	}

	s.logger.Debug().
		Str("crawl_id", job.CrawlID).
		Str("url", job.URL).
		Int("discovered", len(links)).
		Int("enqueued", enqueued).
		Int("rejected", rejected).
		Msg("Frontier expanded")
	return enqueued
}

// billPage settles one successful page against the team ledger. Returns a
// run-fatal record when the run hit its cost ceiling or the team is out of
// credits; other billing failures only log.
//
// The ceiling compares against the last persisted Billed count, so a burst
// of concurrent workers can overshoot it by at most the worker concurrency.
func (s *Service) billPage(ctx context.Context, job *models.CrawlJob, state *models.CrawlState) *models.ErrorRecord {
	if !s.billed(job) {
		return nil
	}

	if ceiling := s.config.Billing.MaxCostPerRun; ceiling > 0 && state.Billed >= ceiling {
		return &models.ErrorRecord{
			Code:    models.ErrCodeCostLimitExceeded,
			Message: fmt.Sprintf("run cost ceiling of %d units reached", ceiling),
		}
	}

	err := s.billing.BillTeam(ctx, job.TeamID, job.PlanID, 1, map[string]string{
		"crawl_id": job.CrawlID,
		"url":      job.URL,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrInsufficientCredits) {
			return &models.ErrorRecord{
				Code:    models.ErrCodeInsufficientCredits,
				Message: "team is out of credits",
			}
		}
		s.logger.Warn().Err(err).Str("crawl_id", job.CrawlID).Msg("Billing call failed, continuing")
	}
	return nil
}

// billed reports whether this job settles a billing unit at all.
func (s *Service) billed(job *models.CrawlJob) bool {
	return s.config.Billing.Enabled && !job.Internal.SkipBilling
}

// failRun marks the whole run failed. In-flight jobs observe it on their
// next state read and drain as skips.
func (s *Service) failRun(ctx context.Context, crawlID string, rec *models.ErrorRecord) {
	state, err := s.mutateState(ctx, crawlID, func(st *models.CrawlState) {
		if st.Status.Terminal() {
			return
		}
		st.Cancelled = true
		st.Status = models.JobStatusFailed
		st.Error = rec
		now := time.Now()
		st.FinishedAt = &now
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("crawl_id", crawlID).Msg("Failed to persist run failure")
		return
	}
	s.forgetPolicy(crawlID)
	s.publishProgress(ctx, state)

	s.logger.Warn().
		Str("crawl_id", crawlID).
		Str("error_code", string(rec.Code)).
		Str("error", rec.Message).
		Msg("Crawl failed")
}

// mutateState serializes a load-modify-save on the crawl state blob. The
// store is last-write-wins, so every counter update must come through here.
func (s *Service) mutateState(ctx context.Context, crawlID string, fn func(*models.CrawlState)) (*models.CrawlState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	state, err := s.states.GetCrawl(ctx, crawlID)
	if err != nil {
		return nil, err
	}
	fn(state)
	state.UpdatedAt = time.Now()
	if err := s.states.SaveCrawl(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to save crawl state: %w", err)
	}
	return state, nil
}

func (s *Service) publishProgress(ctx context.Context, state *models.CrawlState) {
	if err := s.status.UpdateCrawlProgress(ctx, state); err != nil {
		s.logger.Warn().Err(err).Str("crawl_id", state.CrawlID).Msg("Failed to publish crawl progress")
	}
}

// childJob derives a page job from its parent, snapshotting the parent's
// configuration so the child is self-contained across requeues.
func (s *Service) childJob(parent *models.CrawlJob, link string, depth int) *models.CrawlJob {
	return &models.CrawlJob{
		ID:        uuid.New().String(),
		CrawlID:   parent.CrawlID,
		URL:       link,
		Depth:     depth,
		Priority:  depth,
		Mode:      models.JobModeCrawl,
		Options:   parent.Options,
		Scrape:    parent.Scrape,
		Internal:  parent.Internal,
		TeamID:    parent.TeamID,
		PlanID:    parent.PlanID,
		CreatedAt: time.Now(),
	}
}

func (s *Service) enqueueJob(ctx context.Context, job *models.CrawlJob) error {
	msg, err := queue.NewCrawlJobMessage(job)
	if err != nil {
		return err
	}
	msg.TeamConcurrency = job.Options.MaxConcurrency
	return s.queue.Enqueue(ctx, msg)
}

// releaseLock returns a claim on a best-effort basis. Runs on its own
// context because the caller's is often already cancelled.
func (s *Service) releaseLock(crawlID, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.frontier.ReleaseLock(ctx, crawlID, key); err != nil {
		s.logger.Warn().Err(err).Str("crawl_id", crawlID).Str("url", key).Msg("Failed to release url lock")
	}
}

// policyFor returns the compiled policy for a crawl, building it from state
// on first use (or after a restart).
func (s *Service) policyFor(state *models.CrawlState) (*Policy, error) {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()

	if p, ok := s.policies[state.CrawlID]; ok {
		return p, nil
	}
	p, err := NewPolicy(state.OriginURL, state.Options, state.RobotsTxt, s.config.Scraper.UserAgent)
	if err != nil {
		return nil, err
	}
	s.policies[state.CrawlID] = p
	return p, nil
}

func (s *Service) forgetPolicy(crawlID string) {
	s.policyMu.Lock()
	delete(s.policies, crawlID)
	s.policyMu.Unlock()
}

// fetchRobotsTxt grabs the origin's robots.txt once per crawl. Any failure
// reads as an absent file, which allows everything.
func (s *Service) fetchRobotsTxt(ctx context.Context, originURL string) string {
	origin, err := url.Parse(originURL)
	if err != nil || origin.Host == "" {
		return ""
	}

	robotsURL := origin.Scheme + "://" + origin.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", s.config.Scraper.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", robotsURL).Msg("robots.txt fetch failed")
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return ""
	}
	return string(body)
}

var _ interfaces.CrawlerService = (*Service)(nil)

// applyDefaults fills unset crawl options from the crawler configuration.
func (s *Service) applyDefaults(opts *models.CrawlOptions) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = s.config.Crawler.MaxDepth
	}
	if opts.Limit <= 0 {
		opts.Limit = s.config.Crawler.Limit
	}
	if opts.Delay <= 0 {
		opts.Delay = s.config.Crawler.RequestDelay
	}
}
