package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
	"github.com/ternarybob/messor/internal/queue"
	"github.com/ternarybob/messor/internal/services/crawler"
)

// Service runs deep-research jobs: rounds of search, scrape and analysis
// against a topic until a budget trips or the model calls the coverage
// sufficient, then a synthesis pass turns the findings into a report.
//
// The whole run executes inside one queue job. State is persisted after
// every step, so a restart redelivers the job and the loop resumes from the
// persisted cursor instead of starting over. Budgets are monotonic and the
// no-progress counter only ever rises, so a resumed run still terminates.
type Service struct {
	config  *common.Config
	queue   interfaces.QueueManager
	states  interfaces.ResearchStateStore
	scraper interfaces.ScraperService
	search  interfaces.SearchProvider
	llm     interfaces.LLMService
	billing interfaces.BillingService
	status  interfaces.StatusService
	logger  arbor.ILogger

	validate *validator.Validate
}

var _ interfaces.ResearchService = (*Service)(nil)

// NewService creates the research service. The search and llm collaborators
// may be nil when no provider is configured; the loop degrades to direct
// topic searches and a raw findings digest instead of failing outright.
func NewService(queueManager interfaces.QueueManager, states interfaces.ResearchStateStore, scraper interfaces.ScraperService, search interfaces.SearchProvider, llm interfaces.LLMService, billing interfaces.BillingService, status interfaces.StatusService, logger arbor.ILogger, config *common.Config) *Service {
	return &Service{
		config:   config,
		queue:    queueManager,
		states:   states,
		scraper:  scraper,
		search:   search,
		llm:      llm,
		billing:  billing,
		status:   status,
		logger:   logger,
		validate: validator.New(),
	}
}

// Start validates a research submission, persists its state and enqueues the
// run. Returns the pending state; progress is asynchronous.
func (s *Service) Start(ctx context.Context, req *models.ResearchRequest) (*models.ResearchState, error) {
	s.applyDefaults(req)
	if err := s.validate.Struct(req); err != nil {
		return nil, &models.ErrorRecord{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("invalid research request: %v", err),
		}
	}

	state := &models.ResearchState{
		ID:                uuid.New().String(),
		Query:             req.Query,
		Status:            models.JobStatusPending,
		MaxDepth:          req.MaxDepth,
		SeenURLs:          make(map[string]bool),
		MaxFailedAttempts: req.MaxFailedAttempts,
		TimeLimit:         req.TimeLimit,
		MaxURLs:           req.MaxURLs,
		TeamID:            req.TeamID,
		SubscriptionID:    req.SubscriptionID,
		UpdatedAt:         time.Now(),
	}
	if err := s.states.SaveResearch(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist research state: %w", err)
	}

	msg, err := queue.NewResearchMessage(state.ID, req)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue research job: %w", err)
	}

	s.logger.Info().
		Str("research_id", state.ID).
		Str("query", req.Query).
		Int("max_depth", req.MaxDepth).
		Int("max_urls", req.MaxURLs).
		Msg("research started")
	return state, nil
}

// Status returns the live state for a run, partial results included.
func (s *Service) Status(ctx context.Context, id string) (*models.ResearchState, error) {
	return s.states.GetResearch(ctx, id)
}

// HandleResearch is the queue handler for research jobs. The first delivery
// starts the clock; a redelivery after a shutdown resumes the persisted run.
// Deliveries for already-terminal runs ack quietly.
func (s *Service) HandleResearch(ctx context.Context, msg *queue.JobMessage) error {
	var req models.ResearchRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return &models.ErrorRecord{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("malformed research payload: %v", err),
		}
	}

	state, err := s.states.GetResearch(ctx, msg.ID)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return &models.ErrorRecord{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("research %s not found", msg.ID),
		}
	}
	if err != nil {
		return fmt.Errorf("failed to load research state: %w", err)
	}
	if state.Status.Terminal() {
		return nil
	}

	if state.StartTime.IsZero() {
		state.StartTime = time.Now()
	}
	if state.SeenURLs == nil {
		state.SeenURLs = make(map[string]bool)
	}
	state.Status = models.JobStatusRunning
	s.persist(ctx, state)

	return s.run(ctx, state, &req)
}

// run executes rounds until a budget trips or the analysis stops the loop,
// then finalizes. Returns the context error on shutdown so the queue
// redelivers and the resumed handler picks the run back up.
func (s *Service) run(ctx context.Context, state *models.ResearchState, req *models.ResearchRequest) error {
	topic := state.Query

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if reason, done := state.BudgetExhausted(); done {
			s.activity(ctx, state, models.ActivityThought, models.ActivityStatusComplete, "stopping: "+reason)
			break
		}

		stop, next, err := s.round(ctx, state, topic)
		if err != nil {
			return err
		}
		state.CurrentDepth++
		s.persist(ctx, state)
		if stop {
			break
		}
		if next != "" {
			topic = next
		}
	}

	return s.finalize(ctx, state, req)
}

// round is one search/scrape/analyze cycle. Reports whether the gap analysis
// called the coverage sufficient, and the topic for the next round.
func (s *Service) round(ctx context.Context, state *models.ResearchState, topic string) (stop bool, next string, err error) {
	s.activity(ctx, state, models.ActivitySearch, models.ActivityStatusProcessing, fmt.Sprintf("searching for %q", topic))

	queries := s.planQueries(ctx, state, topic)
	candidates := s.admitResults(state, s.searchAll(ctx, state, queries))
	if len(candidates) == 0 {
		s.activity(ctx, state, models.ActivitySearch, models.ActivityStatusError, "no new sources this round")
	} else {
		s.activity(ctx, state, models.ActivitySearch, models.ActivityStatusComplete, fmt.Sprintf("found %d new sources", len(candidates)))
	}
	s.persist(ctx, state)

	found, err := s.scrapeRound(ctx, state, candidates)
	if err != nil {
		return false, "", err
	}
	roundFailed := found == 0
	if roundFailed {
		s.activity(ctx, state, models.ActivityThought, models.ActivityStatusError, "round produced no usable content")
	}

	s.activity(ctx, state, models.ActivityAnalyze, models.ActivityStatusProcessing, "evaluating coverage and gaps")
	ga, gaErr := s.analyzeGaps(ctx, state, topic)
	if gaErr != nil {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		// Analysis is advisory; without it the loop keeps the same topic
		// and leans on the no-progress counter to terminate.
		roundFailed = true
		s.activity(ctx, state, models.ActivityAnalyze, models.ActivityStatusError, "gap analysis unavailable, continuing on the same topic")
	}
	// One bump per round at most, so the counter never jumps past its cap.
	if roundFailed {
		state.FailedAttempts++
	}
	s.persist(ctx, state)
	if gaErr != nil {
		return false, topic, nil
	}

	if ga.Summary != "" {
		state.Summaries = append(state.Summaries, ga.Summary)
	}
	message := ga.Summary
	if message == "" {
		message = "analysis complete"
	}
	s.activity(ctx, state, models.ActivityAnalyze, models.ActivityStatusComplete, message)
	s.persist(ctx, state)

	if !ga.ShouldContinue {
		s.activity(ctx, state, models.ActivityThought, models.ActivityStatusComplete, "coverage looks sufficient")
		return true, "", nil
	}
	return false, ga.NextSearchTopic, nil
}

// searchAll fans the round's queries out to the search provider. Per-query
// failures are logged and skipped; with no provider at all the round simply
// yields no candidates.
func (s *Service) searchAll(ctx context.Context, state *models.ResearchState, queries []string) []models.SearchResult {
	if s.search == nil {
		return nil
	}

	var results []models.SearchResult
	for _, q := range queries {
		if ctx.Err() != nil {
			return results
		}
		hits, err := s.search.Search(ctx, q, s.config.Research.ResultsPerQuery)
		if err != nil {
			s.logger.Warn().Err(err).Str("research_id", state.ID).Str("query", q).Msg("search failed")
			s.activity(ctx, state, models.ActivityError, models.ActivityStatusError, fmt.Sprintf("search failed for %q", q))
			continue
		}
		results = append(results, hits...)
	}
	return results
}

// admitResults folds search hits into the state. A URL is a scrape candidate
// whenever it surfaces unscraped, so pages a cut-short round left behind get
// another chance; the sources list records each URL once regardless.
func (s *Service) admitResults(state *models.ResearchState, results []models.SearchResult) []models.SearchResult {
	surfaced := make(map[string]struct{}, len(state.Sources))
	for _, src := range state.Sources {
		surfaced[crawler.Normalize(src.URL)] = struct{}{}
	}

	batch := make(map[string]struct{}, len(results))
	var fresh []models.SearchResult
	for _, hit := range results {
		if hit.URL == "" {
			continue
		}
		key := crawler.Normalize(hit.URL)
		if _, dup := batch[key]; dup || state.SeenURLs[key] {
			continue
		}
		batch[key] = struct{}{}
		fresh = append(fresh, hit)
		if _, known := surfaced[key]; !known {
			surfaced[key] = struct{}{}
			state.Sources = append(state.Sources, models.Source{
				URL:         hit.URL,
				Title:       hit.Title,
				Description: hit.Description,
			})
		}
	}
	return fresh
}

// scrapeRound fetches candidates until the URL budget runs out. Every attempt
// consumes budget whether or not it yields content; a failed page is recorded
// and skipped, never fatal to the run. The error return is reserved for
// context cancellation.
func (s *Service) scrapeRound(ctx context.Context, state *models.ResearchState, candidates []models.SearchResult) (int, error) {
	found := 0
	for _, hit := range candidates {
		if state.RemainingURLBudget() == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return found, err
		}

		state.SeenURLs[crawler.Normalize(hit.URL)] = true
		state.URLsUsed++
		s.activity(ctx, state, models.ActivityScrape, models.ActivityStatusProcessing, fmt.Sprintf("reading %s", hit.URL))

		res, err := s.scraper.Scrape(ctx, hit.URL, s.scrapeOptions())
		if err != nil {
			// Shutdown mid-fetch. The attempt already consumed budget and
			// is persisted, so the resumed run will not refetch it.
			s.persist(ctx, state)
			return found, err
		}
		if res.Success() && strings.TrimSpace(res.Content()) != "" {
			state.Findings = append(state.Findings, models.Finding{
				Text:   truncate(res.Content(), maxFindingChars),
				Source: hit.URL,
			})
			found++
			s.activity(ctx, state, models.ActivityScrape, models.ActivityStatusComplete, fmt.Sprintf("extracted content from %s", hit.URL))
		} else {
			s.activity(ctx, state, models.ActivityScrape, models.ActivityStatusError, fmt.Sprintf("no content from %s", hit.URL))
		}
		s.persist(ctx, state)
	}
	return found, nil
}

// finalize synthesizes the report, settles billing for the URLs consumed and
// marks the run terminal. An exhausted balance is the only run-fatal outcome
// here; the error record goes back to the queue so the dead letter carries it.
func (s *Service) finalize(ctx context.Context, state *models.ResearchState, req *models.ResearchRequest) error {
	s.activity(ctx, state, models.ActivitySynthesis, models.ActivityStatusProcessing, "synthesizing final analysis")
	state.FinalAnalysis = s.synthesize(ctx, state, req.SystemPrompt)
	if err := ctx.Err(); err != nil {
		// Shutdown mid-synthesis; the resumed run synthesizes again.
		return err
	}

	if rec := s.settle(ctx, state); rec != nil {
		state.Status = models.JobStatusFailed
		state.Error = rec
		s.activity(ctx, state, models.ActivityError, models.ActivityStatusError, rec.Message)
		s.persist(ctx, state)
		return rec
	}

	state.Status = models.JobStatusCompleted
	s.activity(ctx, state, models.ActivitySynthesis, models.ActivityStatusComplete,
		fmt.Sprintf("research complete: %d findings from %d pages", len(state.Findings), state.URLsUsed))
	s.persist(ctx, state)

	s.logger.Info().
		Str("research_id", state.ID).
		Int("depth", state.CurrentDepth).
		Int("urls_used", state.URLsUsed).
		Int("findings", len(state.Findings)).
		Msg("research completed")
	return nil
}

// settle bills one unit per URL consumed, once, at the end of the run.
// Transient billing failures are logged and waived rather than failing a
// finished run; only an exhausted balance is surfaced.
func (s *Service) settle(ctx context.Context, state *models.ResearchState) *models.ErrorRecord {
	if state.URLsUsed == 0 || s.billing == nil {
		return nil
	}
	err := s.billing.BillTeam(ctx, state.TeamID, state.SubscriptionID, state.URLsUsed, map[string]string{
		"research_id": state.ID,
		"query":       state.Query,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, interfaces.ErrInsufficientCredits) {
		return &models.ErrorRecord{
			Code:    models.ErrCodeInsufficientCredits,
			Message: fmt.Sprintf("insufficient credits to settle %d research pages", state.URLsUsed),
		}
	}
	s.logger.Warn().Err(err).Str("research_id", state.ID).Msg("billing settlement failed")
	return nil
}

func (s *Service) scrapeOptions() models.ScrapeOptions {
	return models.ScrapeOptions{
		Formats:         []string{models.FormatMarkdown},
		OnlyMainContent: true,
	}
}

func (s *Service) applyDefaults(req *models.ResearchRequest) {
	cfg := s.config.Research
	if req.MaxDepth <= 0 {
		req.MaxDepth = cfg.MaxDepth
	}
	if req.TimeLimit <= 0 {
		req.TimeLimit = cfg.TimeLimit
	}
	if req.MaxURLs <= 0 {
		req.MaxURLs = cfg.MaxURLs
	}
	if req.MaxFailedAttempts <= 0 {
		req.MaxFailedAttempts = cfg.MaxFailedAttempts
	}
}

// activity appends one entry to the run's log and streams it to subscribers.
// The state write rides on the caller's next persist.
func (s *Service) activity(ctx context.Context, state *models.ResearchState, typ models.ActivityType, st models.ActivityStatus, message string) {
	entry := models.Activity{
		Type:      typ,
		Status:    st,
		Message:   message,
		Depth:     state.CurrentDepth,
		Timestamp: time.Now(),
	}
	state.Activities = append(state.Activities, entry)
	s.status.PublishActivity(ctx, state.ID, entry)
}

// persist saves the state and pushes a progress snapshot. Both writes are
// best effort; the loop carries the authoritative copy in memory.
func (s *Service) persist(ctx context.Context, state *models.ResearchState) {
	state.UpdatedAt = time.Now()
	if err := s.states.SaveResearch(ctx, state); err != nil {
		s.logger.Warn().Err(err).Str("research_id", state.ID).Msg("failed to persist research state")
	}
	if err := s.status.UpdateResearchProgress(ctx, state); err != nil {
		s.logger.Warn().Err(err).Str("research_id", state.ID).Msg("failed to publish research progress")
	}
}
