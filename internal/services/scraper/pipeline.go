// Package scraper turns URLs into converted content through an ordered chain
// of fetch engines. The static HTTP engine runs first; the headless browser
// runs when the static result looks script-rendered or the static fetch fails
// with something worth retrying elsewhere. PDF and DOCX responses are routed
// to document engines by content sniff, never by the fallback order.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// Service is the scrape pipeline. Engines are tried strictly in order and
// never concurrently; a terminal classification stops the chain early.
type Service struct {
	config    *common.ScraperConfig
	http      interfaces.Engine
	browser   interfaces.Engine
	pdf       *PDFEngine
	docx      *DOCXEngine
	converter *Converter
	altText   *AltTextEnricher
	cache     interfaces.CacheService
	logger    arbor.ILogger
}

// NewService builds the pipeline. The cache is required; llm may be nil, in
// which case alt-text enrichment is silently unavailable.
func NewService(config *common.ScraperConfig, cache interfaces.CacheService, llm interfaces.LLMService, logger arbor.ILogger) *Service {
	s := &Service{
		config:    config,
		http:      NewHTTPEngine(config, logger),
		pdf:       NewPDFEngine(logger),
		docx:      NewDOCXEngine(logger),
		converter: NewConverter(logger),
		cache:     cache,
		logger:    logger,
	}
	if config.BrowserEnabled {
		s.browser = NewBrowserEngine(config, logger)
	}
	if config.AltTextEnabled && llm != nil {
		s.altText = NewAltTextEnricher(llm, logger)
	}
	return s
}

// Close shuts down the browser engine if one was started.
func (s *Service) Close() error {
	if closer, ok := s.browser.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Scrape fetches and converts one URL. The returned error is non-nil only
// for context cancellation; every other failure is classified and attached
// to the result.
func (s *Service) Scrape(ctx context.Context, rawURL string, opts models.ScrapeOptions) (*models.ScrapeResult, error) {
	start := time.Now()
	result := &models.ScrapeResult{
		URL:       rawURL,
		Timestamp: start.UTC(),
	}

	if err := validateScrapeURL(rawURL); err != nil {
		return s.fail(result, start, models.RecordFromError(err)), nil
	}

	fetch, engineUsed, rec := s.fetchChain(ctx, rawURL, opts)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if rec != nil {
		return s.fail(result, start, rec), nil
	}

	result.EngineUsed = engineUsed
	result.StatusCode = fetch.StatusCode
	result.ContentType = fetch.ContentType

	pageURL := fetch.FinalURL
	if pageURL == "" {
		pageURL = rawURL
	}

	kind := DetectKind(fetch.ContentType, pageURL, fetch.Body)
	switch kind {
	case KindPDF, KindDOCX:
		return s.convertDocument(ctx, kind, fetch, opts, result, start), nil
	case KindUnsupported:
		reason := fmt.Sprintf("unsupported content type %q", fetch.ContentType)
		return s.fail(result, start, models.NewErrorRecord(reason)), nil
	default:
		return s.convertHTML(ctx, fetch, pageURL, opts, result, start), nil
	}
}

// fetchChain walks the engine order until one produces usable bytes. A 200
// from the static engine whose body looks script-rendered is held as a
// fallback while the browser takes its turn, so a browser failure degrades
// to the static content instead of failing the page.
func (s *Service) fetchChain(ctx context.Context, rawURL string, opts models.ScrapeOptions) (*models.FetchResult, string, *models.ErrorRecord) {
	engines := []interfaces.Engine{s.http}
	if s.browser != nil && !opts.FastMode {
		engines = append(engines, s.browser)
	}

	var fallback *models.FetchResult
	var fallbackName string
	var failures []string

	for i, engine := range engines {
		if ctx.Err() != nil {
			return nil, "", models.RecordFromError(ctx.Err())
		}

		fetch, err := engine.Fetch(ctx, rawURL, opts)
		if err != nil {
			rec := models.RecordFromError(err)
			failures = append(failures, fmt.Sprintf("%s: %s", engine.Name(), rec.Message))
			s.logger.Debug().
				Str("engine", engine.Name()).
				Str("url", rawURL).
				Str("code", string(rec.Code)).
				Msg("Engine fetch failed")
			if rec.Code.IsTerminalForURL() {
				if fallback != nil {
					return fallback, fallbackName, nil
				}
				return nil, "", rec
			}
			continue
		}

		if fetch.StatusCode >= 400 {
			code := models.ClassifyStatus(fetch.StatusCode)
			if code == models.ErrCodeUnknown {
				code = models.ErrCodeSite
			}
			rec := &models.ErrorRecord{
				Code:    code,
				Message: fmt.Sprintf("%s engine returned status %d", engine.Name(), fetch.StatusCode),
			}
			failures = append(failures, rec.Message)
			if code.IsTerminalForURL() {
				if fallback != nil {
					return fallback, fallbackName, nil
				}
				return nil, "", rec
			}
			continue
		}

		isLast := i == len(engines)-1
		if !isLast && engine == s.http &&
			DetectKind(fetch.ContentType, rawURL, fetch.Body) == KindHTML &&
			NeedsBrowser(string(fetch.Body)) {
			s.logger.Debug().Str("url", rawURL).Msg("Static fetch looks script-rendered, escalating to browser")
			fallback = fetch
			fallbackName = engine.Name()
			continue
		}

		return fetch, engine.Name(), nil
	}

	if fallback != nil {
		return fallback, fallbackName, nil
	}

	return nil, "", &models.ErrorRecord{
		Code:    models.ErrCodeNoEnginesLeft,
		Message: "no engines left: every fetch engine failed",
		Details: strings.Join(failures, "; "),
	}
}

// convertDocument runs the sniffed document engine and caches its output
// under the digest of the raw document bytes.
func (s *Service) convertDocument(ctx context.Context, kind ContentKind, fetch *models.FetchResult, opts models.ScrapeOptions, result *models.ScrapeResult, start time.Time) *models.ScrapeResult {
	if hit := s.applyCached(ctx, fetch.Body, opts, result); hit {
		result.EngineUsed = kind.String()
		return s.finish(result, start)
	}

	var content *DocumentContent
	var err error
	switch kind {
	case KindPDF:
		content, err = s.pdf.Convert(fetch.Body)
	default:
		content, err = s.docx.Convert(fetch.Body)
	}
	result.EngineUsed = kind.String()
	if err != nil {
		return s.fail(result, start, models.RecordFromError(err))
	}

	if opts.WantsFormat(models.FormatMarkdown) {
		result.Markdown = content.Text
	}
	metadata := map[string]interface{}{"content_kind": kind.String()}
	if content.Pages > 0 {
		metadata["page_count"] = content.Pages
	}
	result.Metadata = metadata

	s.storeCached(ctx, fetch.Body, opts, result)
	return s.finish(result, start)
}

// convertHTML runs alt-text enrichment and HTML conversion, caching under
// the digest of the raw response bytes.
func (s *Service) convertHTML(ctx context.Context, fetch *models.FetchResult, pageURL string, opts models.ScrapeOptions, result *models.ScrapeResult, start time.Time) *models.ScrapeResult {
	if hit := s.applyCached(ctx, fetch.Body, opts, result); hit {
		return s.finish(result, start)
	}

	html := string(fetch.Body)
	if opts.GenerateAltText && s.altText != nil {
		html = s.altText.Enrich(ctx, html, pageURL)
	}

	if err := s.converter.Convert(html, pageURL, opts, result); err != nil {
		return s.fail(result, start, models.RecordFromError(err))
	}

	s.storeCached(ctx, fetch.Body, opts, result)
	return s.finish(result, start)
}

// applyCached projects a cached conversion onto the result when one exists
// and covers the requested formats. Zero-data-retention scrapes never touch
// the cache.
func (s *Service) applyCached(ctx context.Context, raw []byte, opts models.ScrapeOptions, result *models.ScrapeResult) bool {
	if opts.ZeroDataRetention {
		return false
	}

	payload, hit := s.cache.Lookup(ctx, raw, opts.CacheBypass)
	if !hit {
		return false
	}

	var bundle conversionBundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		s.logger.Warn().Err(err).Msg("Cached conversion payload unreadable, reconverting")
		return false
	}
	if !bundle.covers(opts) {
		return false
	}

	bundle.apply(result, opts)
	result.CacheHit = true
	return true
}

// storeCached writes the conversion back under the raw content digest.
// Failures are logged only; the scrape already has its answer.
func (s *Service) storeCached(ctx context.Context, raw []byte, opts models.ScrapeOptions, result *models.ScrapeResult) {
	if opts.ZeroDataRetention {
		return
	}

	payload, err := json.Marshal(bundleFrom(result))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to serialize conversion for cache")
		return
	}
	if err := s.cache.Store(ctx, raw, payload); err != nil {
		s.logger.Warn().Err(err).Str("url", result.URL).Msg("Cache write failed")
	}
}

func (s *Service) finish(result *models.ScrapeResult, start time.Time) *models.ScrapeResult {
	result.Duration = time.Since(start)
	s.logger.Info().
		Str("url", result.URL).
		Str("engine", result.EngineUsed).
		Int("status", result.StatusCode).
		Bool("cache_hit", result.CacheHit).
		Dur("duration", result.Duration).
		Msg("Scrape complete")
	return result
}

func (s *Service) fail(result *models.ScrapeResult, start time.Time, rec *models.ErrorRecord) *models.ScrapeResult {
	result.Error = rec
	result.Duration = time.Since(start)
	s.logger.Warn().
		Str("url", result.URL).
		Str("code", string(rec.Code)).
		Str("reason", rec.Message).
		Msg("Scrape failed")
	return result
}

func validateScrapeURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", rawURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", rawURL)
	}
	return nil
}

// conversionBundle is the cache payload: the content fields of a conversion,
// free of per-request identity like URL, engine, timing or status.
type conversionBundle struct {
	Markdown    string                 `json:"markdown,omitempty"`
	HTML        string                 `json:"html,omitempty"`
	RawHTML     string                 `json:"raw_html,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Description string                 `json:"description,omitempty"`
	Language    string                 `json:"language,omitempty"`
	Links       []string               `json:"links,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

func bundleFrom(result *models.ScrapeResult) *conversionBundle {
	return &conversionBundle{
		Markdown:    result.Markdown,
		HTML:        result.HTML,
		RawHTML:     result.RawHTML,
		Title:       result.Title,
		Description: result.Description,
		Language:    result.Language,
		Links:       result.Links,
		Metadata:    result.Metadata,
	}
}

// covers reports whether the cached conversion can answer the requested
// formats. A wanted-but-empty field means the entry was written under
// narrower options, so the caller reconverts and overwrites.
func (b *conversionBundle) covers(opts models.ScrapeOptions) bool {
	if opts.WantsFormat(models.FormatMarkdown) && b.Markdown == "" {
		return false
	}
	if opts.WantsFormat(models.FormatHTML) && b.HTML == "" {
		return false
	}
	if opts.WantsFormat(models.FormatRawHTML) && b.RawHTML == "" {
		return false
	}
	if opts.WantsFormat(models.FormatLinks) && b.Links == nil {
		return false
	}
	return true
}

func (b *conversionBundle) apply(result *models.ScrapeResult, opts models.ScrapeOptions) {
	result.Title = b.Title
	result.Description = b.Description
	result.Language = b.Language
	result.Metadata = b.Metadata
	if opts.WantsFormat(models.FormatMarkdown) {
		result.Markdown = b.Markdown
	}
	if opts.WantsFormat(models.FormatHTML) {
		result.HTML = b.HTML
	}
	if opts.WantsFormat(models.FormatRawHTML) {
		result.RawHTML = b.RawHTML
	}
	if opts.WantsFormat(models.FormatLinks) {
		result.Links = b.Links
	}
}

var _ interfaces.ScraperService = (*Service)(nil)
