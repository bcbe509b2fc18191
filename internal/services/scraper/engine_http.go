package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// HTTPEngine fetches pages with a plain HTTP client. First in the chain:
// cheap, fast, and sufficient for server-rendered pages.
type HTTPEngine struct {
	config  *common.ScraperConfig
	limiter *hostLimiter
	logger  arbor.ILogger
}

// NewHTTPEngine creates the HTTP fetch engine
func NewHTTPEngine(config *common.ScraperConfig, logger arbor.ILogger) *HTTPEngine {
	return &HTTPEngine{
		config:  config,
		limiter: newHostLimiter(config.RateLimit),
		logger:  logger,
	}
}

// Name identifies the engine in results and logs
func (e *HTTPEngine) Name() string {
	return "http"
}

// contextAwareTransport wraps an http.RoundTripper so in-flight requests
// observe context cancellation.
type contextAwareTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	select {
	case <-t.ctx.Done():
		return nil, t.ctx.Err()
	default:
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// Fetch retrieves the URL's raw content. Non-2xx responses are returned with
// their status and body rather than as errors; the pipeline classifies them.
func (e *HTTPEngine) Fetch(ctx context.Context, url string, opts models.ScrapeOptions) (*models.FetchResult, error) {
	if err := e.limiter.wait(ctx, url); err != nil {
		return nil, err
	}

	start := time.Now()

	// A fresh collector per fetch avoids handler accumulation across calls.
	// Single-URL retrieval is an explicit request; robots.txt governs link
	// discovery, which happens in the crawl policy, not here.
	c := colly.NewCollector(
		colly.UserAgent(e.config.UserAgent),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	)
	c.MaxBodySize = e.config.MaxBodySize

	timeout := e.config.RequestTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	c.SetRequestTimeout(timeout)
	c.WithTransport(&contextAwareTransport{base: http.DefaultTransport, ctx: ctx})

	var result *models.FetchResult
	var fetchErr error

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		for key, value := range opts.Headers {
			r.Headers.Set(key, value)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		headers := make(map[string]string)
		if r.Headers != nil {
			for key, values := range *r.Headers {
				if len(values) > 0 {
					headers[key] = values[0]
				}
			}
		}

		body := make([]byte, len(r.Body))
		copy(body, r.Body)

		result = &models.FetchResult{
			Body:        body,
			StatusCode:  r.StatusCode,
			ContentType: headers["Content-Type"],
			Headers:     headers,
			FinalURL:    r.Request.URL.String(),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil && r.StatusCode > 0 && result == nil {
			result = &models.FetchResult{StatusCode: r.StatusCode}
		}
	})

	if err := c.Visit(url); err != nil {
		fetchErr = err
	}
	c.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if fetchErr != nil {
		return result, fmt.Errorf("http fetch failed: %w", fetchErr)
	}
	if result == nil {
		return nil, fmt.Errorf("http fetch returned no response for %s", url)
	}

	e.logger.Debug().
		Str("url", url).
		Int("status", result.StatusCode).
		Int("bytes", len(result.Body)).
		Dur("duration", time.Since(start)).
		Msg("HTTP fetch complete")

	return result, nil
}

var _ interfaces.Engine = (*HTTPEngine)(nil)
