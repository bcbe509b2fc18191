package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// BrowserEngine renders pages in headless Chrome for client-side apps the
// HTTP engine cannot resolve. Chrome starts lazily on the first fetch so
// deployments that never need rendering never pay for it.
type BrowserEngine struct {
	config *common.ScraperConfig
	logger arbor.ILogger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	initialized   bool
}

// NewBrowserEngine creates the browser engine without starting Chrome
func NewBrowserEngine(config *common.ScraperConfig, logger arbor.ILogger) *BrowserEngine {
	return &BrowserEngine{
		config: config,
		logger: logger,
	}
}

// Name identifies the engine in results and logs
func (e *BrowserEngine) Name() string {
	return "browser"
}

// ensureBrowser starts the shared Chrome instance once
func (e *BrowserEngine) ensureBrowser() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(e.config.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Startup test so a missing Chrome binary fails here, not mid-scrape
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	e.allocCancel = allocCancel
	e.browserCtx = browserCtx
	e.browserCancel = browserCancel
	e.initialized = true

	e.logger.Info().
		Str("user_agent", e.config.UserAgent).
		Msg("Headless browser started")
	return nil
}

// Fetch renders the URL in a fresh tab and returns the settled DOM
func (e *BrowserEngine) Fetch(ctx context.Context, url string, opts models.ScrapeOptions) (*models.FetchResult, error) {
	if err := e.ensureBrowser(); err != nil {
		return nil, err
	}

	start := time.Now()

	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	defer tabCancel()

	timeout := e.config.RequestTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	runCtx, runCancel := context.WithTimeout(tabCtx, timeout)
	defer runCancel()

	// The tab context does not inherit the caller's context, so bridge
	// cancellation across
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			tabCancel()
		case <-done:
		}
	}()

	// Track the main document response for status and content type; on a
	// redirect chain the last document response wins
	var respMu sync.Mutex
	status := 0
	mimeType := ""
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		respMu.Lock()
		status = int(resp.Response.Status)
		mimeType = resp.Response.MimeType
		respMu.Unlock()
	})

	waitFor := e.config.BrowserWaitTime
	if opts.WaitFor > 0 {
		waitFor = opts.WaitFor
	}

	var html, finalURL string
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.Sleep(waitFor),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("browser fetch failed: %w", err)
	}

	respMu.Lock()
	statusCode := status
	contentType := mimeType
	respMu.Unlock()
	if statusCode == 0 {
		statusCode = 200
	}
	if contentType == "" {
		contentType = "text/html"
	}

	e.logger.Debug().
		Str("url", url).
		Int("status", statusCode).
		Int("bytes", len(html)).
		Dur("duration", time.Since(start)).
		Msg("Browser fetch complete")

	return &models.FetchResult{
		Body:        []byte(html),
		StatusCode:  statusCode,
		ContentType: contentType,
		FinalURL:    finalURL,
	}, nil
}

// Close shuts down the shared Chrome instance
func (e *BrowserEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	e.browserCancel()
	e.allocCancel()
	e.initialized = false
	e.logger.Debug().Msg("Headless browser stopped")
	return nil
}

var _ interfaces.Engine = (*BrowserEngine)(nil)
