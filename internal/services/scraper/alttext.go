package scraper

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/messor/internal/interfaces"
)

const (
	// maxAltTextImages caps model calls per page.
	maxAltTextImages = 10
	maxImageBytes    = 5 * 1024 * 1024
)

// AltTextEnricher fills in missing img alt attributes with model-written
// descriptions before markdown conversion. Best effort throughout: any
// failure leaves the attribute empty and never surfaces to the scrape.
type AltTextEnricher struct {
	llm    interfaces.LLMService
	client *http.Client
	logger arbor.ILogger
}

func NewAltTextEnricher(llm interfaces.LLMService, logger arbor.ILogger) *AltTextEnricher {
	return &AltTextEnricher{
		llm: llm,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// Enrich returns the HTML with missing alt attributes described. The input
// comes back unchanged when there is no provider, nothing to describe, or
// the page fails to parse.
func (a *AltTextEnricher) Enrich(ctx context.Context, rawHTML, pageURL string) string {
	if a.llm == nil {
		return rawHTML
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML
	}
	base, _ := url.Parse(pageURL)

	enriched := 0
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if enriched >= maxAltTextImages {
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		if alt := strings.TrimSpace(s.AttrOr("alt", "")); alt != "" {
			return true
		}

		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			return true
		}

		data, mimeType, err := a.loadImage(ctx, base, src)
		if err != nil {
			a.logger.Debug().Err(err).Str("src", src).Msg("Alt text image fetch failed, skipping")
			return true
		}

		description, err := a.llm.DescribeImage(ctx, data, mimeType)
		if err != nil {
			a.logger.Debug().Err(err).Str("src", src).Msg("Alt text generation failed, skipping")
			return true
		}
		description = strings.TrimSpace(description)
		if description == "" {
			return true
		}

		s.SetAttr("alt", description)
		enriched++
		return true
	})

	if enriched == 0 {
		return rawHTML
	}

	html, err := doc.Html()
	if err != nil {
		return rawHTML
	}
	a.logger.Debug().Int("images", enriched).Str("url", pageURL).Msg("Generated alt text")
	return html
}

// loadImage resolves and downloads an image reference. Inline data URIs are
// decoded without a network round trip.
func (a *AltTextEnricher) loadImage(ctx context.Context, base *url.URL, src string) ([]byte, string, error) {
	if strings.HasPrefix(src, "data:") {
		return decodeDataURI(src)
	}

	parsed, err := url.Parse(src)
	if err != nil {
		return nil, "", fmt.Errorf("invalid image url: %w", err)
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported image scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image over %d byte limit", maxImageBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	mimeType = strings.TrimSpace(mimeType)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("content type %q is not an image", mimeType)
	}

	return data, mimeType, nil
}

func decodeDataURI(src string) ([]byte, string, error) {
	rest, found := strings.CutPrefix(src, "data:")
	if !found {
		return nil, "", fmt.Errorf("not a data uri")
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return nil, "", fmt.Errorf("malformed data uri")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("data uri is not base64 encoded")
	}
	mimeType := strings.TrimSuffix(meta, ";base64")
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("data uri %q is not an image", mimeType)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode data uri: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image over %d byte limit", maxImageBytes)
	}
	return data, mimeType, nil
}
