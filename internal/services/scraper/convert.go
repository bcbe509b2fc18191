package scraper

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/messor/internal/models"
)

// Converter turns fetched HTML into the output formats a scrape asked for.
// One converter is shared across fetches; the markdown converter inside is
// rebuilt per call because it binds to the page URL for relative links.
type Converter struct {
	logger arbor.ILogger
}

func NewConverter(logger arbor.ILogger) *Converter {
	return &Converter{logger: logger}
}

// Convert parses raw HTML once and fills the content fields of result
// according to opts. Metadata, title, description and language are always
// extracted; markdown, cleaned HTML, raw HTML and links only when requested.
func (c *Converter) Convert(rawHTML, pageURL string, opts models.ScrapeOptions, result *models.ScrapeResult) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return fmt.Errorf("failed to parse html: %w", err)
	}

	metadata := c.extractMetadata(doc)
	result.Metadata = metadata
	if title, ok := metadata["title"].(string); ok {
		result.Title = title
	}
	if desc, ok := metadata["description"].(string); ok {
		result.Description = desc
	}
	if lang, ok := metadata["language"].(string); ok {
		result.Language = lang
	}

	if opts.WantsFormat(models.FormatLinks) {
		result.Links = c.extractLinks(doc, pageURL)
	}
	if opts.WantsFormat(models.FormatRawHTML) {
		result.RawHTML = rawHTML
	}

	if !opts.WantsFormat(models.FormatMarkdown) && !opts.WantsFormat(models.FormatHTML) {
		return nil
	}

	content := c.contentSelection(doc, opts.OnlyMainContent)
	cleanedHTML, err := goquery.OuterHtml(content)
	if err != nil {
		return fmt.Errorf("failed to render cleaned html: %w", err)
	}

	if opts.WantsFormat(models.FormatHTML) {
		result.HTML = cleanedHTML
	}

	if opts.WantsFormat(models.FormatMarkdown) {
		converter := md.NewConverter(pageURL, true, nil)
		converter.Use(plugin.GitHubFlavored())

		markdown, err := converter.ConvertString(cleanedHTML)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", pageURL).Msg("HTML to markdown conversion failed, using plain text")
			markdown = content.Text()
		}
		result.Markdown = strings.TrimSpace(markdown)
	}

	return nil
}

// contentSelection picks the content root and strips boilerplate. With
// onlyMain set it prefers the page's declared main region and falls back to
// the cleaned body.
func (c *Converter) contentSelection(doc *goquery.Document, onlyMain bool) *goquery.Selection {
	if onlyMain {
		mainContent := doc.Find("main, article, [role=main]").First()
		if mainContent.Length() > 0 {
			mainContent.Find("script, style, noscript").Remove()
			return mainContent
		}
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		return doc.Selection
	}
	body.Find("script, style, noscript").Remove()
	if onlyMain {
		body.Find("nav, header, footer, aside").Remove()
		body.Find("[class*=ad], [id*=ad], [class*=promo], [class*=sidebar]").Remove()
	}
	return body
}

// extractLinks discovers absolute page links, resolving relatives against
// the page URL and deduplicating.
func (c *Converter) extractLinks(doc *goquery.Document, pageURL string) []string {
	parsedBase, err := url.Parse(pageURL)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", pageURL).Msg("Failed to parse base URL for link extraction")
		return []string{}
	}

	linkMap := make(map[string]bool)
	links := []string{}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}

		if strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}

		parsedHref, err := url.Parse(href)
		if err != nil {
			return
		}
		absolute := parsedBase.ResolveReference(parsedHref)
		absolute.Fragment = ""

		resolved := absolute.String()
		if !linkMap[resolved] {
			linkMap[resolved] = true
			links = append(links, resolved)
		}
	})

	return links
}

// extractMetadata pulls page metadata including Open Graph, Twitter Card and
// JSON-LD structured data. The title fallback chain runs title tag, og:title,
// first h1, twitter:title.
func (c *Converter) extractMetadata(doc *goquery.Document) map[string]interface{} {
	metadata := make(map[string]interface{})

	openGraph := make(map[string]string)
	doc.Find("meta[property^='og:']").Each(func(_ int, s *goquery.Selection) {
		property := s.AttrOr("property", "")
		content := s.AttrOr("content", "")
		if property != "" && content != "" {
			openGraph[property] = content
		}
	})
	if len(openGraph) > 0 {
		metadata["open_graph"] = openGraph
	}

	twitterCard := make(map[string]string)
	doc.Find("meta[name^='twitter:']").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		content := s.AttrOr("content", "")
		if name != "" && content != "" {
			twitterCard[name] = content
		}
	})
	if len(twitterCard) > 0 {
		metadata["twitter_card"] = twitterCard
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(openGraph["og:title"])
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(twitterCard["twitter:title"])
	}
	if title != "" {
		metadata["title"] = title
	}

	doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		content := s.AttrOr("content", "")
		if name == "" || content == "" {
			return
		}
		switch strings.ToLower(name) {
		case "description":
			metadata["description"] = strings.TrimSpace(content)
		case "keywords":
			keywords := strings.Split(content, ",")
			for i, keyword := range keywords {
				keywords[i] = strings.TrimSpace(keyword)
			}
			metadata["keywords"] = keywords
		case "author":
			metadata["author"] = strings.TrimSpace(content)
		}
	})

	lang := doc.Find("html").AttrOr("lang", "")
	if lang == "" {
		lang = doc.Find("meta[http-equiv='content-language']").AttrOr("content", "")
	}
	if lang != "" {
		metadata["language"] = lang
	}

	canonical := doc.Find("link[rel='canonical']").AttrOr("href", "")
	if canonical != "" {
		metadata["canonical_url"] = canonical
	}

	// JSON-LD comes in both object and array forms
	jsonLD := []interface{}{}
	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		var data interface{}
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse JSON-LD script")
			return
		}
		switch v := data.(type) {
		case []interface{}:
			jsonLD = append(jsonLD, v...)
		case map[string]interface{}:
			jsonLD = append(jsonLD, v)
		}
	})
	if len(jsonLD) > 0 {
		metadata["json_ld"] = jsonLD
	}

	return metadata
}
