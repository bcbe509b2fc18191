package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/models"
)

func testConvert(t *testing.T, html string, opts models.ScrapeOptions) *models.ScrapeResult {
	t.Helper()
	converter := NewConverter(arbor.NewLogger())
	result := &models.ScrapeResult{URL: "https://example.com/page"}
	require.NoError(t, converter.Convert(html, "https://example.com/page", opts, result))
	return result
}

func TestConvertMarkdown(t *testing.T) {
	html := `<html><head><title>Release Notes</title></head>
<body><h1>Version 2.0</h1><p>Faster crawls and a new cache.</p></body></html>`

	result := testConvert(t, html, models.ScrapeOptions{})

	assert.Contains(t, result.Markdown, "Version 2.0")
	assert.Contains(t, result.Markdown, "Faster crawls and a new cache.")
	assert.Equal(t, "Release Notes", result.Title)
	assert.Empty(t, result.HTML)
	assert.Empty(t, result.RawHTML)
	assert.Nil(t, result.Links)
}

func TestConvertTitleFallbackChain(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			"title tag",
			`<html><head><title>From Title</title><meta property="og:title" content="From OG"></head><body><h1>From H1</h1></body></html>`,
			"From Title",
		},
		{
			"og title",
			`<html><head><meta property="og:title" content="From OG"></head><body><h1>From H1</h1></body></html>`,
			"From OG",
		},
		{
			"first h1",
			`<html><head></head><body><h1>From H1</h1></body></html>`,
			"From H1",
		},
		{
			"twitter title",
			`<html><head><meta name="twitter:title" content="From Twitter"></head><body><p>text</p></body></html>`,
			"From Twitter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := testConvert(t, tt.html, models.ScrapeOptions{})
			assert.Equal(t, tt.want, result.Title)
		})
	}
}

func TestConvertMetadata(t *testing.T) {
	html := `<html lang="en"><head>
<title>Docs</title>
<meta name="description" content="  A crawl service.  ">
<meta name="keywords" content="crawl, scrape , index">
<meta name="author" content="Team">
<link rel="canonical" href="https://example.com/docs">
<meta property="og:title" content="Docs OG">
<meta property="og:type" content="website">
<meta name="twitter:card" content="summary">
<script type="application/ld+json">{"@type":"Article","headline":"Docs"}</script>
<script type="application/ld+json">[{"@type":"Person"},{"@type":"Org"}]</script>
</head><body><p>body</p></body></html>`

	result := testConvert(t, html, models.ScrapeOptions{})

	assert.Equal(t, "A crawl service.", result.Description)
	assert.Equal(t, "en", result.Language)
	assert.Equal(t, []string{"crawl", "scrape", "index"}, result.Metadata["keywords"])
	assert.Equal(t, "Team", result.Metadata["author"])
	assert.Equal(t, "https://example.com/docs", result.Metadata["canonical_url"])

	og, ok := result.Metadata["open_graph"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "Docs OG", og["og:title"])
	assert.Equal(t, "website", og["og:type"])

	card, ok := result.Metadata["twitter_card"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "summary", card["twitter:card"])

	jsonLD, ok := result.Metadata["json_ld"].([]interface{})
	require.True(t, ok)
	assert.Len(t, jsonLD, 3)
}

func TestConvertLinks(t *testing.T) {
	html := `<html><body>
<a href="/about">About</a>
<a href="https://other.example.org/page">External</a>
<a href="/about">Duplicate</a>
<a href="contact#team">Fragment</a>
<a href="javascript:void(0)">JS</a>
<a href="#section">Anchor</a>
<a href="mailto:team@example.com">Mail</a>
<a href="tel:+1555">Phone</a>
</body></html>`

	result := testConvert(t, html, models.ScrapeOptions{Formats: []string{models.FormatLinks}})

	assert.Equal(t, []string{
		"https://example.com/about",
		"https://other.example.org/page",
		"https://example.com/contact",
	}, result.Links)
}

func TestConvertOnlyMainContent(t *testing.T) {
	html := `<html><body>
<nav>Site navigation menu</nav>
<main><h2>The Article</h2><p>Main body text.</p></main>
<footer>Copyright footer</footer>
</body></html>`

	result := testConvert(t, html, models.ScrapeOptions{OnlyMainContent: true})

	assert.Contains(t, result.Markdown, "The Article")
	assert.Contains(t, result.Markdown, "Main body text.")
	assert.NotContains(t, result.Markdown, "navigation")
	assert.NotContains(t, result.Markdown, "Copyright")
}

func TestConvertBoilerplateStrippedWithoutMainRegion(t *testing.T) {
	html := `<html><body>
<nav>Site navigation menu</nav>
<div class="promo-banner">Buy now</div>
<p>Actual page text.</p>
</body></html>`

	result := testConvert(t, html, models.ScrapeOptions{OnlyMainContent: true})

	assert.Contains(t, result.Markdown, "Actual page text.")
	assert.NotContains(t, result.Markdown, "navigation")
	assert.NotContains(t, result.Markdown, "Buy now")
}

func TestConvertFormatSelection(t *testing.T) {
	html := `<html><head><title>T</title></head><body><p>Text</p></body></html>`

	result := testConvert(t, html, models.ScrapeOptions{
		Formats: []string{models.FormatHTML, models.FormatRawHTML},
	})

	assert.Empty(t, result.Markdown)
	assert.Contains(t, result.HTML, "<p>Text</p>")
	assert.Equal(t, html, result.RawHTML)
	// Title and metadata come along regardless of format selection
	assert.Equal(t, "T", result.Title)
	assert.NotNil(t, result.Metadata)
}
