package scraper

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ContentKind routes fetched bytes to the right conversion path.
type ContentKind int

const (
	KindHTML ContentKind = iota
	KindPDF
	KindDOCX
	KindUnsupported
)

func (k ContentKind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindDOCX:
		return "docx"
	case KindUnsupported:
		return "unsupported"
	default:
		return "html"
	}
}

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
)

// unsupportedTypes are content types we never convert. Body magic is checked
// first, so a PDF served with an image content type still routes to PDF.
var unsupportedTypes = []string{
	"image/", "video/", "audio/", "font/",
	"application/zip", "application/x-tar", "application/gzip",
	"application/x-msdownload", "application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml",
	"application/vnd.openxmlformats-officedocument.presentationml",
}

// DetectKind classifies fetched content by magic bytes first, then declared
// content type, then URL extension. Servers lie about content types often
// enough that the bytes win.
func DetectKind(contentType, url string, body []byte) ContentKind {
	if bytes.HasPrefix(body, pdfMagic) {
		return KindPDF
	}

	ct := strings.ToLower(contentType)
	lowerURL := strings.ToLower(url)

	if bytes.HasPrefix(body, zipMagic) {
		if strings.Contains(ct, "wordprocessingml") || strings.HasSuffix(lowerURL, ".docx") {
			return KindDOCX
		}
		return KindUnsupported
	}

	switch {
	case strings.Contains(ct, "application/pdf"):
		return KindPDF
	case strings.Contains(ct, "wordprocessingml"):
		return KindDOCX
	}

	for _, prefix := range unsupportedTypes {
		if strings.Contains(ct, prefix) {
			return KindUnsupported
		}
	}

	return KindHTML
}

// bodyLengthThreshold is the visible-text length below which a page counts
// as thin and the browser heuristics apply.
const bodyLengthThreshold = 2048

// scriptDensityThreshold is the script-to-total byte ratio above which a thin
// page is assumed to render its content client side.
const scriptDensityThreshold = 0.25

// spaMarkers are framework fingerprints that only appear in client-rendered
// shells. Matched against lowercased HTML.
var spaMarkers = []string{
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-version",
	"__next_data__",
	"window.__nuxt__",
}

// NeedsBrowser reports whether static HTML looks like a JS-rendered shell
// that a plain HTTP fetch cannot resolve. Pages with enough visible text
// never need the browser regardless of framework markers.
func NeedsBrowser(html string) bool {
	if html == "" {
		return true
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})

	// Script source is a text node, so strip it before measuring what a
	// reader would actually see
	doc.Find("script, style, noscript").Remove()
	visible := strings.TrimSpace(doc.Find("body").Text())
	if len(visible) >= bodyLengthThreshold {
		return false
	}

	lowered := strings.ToLower(html)
	for _, marker := range spaMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}

	return float64(scriptBytes)/float64(len(html)) >= scriptDensityThreshold
}
