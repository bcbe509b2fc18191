package scraper

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
)

// DocumentContent is the text extracted from a binary document.
type DocumentContent struct {
	Text  string
	Pages int
}

// PDFEngine extracts text from PDF bytes with pdfcpu. Selected by content
// sniff, never by the generic fallback order.
type PDFEngine struct {
	logger  arbor.ILogger
	tempDir string
}

// NewPDFEngine creates the PDF document engine
func NewPDFEngine(logger arbor.ILogger) *PDFEngine {
	tempDir := filepath.Join(os.TempDir(), "messor-pdf")
	os.MkdirAll(tempDir, 0o755)
	return &PDFEngine{
		logger:  logger,
		tempDir: tempDir,
	}
}

// challengeMarkers identify anti-bot interstitials served in place of a PDF.
var challengeMarkers = []string{
	"just a moment",
	"attention required",
	"cf-browser-verification",
	"challenge-platform",
	"enable javascript and cookies",
}

// Convert extracts page-delimited text from PDF bytes. A response that
// declared PDF but carries an anti-bot challenge page is reported as such so
// the classifier can name it; a valid PDF with no extractable text (scans)
// yields empty text, not an error.
func (e *PDFEngine) Convert(body []byte) (*DocumentContent, error) {
	if !bytes.HasPrefix(body, pdfMagic) {
		lowered := strings.ToLower(string(body))
		for _, marker := range challengeMarkers {
			if strings.Contains(lowered, marker) {
				return nil, fmt.Errorf("pdf anti-bot challenge page served instead of document")
			}
		}
		return nil, fmt.Errorf("unsupported file: response declared pdf but carries no pdf header")
	}

	// pdfcpu's extraction API is file based
	stamp := fmt.Sprintf("%d_%d", os.Getpid(), time.Now().UnixNano())
	tempFile := filepath.Join(e.tempDir, "scrape_"+stamp+".pdf")
	if err := os.WriteFile(tempFile, body, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write temp pdf: %w", err)
	}
	defer os.Remove(tempFile)

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return nil, fmt.Errorf("unsupported file: unreadable pdf: %w", err)
	}
	if pdfCtx.Encrypt != nil {
		return nil, fmt.Errorf("unsupported file: encrypted pdf")
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(e.tempDir, "pages_"+stamp)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extraction dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(tempFile, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		// Image-only PDFs have no content streams worth extracting
		e.logger.Warn().Err(err).Int("pages", pageCount).Msg("PDF content extraction failed, returning empty text")
		return &DocumentContent{Pages: pageCount}, nil
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		pageTexts[pageNum] = textFromContentStream(raw)
	}

	var builder strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text := strings.TrimSpace(pageTexts[pageNum])
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			fmt.Fprintf(&builder, "\n\n--- Page %d ---\n\n", pageNum)
		}
		builder.WriteString(text)
	}

	return &DocumentContent{
		Text:  builder.String(),
		Pages: pageCount,
	}, nil
}

var (
	tjRe      = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	tjArrayRe = regexp.MustCompile(`\[((?:[^\[\]\\]|\\.)*)\]\s*TJ`)
	litRe     = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
)

// textFromContentStream pulls the text-showing operators out of a decoded
// PDF content stream. Covers Tj and TJ with literal strings, which is what
// every text-first PDF producer emits; anything fancier comes back empty.
func textFromContentStream(stream []byte) string {
	var parts []string

	for _, match := range tjRe.FindAllSubmatch(stream, -1) {
		parts = append(parts, unescapePDFString(string(match[1])))
	}
	for _, match := range tjArrayRe.FindAllSubmatch(stream, -1) {
		for _, lit := range litRe.FindAllSubmatch(match[1], -1) {
			parts = append(parts, unescapePDFString(string(lit[1])))
		}
	}

	return strings.Join(parts, " ")
}

func unescapePDFString(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			out.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case '(', ')', '\\':
			out.WriteByte(s[i])
		default:
			out.WriteByte(s[i])
		}
	}
	return out.String()
}
