package research

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/ternarybob/messor/internal/models"
)

// Report export formats.
const (
	ReportFormatMarkdown = "markdown"
	ReportFormatHTML     = "html"
	ReportFormatPDF      = "pdf"
)

// ErrReportNotReady marks a report request against a run that has not
// produced its final analysis yet.
var ErrReportNotReady = errors.New("report not ready")

// Report renders the final analysis of a run as a standalone document.
// Markdown is the stored form; html and pdf are rendered from it on demand.
func (s *Service) Report(ctx context.Context, id, format string) ([]byte, string, error) {
	state, err := s.Status(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if state.FinalAnalysis == "" {
		return nil, "", fmt.Errorf("research %s has no report yet: %w", id, ErrReportNotReady)
	}

	doc := reportMarkdown(state)
	switch format {
	case "", ReportFormatMarkdown:
		return []byte(doc), "text/markdown; charset=utf-8", nil
	case ReportFormatHTML:
		page, err := renderHTML(doc)
		if err != nil {
			return nil, "", err
		}
		return page, "text/html; charset=utf-8", nil
	case ReportFormatPDF:
		page, err := renderPDF(doc)
		if err != nil {
			return nil, "", err
		}
		return page, "application/pdf", nil
	default:
		return nil, "", &models.ErrorRecord{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("unsupported report format %q", format),
		}
	}
}

// reportMarkdown assembles the export document: a header with the run facts,
// the final analysis, then every source the run consulted.
func reportMarkdown(state *models.ResearchState) string {
	var b strings.Builder
	b.WriteString("# Research Report\n\n")
	fmt.Fprintf(&b, "**Query:** %s\n\n", state.Query)
	fmt.Fprintf(&b, "**Finished:** %s after %d rounds, %d pages read\n\n",
		state.UpdatedAt.Format("2 January 2006 15:04 MST"), state.CurrentDepth, state.URLsUsed)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(state.FinalAnalysis))
	b.WriteString("\n")

	if len(state.Sources) > 0 {
		b.WriteString("\n## Sources\n\n")
		for _, src := range state.Sources {
			if src.Title != "" {
				fmt.Fprintf(&b, "- [%s](%s)\n", src.Title, src.URL)
			} else {
				fmt.Fprintf(&b, "- %s\n", src.URL)
			}
		}
	}
	return b.String()
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
}

// renderHTML converts the report markdown into a minimal standalone page.
func renderHTML(markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := newMarkdown().Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("failed to render report html: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Research Report</title>\n</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

// PDF page geometry, in millimeters on A4.
const (
	pdfMargin    = 12.0
	pdfLineHt    = 5.0
	pdfPageWidth = 210.0
	pdfBreakAt   = 297.0 - 14.0
)

// renderPDF converts the report markdown into a PDF by walking the parsed
// AST and emitting typeset blocks.
func renderPDF(markdown string) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	doc.SetAutoPageBreak(true, pdfMargin)
	doc.AddPage()
	doc.SetFont("Helvetica", "", 10)

	source := []byte(markdown)
	root := newMarkdown().Parser().Parse(text.NewReader(source))

	w := &pdfWriter{doc: doc, src: source}
	if err := ast.Walk(root, w.walk); err != nil {
		return nil, fmt.Errorf("failed to render report pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render report pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// pdfWriter typesets markdown AST nodes into an fpdf document. Inline style
// is tracked as flags so nested emphasis composes.
type pdfWriter struct {
	doc *fpdf.Fpdf
	src []byte

	bold      bool
	italic    bool
	quoted    bool
	listDepth int
}

func (w *pdfWriter) bodyFont() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic || w.quoted {
		style += "I"
	}
	w.doc.SetFont("Helvetica", style, 10)
}

func (w *pdfWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		w.heading(node, entering)
	case *ast.Paragraph:
		if !entering {
			w.doc.Ln(7)
		}
	case *ast.Text:
		if entering {
			w.doc.Write(pdfLineHt, string(node.Text(w.src)))
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.bodyFont()
	case *ast.Link:
		if !entering {
			dest := string(node.Destination)
			if dest != "" && dest != linkText(node, w.src) {
				w.doc.SetFont("Helvetica", "", 8)
				w.doc.Write(pdfLineHt, " "+dest)
				w.bodyFont()
			}
		}
	case *ast.AutoLink:
		if entering {
			w.doc.Write(pdfLineHt, string(node.URL(w.src)))
		}
	case *ast.CodeSpan:
		return w.codeSpan(node, entering), nil
	case *ast.FencedCodeBlock:
		if entering {
			w.codeBlock(node.Lines())
			return ast.WalkSkipChildren, nil
		}
	case *ast.CodeBlock:
		if entering {
			w.codeBlock(node.Lines())
			return ast.WalkSkipChildren, nil
		}
	case *ast.Blockquote:
		w.quoted = entering
		w.bodyFont()
		if !entering {
			w.doc.Ln(2)
		}
	case *ast.List:
		if entering {
			w.listDepth++
		} else {
			w.listDepth--
			if w.listDepth == 0 {
				w.doc.Ln(6)
			}
		}
	case *ast.ListItem:
		if entering {
			w.doc.Ln(pdfLineHt)
			w.doc.SetX(pdfMargin + float64(w.listDepth)*5)
			w.doc.Write(pdfLineHt, "- ")
		}
	case *ast.ThematicBreak:
		if entering {
			w.doc.Ln(3)
			y := w.doc.GetY()
			w.doc.Line(pdfMargin, y, pdfPageWidth-pdfMargin, y)
			w.doc.Ln(3)
		}
	case *extast.Table:
		if entering {
			w.table(tableRows(node, w.src))
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (w *pdfWriter) heading(n *ast.Heading, entering bool) {
	if entering {
		w.doc.Ln(6)
		size := 10.5
		switch n.Level {
		case 1:
			size = 16
		case 2:
			size = 13
		case 3:
			size = 11.5
		}
		w.doc.SetFont("Helvetica", "B", size)
		return
	}
	w.doc.Ln(7)
	w.bodyFont()
}

func (w *pdfWriter) codeSpan(n *ast.CodeSpan, entering bool) ast.WalkStatus {
	if !entering {
		return ast.WalkContinue
	}
	w.doc.SetFont("Courier", "", 9.5)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			w.doc.Write(pdfLineHt, string(t.Segment.Value(w.src)))
		}
	}
	w.bodyFont()
	return ast.WalkSkipChildren
}

func (w *pdfWriter) codeBlock(lines *text.Segments) {
	w.doc.Ln(2)
	w.doc.SetFont("Courier", "", 8.5)
	w.doc.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		w.doc.MultiCell(0, 4.5, string(lines.At(i).Value(w.src)), "", "L", true)
	}
	w.doc.SetFillColor(255, 255, 255)
	w.bodyFont()
	w.doc.Ln(2)
}

// table typesets rows as a bordered grid. Columns get width proportional to
// their widest cell, squeezed evenly when the natural widths overflow the
// page; long cells wrap inside their column.
func (w *pdfWriter) table(rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}
	cols := len(rows[0])
	usable := pdfPageWidth - 2*pdfMargin

	w.doc.SetFont("Helvetica", "", 8.5)
	widths := make([]float64, cols)
	for _, row := range rows {
		for j, cell := range row {
			if j >= cols {
				break
			}
			if cw := w.doc.GetStringWidth(cell) + 4; cw > widths[j] {
				widths[j] = cw
			}
		}
	}
	total := 0.0
	for _, cw := range widths {
		total += cw
	}
	if total > usable {
		for j := range widths {
			widths[j] *= usable / total
		}
	} else {
		extra := (usable - total) / float64(cols)
		for j := range widths {
			widths[j] += extra
		}
	}

	w.doc.Ln(2)
	for i, row := range rows {
		if i == 0 {
			w.doc.SetFont("Helvetica", "B", 8.5)
		} else {
			w.doc.SetFont("Helvetica", "", 8.5)
		}

		rowLines := 1
		for j, cell := range row {
			if j >= cols {
				break
			}
			if n := len(w.doc.SplitText(cell, widths[j]-2)); n > rowLines {
				rowLines = n
			}
		}
		rowHt := float64(rowLines)*4 + 2

		startY := w.doc.GetY()
		if startY+rowHt > pdfBreakAt {
			w.doc.AddPage()
			startY = w.doc.GetY()
		}
		x := pdfMargin
		for j, cell := range row {
			if j >= cols {
				break
			}
			if i == 0 {
				w.doc.SetFillColor(232, 232, 232)
				w.doc.Rect(x, startY, widths[j], rowHt, "FD")
			} else {
				w.doc.Rect(x, startY, widths[j], rowHt, "D")
			}
			w.doc.SetXY(x+1, startY+1)
			w.doc.MultiCell(widths[j]-2, 4, cell, "", "L", false)
			x += widths[j]
		}
		w.doc.SetXY(pdfMargin, startY+rowHt)
	}
	w.doc.Ln(3)
	w.bodyFont()
}

// tableRows flattens a goldmark table into cell text, header row first. The
// header and body rows both carry TableCell children, so one pass covers both.
func tableRows(table *extast.Table, src []byte) [][]string {
	var rows [][]string
	for child := table.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.(type) {
		case *extast.TableHeader, *extast.TableRow:
			rows = append(rows, rowCells(child, src))
		}
	}
	return rows
}

func rowCells(row ast.Node, src []byte) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			cells = append(cells, string(cell.Text(src)))
		}
	}
	return cells
}

// linkText is the plain text inside a link node, for comparing against its
// destination.
func linkText(n *ast.Link, src []byte) string {
	return string(n.Text(src))
}
