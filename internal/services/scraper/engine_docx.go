package scraper

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ternarybob/arbor"
)

// DOCXEngine extracts text from Word documents. Like the PDF engine it is
// routed by content sniff.
type DOCXEngine struct {
	logger arbor.ILogger
}

func NewDOCXEngine(logger arbor.ILogger) *DOCXEngine {
	return &DOCXEngine{logger: logger}
}

// Convert reads word/document.xml out of the zip container and walks its
// run text. Paragraph and line breaks become newlines so the output reads
// like the document, not one long line.
func (e *DOCXEngine) Convert(body []byte) (*DocumentContent, error) {
	reader, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("unsupported file: not a valid docx archive: %w", err)
	}

	var document *zip.File
	for _, file := range reader.File {
		if file.Name == "word/document.xml" {
			document = file
			break
		}
	}
	if document == nil {
		return nil, fmt.Errorf("unsupported file: docx archive has no document body")
	}

	rc, err := document.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open docx body: %w", err)
	}
	defer rc.Close()

	text, err := textFromDocumentXML(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse docx body: %w", err)
	}

	return &DocumentContent{Text: text}, nil
}

// textFromDocumentXML streams the WordprocessingML tokens, keeping <w:t>
// character data and mapping structural elements to whitespace.
func textFromDocumentXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var builder strings.Builder
	inText := false

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch element := token.(type) {
		case xml.StartElement:
			switch element.Name.Local {
			case "t":
				inText = true
			case "br":
				builder.WriteByte('\n')
			case "tab":
				builder.WriteByte('\t')
			}
		case xml.EndElement:
			switch element.Name.Local {
			case "t":
				inText = false
			case "p":
				builder.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				builder.Write(element)
			}
		}
	}

	return strings.TrimSpace(builder.String()), nil
}
