package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xhad/sift/internal/models"
)

// ExtractionError reports a source document that could not be parsed.
type ExtractionError struct {
	FileType string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.FileType, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// hyphenBreak matches a word split across a line break ("valo-\nração").
var hyphenBreak = regexp.MustCompile(`(\w+)-\n(\w+)`)

// PDFExtractor pulls plain text out of PDF bytes, page by page.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (x *PDFExtractor) Supports(fileType string) bool {
	return strings.EqualFold(fileType, "pdf") ||
		strings.EqualFold(fileType, "application/pdf")
}

// Extract returns one entry per page that yielded text. Pages with no
// extractable text (scanned images without OCR) are skipped and logged;
// they do not abort the document.
func (x *PDFExtractor) Extract(ctx context.Context, data []byte) ([]models.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{FileType: "pdf", Err: err}
	}

	var pages []models.Page
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			log.Printf("extractor: page %d has no content, skipping", i)
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Printf("extractor: page %d unreadable, skipping: %v", i, err)
			continue
		}

		text = normalizeText(text)
		if text == "" {
			log.Printf("extractor: page %d yielded no text, skipping", i)
			continue
		}

		pages = append(pages, models.Page{Number: i, Text: text})
	}

	return pages, nil
}

// normalizeText repairs hyphenated line breaks and collapses runs of
// whitespace while keeping paragraph breaks intact.
func normalizeText(text string) string {
	text = hyphenBreak.ReplaceAllString(text, "$1$2")

	paragraphs := strings.Split(text, "\n\n")
	for i, p := range paragraphs {
		lines := strings.Split(p, "\n")
		for j, line := range lines {
			lines[j] = strings.Join(strings.Fields(line), " ")
		}
		paragraphs[i] = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	var kept []string
	for _, p := range paragraphs {
		if p != "" {
			kept = append(kept, p)
		}
	}

	return strings.Join(kept, "\n\n")
}
