package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pdf-knowledge-pipeline/internal/logger"
	"pdf-knowledge-pipeline/models"

	"github.com/ledongthuc/pdf"
)

// minExtractedChars is the quality gate: a strategy whose stripped output is
// shorter than this is treated as failed, which also rejects near-empty
// extractions from image-only or corrupt PDFs.
const minExtractedChars = 100

// RemoteParser is the narrow contract the fallback strategy depends on.
type RemoteParser interface {
	ParseFile(ctx context.Context, filePath, filename string) (text string, units int, err error)
}

// ExtractionResult is the tagged outcome of a successful extraction.
type ExtractionResult struct {
	Text   string
	Pages  int
	Method models.ExtractionMethod
}

// Extractor converts a PDF into markdown text using a local extractor first
// and a remote parsing service as fallback. Strategies run in a fixed order
// and short-circuit on the first success; when both fail the returned error
// carries both causes.
type Extractor struct {
	parser RemoteParser
}

// NewExtractor creates an extractor with the given fallback parser.
func NewExtractor(parser RemoteParser) *Extractor {
	return &Extractor{parser: parser}
}

// Extract runs the local strategy, then the fallback on failure or a tripped
// quality gate. No partial files are written on failure.
func (e *Extractor) Extract(ctx context.Context, pdfPath string) (*ExtractionResult, error) {
	text, pages, localErr := e.extractLocal(pdfPath)
	if localErr == nil {
		logger.Info("Local extraction succeeded", "pages", pages, "chars", len(text))
		return &ExtractionResult{Text: text, Pages: pages, Method: models.MethodLocal}, nil
	}

	logger.Warn("Local extraction failed, trying parser fallback", "error", localErr)

	text, pages, parserErr := e.extractRemote(ctx, pdfPath)
	if parserErr == nil {
		logger.Info("Parser extraction succeeded", "units", pages, "chars", len(text))
		return &ExtractionResult{Text: text, Pages: pages, Method: models.MethodParser}, nil
	}

	return nil, fmt.Errorf("both extraction methods failed: local: %v; parser: %v", localErr, parserErr)
}

// extractLocal reads per-page text with the Go PDF library and joins pages
// with a "Page N of M" markdown heading block.
func (e *Extractor) extractLocal(pdfPath string) (string, int, error) {
	content, err := os.ReadFile(pdfPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read PDF file: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to open PDF: %w", err)
	}

	pages := reader.NumPage()
	var markdownLines []string

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("Failed to extract page text", "page", i, "error", err)
			continue
		}
		if text == "" {
			continue
		}

		markdownLines = append(markdownLines, fmt.Sprintf("---\n### Page %d of %d\n", i, pages))
		markdownLines = append(markdownLines, text)
		markdownLines = append(markdownLines, "\n")
	}

	fullText := strings.Join(markdownLines, "\n")
	if len(strings.TrimSpace(fullText)) < minExtractedChars {
		return "", 0, fmt.Errorf("extracted text too short (%d chars)", len(fullText))
	}

	return fullText, pages, nil
}

// extractRemote sends the PDF to the parsing service and applies the same
// quality gate to its output.
func (e *Extractor) extractRemote(ctx context.Context, pdfPath string) (string, int, error) {
	text, units, err := e.parser.ParseFile(ctx, pdfPath, filepath.Base(pdfPath))
	if err != nil {
		return "", 0, err
	}

	if len(strings.TrimSpace(text)) < minExtractedChars {
		return "", 0, fmt.Errorf("extracted text too short (%d chars)", len(text))
	}

	return text, units, nil
}
