package services

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"pdf-knowledge-pipeline/internal/logger"
	"pdf-knowledge-pipeline/models"

	"github.com/ledongthuc/pdf"
)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// ObsidianConversion records one finished vault conversion so its markdown
// file can be downloaded later.
type ObsidianConversion struct {
	JobID        string
	Filename     string
	PDFPath      string
	MarkdownPath string
	Category     string
	Tags         []string
	Pages        int
	Method       models.ExtractionMethod
}

// ObsidianConverter renders PDFs as vault-ready markdown: a title taken from
// the file stem, a source line and one section per page. Unlike the async
// conversion pipeline this runs synchronously and keeps its own registry of
// finished conversions.
type ObsidianConverter struct {
	mu          sync.RWMutex
	conversions map[string]*ObsidianConversion
}

func NewObsidianConverter() *ObsidianConverter {
	return &ObsidianConverter{conversions: make(map[string]*ObsidianConversion)}
}

// Convert renders pdfPath as markdown, writes it next to the PDF and
// registers the conversion under jobID. The rendered markdown is returned so
// the caller can build a preview without re-reading the file.
func (o *ObsidianConverter) Convert(jobID, pdfPath, filename string) (*ObsidianConversion, string, error) {
	markdown, pages, err := renderObsidianMarkdown(pdfPath, filename)
	if err != nil {
		return nil, "", err
	}

	mdPath := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + ".md"
	if err := os.WriteFile(mdPath, []byte(markdown), 0o600); err != nil {
		return nil, "", fmt.Errorf("failed to write markdown file: %w", err)
	}

	conv := &ObsidianConversion{
		JobID:        jobID,
		Filename:     filename,
		PDFPath:      pdfPath,
		MarkdownPath: mdPath,
		Category:     "general",
		Tags:         []string{"pdf-conversion"},
		Pages:        pages,
		Method:       models.MethodLocal,
	}

	o.mu.Lock()
	o.conversions[jobID] = conv
	o.mu.Unlock()

	logger.Info("Obsidian conversion finished", "job_id", jobID, "filename", filename, "pages", pages)
	return conv, markdown, nil
}

// Get returns the registered conversion for jobID.
func (o *ObsidianConverter) Get(jobID string) (*ObsidianConversion, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	conv, ok := o.conversions[jobID]
	return conv, ok
}

// renderObsidianMarkdown builds the vault document. Pages that yield no text
// get a placeholder section instead of being skipped, so page numbers in the
// output always match the source PDF.
func renderObsidianMarkdown(pdfPath, filename string) (string, int, error) {
	content, err := os.ReadFile(pdfPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read PDF file: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to open PDF: %w", err)
	}

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	lines := []string{
		fmt.Sprintf("# %s\n", stem),
		fmt.Sprintf("*Source: %s*\n", filename),
		"---\n",
	}

	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		lines = append(lines, fmt.Sprintf("\n## Page %d\n", i))

		page := reader.Page(i)
		if page.V.IsNull() {
			lines = append(lines, "*[No text extracted from this page]*\n")
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("Failed to extract page text", "page", i, "error", err)
			text = ""
		}
		if strings.TrimSpace(text) == "" {
			lines = append(lines, "*[No text extracted from this page]*\n")
			continue
		}

		lines = append(lines, cleanPageText(text))
		lines = append(lines, "\n")
	}

	return strings.Join(lines, "\n"), pages, nil
}

// cleanPageText collapses runs of blank lines and strips trailing whitespace
// from each line.
func cleanPageText(text string) string {
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
