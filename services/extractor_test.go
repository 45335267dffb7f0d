package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"pdf-knowledge-pipeline/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubParser struct {
	text  string
	units int
	err   error
	calls int
}

func (s *stubParser) ParseFile(ctx context.Context, filePath, filename string) (string, int, error) {
	s.calls++
	return s.text, s.units, s.err
}

func TestExtractFallsBackToParser(t *testing.T) {
	parser := &stubParser{
		text:  strings.Repeat("Converted markdown content. ", 20),
		units: 3,
	}
	e := NewExtractor(parser)

	// A missing file makes the local strategy fail before the parser runs.
	result, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodParser, result.Method)
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, parser.text, result.Text)
	assert.Equal(t, 1, parser.calls)
}

func TestExtractBothStrategiesFail(t *testing.T) {
	parser := &stubParser{err: errors.New("service unavailable")}
	e := NewExtractor(parser)

	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both extraction methods failed")
	assert.Contains(t, err.Error(), "service unavailable")
}

func TestExtractRejectsShortParserOutput(t *testing.T) {
	// Output below the quality gate counts as a failed strategy.
	parser := &stubParser{text: "too short", units: 1}
	e := NewExtractor(parser)

	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
	assert.Equal(t, 1, parser.calls)
}

func TestExtractRejectsWhitespacePadding(t *testing.T) {
	// Padding must not sneak past the gate: length is measured stripped.
	parser := &stubParser{text: "abc" + strings.Repeat(" ", 200), units: 1}
	e := NewExtractor(parser)

	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
}
