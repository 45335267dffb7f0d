package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"pdf-knowledge-pipeline/internal/ai"
	"pdf-knowledge-pipeline/internal/vector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.vec, s.err
}

type stubSearcher struct {
	hits      []vector.ScoredPoint
	err       error
	lastLimit int
	lastMin   *float64
}

func (s *stubSearcher) Search(ctx context.Context, collection string, vec []float32, limit int, scoreThreshold *float64) ([]vector.ScoredPoint, error) {
	s.lastLimit = limit
	s.lastMin = scoreThreshold
	return s.hits, s.err
}

type stubCompleter struct {
	reply      string
	err        error
	lastPrompt string
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string, maxTokens int32) (string, *ai.Usage, error) {
	s.lastPrompt = prompt
	if s.err != nil {
		return "", nil, s.err
	}
	return s.reply, &ai.Usage{InputTokens: 100, OutputTokens: 50}, nil
}

func hit(score float64, text, filename string, chunkID int) vector.ScoredPoint {
	return vector.ScoredPoint{
		Score: score,
		Payload: map[string]interface{}{
			"text":     text,
			"filename": filename,
			"chunk_id": float64(chunkID),
		},
	}
}

func TestGenerateDraft(t *testing.T) {
	searcher := &stubSearcher{hits: []vector.ScoredPoint{
		hit(0.91, "Deep work is the ability to focus without distraction.", "deep_work.pdf", 4),
		hit(0.84, "Attention residue degrades performance.", "deep_work.pdf", 9),
	}}
	completer := &stubCompleter{reply: "# Focus\n\nA note about focus."}
	g := NewGenerator(&stubEmbedder{vec: []float32{0.1}}, searcher, completer)

	result, err := g.GenerateDraft(context.Background(), "focus", "books", 10)
	require.NoError(t, err)

	assert.Equal(t, "focus", result.Keywords)
	assert.Equal(t, 2, result.ChunksFound)
	assert.Equal(t, "# Focus\n\nA note about focus.", result.Draft)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "deep_work.pdf", result.Sources[0].Filename)
	assert.InDelta(t, 0.91, result.Sources[0].Score, 1e-9)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 10, searcher.lastLimit)
	assert.Nil(t, searcher.lastMin)

	// Retrieved passages are labeled with their provenance in the prompt.
	assert.Contains(t, completer.lastPrompt, "[Source: deep_work.pdf, Chunk #4, Relevance: 0.91]")
	assert.Contains(t, completer.lastPrompt, "Attention residue degrades performance.")
}

func TestGenerateDraftNoContent(t *testing.T) {
	g := NewGenerator(&stubEmbedder{vec: []float32{0.1}}, &stubSearcher{}, &stubCompleter{})

	_, err := g.GenerateDraft(context.Background(), "focus", "books", 10)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestGenerateContent(t *testing.T) {
	searcher := &stubSearcher{hits: []vector.ScoredPoint{
		hit(0.9, "First passage.", "a.pdf", 1),
		hit(0.7, "Second passage.", "b.pdf", 2),
	}}
	completer := &stubCompleter{reply: "Grounded output."}
	g := NewGenerator(&stubEmbedder{vec: []float32{0.1}}, searcher, completer)

	result, err := g.GenerateContent(context.Background(), "topic", "write a summary", "books", 10, 0.3)
	require.NoError(t, err)

	assert.Equal(t, "Grounded output.", result.Content)
	assert.Equal(t, 2, result.ChunksFound)
	assert.InDelta(t, 0.8, result.AvgRelevance, 1e-9)
	assert.InDelta(t, 0.9, result.MaxRelevance, 1e-9)
	require.NotNil(t, searcher.lastMin)
	assert.InDelta(t, 0.3, *searcher.lastMin, 1e-9)
	assert.Contains(t, completer.lastPrompt, "write a summary")
	require.Len(t, result.SourceChunks, 2)
	assert.Equal(t, 1, result.SourceChunks[0].ChunkID)
}

func TestGenerateContentSentinelRefusal(t *testing.T) {
	searcher := &stubSearcher{hits: []vector.ScoredPoint{
		hit(0.4, "Unrelated passage.", "a.pdf", 1),
	}}
	completer := &stubCompleter{reply: "NOT_ENOUGH_RELEVANT_DATA: nothing substantive about 'quantum farming'."}
	g := NewGenerator(&stubEmbedder{vec: []float32{0.1}}, searcher, completer)

	_, err := g.GenerateContent(context.Background(), "quantum farming", "find quotes", "books", 10, 0.3)
	require.Error(t, err)

	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "nothing substantive about 'quantum farming'.", insufficient.Message)
	assert.Equal(t, 1, insufficient.ChunksFound)
	assert.InDelta(t, 0.4, insufficient.AvgRelevance, 1e-9)
	assert.InDelta(t, 0.4, insufficient.MaxRelevance, 1e-9)
	require.Len(t, insufficient.Sources, 1)
}

func TestGenerateContentCompleterError(t *testing.T) {
	searcher := &stubSearcher{hits: []vector.ScoredPoint{hit(0.9, "text", "a.pdf", 1)}}
	completer := &stubCompleter{err: errors.New("model overloaded")}
	g := NewGenerator(&stubEmbedder{vec: []float32{0.1}}, searcher, completer)

	_, err := g.GenerateContent(context.Background(), "topic", "summary", "books", 10, 0.3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestExtractQuotesParsesJSON(t *testing.T) {
	searcher := &stubSearcher{hits: []vector.ScoredPoint{
		hit(0.88, "Simplicity is the ultimate sophistication, said nobody at the meeting.", "design.pdf", 3),
		hit(0.75, "Another passage entirely.", "design.pdf", 7),
	}}
	completer := &stubCompleter{reply: `Here you go:
[
  {"quote": "Simplicity is the ultimate sophistication", "author": "design.pdf", "chunk_id": 0}
]`}
	g := NewGenerator(&stubEmbedder{vec: []float32{0.1}}, searcher, completer)

	result, err := g.ExtractQuotes(context.Background(), "simplicity", "books", 10)
	require.NoError(t, err)

	assert.Contains(t, result.Markdown, "# simplicity")
	assert.Contains(t, result.Markdown, `"Simplicity is the ultimate sophistication"`)
	assert.Contains(t, result.Markdown, "88.0% relevance")
	assert.Equal(t, 2, result.QuotesCount)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "design.pdf", result.Sources[0].Filename)
}

func TestExtractQuotesFallbackOnBadJSON(t *testing.T) {
	searcher := &stubSearcher{hits: []vector.ScoredPoint{
		hit(0.8, strings.Repeat("Raw chunk text. ", 5), "notes.pdf", 1),
	}}
	completer := &stubCompleter{reply: "Sorry, I cannot produce JSON today."}
	g := NewGenerator(&stubEmbedder{vec: []float32{0.1}}, searcher, completer)

	result, err := g.ExtractQuotes(context.Background(), "notes", "books", 10)
	require.NoError(t, err)

	// No parseable array: the raw chunks become blockquotes instead.
	assert.Contains(t, result.Markdown, "> Raw chunk text.")
	assert.Contains(t, result.Markdown, "notes.pdf")
}

func TestExtractQuotesTruncatesMultibyteCleanly(t *testing.T) {
	// Chunk text of multibyte runes long enough to trip both the
	// blockquote cut and the source preview cut.
	long := strings.Repeat("über größe straße ", 40)
	searcher := &stubSearcher{hits: []vector.ScoredPoint{
		hit(0.9, long, "umlauts.pdf", 0),
	}}
	completer := &stubCompleter{reply: "not json"}
	g := NewGenerator(&stubEmbedder{vec: []float32{0.1}}, searcher, completer)

	result, err := g.ExtractQuotes(context.Background(), "umlauts", "books", 10)
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(result.Markdown))
	require.Len(t, result.Sources, 1)
	preview := result.Sources[0].TextPreview
	assert.True(t, utf8.ValidString(preview))
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.Equal(t, 200, len([]rune(strings.TrimSuffix(preview, "..."))))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "hél", truncateRunes("héllo", 3))
	assert.True(t, utf8.ValidString(truncateRunes(strings.Repeat("é", 50), 25)))
}

func TestParseQuotes(t *testing.T) {
	quotes := parseQuotes(`noise [ {"quote": "q", "author": "a", "chunk_id": 2} ] trailing`)
	require.Len(t, quotes, 1)
	assert.Equal(t, "q", quotes[0].Quote)
	assert.Equal(t, 2, quotes[0].ChunkID)

	assert.Nil(t, parseQuotes("no array here"))
	assert.Nil(t, parseQuotes(`[ {"quote": broken json} ]`))
}
