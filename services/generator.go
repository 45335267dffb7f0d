package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"pdf-knowledge-pipeline/internal/ai"
	"pdf-knowledge-pipeline/internal/logger"
	"pdf-knowledge-pipeline/internal/vector"
	"pdf-knowledge-pipeline/models"
)

// sentinelInsufficientData is the refusal prefix the model is instructed to
// emit when the retrieved passages contain nothing substantive. It is
// detected by prefix match on the raw reply.
const sentinelInsufficientData = "NOT_ENOUGH_RELEVANT_DATA"

// ErrNoContent signals that the retrieval step found nothing at all.
var ErrNoContent = errors.New("no relevant content found in the database")

// InsufficientDataError signals that the model read the retrieved passages
// and refused to generate. It is a semantic outcome, not a server failure,
// and carries diagnostics so the caller can adjust parameters.
type InsufficientDataError struct {
	Message      string
	ChunksFound  int
	AvgRelevance float64
	MaxRelevance float64
	Sources      []models.Source
}

func (e *InsufficientDataError) Error() string {
	return "insufficient relevant data: " + e.Message
}

// Searcher runs nearest-neighbor queries against the vector index.
type Searcher interface {
	Search(ctx context.Context, collection string, vec []float32, limit int, scoreThreshold *float64) ([]vector.ScoredPoint, error)
}

// Completer produces chat completions with token usage.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int32) (string, *ai.Usage, error)
}

// RetrievedChunk is one scored passage fed into a generation prompt.
type RetrievedChunk struct {
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Filename string  `json:"filename"`
	ChunkID  int     `json:"chunk_id"`
}

// Generator orchestrates retrieval-augmented generation: embed the keywords,
// search the index, build a grounded prompt and post-process the reply.
type Generator struct {
	embedder  Embedder
	searcher  Searcher
	completer Completer
}

// NewGenerator creates a generation orchestrator.
func NewGenerator(embedder Embedder, searcher Searcher, completer Completer) *Generator {
	return &Generator{
		embedder:  embedder,
		searcher:  searcher,
		completer: completer,
	}
}

// retrieve embeds the keywords and returns the scored passages, or
// ErrNoContent when the result set is empty.
func (g *Generator) retrieve(ctx context.Context, keywords, collection string, topK int, minScore *float64) ([]RetrievedChunk, error) {
	queryVec, err := g.embedder.EmbedQuery(ctx, keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to embed keywords: %w", err)
	}

	hits, err := g.searcher.Search(ctx, collection, queryVec, topK, minScore)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, ErrNoContent
	}

	chunks := make([]RetrievedChunk, len(hits))
	for i, hit := range hits {
		chunks[i] = RetrievedChunk{
			Text:     payloadString(hit.Payload, "text"),
			Score:    hit.Score,
			Filename: payloadString(hit.Payload, "filename"),
			ChunkID:  payloadInt(hit.Payload, "chunk_id"),
		}
	}
	return chunks, nil
}

func sourcesOf(chunks []RetrievedChunk) []models.Source {
	sources := make([]models.Source, len(chunks))
	for i, c := range chunks {
		sources[i] = models.Source{Filename: c.Filename, Score: c.Score}
	}
	return sources
}

func contextText(chunks []RetrievedChunk) string {
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = fmt.Sprintf("[Source: %s, Chunk #%d, Relevance: %.2f]\n%s", c.Filename, c.ChunkID, c.Score, c.Text)
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// DraftResult is the outcome of a draft-note generation.
type DraftResult struct {
	Keywords    string          `json:"keywords"`
	ChunksFound int             `json:"chunks_found"`
	Sources     []models.Source `json:"sources"`
	Draft       string          `json:"draft"`
	Usage       *ai.Usage       `json:"usage"`
}

// GenerateDraft builds a short curated note from the best-matching passages.
func (g *Generator) GenerateDraft(ctx context.Context, keywords, collection string, topK int) (*DraftResult, error) {
	chunks, err := g.retrieve(ctx, keywords, collection, topK, nil)
	if err != nil {
		return nil, err
	}

	logger.Info("Generating draft", "keywords", keywords, "chunks", len(chunks))

	prompt := fmt.Sprintf(`You are a knowledge curator for a reading-notes newsletter.

Your mission is to surface the most relevant quotes and insights from my knowledge base as a short note.

KEYWORDS: %s

EXCERPTS FROM MY KNOWLEDGE BASE:
%s

INSTRUCTIONS:
Write a short note (150-300 words) highlighting the best quotes and insights.

FORMAT:
1. A short, catchy title
2. A one-line introduction
3. 2-4 key quotes or insights, each with:
   - The exact quote in quotation marks
   - The author's name or the source document
   - A one-line context comment if needed
4. An optional one-line conclusion

STYLE:
- Direct and concise
- Let the quotes shine, not your analysis
- Reading-notes / highlights format`, keywords, contextText(chunks))

	draft, usage, err := g.completer.Complete(ctx, prompt, 2000)
	if err != nil {
		return nil, err
	}

	return &DraftResult{
		Keywords:    keywords,
		ChunksFound: len(chunks),
		Sources:     sourcesOf(chunks),
		Draft:       draft,
		Usage:       usage,
	}, nil
}

// ContentResult is the outcome of an instruction-driven grounded generation.
type ContentResult struct {
	Keywords     string           `json:"keywords"`
	ChunksFound  int              `json:"chunks_found"`
	AvgRelevance float64          `json:"avg_relevance"`
	MaxRelevance float64          `json:"max_relevance"`
	Sources      []models.Source  `json:"sources"`
	SourceChunks []RetrievedChunk `json:"source_chunks"`
	Content      string           `json:"content"`
	Usage        *ai.Usage        `json:"usage"`
}

// GenerateContent generates content under a strict grounding contract: the
// model must use only the retrieved passages and refuse with a sentinel token
// when nothing substantive matches. A sentinel reply is converted into an
// InsufficientDataError rather than a success or a server failure.
func (g *Generator) GenerateContent(ctx context.Context, keywords, instructions, collection string, topK int, minScore float64) (*ContentResult, error) {
	chunks, err := g.retrieve(ctx, keywords, collection, topK, &minScore)
	if err != nil {
		return nil, err
	}

	avgScore := 0.0
	for _, c := range chunks {
		avgScore += c.Score
	}
	avgScore /= float64(len(chunks))
	maxScore := chunks[0].Score

	logger.Info("Generating content", "keywords", keywords, "chunks", len(chunks), "avg_score", avgScore, "min_score", minScore)

	prompt := fmt.Sprintf(`You are an AI assistant helping to extract and generate content from a knowledge base.

TOPIC/KEYWORDS: %s

RELEVANT CONTENT FROM KNOWLEDGE BASE:
%s

USER INSTRUCTIONS:
%s

CRITICAL RULES - YOU MUST FOLLOW THESE:
1. ONLY use information from the passages above
2. DO NOT invent, create, or fabricate any content
3. READ THE ACTUAL CONTENT before deciding if it is relevant - do not judge by relevance scores alone
4. Quality over quantity: if the user asks for 5 quotes but only 2 are truly relevant, provide only 2
5. Never make up quotes, statistics, or facts that are not explicitly in the source material
6. When quoting, copy quotes WORD-FOR-WORD - do not paraphrase, shorten or improve them; use [...] for cuts
7. Use this refusal response ONLY if you truly cannot find ANY relevant substantive content after reading:
   "%s: After reading all passages, I could not find substantive content about '%s' that meets quality standards."`,
		keywords, contextText(chunks), instructions, sentinelInsufficientData, keywords)

	content, usage, err := g.completer.Complete(ctx, prompt, 2000)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, sentinelInsufficientData) {
		logger.Warn("Model refused - insufficient relevant data", "keywords", keywords)
		return nil, &InsufficientDataError{
			Message:      strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(content, sentinelInsufficientData), ":")),
			ChunksFound:  len(chunks),
			AvgRelevance: avgScore,
			MaxRelevance: maxScore,
			Sources:      sourcesOf(chunks),
		}
	}

	return &ContentResult{
		Keywords:     keywords,
		ChunksFound:  len(chunks),
		AvgRelevance: avgScore,
		MaxRelevance: maxScore,
		Sources:      sourcesOf(chunks),
		SourceChunks: chunks,
		Content:      content,
		Usage:        usage,
	}, nil
}

// QuoteSource is the provenance of one retrieved passage in a quote
// extraction response.
type QuoteSource struct {
	Filename    string  `json:"filename"`
	Score       float64 `json:"score"`
	TextPreview string  `json:"text_preview"`
}

// QuotesResult is the outcome of a quote extraction.
type QuotesResult struct {
	Keywords    string        `json:"keywords"`
	QuotesCount int           `json:"quotes_count"`
	Markdown    string        `json:"markdown"`
	Sources     []QuoteSource `json:"sources"`
}

type extractedQuote struct {
	Quote   string `json:"quote"`
	Author  string `json:"author"`
	ChunkID int    `json:"chunk_id"`
}

// jsonArrayPattern permissively locates a JSON array of objects inside a
// free-form model reply.
var jsonArrayPattern = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)

// ExtractQuotes asks the model for a JSON array of verbatim quotes. The
// reply is treated as untrusted text: the array is located permissively and
// parsed defensively, and on any parse failure the top raw chunks are
// emitted directly as blockquotes instead of failing the request.
func (g *Generator) ExtractQuotes(ctx context.Context, keywords, collection string, topK int) (*QuotesResult, error) {
	chunks, err := g.retrieve(ctx, keywords, collection, topK, nil)
	if err != nil {
		return nil, err
	}

	// Chunk markers here are 0-based positions in the retrieved list, not
	// the chunks' own sequence numbers.
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = fmt.Sprintf("[CHUNK_%d] [Source: %s, Relevance: %.2f]\n%s", i, c.Filename, c.Score, c.Text)
	}

	prompt := fmt.Sprintf(`Extract the 3-5 best quotes related to "%s" from these sources.

%s

Return a valid JSON array. Each quote must have:
- quote: the exact text
- author: author name or document name
- chunk_id: number from 0 to %d

Example format:
[
  {"quote": "example text", "author": "John Doe", "chunk_id": 0}
]

Requirements:
- Use the chunk_id from [CHUNK_X] markers
- Keep quotes short (1-3 sentences max)
- Return ONLY valid JSON, no explanations`, keywords, strings.Join(blocks, "\n\n---\n\n"), len(chunks)-1)

	reply, _, err := g.completer.Complete(ctx, prompt, 1500)
	if err != nil {
		return nil, err
	}

	quotes := parseQuotes(reply)

	markdownLines := []string{"# " + keywords, ""}
	if len(quotes) > 0 {
		for _, q := range quotes {
			relevance := 0.0
			if q.ChunkID >= 0 && q.ChunkID < len(chunks) {
				relevance = chunks[q.ChunkID].Score
			}
			markdownLines = append(markdownLines, fmt.Sprintf("> %q", q.Quote))
			markdownLines = append(markdownLines, fmt.Sprintf("— %s (%.1f%% relevance)", q.Author, relevance*100))
			markdownLines = append(markdownLines, "")
		}
		logger.Info("Quotes extracted", "keywords", keywords, "count", len(quotes))
	} else {
		// Fallback: emit the top raw chunks directly as blockquotes.
		logger.Warn("Quote parsing failed, falling back to raw chunks", "keywords", keywords)
		limit := len(chunks)
		if limit > 5 {
			limit = 5
		}
		for _, c := range chunks[:limit] {
			markdownLines = append(markdownLines, fmt.Sprintf("> %s...", truncateRunes(c.Text, 300)))
			markdownLines = append(markdownLines, fmt.Sprintf("— %s (%.1f%% relevance)", c.Filename, c.Score*100))
			markdownLines = append(markdownLines, "")
		}
	}

	sources := make([]QuoteSource, len(chunks))
	for i, c := range chunks {
		previewText := c.Text
		if cut := truncateRunes(previewText, 200); cut != previewText {
			previewText = cut + "..."
		}
		sources[i] = QuoteSource{Filename: c.Filename, Score: c.Score, TextPreview: previewText}
	}

	return &QuotesResult{
		Keywords:    keywords,
		QuotesCount: len(chunks),
		Markdown:    strings.Join(markdownLines, "\n"),
		Sources:     sources,
	}, nil
}

// parseQuotes scans a model reply for a JSON array of quotes. Any failure
// returns nil so the caller can take the fallback branch.
func parseQuotes(reply string) []extractedQuote {
	match := jsonArrayPattern.FindString(strings.TrimSpace(reply))
	if match == "" {
		return nil
	}

	var quotes []extractedQuote
	if err := json.Unmarshal([]byte(match), &quotes); err != nil {
		logger.Warn("Failed to parse quotes JSON", "error", err)
		return nil
	}
	return quotes
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// truncateRunes cuts text to at most max runes so multibyte characters are
// never split mid-sequence.
func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
