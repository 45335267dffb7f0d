package services

import (
	"fmt"
	"strings"
	"sync"

	"pdf-knowledge-pipeline/models"

	"github.com/pkoukk/tiktoken-go"
)

// Chunker splits markdown into overlapping token-bounded segments. Sizes and
// overlap are measured with the cl100k_base encoding, the same encoding used
// to report per-chunk token counts, so chunking is deterministic for a given
// text and parameters.
type Chunker struct {
	encoding *tiktoken.Tiktoken
}

// separators are tried in priority order: paragraph breaks, line breaks,
// spaces, then raw tokens.
var separators = []string{"\n\n", "\n", " "}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

// NewChunker creates a chunker backed by the shared cl100k_base encoding.
func NewChunker() (*Chunker, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encodingErr != nil {
		return nil, fmt.Errorf("failed to load cl100k_base encoding: %w", encodingErr)
	}
	return &Chunker{encoding: encoding}, nil
}

func (c *Chunker) tokenLen(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// ChunkMarkdown splits text into chunks of at most chunkSize tokens, with
// chunkOverlap tokens from the tail of each chunk repeated at the head of the
// next. Empty input yields an empty slice. An overlap >= chunkSize is clamped
// to chunkSize-1.
func (c *Chunker) ChunkMarkdown(text string, chunkSize, chunkOverlap int) ([]models.Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk_size must be > 0, got %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("chunk_overlap must be >= 0, got %d", chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}

	if strings.TrimSpace(text) == "" {
		return []models.Chunk{}, nil
	}

	pieces := c.split(text, separators, chunkSize)
	merged := c.merge(pieces, chunkSize, chunkOverlap)

	chunks := make([]models.Chunk, 0, len(merged))
	for _, chunkText := range merged {
		chunkText = strings.TrimSpace(chunkText)
		if chunkText == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Seq:        len(chunks) + 1,
			Text:       chunkText,
			TokenCount: c.tokenLen(chunkText),
			CharCount:  len(chunkText),
			Preview:    preview(chunkText),
		})
	}
	return chunks, nil
}

// split recursively breaks text into pieces of at most chunkSize tokens,
// preferring the largest separator that yields compliant pieces. Separators
// stay attached to the preceding piece so concatenation reconstructs the
// original text.
func (c *Chunker) split(text string, seps []string, chunkSize int) []string {
	if c.tokenLen(text) <= chunkSize {
		return []string{text}
	}

	if len(seps) == 0 {
		return c.splitByTokens(text, chunkSize)
	}

	parts := strings.SplitAfter(text, seps[0])
	var pieces []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if c.tokenLen(part) <= chunkSize {
			pieces = append(pieces, part)
		} else {
			pieces = append(pieces, c.split(part, seps[1:], chunkSize)...)
		}
	}
	return pieces
}

// splitByTokens is the last-resort splitter for runs with no usable
// separator: the token sequence itself is cut into windows. Decoding a
// window and re-encoding the result can yield a different BPE merge, so
// each window shrinks until the decoded piece measures within chunkSize.
func (c *Chunker) splitByTokens(text string, chunkSize int) []string {
	tokens := c.encoding.Encode(text, nil, nil)
	var pieces []string
	for start := 0; start < len(tokens); {
		end := start + chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		piece := c.encoding.Decode(tokens[start:end])
		for end > start+1 && c.tokenLen(piece) > chunkSize {
			end--
			piece = c.encoding.Decode(tokens[start:end])
		}
		pieces = append(pieces, piece)
		start = end
	}
	return pieces
}

// merge greedily packs pieces into chunks of at most chunkSize tokens. When a
// chunk is flushed, trailing pieces totaling at most chunkOverlap tokens are
// carried over as the head of the next chunk.
func (c *Chunker) merge(pieces []string, chunkSize, chunkOverlap int) []string {
	var chunks []string
	var current []string
	currentTokens := 0

	for _, piece := range pieces {
		pieceTokens := c.tokenLen(piece)

		if currentTokens+pieceTokens > chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, ""))

			var tail []string
			tailTokens := 0
			for i := len(current) - 1; i >= 0; i-- {
				t := c.tokenLen(current[i])
				if tailTokens+t > chunkOverlap {
					break
				}
				tail = append([]string{current[i]}, tail...)
				tailTokens += t
			}
			// Drop carried pieces from the front until the incoming piece
			// still fits under chunkSize.
			for len(tail) > 0 && tailTokens+pieceTokens > chunkSize {
				tailTokens -= c.tokenLen(tail[0])
				tail = tail[1:]
			}
			current = tail
			currentTokens = tailTokens
		}

		current = append(current, piece)
		currentTokens += pieceTokens
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, ""))
	}
	return chunks
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= 100 {
		return text
	}
	return string(runes[:100]) + "..."
}
