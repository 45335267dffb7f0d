package models

// Chunk is one token-bounded segment of a markdown document.
// Seq is 1-based and stable for a given text and chunking parameters.
type Chunk struct {
	Seq        int    `json:"chunk_id"`
	Text       string `json:"content"`
	TokenCount int    `json:"token_count"`
	CharCount  int    `json:"char_count"`
	Preview    string `json:"preview"`
}

// Source describes the provenance of one retrieved chunk in a generation call.
type Source struct {
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
}
