package ai

import (
	"context"
	"fmt"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
)

// Usage reports token consumption of one completion call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Complete sends a single-turn prompt to the generation model and returns the
// generated text together with token usage.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int32) (string, *Usage, error) {
	result, err := c.execute(ctx, func() (interface{}, error) {
		model := c.client.GenerativeModel(c.cfg.GenerationModel)
		model.SetTemperature(0.7)
		model.SetMaxOutputTokens(maxTokens)

		return model.GenerateContent(ctx, genai.Text(prompt))
	})
	if err != nil {
		return "", nil, fmt.Errorf("completion failed: %w", err)
	}

	resp := result.(*genai.GenerateContentResponse)
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil, fmt.Errorf("no candidates returned by completion")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	usage := &Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return sb.String(), usage, nil
}
