package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"pdf-knowledge-pipeline/internal/config"
	"pdf-knowledge-pipeline/internal/logger"
)

// ParserClient handles communication with the remote document-parsing
// service used as the fallback extraction strategy.
type ParserClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// ParseDocument is one text unit returned by the parsing service.
type ParseDocument struct {
	Text string `json:"text"`
}

// ParseResponse represents the response from the parsing service.
type ParseResponse struct {
	Success   bool            `json:"success"`
	Documents []ParseDocument `json:"documents"`
	Error     string          `json:"error,omitempty"`
}

// NewParserClient creates a new parsing service client.
func NewParserClient(cfg *config.Config) *ParserClient {
	return &ParserClient{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // parsing large PDFs can take time
		},
		baseURL: strings.TrimRight(cfg.ParserBaseURL, "/"),
		apiKey:  cfg.ParserAPIKey,
	}
}

// ParseFile uploads the PDF at filePath and returns the concatenated text of
// all returned units, joined with blank lines, plus the unit count.
func (c *ParserClient) ParseFile(ctx context.Context, filePath, filename string) (string, int, error) {
	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(fileData); err != nil {
		return "", 0, fmt.Errorf("failed to copy file data: %w", err)
	}
	writer.WriteField("result_type", "markdown")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/parse", &buf)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create parse request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	logger.Debug("Sending PDF to parsing service", "file", filename, "bytes", len(fileData))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("parse request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("parse request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parseResp ParseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parseResp); err != nil {
		return "", 0, fmt.Errorf("failed to decode parse response: %w", err)
	}

	if !parseResp.Success {
		return "", 0, fmt.Errorf("parsing service failed: %s", parseResp.Error)
	}

	texts := make([]string, 0, len(parseResp.Documents))
	for _, doc := range parseResp.Documents {
		texts = append(texts, doc.Text)
	}

	return strings.Join(texts, "\n\n"), len(parseResp.Documents), nil
}
