package ai

import (
	"context"
	"fmt"
	"time"

	"pdf-knowledge-pipeline/internal/config"
	"pdf-knowledge-pipeline/internal/logger"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

// Client wraps the Gemini API for embeddings and chat completions.
// All outbound calls go through a shared circuit breaker and rate limiter,
// so one Client is safe for concurrent use across request handlers and
// background workers.
type Client struct {
	cfg     *config.Config
	client  *genai.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewClient creates a Gemini client with circuit breaking and client-side
// rate limiting.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	// 60 requests/minute with a small burst; conservative enough for the
	// free tier, generous enough for batch embedding runs.
	limiter := rate.NewLimiter(rate.Limit(1), 6)

	return &Client{
		cfg:     cfg,
		client:  client,
		breaker: breaker,
		limiter: limiter,
	}, nil
}

// Close releases the underlying API client.
func (c *Client) Close() error {
	return c.client.Close()
}

// execute runs fn behind the rate limiter and circuit breaker.
func (c *Client) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, fmt.Errorf("gemini API temporarily unavailable (circuit open)")
		}
		return nil, err
	}
	return result, nil
}
