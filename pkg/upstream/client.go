// Package upstream calls an OpenAI-compatible chat completion endpoint and
// retries transient failures with exponential backoff.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/HMasataka/partyline/internal/logging"
	"github.com/HMasataka/partyline/pkg/retry"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultModel    = "gpt-3.5-turbo"

	// bytes of a failed response body kept for logs
	snippetSize = 512
)

var (
	// ErrRetryExhausted is returned when every attempt failed retryably
	ErrRetryExhausted = errors.New("max retry attempts reached")

	// ErrEmptyChoices is returned when a successful response has no choices
	ErrEmptyChoices = errors.New("upstream returned no choices")
)

// StatusError is a non-2xx upstream response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Client is a chat completion client
type Client struct {
	endpoint string
	apiKey   string
	model    string

	httpClient *http.Client
	clock      clockwork.Clock
	policy     retry.Policy
	onRetry    func(retry.Attempt)
	logger     *logging.Logger
}

// Option configures a Client
type Option func(*Client)

// WithEndpoint sets the chat completion URL
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithModel sets the model name sent with each request
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithHTTPClient sets the HTTP client used for each attempt
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock sets the clock backoff waits are measured on
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithPolicy sets the retry policy
func WithPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithOnRetry registers an observer called before every backoff wait
func WithOnRetry(fn func(retry.Attempt)) Option {
	return func(c *Client) {
		c.onRetry = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new chat completion client
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		apiKey:     apiKey,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		clock:      clockwork.NewRealClock(),
		policy:     retry.DefaultPolicy(),
		logger:     logging.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends message as a single user turn and returns the reply text
func (c *Client) Complete(ctx context.Context, message string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: message}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	logger := c.logger.WithContext(ctx)

	for failures := 0; ; {
		reply, status, err := c.attempt(ctx, body)
		if err == nil {
			return reply, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		failures++

		outcome := retry.Terminal
		if status != 0 {
			outcome = retry.Classify(status)
		}

		decision := c.policy.Next(failures, outcome)
		if decision.Action == retry.Stop {
			logger.Warn("upstream request failed", "attempt", failures, "status", status, "error", err)
			return "", err
		}

		logger.Warn("upstream request failed, backing off",
			"attempt", failures,
			"status", status,
			"delay", decision.Delay,
			"action", decision.Action.String(),
		)

		if c.onRetry != nil {
			c.onRetry(retry.Attempt{Index: failures - 1, Status: status, Delay: decision.Delay, Err: err})
		}

		if err := c.wait(ctx, decision.Delay); err != nil {
			return "", err
		}

		if decision.Action == retry.Exhausted {
			return "", fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, failures, err)
		}
	}
}

// attempt issues one request. status is non-zero whenever a response arrived.
func (c *Client) attempt(ctx context.Context, body []byte) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, snippetSize))
		return "", resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", resp.StatusCode, ErrEmptyChoices
	}

	return out.Choices[0].Message.Content, 0, nil
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	timer := c.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
