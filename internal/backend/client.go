// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout is the default timeout for generation requests.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024
)

// sharedHTTPClient pools connections across all backend requests.
// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
	Timeout: DefaultTimeout,
}

// Error variables for common backend failures.
var (
	// ErrNotConfigured indicates the backend base URL is not set.
	ErrNotConfigured = errors.New("generation backend not configured")

	// ErrEmptyCompletion indicates the backend answered with no choices.
	ErrEmptyCompletion = errors.New("backend returned no completion")
)

// APIError represents an error response from the backend API.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// chatRequest is the OpenAI-compatible completions request body.
type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []model.ChatTurn `json:"messages"`
	Stream      bool             `json:"stream"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// chatResponse is the completions response body.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      model.ChatTurn `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a one-shot chat completions client. It implements
// chunker.Generator. Safe for concurrent use; per-call state lives on the
// stack.
type Client struct {
	baseURL    string
	apiKey     string
	modelName  string
	maxRetries int
	httpClient *http.Client
}

// NewClient creates a backend client for baseURL using the given default
// model. The API key may be empty for local backends.
func NewClient(baseURL, apiKey, modelName string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		modelName:  modelName,
		maxRetries: DefaultMaxRetries,
		httpClient: sharedHTTPClient,
	}
}

// WithModel returns a copy of the client using a different model,
// e.g. for a persona-level override.
func (c *Client) WithModel(modelName string) *Client {
	if modelName == "" {
		return c
	}
	clone := *c
	clone.modelName = modelName
	return &clone
}

// WithMaxRetries returns a copy of the client with a different retry
// budget. Values below 1 are ignored.
func (c *Client) WithMaxRetries(n int) *Client {
	if n < 1 {
		return c
	}
	clone := *c
	clone.maxRetries = n
	return &clone
}

// WithHTTPClient overrides the HTTP client, for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	clone := *c
	clone.httpClient = hc
	return &clone
}

// IsConfigured reports whether the client can make requests.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// Generate performs one chat completion and returns the full output text.
// The system directive, when non-empty, is prepended as the first turn.
// Implements chunker.Generator.
func (c *Client) Generate(ctx context.Context, history []model.ChatTurn, system string) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	messages := make([]model.ChatTurn, 0, len(history)+1)
	if system != "" {
		messages = append(messages, model.ChatTurn{Role: model.RoleSystem.String(), Content: system})
	}
	messages = append(messages, history...)

	body, err := json.Marshal(chatRequest{
		Model:    c.modelName,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, body)
	if err != nil {
		return "", err
	}

	if resp.GetContent() == "" {
		return "", ErrEmptyCompletion
	}
	return resp.GetContent(), nil
}

// GetContent returns the content of the first choice, or empty string.
func (r *chatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// =============================================================================
// TRANSPORT
// =============================================================================

// doWithRetry posts the request with exponential backoff. 4xx responses are
// never retried; network errors and 5xx responses are.
func (c *Client) doWithRetry(ctx context.Context, body []byte) (*chatResponse, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.doOnce(ctx, body)
		if err == nil {
			return resp, nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doOnce performs a single request attempt.
func (c *Client) doOnce(ctx context.Context, body []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, MaxResponseSize)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &parsed, nil
}

// parseAPIError converts a non-200 response into a typed error.
func parseAPIError(status int, body []byte) error {
	var apiResp apiErrorResponse
	if err := json.Unmarshal(body, &apiResp); err == nil && apiResp.Error.Message != "" {
		return &APIError{
			Code:    apiResp.Error.Code,
			Message: apiResp.Error.Message,
			Status:  status,
		}
	}
	return &APIError{
		Message: http.StatusText(status),
		Status:  status,
	}
}

// calculateBackoff returns the delay before the given retry attempt.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
