package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/errorutil"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
)

const (
	// Default values for Claude API
	defaultModel         = "claude-3-5-sonnet-20241022"
	defaultMaxTokens     = 600
	defaultTemperature   = 0.3
	defaultClaudeTimeout = 30 * time.Second

	// Retry configuration
	defaultMaxRetries   = 3
	defaultBaseDelay    = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultJitterFactor = 0.1

	// Rate limiting
	defaultRateLimit = 50 // requests per minute (conservative for Anthropic API)

	minNarrativeLength = 40
	maxNarrativeLength = 4000
)

// ErrNoClaudeKey is returned when a narrative client is built without a key.
var ErrNoClaudeKey = errors.New("Claude API key is required")

// NarrativeClient writes report narratives with Anthropic Claude.
type NarrativeClient struct {
	client  anthropic.Client
	config  ClaudeConfig
	limiter *RateLimiter
}

// ClaudeConfig contains configuration for Claude API client
type ClaudeConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	RateLimit   int // requests per minute
}

// ClaudeAPIError represents errors from the Claude API
type ClaudeAPIError struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ClaudeAPIError) Error() string {
	return fmt.Sprintf("Claude API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

func (e *ClaudeAPIError) Unwrap() error { return e.Err }

// IsRetryable returns true if this error indicates a retryable condition
func (e *ClaudeAPIError) IsRetryable() bool {
	return e.Retryable
}

// NewNarrativeClient creates a client. It fails fast without an API key.
func NewNarrativeClient(config ClaudeConfig) (*NarrativeClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, ErrNoClaudeKey
	}

	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if config.Temperature <= 0 {
		config.Temperature = defaultTemperature
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultClaudeTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaultBaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaultMaxDelay
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	// Retries are handled here so they share the rate limiter and logging.
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &NarrativeClient{
		client:  anthropic.NewClient(opts...),
		config:  config,
		limiter: NewRateLimiter(config.RateLimit, time.Minute),
	}, nil
}

// NarrativeRequest is a system context and a user prompt.
type NarrativeRequest struct {
	System string
	Prompt string
}

// NarrativeResponse contains the generated narrative
type NarrativeResponse struct {
	Text        string
	Model       string
	TokensUsed  int
	GeneratedAt time.Time
}

// Generate asks Claude for a narrative, with retry and rate limiting.
func (c *NarrativeClient) Generate(ctx context.Context, request NarrativeRequest) (*NarrativeResponse, error) {
	complete := logger.LogOperationStart("claude_narrative", map[string]any{
		"model":       c.config.Model,
		"max_tokens":  c.config.MaxTokens,
		"temperature": c.config.Temperature,
		"max_retries": c.config.MaxRetries,
	})

	if strings.TrimSpace(request.Prompt) == "" {
		err := errors.New("narrative prompt is empty")
		complete(err)
		return nil, err
	}

	messageReq := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.config.Model),
		MaxTokens:   int64(c.config.MaxTokens),
		Temperature: anthropic.Float(c.config.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(request.Prompt),
			),
		},
	}
	if request.System != "" {
		messageReq.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: request.System,
			},
		}
	}

	resp, err := c.executeWithRetry(ctx, messageReq)
	if err != nil {
		complete(err)
		return nil, err
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			text = strings.TrimSpace(block.Text)
			break
		}
	}
	if text == "" {
		err := errors.New("no text content in Claude API response")
		complete(err)
		return nil, err
	}

	if err := validateNarrative(text); err != nil {
		complete(err)
		return nil, fmt.Errorf("generated narrative validation failed: %w", err)
	}

	complete(nil)
	return &NarrativeResponse{
		Text:        text,
		Model:       c.config.Model,
		TokensUsed:  int(resp.Usage.OutputTokens),
		GeneratedAt: time.Now(),
	}, nil
}

// executeWithRetry executes a Claude API request with retry logic and rate limiting
func (c *NarrativeClient) executeWithRetry(ctx context.Context, messageReq anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter cancelled: %w", err)
		}

		if attempt > 0 {
			logger.LogWithFields(logger.InfoLevel, "Retrying Claude API request", map[string]any{
				"attempt":     attempt + 1,
				"max_retries": c.config.MaxRetries + 1,
			})
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		resp, err := c.client.Messages.New(reqCtx, messageReq)
		cancel()

		if err == nil {
			if attempt > 0 {
				logger.LogWithFields(logger.InfoLevel, "Claude API request succeeded after retries", map[string]any{
					"successful_attempt": attempt + 1,
				})
			}
			return resp, nil
		}

		lastErr = err
		claudeErr := parseClaudeError(err)
		if !claudeErr.IsRetryable() {
			logger.LogWithFields(logger.ErrorLevel, "Non-retryable Claude API error", map[string]any{
				"error":   err.Error(),
				"attempt": attempt + 1,
			})
			return nil, claudeErr
		}
		if attempt == c.config.MaxRetries {
			break
		}

		delay := c.calculateRetryDelay(attempt)
		logger.LogWithFields(logger.WarnLevel, "Claude API request failed, retrying", map[string]any{
			"error":        err.Error(),
			"attempt":      attempt + 1,
			"next_attempt": attempt + 2,
			"delay_ms":     delay.Milliseconds(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	logger.LogWithFields(logger.ErrorLevel, "Claude API request failed after all retries", map[string]any{
		"total_attempts": c.config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})
	return nil, fmt.Errorf("Claude API request failed after %d attempts: %w", c.config.MaxRetries+1, parseClaudeError(lastErr))
}

// calculateRetryDelay is exponential backoff capped at MaxDelay with ±10% jitter.
func (c *NarrativeClient) calculateRetryDelay(attempt int) time.Duration {
	delay := time.Duration(float64(c.config.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}

	jitter := time.Duration(float64(delay) * defaultJitterFactor * (rand.Float64() - 0.5) * 2)
	delay += jitter
	if delay < 0 {
		delay = c.config.BaseDelay
	}
	return delay
}

// parseClaudeError classifies err. API errors carry their HTTP status;
// anything else is classified as a context or transport failure.
func parseClaudeError(err error) *ClaudeAPIError {
	if err == nil {
		return &ClaudeAPIError{Type: "unknown", Message: "unknown error"}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ClaudeAPIError{
			Type:       claudeErrorType(apiErr.StatusCode),
			Message:    err.Error(),
			StatusCode: apiErr.StatusCode,
			Retryable:  errorutil.IsRetryableStatus(apiErr.StatusCode) || apiErr.StatusCode == 529,
			Err:        err,
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &ClaudeAPIError{Type: "cancelled", Message: "request cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ClaudeAPIError{Type: "timeout", Message: "request timeout", Retryable: true, Err: err}
	case errorutil.IsTransient(err):
		return &ClaudeAPIError{Type: "network_error", Message: "network or connection error", Retryable: true, Err: err}
	}

	return &ClaudeAPIError{Type: "api_error", Message: err.Error(), Err: err}
}

func claudeErrorType(status int) string {
	switch {
	case status == 401 || status == 403:
		return "authentication_error"
	case status == 429:
		return "rate_limit_error"
	case status == 529:
		return "overloaded_error"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

// validateNarrative rejects empty, truncated or runaway output.
func validateNarrative(text string) error {
	if len(text) < minNarrativeLength {
		return fmt.Errorf("generated narrative is too short (%d characters)", len(text))
	}
	if len(text) > maxNarrativeLength {
		return fmt.Errorf("generated narrative is too long (%d characters)", len(text))
	}
	return nil
}
