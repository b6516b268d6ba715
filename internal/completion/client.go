// Package completion wraps a chat provider with defaults, linear-backoff
// retries and latency accounting. Complete never returns an error: every
// outcome, including exhausted retries, is reported in the Result.
package completion

import (
	"context"
	"log/slog"
	"time"

	"github.com/influix/influix/internal/provider"
)

const (
	DefaultModel       = "gpt-4-turbo-preview"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 4096
	DefaultMaxRetries  = 3
	DefaultBaseDelay   = time.Second
)

// Defaults are the client-wide settings applied when Options leave a field
// unset.
type Defaults struct {
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	BaseDelay   time.Duration
}

// Options override Defaults for a single call. Zero values fall back to the
// client defaults; Temperature is a pointer so an explicit 0 is honored.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	JSONMode    bool
	MaxRetries  int
	BaseDelay   time.Duration
}

// Result is the outcome of a completion call.
type Result struct {
	Success   bool            `json:"success"`
	Content   string          `json:"content,omitempty"`
	Usage     *provider.Usage `json:"usage,omitempty"`
	LatencyMs int64           `json:"latency_ms"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
}

// Client sends chat requests through a provider with retries.
type Client struct {
	provider provider.Provider
	defaults Defaults
	logger   *slog.Logger
}

// New creates a Client. Zero fields in d take the package defaults.
func New(p provider.Provider, d Defaults) *Client {
	if d.Model == "" {
		d.Model = DefaultModel
	}
	if d.Temperature == 0 {
		d.Temperature = DefaultTemperature
	}
	if d.MaxTokens <= 0 {
		d.MaxTokens = DefaultMaxTokens
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = DefaultMaxRetries
	}
	if d.BaseDelay <= 0 {
		d.BaseDelay = DefaultBaseDelay
	}
	return &Client{provider: p, defaults: d, logger: slog.Default()}
}

// Defaults returns the effective client-wide settings.
func (c *Client) Defaults() Defaults { return c.defaults }

// Complete sends messages to the model, retrying failed attempts up to the
// configured maximum with a delay of baseDelay × attempt between them. Only
// transport or provider errors are retried; a response is returned as-is
// whatever its content. Cancelling ctx stops further attempts.
func (c *Client) Complete(ctx context.Context, messages []provider.Message, opts Options) Result {
	start := time.Now()
	req := c.request(messages, opts)

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.defaults.MaxRetries
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = c.defaults.BaseDelay
	}

	var lastErr error
	attempt := 0
	for attempt < maxRetries {
		attempt++
		resp, err := c.provider.Chat(ctx, req)
		if err == nil {
			usage := resp.Usage
			return Result{
				Success:   true,
				Content:   resp.Content,
				Usage:     &usage,
				LatencyMs: time.Since(start).Milliseconds(),
				Attempts:  attempt,
			}
		}
		lastErr = err
		c.logger.Warn("model call failed",
			"provider", c.provider.Name(), "model", req.Model,
			"attempt", attempt, "max_retries", maxRetries, "error", err)

		if attempt >= maxRetries || ctx.Err() != nil {
			break
		}
		if !sleep(ctx, baseDelay*time.Duration(attempt)) {
			break
		}
	}

	return Result{
		Success:   false,
		LatencyMs: time.Since(start).Milliseconds(),
		Attempts:  attempt,
		Error:     lastErr.Error(),
	}
}

func (c *Client) request(messages []provider.Message, opts Options) provider.Request {
	req := provider.Request{
		Model:       c.defaults.Model,
		Messages:    messages,
		Temperature: c.defaults.Temperature,
		MaxTokens:   c.defaults.MaxTokens,
		JSONMode:    opts.JSONMode,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	return req
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
