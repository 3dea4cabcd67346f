// Package fallback answers requests no skill could serve by asking a
// general-purpose language model.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nidhogg/jarvis-hub/internal/provider"
)

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultMaxTokens      = 500
	DefaultTemperature    = 0.7
	DefaultMaxHistory     = 10
	DefaultMaxRetries     = 2
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

// Reasons carried by UnavailableError.
const (
	ReasonNotConfigured = "not_configured"
	ReasonExhausted     = "exhausted"
	ReasonCanceled      = "canceled"
)

// Fixed user-visible texts for the unavailable paths.
const (
	NotConfiguredText = "I'm sorry, but I'm unable to process that request right now. The AI service is not available."
	ExhaustedText     = "I apologize, but I'm unable to process that request right now. Please try again later."
)

// SystemPrompt is the persona sent ahead of every fallback conversation.
const SystemPrompt = `You are JARVIS, an advanced AI assistant inspired by Tony Stark's AI companion.
You are intelligent, helpful, and slightly witty. You can help with a wide range of tasks including:
- Answering questions and providing information
- Helping with device control and automation
- Providing recommendations and suggestions
- Assisting with planning and organization
- General conversation and support

Respond in a helpful and engaging manner, maintaining the sophisticated yet approachable personality of JARVIS.`

// AnonymousUser is the user id that gets no personalised prompt line.
const AnonymousUser = "anonymous"

// Config tunes the fallback call.
type Config struct {
	Model          string
	MaxTokens      int
	Temperature    float64
	MaxHistory     int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RatePerSecond limits attempts client-side; zero disables the limiter.
	RatePerSecond float64
	RateBurst     int
	// HistoryTokens caps the estimated size of the replayed history. The
	// oldest turns go first. Zero means no cap.
	HistoryTokens int
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}

// Result is what the fallback produced. It is never nil.
type Result struct {
	Text     string `json:"response"`
	Success  bool   `json:"success"`
	Model    string `json:"model,omitempty"`
	Attempts int    `json:"attempts"`
}

// UnavailableError means the fallback could not produce an answer.
type UnavailableError struct {
	Reason string
	Cause  error
}

func (e *UnavailableError) Error() string {
	if e.Cause == nil {
		return "fallback unavailable: " + e.Reason
	}
	return fmt.Sprintf("fallback unavailable: %s: %v", e.Reason, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// Client sends unmatched requests to a provider with bounded retries.
type Client struct {
	provider provider.Provider
	cfg      Config
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewClient creates a fallback client. A nil provider yields a client that
// always reports not_configured without touching the network.
func NewClient(p provider.Provider, cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	c := &Client{provider: p, cfg: cfg, logger: logger}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst)
	}
	return c
}

// Available reports whether a provider is configured.
func (c *Client) Available() bool { return c.provider != nil }

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Complete asks the provider for an answer. The returned Result is always
// usable as a reply; the error, if any, is an *UnavailableError.
func (c *Client) Complete(ctx context.Context, message, userID string, history []provider.Message) (*Result, error) {
	if c.provider == nil {
		return &Result{Text: NotConfiguredText}, &UnavailableError{Reason: ReasonNotConfigured}
	}

	req := &provider.ChatRequest{
		Model:       c.cfg.Model,
		Messages:    c.buildMessages(message, userID, history),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	var (
		resp     *provider.ChatResponse
		attempts int
	)
	op := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limit: %w", err))
			}
		}
		attempts++
		r, err := c.provider.Chat(ctx, req)
		if err != nil {
			if provider.IsTransient(err) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.InitialBackoff
	expo.MaxInterval = c.cfg.MaxBackoff
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.cfg.MaxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("fallback attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		reason := ReasonExhausted
		if ctx.Err() != nil {
			reason = ReasonCanceled
		}
		c.logger.Error("fallback failed",
			zap.String("reason", reason),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return &Result{Text: ExhaustedText, Attempts: attempts}, &UnavailableError{Reason: reason, Cause: err}
	}

	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return &Result{Text: ExhaustedText, Model: model, Attempts: attempts},
			&UnavailableError{Reason: ReasonExhausted, Cause: errors.New("empty completion")}
	}
	return &Result{Text: text, Success: true, Model: model, Attempts: attempts}, nil
}

func (c *Client) buildMessages(message, userID string, history []provider.Message) []provider.Message {
	system := SystemPrompt
	if userID != "" && userID != AnonymousUser {
		system += "\n\nYou are currently assisting user: " + userID
	}

	if c.cfg.MaxHistory > 0 && len(history) > c.cfg.MaxHistory {
		history = history[len(history)-c.cfg.MaxHistory:]
	} else if c.cfg.MaxHistory < 0 {
		history = nil
	}
	history = fitHistory(history, c.cfg.HistoryTokens)

	msgs := make([]provider.Message, 0, len(history)+2)
	msgs = append(msgs, provider.Message{Role: "system", Content: system})
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: message})
	return msgs
}
