// Package llm provides chat-completion providers and a fallback client.
//
// Model output is untrusted text. Callers extract JSON with [ExtractJSON]
// and validate it themselves; nothing here interprets the content.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/domainkeeper/internal/config"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Request is a provider-neutral completion request. Model is optional;
// each provider falls back to its configured model.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// system splits out the system prompt, which some providers take separately.
func (r Request) system() (string, []Message) {
	var sys []string
	rest := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}

// Provider is a single model backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Completer is what callers depend on. *Client implements it.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client tries providers in order, retrying retryable failures on each.
type Client struct {
	providers []Provider
	retries   int
	timeout   time.Duration
	backoff   time.Duration
	logger    *slog.Logger
}

var _ Completer = (*Client)(nil)

// NewClient wraps providers in a fallback chain.
func NewClient(providers []Provider, retries int, timeout time.Duration) *Client {
	return &Client{
		providers: providers,
		retries:   max(retries, 0),
		timeout:   timeout,
		backoff:   250 * time.Millisecond,
		logger:    slog.Default().With("component", "llm"),
	}
}

// NewFromConfig builds the provider chain named by cfg.Providers. An empty
// list yields a client with no providers, which always fails with ErrNoProvider.
func NewFromConfig(cfg config.LLMConfig) (*Client, error) {
	var providers []Provider
	for _, name := range cfg.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case ProviderOpenAI:
			providers = append(providers, NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.MaxTokens))
		case ProviderAnthropic:
			providers = append(providers, NewAnthropic(cfg.AnthropicKey, cfg.AnthropicModel, cfg.MaxTokens))
		case "":
		default:
			return nil, fmt.Errorf("unknown llm provider %q", name)
		}
	}
	return NewClient(providers, cfg.Retries, cfg.Timeout), nil
}

// Enabled reports whether any provider is configured.
func (c *Client) Enabled() bool { return c != nil && len(c.providers) > 0 }

// Complete returns the first successful completion across providers.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if !c.Enabled() {
		return "", ErrNoProvider
	}

	var lastErr error
	for _, p := range c.providers {
		text, err := c.try(ctx, p, req)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("llm provider failed", "provider", p.Name(), "error", err)
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) try(ctx context.Context, p Provider, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		start := time.Now()
		text, err := c.once(ctx, p, req)
		if err == nil {
			c.logger.Debug("llm request completed", "provider", p.Name(), "elapsed", time.Since(start))
			return text, nil
		}
		lastErr = ClassifyError(err, p.Name())
		if !IsRetryable(lastErr) {
			break
		}
	}
	return "", lastErr
}

func (c *Client) once(ctx context.Context, p Provider, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	text, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
