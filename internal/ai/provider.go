// Package ai expands brief work-item ideas into full prompts using a chain
// of language-model providers. Providers are tried strictly in order; the
// next provider is only consulted once the previous one has exhausted its
// own retries.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nsma/nsma/internal/config"
	"github.com/nsma/nsma/internal/retry"
)

// ErrExhausted is returned by Chain.Expand when no provider is configured or
// every configured provider failed. Callers fall back to static content.
var ErrExhausted = errors.New("ai providers exhausted")

// Provider is a content-expansion backend.
type Provider interface {
	// Name identifies the provider in logs and priority lists.
	Name() string

	// Configured reports whether the provider has a credential.
	Configured() bool

	// Expand sends one system/user prompt pair and returns the reply text.
	Expand(ctx context.Context, system, user string) (string, error)

	// Retryable reports whether err is worth retrying on this provider.
	Retryable(err error) bool
}

// Expansion is a successful chain result.
type Expansion struct {
	Text     string
	Provider string
}

// Chain is an ordered provider list.
type Chain struct {
	providers []Provider
	policy    retry.Policy
	logger    *zap.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithPolicy sets the base retry policy. Each provider's Retryable
// predicate replaces the policy's IsRetryable.
func WithPolicy(p retry.Policy) ChainOption {
	return func(c *Chain) { c.policy = p }
}

// WithLogger sets the chain logger.
func WithLogger(l *zap.Logger) ChainOption {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// Generation calls run far longer than remote store calls.
const (
	DefaultAttemptTimeout = 3 * time.Minute
	DefaultMaxElapsed     = 10 * time.Minute
)

// DefaultPolicy returns the retry policy used per provider: the remote
// store backoff with generation-sized time bounds.
func DefaultPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.AttemptTimeout = DefaultAttemptTimeout
	p.MaxElapsed = DefaultMaxElapsed
	return p
}

// NewChain returns a chain over providers in the given order.
func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		policy:    DefaultPolicy(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the names of the configured providers in order.
func (c *Chain) Providers() []string {
	var names []string
	for _, p := range c.providers {
		if p.Configured() {
			names = append(names, p.Name())
		}
	}
	return names
}

// Expand tries each configured provider in order and returns the first
// non-empty reply. It returns ErrExhausted when none succeeds, and the
// context error when ctx is done.
func (c *Chain) Expand(ctx context.Context, system, user string) (*Expansion, error) {
	tried := 0
	for _, p := range c.providers {
		if !p.Configured() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tried++

		log := c.logger.With(zap.String("provider", p.Name()))
		policy := c.policy.WithRetryable(p.Retryable)
		policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			log.Debug("retrying provider",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}

		text, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
			return p.Expand(ctx, system, user)
		})
		if err == nil && strings.TrimSpace(text) == "" {
			err = errors.New("empty response")
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("provider failed, falling through", zap.Error(err))
			continue
		}
		return &Expansion{Text: text, Provider: p.Name()}, nil
	}

	if tried == 0 {
		return nil, fmt.Errorf("%w: no provider configured", ErrExhausted)
	}
	return nil, fmt.Errorf("%w: %d provider(s) failed", ErrExhausted, tried)
}

// Provider names used in the priority list.
const (
	NameAnthropic = "anthropic"
	NameGemini    = "gemini"
	NameOpenAI    = "openai"
)

// DefaultPriority is the provider order used when settings name none.
var DefaultPriority = []string{NameAnthropic, NameGemini, NameOpenAI}

// FromSettings builds a chain with providers ordered by s.Priority.
// Unknown names are logged and ignored; providers missing from the list
// are not used.
func FromSettings(s config.AISettings, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	priority := s.Priority
	if len(priority) == 0 {
		priority = DefaultPriority
	}

	seen := make(map[string]bool)
	var providers []Provider
	for _, name := range priority {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case NameAnthropic:
			providers = append(providers, NewAnthropic(s.Anthropic.APIKey, s.Anthropic.Model, s.Anthropic.BaseURL))
		case NameGemini:
			providers = append(providers, NewGemini(s.Gemini.APIKey, s.Gemini.Model, s.Gemini.BaseURL))
		case NameOpenAI:
			providers = append(providers, NewOpenAI(s.OpenAI.APIKey, s.OpenAI.Model, s.OpenAI.BaseURL))
		default:
			logger.Warn("unknown ai provider in priority list", zap.String("provider", name))
		}
	}
	policy := DefaultPolicy()
	if s.AttemptTimeout > 0 {
		policy.AttemptTimeout = s.AttemptTimeout
	}
	if s.MaxElapsed > 0 {
		policy.MaxElapsed = s.MaxElapsed
	}
	if policy.MaxElapsed < policy.AttemptTimeout {
		policy.MaxElapsed = policy.AttemptTimeout
	}
	return NewChain(providers, WithPolicy(policy), WithLogger(logger))
}

// retryableStatus is the status classification shared by providers: 429
// and server errors.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
