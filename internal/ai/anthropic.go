package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nsma/nsma/internal/retry"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	anthropicMaxTokens    = 4096

	// statusOverloaded is Anthropic's non-standard overload status.
	statusOverloaded = 529
)

// Anthropic expands prompts with the Anthropic Messages API.
type Anthropic struct {
	apiKey string
	model  string
	client anthropic.Client
}

// NewAnthropic returns an Anthropic provider. An empty model selects the
// default; an empty baseURL uses the public API.
func NewAnthropic(apiKey, model, baseURL string) *Anthropic {
	if model == "" {
		model = defaultAnthropicModel
	}
	// The chain owns retries.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{
		apiKey: strings.TrimSpace(apiKey),
		model:  model,
		client: anthropic.NewClient(opts...),
	}
}

func (a *Anthropic) Name() string { return NameAnthropic }

func (a *Anthropic) Configured() bool { return a.apiKey != "" }

func (a *Anthropic) Expand(ctx context.Context, system, user string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// Retryable accepts rate limiting, overload (529 or overloaded_error),
// server errors and the generic network set.
func (a *Anthropic) Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == statusOverloaded || retryableStatus(apiErr.StatusCode) {
			return true
		}
		return strings.Contains(apiErr.Error(), "overloaded_error")
	}
	return retry.IsNetworkError(err)
}
