package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/nsma/nsma/internal/retry"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini expands prompts with the Gemini API. The client is created on
// first use because construction needs a context.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// NewGemini returns a Gemini provider.
func NewGemini(apiKey, model, baseURL string) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		baseURL: baseURL,
	}
}

func (g *Gemini) Name() string { return NameGemini }

func (g *Gemini) Configured() bool { return g.apiKey != "" }

func (g *Gemini) init(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if g.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
		}
		g.client, g.clientErr = genai.NewClient(ctx, cfg)
		if g.clientErr != nil {
			g.clientErr = fmt.Errorf("failed to create Gemini client: %w", g.clientErr)
		}
	})
	return g.client, g.clientErr
}

func (g *Gemini) Expand(ctx context.Context, system, user string) (string, error) {
	client, err := g.init(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Retryable accepts 429, 503 and other server errors, the
// RESOURCE_EXHAUSTED and UNAVAILABLE statuses, and the generic network set.
func (g *Gemini) Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if code, status, ok := geminiStatus(err); ok {
		switch status {
		case "RESOURCE_EXHAUSTED", "UNAVAILABLE":
			return true
		}
		return retryableStatus(code)
	}
	return retry.IsNetworkError(err)
}

func geminiStatus(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, apiErrPtr.Status, true
	}
	return 0, "", false
}
