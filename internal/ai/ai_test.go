package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/nsma/nsma/internal/config"
	"github.com/nsma/nsma/internal/retry"
)

// fakeProvider returns canned results and counts calls.
type fakeProvider struct {
	name       string
	configured bool
	reply      string
	err        error
	calls      atomic.Int32
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Expand(ctx context.Context, system, user string) (string, error) {
	f.calls.Add(1)
	return f.reply, f.err
}

func (f *fakeProvider) Retryable(err error) bool { return retry.IsRetryable(err) }

type overloaded struct{}

func (overloaded) Error() string    { return "overloaded" }
func (overloaded) HTTPStatus() int { return 503 }

func fastPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	return p
}

func TestChain_FallsThroughToNextProvider(t *testing.T) {
	a := &fakeProvider{name: "a", configured: true, err: overloaded{}}
	b := &fakeProvider{name: "b", configured: true, reply: "expanded by b"}

	chain := NewChain([]Provider{a, b}, WithPolicy(fastPolicy()))
	got, err := chain.Expand(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "expanded by b", got.Text)
	assert.Equal(t, "b", got.Provider)

	// a is retried to exhaustion before b is consulted.
	assert.Equal(t, int32(retry.DefaultMaxRetries+1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestChain_NonRetryableFailsOverWithoutRetry(t *testing.T) {
	a := &fakeProvider{name: "a", configured: true, err: errors.New("bad request")}
	b := &fakeProvider{name: "b", configured: true, reply: "ok"}

	got, err := NewChain([]Provider{a, b}, WithPolicy(fastPolicy())).Expand(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Provider)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestChain_SkipsUnconfigured(t *testing.T) {
	a := &fakeProvider{name: "a", reply: "never"}
	b := &fakeProvider{name: "b", configured: true, reply: "ok"}

	chain := NewChain([]Provider{a, b}, WithPolicy(fastPolicy()))
	assert.Equal(t, []string{"b"}, chain.Providers())

	got, err := chain.Expand(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Text)
	assert.Zero(t, a.calls.Load())
}

func TestChain_Exhausted(t *testing.T) {
	tests := []struct {
		name      string
		providers []Provider
	}{
		{"none", nil},
		{"unconfigured", []Provider{&fakeProvider{name: "a"}}},
		{"all fail", []Provider{
			&fakeProvider{name: "a", configured: true, err: errors.New("nope")},
			&fakeProvider{name: "b", configured: true, reply: "   "},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChain(tt.providers, WithPolicy(fastPolicy())).Expand(context.Background(), "", "")
			assert.ErrorIs(t, err, ErrExhausted)
		})
	}
}

func TestChain_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &fakeProvider{name: "a", configured: true, reply: "x"}

	_, err := NewChain([]Provider{a}).Expand(ctx, "", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.calls.Load())
}

func TestFromSettings_Order(t *testing.T) {
	chain := FromSettings(config.AISettings{
		Priority:  []string{"OpenAI", "bogus", "anthropic", "openai"},
		Anthropic: config.ProviderSettings{APIKey: "ak"},
		OpenAI:    config.ProviderSettings{APIKey: "ok"},
	}, nil)
	assert.Equal(t, []string{NameOpenAI, NameAnthropic}, chain.Providers())

	chain = FromSettings(config.AISettings{Gemini: config.ProviderSettings{APIKey: "g"}}, nil)
	assert.Equal(t, []string{NameGemini}, chain.Providers())
}

// deadlineProvider records how much time its attempt context allows.
type deadlineProvider struct {
	fakeProvider
	budget time.Duration
}

func (d *deadlineProvider) Expand(ctx context.Context, system, user string) (string, error) {
	if dl, ok := ctx.Deadline(); ok {
		d.budget = time.Until(dl)
	}
	return d.fakeProvider.Expand(ctx, system, user)
}

func TestChain_AttemptTimeoutFitsLongGenerations(t *testing.T) {
	p := &deadlineProvider{fakeProvider: fakeProvider{name: "slow", configured: true, reply: "ok"}}

	_, err := NewChain([]Provider{p}).Expand(context.Background(), "", "")
	require.NoError(t, err)
	assert.Greater(t, p.budget, 2*time.Minute)
	assert.LessOrEqual(t, p.budget, DefaultAttemptTimeout)

	policy := DefaultPolicy()
	assert.Equal(t, DefaultAttemptTimeout, policy.AttemptTimeout)
	assert.GreaterOrEqual(t, policy.MaxElapsed, policy.AttemptTimeout)
}

func TestFromSettings_Timeouts(t *testing.T) {
	chain := FromSettings(config.AISettings{
		AttemptTimeout: 4 * time.Minute,
		MaxElapsed:     time.Minute,
	}, nil)
	assert.Equal(t, 4*time.Minute, chain.policy.AttemptTimeout)
	assert.Equal(t, 4*time.Minute, chain.policy.MaxElapsed)

	chain = FromSettings(config.AISettings{}, nil)
	assert.Equal(t, DefaultAttemptTimeout, chain.policy.AttemptTimeout)
	assert.Equal(t, DefaultMaxElapsed, chain.policy.MaxElapsed)
}

func TestOpenAI_Expand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "expand this", req.Messages[1].Content)
		}
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"# Prompt"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAI("key", "test-model", srv.URL+"/")
	got, err := p.Expand(context.Background(), "be helpful", "expand this")
	require.NoError(t, err)
	assert.Equal(t, "# Prompt", got)
}

func TestOpenAI_StatusErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"bad"}`)
	}))
	defer srv.Close()

	p := NewOpenAI("key", "", srv.URL)

	_, err := p.Expand(context.Background(), "", "")
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 429, serr.Code)
	assert.Equal(t, 7*time.Second, serr.RetryAfter())
	assert.True(t, p.Retryable(err))

	_, err = p.Expand(context.Background(), "", "")
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 400, serr.Code)
	assert.False(t, p.Retryable(err))
}

func TestAnthropic_OverloadIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer srv.Close()

	p := NewAnthropic("key", "", srv.URL)
	require.True(t, p.Configured())

	_, err := p.Expand(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.True(t, p.Retryable(err))
}

func TestAnthropic_Expand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"m",
			"content":[{"type":"text","text":"full "},{"type":"text","text":"prompt"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	got, err := NewAnthropic("key", "m", srv.URL).Expand(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "full prompt", got)
}

func TestGemini_Retryable(t *testing.T) {
	g := NewGemini("", "", "")
	assert.False(t, g.Configured())

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", genai.APIError{Code: 429}, true},
		{"unavailable", genai.APIError{Code: 503, Status: "UNAVAILABLE"}, true},
		{"exhausted status", genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, true},
		{"bad request", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, false},
		{"network", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Retryable(tt.err))
		})
	}
}
