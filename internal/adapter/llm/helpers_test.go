package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrelay/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func testDescriptor(kind domain.ProviderKind, tasks ...domain.TaskKind) domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		Provider: string(kind),
		Model:    "test-model",
		Kind:     kind,
		Tasks:    tasks,
	}
}

func textRequest(prompt string) domain.GenerationRequest {
	return domain.GenerationRequest{
		ID:      "req-1",
		Kind:    domain.TaskText,
		Payload: domain.TaskPayload{Prompt: prompt},
	}
}

// mockAdapter is a scriptable domain.Adapter.
type mockAdapter struct {
	desc     domain.ProviderDescriptor
	sendFunc func(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error)
	calls    int
}

func (m *mockAdapter) Descriptor() domain.ProviderDescriptor    { return m.desc }
func (m *mockAdapter) Supports(kind domain.TaskKind) bool       { return m.desc.Serves(kind) }
func (m *mockAdapter) Classify(err error) domain.Classification { return ClassifyError(err) }

func (m *mockAdapter) Send(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	m.calls++
	if m.sendFunc == nil {
		return &domain.GenerationResponse{Content: "ok"}, nil
	}
	return m.sendFunc(ctx, req)
}

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusTooManyRequests, `{"error":"rate limit exceeded"}`, domain.ErrRateLimit},
		{http.StatusUnauthorized, `{"error":"invalid api key"}`, domain.ErrAuthInvalid},
		{http.StatusForbidden, `forbidden`, domain.ErrAuthInvalid},
		{http.StatusRequestTimeout, ``, domain.ErrTimeout},
		{http.StatusGatewayTimeout, ``, domain.ErrTimeout},
		{http.StatusRequestEntityTooLarge, `too big`, domain.ErrContextOverflow},
		{http.StatusBadRequest, `This model's maximum context length is 8192 tokens`, domain.ErrContextOverflow},
		{http.StatusBadRequest, `{"error":"bad field"}`, domain.ErrBadRequest},
		{http.StatusNotFound, `no such model`, domain.ErrBadRequest},
		{http.StatusUnprocessableEntity, ``, domain.ErrBadRequest},
		{http.StatusInternalServerError, `boom`, domain.ErrServer},
		{http.StatusBadGateway, `bad gateway`, domain.ErrServer},
		{http.StatusServiceUnavailable, `unavailable`, domain.ErrServer},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			err := mapHTTPError(tt.status, []byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), fmt.Sprintf("API error %d", tt.status))
		})
	}
}

func TestMapHTTPErrorUnmappedStatus(t *testing.T) {
	err := mapHTTPError(http.StatusTeapot, []byte("short and stout"))
	require.Error(t, err)
	assert.Equal(t, "API error 418: short and stout", err.Error())
	for _, s := range []error{domain.ErrBadRequest, domain.ErrServer, domain.ErrRateLimit} {
		assert.NotErrorIs(t, err, s)
	}
}

func TestMapHTTPErrorTruncatesBody(t *testing.T) {
	err := mapHTTPError(http.StatusInternalServerError, []byte(strings.Repeat("x", 2000)))
	assert.Less(t, len(err.Error()), 700)
	assert.True(t, strings.HasSuffix(err.Error(), "..."))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10) // two bytes each
	got := truncate(s, 5)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "éé...", got)
	assert.Equal(t, "abc", truncate("abc", 5))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWrapTransportError(t *testing.T) {
	t.Run("canceled passes through", func(t *testing.T) {
		err := wrapTransportError(fmt.Errorf("do: %w", context.Canceled))
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, domain.ErrTransport)
	})
	t.Run("deadline is a timeout", func(t *testing.T) {
		err := wrapTransportError(context.DeadlineExceeded)
		assert.ErrorIs(t, err, domain.ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
	t.Run("net timeout", func(t *testing.T) {
		assert.ErrorIs(t, wrapTransportError(timeoutErr{}), domain.ErrTimeout)
	})
	t.Run("other", func(t *testing.T) {
		assert.ErrorIs(t, wrapTransportError(errors.New("connection refused")), domain.ErrTransport)
	})
}

func TestPostUsesHeadersAndMapsStatus(t *testing.T) {
	var gotAuth, gotType string
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		gotType = req.Header.Get("Content-Type")
		return &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Body:       io.NopCloser(strings.NewReader("slow down")),
			Header:     make(http.Header),
		}, nil
	})}

	_, err := post(context.Background(), client, "http://example.test/x", []byte("{}"), map[string]string{"Authorization": "Bearer k"})
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, "application/json", gotType)
}

func TestPostTransportFailure(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset by peer")
	})}
	_, err := doJSONRequest(context.Background(), client, "http://example.test/x", nil, nil)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestSystemPrompt(t *testing.T) {
	text := domain.GenerationRequest{Kind: domain.TaskText, Payload: domain.TaskPayload{System: "be brief"}}
	assert.Equal(t, "be brief", systemPrompt(text))

	structured := domain.GenerationRequest{
		Kind:    domain.TaskStructured,
		Payload: domain.TaskPayload{System: "be brief", Schema: []byte(`{"type":"object"}`)},
	}
	got := systemPrompt(structured)
	assert.True(t, strings.HasPrefix(got, "be brief\n\n"))
	assert.Contains(t, got, `{"type":"object"}`)

	bare := domain.GenerationRequest{Kind: domain.TaskStructured}
	assert.Equal(t, structuredInstruction(nil), systemPrompt(bare))
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                   `{"a":1}`,
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"```\n{\"a\":1}\n```\n":     `{"a":1}`,
		"  ```json\n[1,2]\n```  ":   `[1,2]`,
		"plain text with ``` later": "plain text with ``` later",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripCodeFence(in), "input %q", in)
	}
}
