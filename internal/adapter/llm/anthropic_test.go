package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrelay/internal/domain"
)

func TestAnthropicAdapterSend(t *testing.T) {
	var sent map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), "path %s", r.URL.Path)
		assert.Equal(t, "ant-key", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "world"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 11, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	a := NewAnthropicAdapter(testDescriptor(domain.KindAnthropic), "ant-key", server.URL, server.Client(), newTestLogger())
	req := textRequest("hi")
	req.Payload.System = "be kind"

	resp, err := a.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Content)
	assert.Equal(t, domain.Usage{PromptTokens: 11, CompletionTokens: 4, TotalTokens: 15}, resp.Usage)

	assert.Equal(t, "test-model", sent["model"])
	assert.EqualValues(t, defaultAnthropicMaxTokens, sent["max_tokens"])
	system, ok := sent["system"].([]any)
	require.True(t, ok)
	assert.Equal(t, "be kind", system[0].(map[string]any)["text"])
}

func TestAnthropicAdapterEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"m","type":"message","role":"assistant","model":"x","content":[],"stop_reason":"max_tokens","usage":{"input_tokens":1,"output_tokens":0}}`))
	}))
	defer server.Close()

	a := NewAnthropicAdapter(testDescriptor(domain.KindAnthropic), "k", server.URL, server.Client(), newTestLogger())
	_, err := a.Send(context.Background(), textRequest("hi"))
	assert.ErrorIs(t, err, domain.ErrInvalidOutput)
}

func TestAnthropicAdapterErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow"}}`, domain.ErrRateLimit},
		{http.StatusUnauthorized, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, domain.ErrAuthInvalid},
		{http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 300000 tokens"}}`, domain.ErrContextOverflow},
		{529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, domain.ErrServer},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			a := NewAnthropicAdapter(testDescriptor(domain.KindAnthropic), "k", server.URL, server.Client(), newTestLogger())
			_, err := a.Send(context.Background(), textRequest("hi"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAnthropicAdapterTextOnly(t *testing.T) {
	a := NewAnthropicAdapter(testDescriptor(domain.KindAnthropic, domain.TaskText), "k", "", nil, newTestLogger())
	assert.True(t, a.Supports(domain.TaskText))
	assert.False(t, a.Supports(domain.TaskStructured))
	assert.False(t, a.Supports(domain.TaskSpeech))
}
