package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

func TestOpenRouterTransportAddsHeaders(t *testing.T) {
	var captured *http.Request
	inner := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: make(http.Header)}, nil
	})
	transport := &openrouterTransport{base: inner, referer: "https://example.test", title: "tester"}

	orig, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	orig.Header.Set("Authorization", "Bearer k")
	_, err := transport.RoundTrip(orig)
	require.NoError(t, err)

	assert.Equal(t, "https://example.test", captured.Header.Get("HTTP-Referer"))
	assert.Equal(t, "tester", captured.Header.Get("X-Title"))
	assert.Equal(t, "Bearer k", captured.Header.Get("Authorization"))
	assert.Empty(t, orig.Header.Get("X-Title"), "original request must not be mutated")
}

func TestOpenRouterAdapterSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, defaultOpenRouterReferer, r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "custom", r.Header.Get("X-Title"))
		assert.Equal(t, "Bearer or-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"routed"}}]}`))
	}))
	defer server.Close()

	desc := testDescriptor(domain.KindOpenRouter)
	desc.Model = "meta-llama/llama-3.1-70b-instruct"
	a := NewOpenRouterAdapter(desc, "or-key", config.ProviderConfig{BaseURL: server.URL, AppTitle: "custom"}, newTestLogger())

	resp, err := a.Send(context.Background(), textRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "routed", resp.Content)
}

func TestOpenRouterAdapterDefaults(t *testing.T) {
	a := NewOpenRouterAdapter(testDescriptor(domain.KindOpenRouter), "k", config.ProviderConfig{}, newTestLogger())
	assert.Equal(t, defaultOpenRouterBaseURL, a.baseURL)
	tr, ok := a.client.Transport.(*openrouterTransport)
	require.True(t, ok)
	assert.Equal(t, defaultOpenRouterTitle, tr.title)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
