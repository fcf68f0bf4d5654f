package llm

import (
	"log/slog"
	"net/http"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

const (
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenRouterReferer = "https://github.com/genrelay/genrelay"
	defaultOpenRouterTitle   = "genrelay"
)

// openrouterTransport injects the attribution headers OpenRouter asks
// clients to send (HTTP-Referer and X-Title) into every request.
type openrouterTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *openrouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("HTTP-Referer", t.referer)
	clone.Header.Set("X-Title", t.title)
	return t.base.RoundTrip(clone)
}

// NewOpenRouterAdapter returns a CompatibleAdapter pointed at OpenRouter
// whose transport adds the attribution headers.
func NewOpenRouterAdapter(desc domain.ProviderDescriptor, apiKey string, cfg config.ProviderConfig, logger *slog.Logger) *CompatibleAdapter {
	client := NewHTTPClient(cfg)
	client.Transport = &openrouterTransport{
		base:    client.Transport,
		referer: firstNonEmpty(cfg.Referer, defaultOpenRouterReferer),
		title:   firstNonEmpty(cfg.AppTitle, defaultOpenRouterTitle),
	}

	baseURL := firstNonEmpty(cfg.BaseURL, desc.BaseURL, defaultOpenRouterBaseURL)
	return NewCompatibleAdapter(desc, apiKey, baseURL, client, logger)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
