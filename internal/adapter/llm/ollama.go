package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"genrelay/internal/domain"
)

// Default Ollama timeouts: short connect (local), long response (model loading).
const (
	ollamaDefaultConnTimeout = 5 * time.Second
	ollamaDefaultRespTimeout = 300 * time.Second
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaAdapter talks to a local or remote Ollama server through its native
// chat API.
type OllamaAdapter struct {
	adapterBase
	host   string
	client *api.Client
}

// NewOllamaAdapter creates an adapter for the server at host. host takes the
// same forms as OLLAMA_HOST ("127.0.0.1:11434", "http://box:11434").
func NewOllamaAdapter(desc domain.ProviderDescriptor, host string, httpClient *http.Client, logger *slog.Logger) (*OllamaAdapter, error) {
	u, err := parseOllamaHost(host)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaAdapter{
		adapterBase: newBase(desc, logger),
		host:        u.String(),
		client:      api.NewClient(u, httpClient),
	}, nil
}

func parseOllamaHost(host string) (*url.URL, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = defaultOllamaHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid ollama host %q", domain.ErrConfiguration, host)
	}
	return u, nil
}

// Send implements domain.Adapter.
func (a *OllamaAdapter) Send(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	ctx, span, err := a.begin(ctx, req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	var (
		b     strings.Builder
		usage domain.Usage
	)
	err = a.client.Chat(ctx, toOllamaRequest(a.desc.Model, req), func(r api.ChatResponse) error {
		b.WriteString(r.Message.Content)
		if r.Done {
			usage.PromptTokens = r.PromptEvalCount
			usage.CompletionTokens = r.EvalCount
			usage.TotalTokens = r.PromptEvalCount + r.EvalCount
		}
		return nil
	})
	if err != nil {
		return a.finish(span, nil, mapOllamaError(err))
	}

	content := b.String()
	if req.Kind == domain.TaskStructured {
		content = stripCodeFence(content)
	}
	return a.finish(span, &domain.GenerationResponse{Content: content, Usage: usage}, nil)
}

func toOllamaRequest(model string, req domain.GenerationRequest) *api.ChatRequest {
	stream := false
	out := &api.ChatRequest{
		Model:   model,
		Stream:  &stream,
		Options: map[string]any{},
	}
	if sys := systemPrompt(req); sys != "" {
		out.Messages = append(out.Messages, api.Message{Role: "system", Content: sys})
	}
	out.Messages = append(out.Messages, api.Message{Role: "user", Content: req.Payload.Prompt})

	if req.Payload.MaxTokens > 0 {
		out.Options["num_predict"] = req.Payload.MaxTokens
	}
	if req.Payload.Temperature != nil {
		out.Options["temperature"] = *req.Payload.Temperature
	}
	if req.Kind == domain.TaskStructured {
		// Ollama constrains decoding to a JSON schema when given one.
		if len(req.Payload.Schema) > 0 && json.Valid(req.Payload.Schema) {
			out.Format = json.RawMessage(req.Payload.Schema)
		} else {
			out.Format = json.RawMessage(`"json"`)
		}
	}
	return out
}

func mapOllamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		detail := statusErr.ErrorMessage
		if detail == "" {
			detail = statusErr.Status
		}
		return mapHTTPError(statusErr.StatusCode, []byte(detail))
	}
	// The client reports server-side {"error": ...} bodies as plain errors.
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	return wrapTransportError(err)
}

var _ domain.Adapter = (*OllamaAdapter)(nil)
