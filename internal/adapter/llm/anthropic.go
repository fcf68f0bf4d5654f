package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"genrelay/internal/domain"
)

// The Messages API requires max_tokens on every call.
const defaultAnthropicMaxTokens = 4096

// AnthropicAdapter calls the Anthropic Messages API through the official SDK.
type AnthropicAdapter struct {
	adapterBase
	client anthropic.Client
}

// NewAnthropicAdapter creates an adapter. An empty baseURL keeps the SDK default.
func NewAnthropicAdapter(desc domain.ProviderDescriptor, apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *AnthropicAdapter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicAdapter{
		adapterBase: newBase(desc, logger),
		client:      anthropic.NewClient(opts...),
	}
}

// Send implements domain.Adapter.
func (a *AnthropicAdapter) Send(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	ctx, span, err := a.begin(ctx, req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.desc.Model),
		MaxTokens: int64(maxTokensOr(req.Payload.MaxTokens, defaultAnthropicMaxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Payload.Prompt)),
		},
	}
	if sys := systemPrompt(req); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if req.Payload.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Payload.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return a.finish(span, nil, mapAnthropicError(err))
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return a.finish(span, nil, fmt.Errorf("%w: response has no text content (stop_reason %s)", domain.ErrInvalidOutput, msg.StopReason))
	}

	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return a.finish(span, &domain.GenerationResponse{
		Content: b.String(),
		Usage:   domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil)
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return mapHTTPError(apiErr.StatusCode, []byte(apiErr.Error()))
	}
	return wrapTransportError(err)
}

var _ domain.Adapter = (*AnthropicAdapter)(nil)
