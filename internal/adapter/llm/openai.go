package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"genrelay/internal/domain"
)

// OpenAIAdapter calls the OpenAI chat completions API through the official
// SDK. SDK-level retries are disabled: the dispatcher owns the retry budget.
type OpenAIAdapter struct {
	adapterBase
	client openai.Client
}

// NewOpenAIAdapter creates an adapter. An empty baseURL keeps the SDK default.
func NewOpenAIAdapter(desc domain.ProviderDescriptor, apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *OpenAIAdapter {
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
	return &OpenAIAdapter{
		adapterBase: newBase(desc, logger),
		client:      openai.NewClient(opts...),
	}
}

// Send implements domain.Adapter.
func (a *OpenAIAdapter) Send(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	ctx, span, err := a.begin(ctx, req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	completion, err := a.client.Chat.Completions.New(ctx, a.params(req))
	if err != nil {
		return a.finish(span, nil, mapOpenAIError(err))
	}
	if len(completion.Choices) == 0 {
		return a.finish(span, nil, errNoChoices)
	}

	content := completion.Choices[0].Message.Content
	if req.Kind == domain.TaskStructured {
		content = stripCodeFence(content)
	}
	return a.finish(span, &domain.GenerationResponse{
		Content: content,
		Usage: domain.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil)
}

func (a *OpenAIAdapter) params(req domain.GenerationRequest) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if sys := systemPrompt(req); sys != "" {
		msgs = append(msgs, openai.SystemMessage(sys))
	}
	msgs = append(msgs, openai.UserMessage(req.Payload.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.desc.Model),
		Messages: msgs,
	}
	if req.Payload.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.Payload.MaxTokens))
	}
	if req.Payload.Temperature != nil {
		params.Temperature = openai.Float(*req.Payload.Temperature)
	}
	if req.Kind == domain.TaskStructured {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// mapOpenAIError turns SDK errors into the shared sentinel vocabulary.
func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		detail := apiErr.Message
		if detail == "" {
			detail = apiErr.Error()
		}
		return mapHTTPError(apiErr.StatusCode, []byte(detail))
	}
	return wrapTransportError(err)
}

var _ domain.Adapter = (*OpenAIAdapter)(nil)
