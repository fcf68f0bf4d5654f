package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"genrelay/internal/domain"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// CompatibleAdapter speaks the OpenAI wire format over plain HTTP. It serves
// any OpenAI-compatible endpoint (groq, together, vLLM, the OpenAI speech
// API) and underlies the openrouter adapter.
type CompatibleAdapter struct {
	adapterBase
	apiKey  string
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewCompatibleAdapter creates an adapter. An empty baseURL means OpenAI.
func NewCompatibleAdapter(desc domain.ProviderDescriptor, apiKey, baseURL string, client *http.Client, logger *slog.Logger) *CompatibleAdapter {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return &CompatibleAdapter{
		adapterBase: newBase(desc, logger),
		apiKey:      apiKey,
		baseURL:     baseURL,
		client:      client,
		headers:     headers,
	}
}

// Send implements domain.Adapter.
func (a *CompatibleAdapter) Send(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	ctx, span, err := a.begin(ctx, req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	var resp *domain.GenerationResponse
	if req.Kind == domain.TaskSpeech {
		resp, err = a.speech(ctx, req)
	} else {
		resp, err = a.chat(ctx, req)
	}
	return a.finish(span, resp, err)
}

func (a *CompatibleAdapter) chat(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	body, err := json.Marshal(toChatRequest(a.desc.Model, req))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrBadRequest, err)
	}

	respBody, err := doJSONRequest(ctx, a.client, a.baseURL+"/chat/completions", body, a.headers)
	if err != nil {
		return nil, err
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrInvalidOutput, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrServer, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, errNoChoices
	}

	content := out.Choices[0].Message.Content
	if req.Kind == domain.TaskStructured {
		content = stripCodeFence(content)
	}
	return &domain.GenerationResponse{
		Content: content,
		Usage: domain.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

const defaultVoice = "alloy"

func (a *CompatibleAdapter) speech(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	voice := req.Payload.Voice
	if voice == "" {
		voice = defaultVoice
	}
	format := req.Payload.Params["format"]
	if format == "" {
		format = "mp3"
	}
	body, err := json.Marshal(speechRequest{
		Model:          a.desc.Model,
		Input:          req.Payload.Prompt,
		Voice:          voice,
		ResponseFormat: format,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrBadRequest, err)
	}

	reply, err := post(ctx, a.client, a.baseURL+"/audio/speech", body, a.headers)
	if err != nil {
		return nil, err
	}
	if len(reply.body) == 0 {
		return nil, fmt.Errorf("%w: empty audio body", domain.ErrInvalidOutput)
	}
	if strings.HasPrefix(reply.contentType, "application/json") {
		return nil, fmt.Errorf("%w: expected audio, got JSON: %s", domain.ErrInvalidOutput, truncate(string(reply.body), maxErrorDetail))
	}

	mime := reply.contentType
	if mime == "" {
		mime = "audio/" + format
	}
	return &domain.GenerationResponse{Audio: reply.body, MimeType: mime}, nil
}

var _ domain.Adapter = (*CompatibleAdapter)(nil)

// --- OpenAI wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

func toChatRequest(model string, req domain.GenerationRequest) chatRequest {
	out := chatRequest{
		Model:       model,
		MaxTokens:   req.Payload.MaxTokens,
		Temperature: req.Payload.Temperature,
	}
	if sys := systemPrompt(req); sys != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: sys})
	}
	out.Messages = append(out.Messages, chatMessage{Role: "user", Content: req.Payload.Prompt})
	if req.Kind == domain.TaskStructured {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return out
}
