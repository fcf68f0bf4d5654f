package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"genrelay/internal/domain"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiAdapter calls the Google Gemini generateContent API.
type GeminiAdapter struct {
	adapterBase
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewGeminiAdapter creates an adapter. The key travels in a header rather
// than the query string so it never shows up in transport errors.
func NewGeminiAdapter(desc domain.ProviderDescriptor, apiKey, baseURL string, client *http.Client, logger *slog.Logger) *GeminiAdapter {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiAdapter{
		adapterBase: newBase(desc, logger),
		baseURL:     baseURL,
		client:      client,
		headers:     map[string]string{"x-goog-api-key": apiKey},
	}
}

// Send implements domain.Adapter.
func (a *GeminiAdapter) Send(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	ctx, span, err := a.begin(ctx, req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return a.finish(span, nil, fmt.Errorf("%w: marshal request: %v", domain.ErrBadRequest, err))
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, url.PathEscape(a.desc.Model))
	respBody, err := doJSONRequest(ctx, a.client, endpoint, body, a.headers)
	if err != nil {
		return a.finish(span, nil, err)
	}

	var gemResp geminiResponse
	if err := json.Unmarshal(respBody, &gemResp); err != nil {
		return a.finish(span, nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrInvalidOutput, err))
	}
	resp, err := fromGeminiResponse(gemResp)
	if err == nil && req.Kind == domain.TaskStructured {
		resp.Content = stripCodeFence(resp.Content)
	}
	return a.finish(span, resp, err)
}

var _ domain.Adapter = (*GeminiAdapter)(nil)

// --- Gemini API wire types ---

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenConfig struct {
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	UsageMetadata  *geminiUsage      `json:"usageMetadata,omitempty"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func toGeminiRequest(req domain.GenerationRequest) geminiRequest {
	out := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Payload.Prompt}}}},
	}
	if sys := systemPrompt(req); sys != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}

	cfg := geminiGenConfig{
		MaxOutputTokens: req.Payload.MaxTokens,
		Temperature:     req.Payload.Temperature,
	}
	if req.Kind == domain.TaskStructured {
		cfg.ResponseMimeType = "application/json"
	}
	if cfg != (geminiGenConfig{}) {
		out.GenerationConfig = &cfg
	}
	return out
}

func fromGeminiResponse(r geminiResponse) (*domain.GenerationResponse, error) {
	if len(r.Candidates) == 0 {
		if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("%w: prompt blocked: %s", domain.ErrBadRequest, r.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("%w: response has no candidates", domain.ErrInvalidOutput)
	}

	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}

	resp := &domain.GenerationResponse{Content: b.String()}
	if r.UsageMetadata != nil {
		resp.Usage = domain.Usage{
			PromptTokens:     r.UsageMetadata.PromptTokenCount,
			CompletionTokens: r.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      r.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}
