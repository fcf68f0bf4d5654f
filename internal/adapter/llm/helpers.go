package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"genrelay/internal/domain"
	"genrelay/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size read from provider APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// maxErrorDetail caps how much of an error body ends up in messages.
const maxErrorDetail = 512

type httpReply struct {
	body        []byte
	contentType string
}

// doJSONRequest POSTs a JSON body and returns the response body. Non-200
// responses become domain errors via mapHTTPError; transport failures via
// wrapTransportError.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	reply, err := post(ctx, client, url, body, headers)
	if err != nil {
		return nil, err
	}
	return reply.body, nil
}

func post(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*httpReply, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrBadRequest, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody+1))
	if err != nil {
		return nil, wrapTransportError(fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}
	if len(respBody) > maxResponseBody {
		return nil, fmt.Errorf("%w: response body exceeds %d bytes", domain.ErrInvalidOutput, maxResponseBody)
	}

	return &httpReply{body: respBody, contentType: httpResp.Header.Get("Content-Type")}, nil
}

var errNoChoices = fmt.Errorf("%w: response has no choices", domain.ErrInvalidOutput)

// wrapTransportError tags a failed round trip as a timeout or a transport
// error. Cancellation of the caller's context is passed through unchanged.
func wrapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrTransport, err)
}

// mapHTTPError maps an HTTP status code + response body to a domain error.
// Statuses with no mapping keep the "API error NNN" form and are left for
// ClassifyError to judge.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, truncate(string(body), maxErrorDetail))

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", domain.ErrTimeout, detail)
	case statusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode == http.StatusBadRequest && mentionsContextLimit(string(body)):
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound ||
		statusCode == http.StatusUnprocessableEntity || statusCode == http.StatusUnsupportedMediaType:
		return fmt.Errorf("%w: %s", domain.ErrBadRequest, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrServer, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}

var contextLimitPhrases = []string{
	"context length", "context window", "maximum context", "too many tokens", "token limit", "prompt is too long",
}

func mentionsContextLimit(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range contextLimitPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// structuredInstruction is appended to the system prompt of structured
// requests for backends without native schema enforcement.
func structuredInstruction(schema []byte) string {
	if len(schema) == 0 {
		return "Respond with a single JSON document and nothing else."
	}
	return "Respond with a single JSON document and nothing else. It must conform to this JSON schema:\n" + string(schema)
}

// systemPrompt returns the effective system prompt for req.
func systemPrompt(req domain.GenerationRequest) string {
	if req.Kind != domain.TaskStructured {
		return req.Payload.System
	}
	instr := structuredInstruction(req.Payload.Schema)
	if req.Payload.System == "" {
		return instr
	}
	return req.Payload.System + "\n\n" + instr
}

// stripCodeFence removes a surrounding ```json fence some models add even
// when asked for bare JSON.
func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// logSendCompleted logs the standard debug message after a successful call.
func logSendCompleted(logger *slog.Logger, desc domain.ProviderDescriptor, resp *domain.GenerationResponse) {
	logger.Debug("provider call completed",
		"provider", desc.Provider,
		"model", desc.Model,
		"tokens", resp.Usage.TotalTokens,
	)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}
