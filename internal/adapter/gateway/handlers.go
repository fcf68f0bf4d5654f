package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"genrelay/internal/domain"
)

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	RequestID   string          `json:"request_id,omitempty"`
	Task        domain.TaskKind `json:"task,omitempty"` // defaults to text
	Prompt      string          `json:"prompt"`
	System      string          `json:"system,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Voice       string          `json:"voice,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TimeoutMS   int             `json:"timeout_ms,omitempty"`
}

func (g GenerateRequest) toDomain() domain.GenerationRequest {
	kind := g.Task
	if kind == "" {
		kind = domain.TaskText
	}
	return domain.GenerationRequest{
		ID:   g.RequestID,
		Kind: kind,
		Payload: domain.TaskPayload{
			Prompt:      g.Prompt,
			System:      g.System,
			Schema:      []byte(g.Schema),
			Voice:       g.Voice,
			MaxTokens:   g.MaxTokens,
			Temperature: g.Temperature,
		},
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	ChainLength   int    `json:"chain_length"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		ChainLength:   len(s.deps.Chain),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleChain(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"chain": s.deps.Chain})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.CodeInvalidInput), "invalid JSON body: "+err.Error())
		return
	}
	if body.TimeoutMS < 0 {
		writeError(w, http.StatusBadRequest, string(domain.CodeInvalidInput), "timeout_ms must be >= 0")
		return
	}

	ctx := r.Context()
	if body.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(body.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	res, err := s.deps.Generator.Generate(ctx, body.toDomain())
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the response was ready.
const statusClientClosedRequest = 499

func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	var agg *domain.AggregateFailure
	switch {
	case errors.As(err, &agg):
		status := http.StatusBadGateway
		code := domain.CodeExhausted
		switch {
		case errors.Is(agg.Cause, context.Canceled):
			status = statusClientClosedRequest
			code = domain.CodeTimeout
		case agg.TimedOut:
			status = http.StatusGatewayTimeout
			code = domain.CodeTimeout
		}
		writeErrorWithDetails(w, status, string(code), agg.Error(), agg)
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, string(domain.CodeInvalidInput), err.Error())
	default:
		s.logger.Error("generate failed", "error", err)
		writeError(w, http.StatusInternalServerError, string(domain.ErrorCodeOf(err)), err.Error())
	}
}

// handleEvents upgrades to a websocket and streams dispatch events. An
// optional comma-separated type query parameter filters by event type.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "event stream is disabled")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := &eventClient{
		ws:     ws,
		types:  parseEventTypes(r.URL.Query().Get("type")),
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	id := s.nextID.Add(1)
	s.clients.Store(id, c)
	s.logger.Info("event subscriber connected", "conn_id", id)

	// Subscribers only listen; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())

	hello, _ := json.Marshal(map[string]any{"chain_length": len(s.deps.Chain)})
	c.sendCh <- Frame{Type: FrameTypeHello, Payload: hello}

	s.writeLoop(ctx, c)

	c.close()
	s.clients.Delete(id)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("event subscriber disconnected", "conn_id", id)
}

func (s *Server) writeLoop(ctx context.Context, c *eventClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame := <-c.sendCh:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, c.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func parseEventTypes(raw string) map[domain.EventType]bool {
	if raw == "" {
		return nil
	}
	types := make(map[domain.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[domain.EventType(t)] = true
		}
	}
	return types
}
