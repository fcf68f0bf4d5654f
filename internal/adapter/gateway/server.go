// Package gateway exposes the dispatcher over HTTP: one-shot generation,
// the active chain, health, metrics, and a websocket stream of dispatch
// events.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"nhooyr.io/websocket"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
	"genrelay/internal/infra/middleware"
)

const maxRequestBody = 4 << 20

// Generator is the part of the dispatcher the gateway needs.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
}

// ChainEntry describes one link of the active chain.
type ChainEntry struct {
	Position int                 `json:"position"`
	Provider string              `json:"provider"`
	Model    string              `json:"model"`
	Kind     domain.ProviderKind `json:"kind"`
	Tasks    []domain.TaskKind   `json:"tasks"`
	Origin   string              `json:"origin"`
}

// Deps are the collaborators a Server serves.
type Deps struct {
	Generator Generator
	Chain     []ChainEntry
	Bus       domain.EventBus // nil disables /v1/events
	Metrics   http.Handler    // nil disables /metrics
	Auth      Authenticator   // nil means no auth
	RateLimit config.RateLimitConfig
	Logger    *slog.Logger
}

// eventClient is one /v1/events subscriber.
type eventClient struct {
	ws        *websocket.Conn
	types     map[domain.EventType]bool // empty means all
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (c *eventClient) close() { c.closeOnce.Do(func() { close(c.done) }) }

func (c *eventClient) wants(t domain.EventType) bool {
	return len(c.types) == 0 || c.types[t]
}

// Server is the HTTP gateway.
type Server struct {
	deps      Deps
	addr      string
	logger    *slog.Logger
	started   time.Time
	clients   sync.Map // uint64 -> *eventClient
	nextID    atomic.Uint64
	httpSrv   *http.Server
	boundAddr atomic.Value // string
	unsub     func()
}

// NewServer creates a gateway listening on addr once started.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Auth == nil {
		deps.Auth = NewTokenAuth(nil)
	}
	return &Server{deps: deps, addr: addr, logger: deps.Logger, started: time.Now()}
}

// Router builds the HTTP routes. ctx bounds the rate limiter's sweeper.
func (s *Server) Router(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireAuth(s.deps.Auth))
		r.Get("/chain", s.handleChain)
		r.Get("/events", s.handleEvents)
		r.With(middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: s.deps.RateLimit.RequestsPerMin,
			BurstSize:      s.deps.RateLimit.Burst,
			TrustedProxies: s.deps.RateLimit.TrustedProxies,
		})).Post("/generate", s.handleGenerate)
	})
	return r
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())
	s.httpSrv = &http.Server{
		Handler:           s.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.deps.Bus != nil {
		s.unsub = s.deps.Bus.SubscribeAll(s.forward)
	}

	s.logger.Info("gateway started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes event subscribers and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsub != nil {
		s.unsub()
	}
	s.clients.Range(func(key, value any) bool {
		c := value.(*eventClient)
		c.close()
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the server listens on. Only valid after Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// forward copies a bus event to every interested subscriber, dropping it
// for clients whose queue is full.
func (s *Server) forward(_ context.Context, e domain.Event) {
	frame := Frame{Type: FrameTypeEvent, Event: string(e.Type), Payload: e.Payload}
	s.clients.Range(func(_, value any) bool {
		c := value.(*eventClient)
		if !c.wants(e.Type) {
			return true
		}
		select {
		case c.sendCh <- frame:
		default:
			s.logger.Warn("gateway: dropped event for slow client", "event", string(e.Type), "request_id", e.RequestID)
		}
		return true
	})
}
