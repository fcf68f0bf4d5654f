package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerAdapter wraps an Adapter with a circuit breaker. While the circuit
// is open, Send fails immediately with domain.ErrCircuitOpen, which is fatal
// for the current dispatch: the dispatcher moves on without burning retries
// against a backend that is known to be down.
type BreakerAdapter struct {
	domain.Adapter
	breaker *gobreaker.CircuitBreaker[*domain.GenerationResponse]
}

// NewBreakerAdapter wraps inner. Zero-valued settings fall back to defaults.
func NewBreakerAdapter(inner domain.Adapter, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerAdapter {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.GenerationResponse](gobreaker.Settings{
		Name:        "provider:" + inner.Descriptor().Key().String(),
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Only failures that say something about backend health count.
		// Caller mistakes count as successes; calls the caller abandoned
		// count as nothing.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrBadRequest) ||
				errors.Is(err, domain.ErrUnsupportedTask) || errors.Is(err, domain.ErrContextOverflow)
		},
		IsExcluded: func(err error) bool {
			var ab *abandonedCall
			return errors.As(err, &ab) || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerAdapter{Adapter: inner, breaker: cb}
}

// Send routes the call through the breaker.
func (b *BreakerAdapter) Send(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	resp, err := b.breaker.Execute(func() (*domain.GenerationResponse, error) {
		resp, err := b.Adapter.Send(ctx, req)
		if err != nil && ctx.Err() != nil {
			return nil, &abandonedCall{err: err}
		}
		return resp, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCircuitOpen, b.Descriptor().Key(), err)
	}
	var ab *abandonedCall
	if errors.As(err, &ab) {
		return nil, ab.err
	}
	return resp, err
}

// abandonedCall marks a failure that happened after the caller's own context
// ended. The backend may be fine, so the breaker ignores it.
type abandonedCall struct{ err error }

func (a *abandonedCall) Error() string { return a.err.Error() }
func (a *abandonedCall) Unwrap() error { return a.err }

// Classify defers to the wrapped adapter, except for open-circuit errors.
func (b *BreakerAdapter) Classify(err error) domain.Classification {
	if errors.Is(err, domain.ErrCircuitOpen) {
		return domain.Classification{Class: domain.Fatal, Sentinel: domain.ErrCircuitOpen}
	}
	return b.Adapter.Classify(err)
}

// State returns the current circuit breaker state for monitoring.
func (b *BreakerAdapter) State() gobreaker.State {
	return b.breaker.State()
}

// Unwrap returns the wrapped adapter.
func (b *BreakerAdapter) Unwrap() domain.Adapter { return b.Adapter }

var _ domain.Adapter = (*BreakerAdapter)(nil)

// --- Connection pooling ---

// Default connection pool settings: few hosts, high concurrency, long-lived
// connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
)

// Default provider timeouts.
const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout <= 0 {
		respTimeout = defaultRespTimeout
	}

	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          positiveOr(pool.MaxIdleConns, defaultMaxIdleConns),
		MaxIdleConnsPerHost:   positiveOr(pool.MaxIdleConnsPerHost, defaultMaxIdleConnsPerHost),
		MaxConnsPerHost:       positiveOr(pool.MaxConnsPerHost, defaultMaxConnsPerHost),
		IdleConnTimeout:       positiveOr(pool.IdleConnTimeout, defaultIdleConnTimeout),
		ForceAttemptHTTP2:     true,
		Proxy:                 http.ProxyFromEnvironment,
	}
}

// NewHTTPClient creates an *http.Client with pooled transport and the
// provider's timeouts. defaults supplies per-kind fallbacks (ollama runs
// locally and answers slowly).
func NewHTTPClient(cfg config.ProviderConfig, defaults ...time.Duration) *http.Client {
	connTimeout, respTimeout := defaultConnTimeout, defaultRespTimeout
	if len(defaults) == 2 {
		connTimeout, respTimeout = defaults[0], defaults[1]
	}
	connTimeout = positiveOr(cfg.ConnTimeout, connTimeout)
	respTimeout = positiveOr(cfg.RespTimeout, respTimeout)

	return &http.Client{
		Transport: NewPooledTransport(connTimeout, respTimeout, cfg.Pool),
		Timeout:   connTimeout + respTimeout,
	}
}

func positiveOr[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}
