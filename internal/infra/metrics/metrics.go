// Package metrics exposes dispatch measurements in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

// attemptBuckets span a fast local model to a slow long completion.
var attemptBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Collector records dispatch activity on a private registry. It satisfies
// dispatch.Recorder. A disabled collector accepts calls and records nothing.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	exhausted       *prometheus.CounterVec
	chainSize       prometheus.Gauge
}

// New creates a collector. A nil registry gets a fresh private one.
func New(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	ns, sub := cfg.Namespace, cfg.Subsystem
	if ns == "" {
		ns = "genrelay"
	}

	c := &Collector{
		enabled:  cfg.Enabled,
		registry: registry,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "attempts_total",
			Help:      "Calls made to provider adapters, by outcome.",
		}, []string{"provider", "model", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "attempt_duration_seconds",
			Help:      "Latency of single adapter calls.",
			Buckets:   attemptBuckets,
		}, []string{"provider", "model"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "fallbacks_total",
			Help:      "Requests served by an adapter other than the first in the chain.",
		}, []string{"provider", "model"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "exhausted_total",
			Help:      "Requests no adapter could serve, by reason.",
		}, []string{"reason"}),
		chainSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "chain_size",
			Help:      "Number of adapters in the preference chain.",
		}),
	}
	if c.enabled {
		registry.MustRegister(c.attempts, c.attemptDuration, c.fallbacks, c.exhausted, c.chainSize)
	}
	return c
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool { return c.enabled }

func (c *Collector) ObserveAttempt(key domain.DescriptorKey, outcome domain.Outcome, latency time.Duration) {
	if !c.enabled {
		return
	}
	c.attempts.WithLabelValues(key.Provider, key.Model, string(outcome)).Inc()
	c.attemptDuration.WithLabelValues(key.Provider, key.Model).Observe(latency.Seconds())
}

func (c *Collector) ObserveFallback(key domain.DescriptorKey) {
	if !c.enabled {
		return
	}
	c.fallbacks.WithLabelValues(key.Provider, key.Model).Inc()
}

func (c *Collector) ObserveExhausted(reason string) {
	if !c.enabled {
		return
	}
	c.exhausted.WithLabelValues(reason).Inc()
}

// SetChainSize records the length of the chain built at startup.
func (c *Collector) SetChainSize(n int) {
	if !c.enabled {
		return
	}
	c.chainSize.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
