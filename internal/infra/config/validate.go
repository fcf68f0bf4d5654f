package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Whether referenced descriptors exist is checked later, against the table.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateDispatch(cfg, ve)
	validateProviders(cfg, ve)
	validateNotify(cfg, ve)
	validateServer(cfg, ve)
	validateMetrics(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validRef(ref string) bool {
	provider, model, ok := strings.Cut(ref, "/")
	return ok && provider != "" && model != ""
}

func validateDispatch(cfg *Config, ve *ValidationError) {
	d := cfg.Dispatch
	if d.Primary != "" && !validRef(d.Primary) {
		ve.Add("dispatch.primary %q must be of the form provider/model", d.Primary)
	}
	seen := map[string]bool{}
	for i, ref := range d.Fallbacks {
		if !validRef(ref) {
			ve.Add("dispatch.fallbacks[%d] %q must be of the form provider/model", i, ref)
			continue
		}
		if seen[ref] {
			ve.Add("dispatch.fallbacks[%d] %q is listed twice", i, ref)
		}
		seen[ref] = true
	}
	if d.Primary == "" && len(d.Fallbacks) == 0 && !d.AutoDiscover {
		ve.Add("dispatch: no primary, no fallbacks and auto_discover disabled; nothing to dispatch to")
	}
	if d.MaxRetries < 1 {
		ve.Add("dispatch.max_retries must be >= 1")
	}
	if d.Backoff.Base <= 0 {
		ve.Add("dispatch.backoff.base must be > 0")
	}
	if d.Backoff.Multiplier < 1 {
		ve.Add("dispatch.backoff.multiplier must be >= 1")
	}
	if d.Backoff.Max > 0 && d.Backoff.Max < d.Backoff.Base {
		ve.Add("dispatch.backoff.max must be >= dispatch.backoff.base")
	}
	if d.Backoff.Jitter < 0 || d.Backoff.Jitter > 1 {
		ve.Add("dispatch.backoff.jitter must be between 0 and 1")
	}
	if d.Timeout < 0 {
		ve.Add("dispatch.timeout must be >= 0")
	}
	if cb := d.CircuitBreaker; cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("dispatch.circuit_breaker.max_failures must be > 0")
		}
		if cb.Timeout <= 0 {
			ve.Add("dispatch.circuit_breaker.timeout must be > 0")
		}
	}
}

func validateProviders(cfg *Config, ve *ValidationError) {
	names := map[string]bool{}
	for i, p := range cfg.Providers {
		if p.Name == "" {
			ve.Add("providers[%d].name is required", i)
			continue
		}
		if names[p.Name] {
			ve.Add("providers[%d]: duplicate name %q", i, p.Name)
		}
		names[p.Name] = true
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				ve.Add("providers[%d] (%s): base_url %q is not an absolute URL", i, p.Name, p.BaseURL)
			}
		}
		if p.ConnTimeout < 0 || p.RespTimeout < 0 {
			ve.Add("providers[%d] (%s): timeouts must be >= 0", i, p.Name)
		}
	}
	for provider, env := range cfg.Catalog.Credentials {
		if env == "" {
			ve.Add("catalog.credentials.%s must name an environment variable", provider)
		}
	}
}

func validateNotify(cfg *Config, ve *ValidationError) {
	n := cfg.Notify
	if n.Webhook != nil {
		u, err := url.Parse(n.Webhook.URL)
		if n.Webhook.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			ve.Add("notify.webhook.url must be an http(s) URL")
		}
		if n.Webhook.Timeout < 0 {
			ve.Add("notify.webhook.timeout must be >= 0")
		}
	}
	if n.Slack != nil {
		if n.Slack.Token == "" {
			ve.Add("notify.slack.token is required")
		}
		if n.Slack.Channel == "" {
			ve.Add("notify.slack.channel is required")
		}
	}
	if n.Discord != nil {
		if n.Discord.Token == "" {
			ve.Add("notify.discord.token is required")
		}
		if n.Discord.ChannelID == "" {
			ve.Add("notify.discord.channel_id is required")
		}
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr is required")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q: %v", cfg.Server.Addr, err)
	}
	for i, t := range cfg.Server.AuthTokens {
		if len(t) < 16 {
			ve.Add("server.auth_tokens[%d] must be at least 16 characters", i)
		}
	}
	if cfg.Server.RateLimit.RequestsPerMin < 0 || cfg.Server.RateLimit.Burst < 0 {
		ve.Add("server.rate_limit values must be >= 0")
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if cfg.Metrics.Enabled && cfg.Metrics.Namespace == "" {
		ve.Add("metrics.namespace is required when metrics are enabled")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"text": true, "json": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

var validExporters = map[string]bool{"": true, "noop": true, "stdout": true}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter)
	}
}
