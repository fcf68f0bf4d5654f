// Package notify delivers dispatch events to operators. Each sink is a
// domain.Notifier; Attach subscribes one to the event bus.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"genrelay/internal/domain"
	"genrelay/internal/usecase/eventbus"
)

const defaultSinkTimeout = 10 * time.Second

// Attach subscribes sink to every dispatch event on bus and returns the
// unsubscribe function. Sink errors are logged, never propagated.
func Attach(bus domain.EventBus, name string, sink domain.Notifier, logger *slog.Logger) func() {
	return bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		ev, err := eventbus.DecodeDispatchEvent(e)
		if err != nil {
			logger.Warn("notify: bad event payload", "sink", name, "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(ctx, defaultSinkTimeout)
		defer cancel()
		if err := sink.Notify(ctx, ev); err != nil {
			logger.Warn("notify failed", "sink", name, "event", string(ev.Type), "request_id", ev.RequestID, "error", err)
		}
	})
}

// Title is the one-line headline chat sinks use for an event.
func Title(ev domain.DispatchEvent) string {
	switch ev.Type {
	case domain.EventDispatchFallback:
		used := "unknown"
		if ev.ProviderUsed != nil {
			used = ev.ProviderUsed.String()
		}
		return fmt.Sprintf("Fallback: %s request served by %s (position %d of %d)",
			ev.TaskKind, used, ev.Position+1, ev.ChainLength)
	case domain.EventDispatchExhausted:
		if ev.Reason == "canceled" {
			return fmt.Sprintf("Dispatch canceled by caller: %s request after %d providers", ev.TaskKind, len(ev.Attempts))
		}
		if ev.TimedOut {
			return fmt.Sprintf("Dispatch timed out: %s request after %d providers", ev.TaskKind, len(ev.Attempts))
		}
		return fmt.Sprintf("Dispatch exhausted: %s request failed on all %d providers", ev.TaskKind, ev.ChainLength)
	default:
		return string(ev.Type)
	}
}

// Body lists the per-provider trail, one line per attempted adapter.
func Body(ev domain.DispatchEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "request %s\n", ev.RequestID)
	for _, a := range ev.Attempts {
		fmt.Fprintf(&b, "- %s: %s after %d attempt(s)", a.Key(), a.Outcome, a.AttemptNumber)
		if a.ErrorDetail != "" {
			fmt.Fprintf(&b, ": %s", truncate(a.ErrorDetail, 200))
		}
		b.WriteByte('\n')
	}
	if len(ev.Skipped) > 0 {
		keys := make([]string, len(ev.Skipped))
		for i, k := range ev.Skipped {
			keys[i] = k.String()
		}
		fmt.Fprintf(&b, "skipped: %s\n", strings.Join(keys, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
