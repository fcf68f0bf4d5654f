package notify

import (
	"context"
	"log/slog"

	"genrelay/internal/domain"
)

// LogNotifier writes events to a structured logger. Fallbacks log at warn,
// exhaustion at error.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLog creates a LogNotifier.
func NewLog(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, ev domain.DispatchEvent) error {
	level := slog.LevelWarn
	if ev.Type == domain.EventDispatchExhausted {
		level = slog.LevelError
	}
	attrs := []any{
		"event", string(ev.Type),
		"request_id", ev.RequestID,
		"task", string(ev.TaskKind),
		"position", ev.Position,
		"chain_length", ev.ChainLength,
		"attempted", len(ev.Attempts),
		"skipped", len(ev.Skipped),
	}
	if ev.ProviderUsed != nil {
		attrs = append(attrs, "provider_used", ev.ProviderUsed.String())
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	n.logger.Log(ctx, level, Title(ev), attrs...)
	return nil
}
