package notify

import (
	"errors"
	"log/slog"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

// Sink is a named notifier.
type Sink struct {
	Name     string
	Notifier domain.Notifier
}

// Sinks builds the notifiers enabled in cfg. A chat sink whose library is not
// compiled in is logged and left out; a malformed one is an error.
func Sinks(cfg config.NotifyConfig, logger *slog.Logger) ([]Sink, error) {
	var sinks []Sink
	if cfg.Log {
		sinks = append(sinks, Sink{Name: "log", Notifier: NewLog(logger)})
	}
	if cfg.Webhook != nil && cfg.Webhook.URL != "" {
		wh, err := NewWebhook(*cfg.Webhook, nil)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, Sink{Name: "webhook", Notifier: wh})
	}

	add := func(name string, n domain.Notifier, err error) error {
		switch {
		case err == nil:
			sinks = append(sinks, Sink{Name: name, Notifier: n})
		case errors.Is(err, domain.ErrUnavailable):
			logger.Warn("notify sink unavailable", "sink", name, "reason", err)
		default:
			return err
		}
		return nil
	}
	if cfg.Slack != nil && cfg.Slack.Token != "" {
		n, err := newSlack(*cfg.Slack)
		if err := add("slack", n, err); err != nil {
			return nil, err
		}
	}
	if cfg.Discord != nil && cfg.Discord.Token != "" {
		n, err := newDiscord(*cfg.Discord)
		if err := add("discord", n, err); err != nil {
			return nil, err
		}
	}
	return sinks, nil
}

// AttachAll subscribes every sink to bus and returns one function that
// unsubscribes them all.
func AttachAll(bus domain.EventBus, sinks []Sink, logger *slog.Logger) func() {
	unsubs := make([]func(), 0, len(sinks))
	for _, s := range sinks {
		unsubs = append(unsubs, Attach(bus, s.Name, s.Notifier, logger))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// LinkedSinks names the chat sinks compiled into this binary.
func LinkedSinks() []string {
	var out []string
	if slackLinked {
		out = append(out, "slack")
	}
	if discordLinked {
		out = append(out, "discord")
	}
	return out
}
