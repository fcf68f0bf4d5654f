package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"genrelay/internal/domain"
)

// Notifier publishes dispatch events on a bus, JSON-encoded in the event
// payload.
type Notifier struct {
	bus domain.EventBus
}

// NewNotifier returns a domain.Notifier that publishes on bus.
func NewNotifier(bus domain.EventBus) *Notifier {
	return &Notifier{bus: bus}
}

func (n *Notifier) Notify(ctx context.Context, ev domain.DispatchEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	n.bus.Publish(ctx, domain.Event{
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
		RequestID: ev.RequestID,
		Payload:   payload,
	})
	return nil
}

// DecodeDispatchEvent recovers the dispatch event carried by a bus event.
func DecodeDispatchEvent(e domain.Event) (domain.DispatchEvent, error) {
	var ev domain.DispatchEvent
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return domain.DispatchEvent{}, fmt.Errorf("decode %s event: %w", e.Type, err)
	}
	return ev, nil
}
