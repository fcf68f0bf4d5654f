package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventDispatchFallback  EventType = "dispatch.fallback"
	EventDispatchExhausted EventType = "dispatch.exhausted"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// DispatchEvent describes a fallback or an exhaustion.
type DispatchEvent struct {
	Type         EventType       `json:"type"`
	RequestID    string          `json:"request_id"`
	TaskKind     TaskKind        `json:"task_kind"`
	Position     int             `json:"position"`
	ChainLength  int             `json:"chain_length"`
	ProviderUsed *DescriptorKey  `json:"provider_used,omitempty"`
	Attempts     []AttemptRecord `json:"attempts"`
	Skipped      []DescriptorKey `json:"skipped,omitempty"`
	TimedOut     bool            `json:"timed_out,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Summary      string          `json:"summary"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Notifier receives dispatch events. Delivery is best effort: a failing
// notifier never changes the outcome of the request that produced the event.
type Notifier interface {
	Notify(ctx context.Context, ev DispatchEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev DispatchEvent) error

func (f NotifierFunc) Notify(ctx context.Context, ev DispatchEvent) error { return f(ctx, ev) }
