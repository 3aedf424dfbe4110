package events

import (
	"time"

	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(SessionStateChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case SessionStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineFailedEvent:
		event.Publish(b.dispatcher, e)
	case ContainerOpenedEvent:
		event.Publish(b.dispatcher, e)
	case ContainerClosedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case EncoderMetricsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e ContainerOpenedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SessionStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ContainerOpenedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ContainerClosedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(EncoderMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Publish sends ev through p when p is non-nil.
func Publish(p Publisher, ev Event) {
	if p != nil {
		p.Publish(ev)
	}
}

// Now formats the current time the way events carry timestamps.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
