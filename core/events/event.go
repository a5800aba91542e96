package events

import "filamint/core/types"

// Event represents a structured state change emitted by the node.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Typed wraps a canonical event payload so it satisfies Event.
type Typed struct {
	Payload *types.Event
}

// EventType implements Event.
func (t Typed) EventType() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload.Type
}

// Event exposes the attribute payload.
func (t Typed) Event() *types.Event { return t.Payload }

// Payload extracts the attribute payload from events that carry one.
func Payload(evt Event) *types.Event {
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		return carrier.Event()
	}
	return nil
}

// Fanout delivers every event to each of its emitters in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Buffer records events in memory until they are flushed. The node uses it to
// hold back events of an operation until its state changes are committed.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Events returns the buffered events.
func (b *Buffer) Events() []Event {
	return append([]Event(nil), b.pending...)
}

// FlushTo forwards buffered events to the supplied emitter and clears the
// buffer.
func (b *Buffer) FlushTo(emitter Emitter) {
	pending := b.pending
	b.pending = nil
	if emitter == nil {
		return
	}
	for _, evt := range pending {
		emitter.Emit(evt)
	}
}

// Reset drops any buffered events.
func (b *Buffer) Reset() { b.pending = nil }
