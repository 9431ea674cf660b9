package events

import (
	"sync"

	"randhub/core/types"
)

// Event represents a structured state change emitted by the hub.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (journal, websocket
// streams, metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(evt Event) {
	if f == nil {
		return
	}
	f(evt)
}

// MultiEmitter fans each event out to every non-nil emitter in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		emitter.Emit(evt)
	}
}

// Recorder keeps every emitted event in memory. Tests use it to assert on the
// diagnostic signals produced by an operation.
type Recorder struct {
	mu     sync.Mutex
	Events []*types.Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, evt.Event())
}

// OfType returns the recorded events with the supplied type.
func (r *Recorder) OfType(eventType string) []*types.Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, 0)
	for _, evt := range r.Events {
		if evt != nil && evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}
