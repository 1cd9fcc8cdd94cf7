package events

// Event represents a structured state change emitted by the coordinator.
// Attributes hold human-readable values so downstream consumers (RPC,
// indexers, logs) never need to re-derive amounts from engine state.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for engines whose callers did not wire an emitter.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// CaptureEmitter records every emitted event in order. Test helper.
type CaptureEmitter struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (c *CaptureEmitter) Emit(evt Event) {
	c.Events = append(c.Events, evt)
}

// Types returns the ordered event type names captured so far.
func (c *CaptureEmitter) Types() []string {
	types := make([]string, 0, len(c.Events))
	for _, evt := range c.Events {
		types = append(types, evt.Type)
	}
	return types
}
