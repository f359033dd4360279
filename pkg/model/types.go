// Package model defines the core domain types for correlog.
//
// correlog turns a stream of loosely related messages into higher-level
// derived events:
//
//   - A Message is the unit of input: an identifier, an optional name and a
//     key/value payload. Once built it is never mutated, so the same *Message
//     can be offered to every configured context and held by any number of
//     open windows at once.
//
//   - An Alert is the unit of output: the message an action rendered for one
//     closed window, tagged with the context and action that produced it.
package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Message is an immutable correlation input. Build one with NewBuilder.
type Message struct {
	id     string
	name   string
	values map[string]string
}

// ID returns the message identifier. Patterns are matched against it.
func (m *Message) ID() string { return m.id }

// Name returns the optional message name, or "" when absent.
func (m *Message) Name() string { return m.name }

// HasName reports whether the message carries a name.
func (m *Message) HasName() bool { return m.name != "" }

// Value returns the payload value stored under key.
func (m *Message) Value(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Values returns a copy of the payload.
func (m *Message) Values() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Keys returns the payload keys in lexicographic order.
func (m *Message) Keys() []string {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of payload entries.
func (m *Message) Len() int { return len(m.values) }

// wireMessage is the JSON form used by producers and the alert journal.
type wireMessage struct {
	ID     string            `json:"id"`
	Name   string            `json:"name,omitempty"`
	Values map[string]string `json:"values,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{ID: m.id, Name: m.name, Values: m.values})
}

// UnmarshalJSON implements json.Unmarshaler. It is only meant for decoding a
// freshly allocated Message; a message already shared with the engine must
// not be decoded into.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = *NewBuilder(w.ID).Name(w.Name).Values(w.Values).Build()
	return nil
}

// Builder assembles a Message. A Builder may be reused; every Build call
// returns an independent Message.
type Builder struct {
	id     string
	name   string
	values map[string]string
}

// NewBuilder starts a message with the given identifier.
func NewBuilder(id string) *Builder {
	return &Builder{id: id, values: make(map[string]string)}
}

// Name sets the message name. An empty name means "no name".
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Pair adds a single payload entry, replacing any previous value for key.
func (b *Builder) Pair(key, value string) *Builder {
	b.values[key] = value
	return b
}

// Values merges all entries of values into the payload.
func (b *Builder) Values(values map[string]string) *Builder {
	for k, v := range values {
		b.values[k] = v
	}
	return b
}

// Build returns the immutable message.
func (b *Builder) Build() *Message {
	values := make(map[string]string, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return &Message{id: b.id, name: b.name, values: values}
}

// Value keys added to every alert message by the message action.
const (
	ContextNameKey = "context.name"
	ContextIDKey   = "context.id"
	ContextLenKey  = "context.len"
)

// Alert is the output of one action for one closed window.
type Alert struct {
	ActionID    string   `json:"action_id"`
	ContextID   string   `json:"context_id"`
	ContextName string   `json:"context_name,omitempty"`
	Message     *Message `json:"message"`
	WindowLen   int      `json:"window_len"`
	// Inject asks the facade to feed Message back into the engine.
	Inject bool `json:"inject,omitempty"`
}

// JournaledAlert is an alert as recorded in the alert journal.
type JournaledAlert struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Alert
}
