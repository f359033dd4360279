package correlation

import (
	"fmt"

	"github.com/daviddao/correlog/pkg/event"
)

// ContextMap holds every configured context in configuration order.
type ContextMap struct {
	contexts []Context
}

func NewContextMap(contexts ...Context) *ContextMap {
	return &ContextMap{contexts: append([]Context(nil), contexts...)}
}

// Add appends c to the map.
func (m *ContextMap) Add(c Context) { m.contexts = append(m.contexts, c) }

func (m *ContextMap) Len() int { return len(m.contexts) }

// Contexts returns the contexts in configuration order.
func (m *ContextMap) Contexts() []Context { return m.contexts }

// OnEvent forwards req to every context. Each context decides on its own
// whether the request concerns it.
func (m *ContextMap) OnEvent(req event.Request, responder event.Responder) {
	for _, c := range m.contexts {
		c.OnEvent(req, responder)
	}
}

// Summary describes one configured context.
type Summary struct {
	Name     string   `json:"name,omitempty"`
	ID       string   `json:"uuid"`
	Kind     string   `json:"kind"`
	Patterns []string `json:"patterns,omitempty"`
	Actions  int      `json:"actions"`
}

// Summaries describes every context in configuration order.
func (m *ContextMap) Summaries() []Summary {
	out := make([]Summary, 0, len(m.contexts))
	for _, c := range m.contexts {
		b := c.Base()
		out = append(out, Summary{
			Name:     b.Name(),
			ID:       b.ID().String(),
			Kind:     Kind(c),
			Patterns: b.Conditions().Patterns,
			Actions:  len(b.Actions()),
		})
	}
	return out
}

// Kind names the variant of c.
func Kind(c Context) string {
	switch c.(type) {
	case *LinearContext:
		return "linear"
	case *MapContext:
		return "map"
	default:
		panic(fmt.Sprintf("correlation: unknown context variant %T", c))
	}
}
