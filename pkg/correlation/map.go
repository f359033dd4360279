package correlation

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/daviddao/correlog/pkg/event"
	"github.com/daviddao/correlog/pkg/model"
)

// MapContext keeps one independent window per correlation key. The key of a
// message is its payload rendered through the context_id template, e.g.
// "{{.HOST}}/{{.PROGRAM}}".
//
// Only open windows are stored. Since every window closes at the latest after
// Timeout, the map never outgrows the keys seen within one timeout period.
// maxKeys bounds it further.
type MapContext struct {
	base    *BaseContext
	keyTmpl *template.Template
	maxKeys int
	states  map[string]*State
}

// NewMapContext compiles contextID as the key template. maxKeys <= 0 means
// no limit on concurrently open keys.
func NewMapContext(base *BaseContext, contextID string, maxKeys int) (*MapContext, error) {
	t, err := template.New("context_id").Option("missingkey=error").Parse(contextID)
	if err != nil {
		return nil, fmt.Errorf("parse context_id %q: %w", contextID, err)
	}
	if maxKeys < 0 {
		maxKeys = 0
	}
	return &MapContext{
		base:    base,
		keyTmpl: t,
		maxKeys: maxKeys,
		states:  make(map[string]*State),
	}, nil
}

func (c *MapContext) Base() *BaseContext { return c.base }

func (c *MapContext) isContext() {}

// Key renders the correlation key for msg.
func (c *MapContext) Key(msg *model.Message) (string, error) {
	var buf bytes.Buffer
	if err := c.keyTmpl.Execute(&buf, msg.Values()); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// IsOpen reports whether the window for key is open.
func (c *MapContext) IsOpen(key string) bool {
	s, ok := c.states[key]
	return ok && s.IsOpen()
}

// State returns the open window for key, or nil.
func (c *MapContext) State(key string) *State { return c.states[key] }

// Len returns the number of open windows.
func (c *MapContext) Len() int { return len(c.states) }

// OpenKeys returns the keys of all open windows in sorted order.
func (c *MapContext) OpenKeys() []string {
	keys := make([]string, 0, len(c.states))
	for k := range c.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OnEvent implements Context.
func (c *MapContext) OnEvent(req event.Request, responder event.Responder) {
	switch req.Kind {
	case event.RequestMessage:
		c.OnMessage(req.Message, responder)
	case event.RequestTimer:
		c.OnTimer(req.Elapsed, responder)
	}
}

func (c *MapContext) OnMessage(msg *model.Message, responder event.Responder) {
	if !c.base.conditions.Matches(msg) {
		return
	}
	key, err := c.Key(msg)
	if err != nil {
		c.base.logger.Debug("no correlation key", zap.String("message", msg.ID()), zap.Error(err))
		return
	}
	s, ok := c.states[key]
	if !ok {
		if !c.base.conditions.IsOpening(msg) {
			return
		}
		if c.maxKeys > 0 && len(c.states) >= c.maxKeys {
			c.base.metrics.WindowRejected(c.base.label())
			c.base.logger.Warn("key limit reached, dropping opening message",
				zap.String("key", key), zap.Int("max_keys", c.maxKeys))
			return
		}
		s = NewState()
		c.states[key] = s
	}
	if c.base.onMessage(msg, s, responder) {
		delete(c.states, key)
	}
}

// OnTimer advances every open window in key order.
func (c *MapContext) OnTimer(delta time.Duration, responder event.Responder) {
	for _, key := range c.OpenKeys() {
		if c.base.onTimer(delta, c.states[key], responder) {
			delete(c.states, key)
		}
	}
}
