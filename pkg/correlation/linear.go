package correlation

import (
	"time"

	"github.com/daviddao/correlog/pkg/event"
	"github.com/daviddao/correlog/pkg/model"
)

// LinearContext correlates every relevant message into a single window.
type LinearContext struct {
	base  *BaseContext
	state *State
}

func NewLinearContext(base *BaseContext) *LinearContext {
	return &LinearContext{base: base, state: NewState()}
}

func (c *LinearContext) Base() *BaseContext { return c.base }

func (c *LinearContext) isContext() {}

// IsOpen reports whether the window is currently open.
func (c *LinearContext) IsOpen() bool { return c.state.IsOpen() }

// State exposes the current window for inspection.
func (c *LinearContext) State() *State { return c.state }

// OnEvent implements Context. Exit requests are not a context concern.
func (c *LinearContext) OnEvent(req event.Request, responder event.Responder) {
	switch req.Kind {
	case event.RequestMessage:
		c.OnMessage(req.Message, responder)
	case event.RequestTimer:
		c.OnTimer(req.Elapsed, responder)
	}
}

func (c *LinearContext) OnMessage(msg *model.Message, responder event.Responder) {
	if c.base.onMessage(msg, c.state, responder) {
		c.state = NewState()
	}
}

func (c *LinearContext) OnTimer(delta time.Duration, responder event.Responder) {
	if c.base.onTimer(delta, c.state, responder) {
		c.state = NewState()
	}
}
