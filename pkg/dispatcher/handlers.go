package dispatcher

import (
	"fmt"

	"github.com/daviddao/correlog/pkg/correlation"
	"github.com/daviddao/correlog/pkg/event"
)

// SharedData is what every handler may touch while the reactor runs it.
type SharedData struct {
	Contexts  *correlation.ContextMap
	Responder event.Responder
}

// EventHandler handles one kind of request on the reactor goroutine. It must
// only do the bounded work of that single request.
type EventHandler interface {
	Kind() event.RequestKind
	HandleEvent(req event.Request, data *SharedData)
}

// wrongKind reports a routing bug: the reactor delivered a request to a
// handler registered for another kind.
func wrongKind(h EventHandler, req event.Request) {
	panic(fmt.Sprintf("dispatcher: %T received a %s request, want %s", h, req.Kind, h.Kind()))
}

// MessageEventHandler broadcasts messages to every context.
type MessageEventHandler struct{}

func (MessageEventHandler) Kind() event.RequestKind { return event.RequestMessage }

func (h MessageEventHandler) HandleEvent(req event.Request, data *SharedData) {
	if req.Kind != event.RequestMessage {
		wrongKind(h, req)
	}
	data.Contexts.OnEvent(req, data.Responder)
}

// TimerEventHandler broadcasts timer ticks to every context.
type TimerEventHandler struct{}

func (TimerEventHandler) Kind() event.RequestKind { return event.RequestTimer }

func (h TimerEventHandler) HandleEvent(req event.Request, data *SharedData) {
	if req.Kind != event.RequestTimer {
		wrongKind(h, req)
	}
	data.Contexts.OnEvent(req, data.Responder)
}

// ExitEventHandler acknowledges every Exit request downstream and advances
// the shutdown state machine.
type ExitEventHandler struct {
	state *ExitState
}

func NewExitEventHandler(state *ExitState) *ExitEventHandler {
	return &ExitEventHandler{state: state}
}

func (*ExitEventHandler) Kind() event.RequestKind { return event.RequestExit }

func (h *ExitEventHandler) HandleEvent(req event.Request, data *SharedData) {
	if req.Kind != event.RequestExit {
		wrongKind(h, req)
	}
	data.Responder.SendResponse(event.ExitResponse())
	h.state.Confirm()
}
