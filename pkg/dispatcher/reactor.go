// Package dispatcher runs the single-goroutine event loop that owns all
// correlation state.
//
// Producers and the timer only ever send Requests into one channel. The
// Reactor pulls them out through a Demultiplexer and runs the handler
// registered for each request kind. Because exactly one goroutine touches
// the ContextMap, context state needs no locking and window transitions
// happen in channel arrival order.
package dispatcher

import (
	"go.uber.org/zap"

	"github.com/daviddao/correlog/pkg/correlation"
	"github.com/daviddao/correlog/pkg/event"
	"github.com/daviddao/correlog/pkg/logging"
	"github.com/daviddao/correlog/pkg/metrics"
)

// Reactor owns the ContextMap and all handlers.
type Reactor struct {
	demux    *Demultiplexer
	handlers map[event.RequestKind]EventHandler
	data     SharedData
	exit     *ExitState
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewReactor wires a reactor. exit may be nil when the loop should only end
// on channel closure.
func NewReactor(demux *Demultiplexer, contexts *correlation.ContextMap, responder event.Responder, exit *ExitState, logger *zap.Logger, m *metrics.Metrics) *Reactor {
	return &Reactor{
		demux:    demux,
		handlers: make(map[event.RequestKind]EventHandler),
		data:     SharedData{Contexts: contexts, Responder: responder},
		exit:     exit,
		logger:   logging.OrNop(logger).Named("reactor"),
		metrics:  m,
	}
}

// NewDefaultReactor wires a reactor with the message, timer and exit
// handlers already registered.
func NewDefaultReactor(in <-chan event.Request, contexts *correlation.ContextMap, responder event.Responder, exit *ExitState, logger *zap.Logger, m *metrics.Metrics) *Reactor {
	r := NewReactor(NewDemultiplexer(in), contexts, responder, exit, logger, m)
	r.RegisterHandler(MessageEventHandler{})
	r.RegisterHandler(TimerEventHandler{})
	if exit != nil {
		r.RegisterHandler(NewExitEventHandler(exit))
	}
	return r
}

// RegisterHandler installs h for its kind, replacing any previous handler.
func (r *Reactor) RegisterHandler(h EventHandler) {
	r.handlers[h.Kind()] = h
}

func (r *Reactor) RemoveHandler(kind event.RequestKind) {
	delete(r.handlers, kind)
}

// Contexts returns the owned ContextMap. Only safe to use when the loop is
// not running.
func (r *Reactor) Contexts() *correlation.ContextMap { return r.data.Contexts }

func (r *Reactor) stopped() bool {
	return r.exit != nil && r.exit.IsConfirmed()
}

// HandleEvents runs the loop until the inbound channel is closed or the exit
// state machine is confirmed.
func (r *Reactor) HandleEvents() {
	r.logger.Debug("event loop started", zap.Int("contexts", r.data.Contexts.Len()))
	for !r.stopped() {
		req, ok := r.demux.Select()
		if !ok {
			r.logger.Debug("inbound channel closed")
			break
		}
		r.metrics.Request(req.Kind.String())
		h, ok := r.handlers[req.Kind]
		if !ok {
			r.logger.Warn("no handler for request", zap.Stringer("kind", req.Kind))
			continue
		}
		h.HandleEvent(req, &r.data)
	}
	r.logger.Debug("event loop stopped")
}
