// Package correlation implements the correlation state machine: conditions,
// per-window state, the Linear and Map context variants and the ContextMap
// that fans events out to them.
//
// Nothing in this package is goroutine-safe. All contexts are owned by the
// reactor goroutine, which is the only caller of OnEvent.
package correlation

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daviddao/correlog/pkg/event"
	"github.com/daviddao/correlog/pkg/logging"
	"github.com/daviddao/correlog/pkg/metrics"
	"github.com/daviddao/correlog/pkg/model"
)

// Context is the closed union of configured correlation rules. Its variants
// are *LinearContext and *MapContext.
type Context interface {
	Base() *BaseContext
	OnEvent(req event.Request, responder event.Responder)

	isContext()
}

// BaseContext is what both variants share: identity, conditions and actions.
type BaseContext struct {
	name       string
	id         uuid.UUID
	conditions Conditions
	actions    []Action
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func (b *BaseContext) Name() string { return b.name }

func (b *BaseContext) ID() uuid.UUID { return b.id }

func (b *BaseContext) Conditions() Conditions { return b.conditions }

func (b *BaseContext) Actions() []Action { return b.actions }

// label is how the context shows up in logs and metric labels.
func (b *BaseContext) label() string {
	if b.name != "" {
		return b.name
	}
	return b.id.String()
}

// onMessage applies one message to s and reports whether s was closed.
func (b *BaseContext) onMessage(msg *model.Message, s *State, responder event.Responder) bool {
	if s.IsOpen() {
		if !b.conditions.Matches(msg) {
			return false
		}
		s.AddMessage(msg)
	} else if b.conditions.IsOpening(msg) {
		s.Open()
		s.AddMessage(msg)
		b.metrics.WindowOpened(b.label())
		b.logger.Debug("window opened", zap.String("message", msg.ID()))
	} else {
		return false
	}
	return b.closeIfDone(s, responder)
}

// onTimer advances an open s and reports whether it was closed.
func (b *BaseContext) onTimer(delta time.Duration, s *State, responder event.Responder) bool {
	if !s.IsOpen() {
		return false
	}
	s.Advance(delta)
	return b.closeIfDone(s, responder)
}

func (b *BaseContext) closeIfDone(s *State, responder event.Responder) bool {
	reason, ok := b.conditions.ClosingReason(s)
	if !ok {
		return false
	}
	b.close(s, reason, responder)
	return true
}

// close runs every action against the closed window. A failing action is
// logged and skipped; the window closes regardless.
func (b *BaseContext) close(s *State, reason CloseReason, responder event.Responder) {
	s.Close()
	b.metrics.WindowClosed(b.label(), string(reason))
	b.logger.Debug("window closed",
		zap.String("reason", string(reason)),
		zap.Int("messages", s.Len()),
		zap.Duration("elapsed", s.Elapsed()))

	w := ClosedWindow{ContextName: b.name, ContextID: b.id, Messages: s.Messages()}
	for _, a := range b.actions {
		alert, err := a.Execute(w)
		if err != nil {
			b.metrics.ActionError(b.label())
			b.logger.Error("action failed", zap.String("action", a.ID()), zap.Error(err))
			continue
		}
		if alert == nil {
			continue
		}
		b.metrics.Alert(b.label())
		responder.SendResponse(event.AlertResponse(alert))
	}
}

// BaseContextBuilder assembles a BaseContext.
type BaseContextBuilder struct {
	b BaseContext
}

// NewBaseContextBuilder starts a context with its identity and conditions.
func NewBaseContextBuilder(id uuid.UUID, conditions Conditions) *BaseContextBuilder {
	return &BaseContextBuilder{b: BaseContext{id: id, conditions: conditions}}
}

func (bb *BaseContextBuilder) Name(name string) *BaseContextBuilder {
	bb.b.name = name
	return bb
}

func (bb *BaseContextBuilder) Actions(actions ...Action) *BaseContextBuilder {
	bb.b.actions = append(bb.b.actions, actions...)
	return bb
}

func (bb *BaseContextBuilder) Logger(l *zap.Logger) *BaseContextBuilder {
	bb.b.logger = l
	return bb
}

func (bb *BaseContextBuilder) Metrics(m *metrics.Metrics) *BaseContextBuilder {
	bb.b.metrics = m
	return bb
}

// Build returns the context. A nil logger becomes a no-op logger.
func (bb *BaseContextBuilder) Build() *BaseContext {
	b := bb.b
	b.actions = append([]Action(nil), bb.b.actions...)
	b.logger = logging.OrNop(b.logger).Named("context").With(
		zap.String("context", b.label()))
	return &b
}
