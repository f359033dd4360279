// Package correlator is the public entry point of the engine. A Correlator
// owns the reactor goroutine, the timer goroutine and a pump goroutine that
// hands responses to registered handlers.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daviddao/correlog/pkg/clock"
	"github.com/daviddao/correlog/pkg/correlation"
	"github.com/daviddao/correlog/pkg/dispatcher"
	"github.com/daviddao/correlog/pkg/event"
	"github.com/daviddao/correlog/pkg/model"
)

var (
	// ErrStopped is returned when pushing into a correlator that is stopping
	// or stopped.
	ErrStopped = errors.New("correlator stopped")
	// ErrStopTimeout is returned by Stop when the reactor never confirmed the
	// exit handshake.
	ErrStopTimeout = errors.New("exit not confirmed")
	ErrNilMessage  = errors.New("nil message")
)

// ResponseHandler consumes one response on the pump goroutine.
type ResponseHandler func(event.Response)

// AlertHandler consumes one alert on the pump goroutine.
type AlertHandler func(*model.Alert)

type Correlator struct {
	opts   options
	logger *zap.Logger

	requests  chan event.Request
	responses chan event.Response
	exit      *dispatcher.ExitState
	reactor   *dispatcher.Reactor

	mu       sync.RWMutex
	handlers map[event.ResponseKind]ResponseHandler

	// pushMu guards stopping. PushMessage holds it shared across its send.
	pushMu      sync.RWMutex
	stopping    bool
	quit        chan struct{}
	reactorDone chan struct{}
	pumpDone    chan struct{}
	stopTimer   context.CancelFunc

	injectMu   sync.Mutex
	injected   []*model.Message
	injectWake chan struct{}
	injectDone chan struct{}

	confirmOnce sync.Once
	stopOnce    sync.Once
	stopErr     error
}

// New starts a correlator over contexts. The caller must not touch the
// contexts afterwards; they belong to the reactor goroutine.
func New(contexts []correlation.Context, opts ...Option) *Correlator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Correlator{
		opts:        o,
		logger:      o.logger.Named("correlator"),
		requests:    make(chan event.Request, o.queueSize),
		responses:   make(chan event.Response, o.queueSize),
		exit:        dispatcher.NewExitState(dispatcher.DefaultExitThreshold),
		handlers:    make(map[event.ResponseKind]ResponseHandler),
		quit:        make(chan struct{}),
		reactorDone: make(chan struct{}),
		pumpDone:    make(chan struct{}),
		injectWake:  make(chan struct{}, 1),
		injectDone:  make(chan struct{}),
	}
	c.reactor = dispatcher.NewDefaultReactor(
		c.requests,
		correlation.NewContextMap(contexts...),
		dispatcher.NewChannelResponder(c.responses),
		c.exit,
		o.logger,
		o.metrics,
	)

	go func() {
		defer close(c.reactorDone)
		c.reactor.HandleEvents()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	c.stopTimer = cancel
	clock.NewTimer(o.timerStep, c.requests, o.logger).Start(ctx)

	go c.pump()
	go c.injector()

	c.logger.Info("started",
		zap.Int("contexts", len(contexts)),
		zap.Duration("timer_step", o.timerStep),
		zap.Int("queue_size", o.queueSize))
	return c
}

// PushMessage enqueues msg for correlation. It blocks only while the request
// queue is full.
func (c *Correlator) PushMessage(msg *model.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	c.pushMu.RLock()
	defer c.pushMu.RUnlock()
	if c.stopping {
		return ErrStopped
	}
	select {
	case c.requests <- event.MessageRequest(msg):
		return nil
	case <-c.quit:
		return ErrStopped
	}
}

// Stopped reports whether Stop has been called.
func (c *Correlator) Stopped() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// RegisterHandler installs h for responses of kind, replacing any previous
// handler. Safe to call from any goroutine.
func (c *Correlator) RegisterHandler(kind event.ResponseKind, h ResponseHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = h
}

// RegisterAlertHandler installs h for alert responses.
func (c *Correlator) RegisterAlertHandler(h AlertHandler) {
	c.RegisterHandler(event.ResponseAlert, func(resp event.Response) {
		h(resp.Alert)
	})
}

// InjectHandler wraps next so that alerts flagged for injection are pushed
// back as new messages once next has seen them. next may be nil.
//
// Injected messages are queued without bound and pushed by a separate
// goroutine, so the pump never waits on a full request queue.
func (c *Correlator) InjectHandler(next AlertHandler) AlertHandler {
	return func(a *model.Alert) {
		if next != nil {
			next(a)
		}
		if a == nil || !a.Inject || a.Message == nil {
			return
		}
		if c.Stopped() {
			c.logger.Debug("alert not re-injected, stopping", zap.String("action", a.ActionID))
			return
		}
		c.injectMu.Lock()
		c.injected = append(c.injected, a.Message)
		c.injectMu.Unlock()
		select {
		case c.injectWake <- struct{}{}:
		default:
		}
	}
}

func (c *Correlator) takeInjected() []*model.Message {
	c.injectMu.Lock()
	defer c.injectMu.Unlock()
	msgs := c.injected
	c.injected = nil
	return msgs
}

// injector pushes re-injected messages until the correlator stops. Messages
// still queued at that point are dropped.
func (c *Correlator) injector() {
	defer close(c.injectDone)
	for {
		select {
		case <-c.injectWake:
		case <-c.quit:
			if n := len(c.takeInjected()); n > 0 {
				c.logger.Debug("dropped re-injected messages on stop", zap.Int("count", n))
			}
			return
		}
		msgs := c.takeInjected()
		for i, msg := range msgs {
			if err := c.PushMessage(msg); err != nil {
				c.logger.Debug("dropped re-injected messages on stop", zap.Int("count", len(msgs)-i))
				return
			}
		}
	}
}

func (c *Correlator) handler(kind event.ResponseKind) ResponseHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[kind]
}

func (c *Correlator) pump() {
	defer close(c.pumpDone)
	for resp := range c.responses {
		h := c.handler(resp.Kind)
		if h == nil {
			c.logger.Warn("no handler for response", zap.Stringer("kind", resp.Kind))
			c.opts.metrics.ResponseDropped(resp.Kind.String())
			continue
		}
		h(resp)
	}
}

// installExitConfirmation makes the first Exit response trigger the second
// Exit request. Any handler already registered for Exit still runs first.
func (c *Correlator) installExitConfirmation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.handlers[event.ResponseExit]
	c.handlers[event.ResponseExit] = func(resp event.Response) {
		if prev != nil {
			prev(resp)
		}
		c.confirmOnce.Do(func() {
			// The pump must not block on a full request queue while the
			// reactor waits on a full response queue.
			go func() {
				select {
				case c.requests <- event.ExitRequest():
				case <-c.reactorDone:
				}
			}()
		})
	}
}

// requestExit sends one Exit request and waits for the handshake to complete.
func (c *Correlator) requestExit(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case c.requests <- event.ExitRequest():
	case <-c.exit.Done():
		return true
	case <-t.C:
		return false
	}
	select {
	case <-c.exit.Done():
		return true
	case <-t.C:
		return false
	}
}

// Stop shuts the correlator down. Requests already queued are handled and
// every response they produce is delivered before Stop returns. Later calls
// return the result of the first.
//
// When the exit is never confirmed Stop returns ErrStopTimeout and leaves the
// reactor and pump goroutines behind. They finish on their own once whatever
// blocks them (usually a response handler) returns.
func (c *Correlator) Stop() error {
	c.stopOnce.Do(func() {
		c.stopErr = c.stop()
	})
	return c.stopErr
}

func (c *Correlator) stop() error {
	close(c.quit)
	// Wait out in-flight pushes: whatever they enqueued sits ahead of the
	// first Exit and is processed.
	c.pushMu.Lock()
	c.stopping = true
	c.pushMu.Unlock()
	c.installExitConfirmation()

	attempts := c.opts.stopRetries + 1
	confirmed := false
	for i := 0; i < attempts && !confirmed; i++ {
		if i > 0 {
			c.logger.Warn("exit not confirmed, retrying",
				zap.Int("attempt", i+1),
				zap.Stringer("phase", c.exit.Phase()))
		}
		confirmed = c.requestExit(c.opts.stopTimeout)
	}
	if !confirmed {
		c.stopTimer()
		go func() {
			<-c.reactorDone
			close(c.responses)
		}()
		c.logger.Error("stop gave up", zap.Int("attempts", attempts))
		return fmt.Errorf("%w after %d attempts", ErrStopTimeout, attempts)
	}

	<-c.reactorDone
	c.stopTimer()
	// Only the reactor sends responses, so the queue can be closed now.
	close(c.responses)
	<-c.pumpDone
	<-c.injectDone

	c.logger.Info("stopped", zap.Int("exit_requests", c.exit.Count()))
	return nil
}
