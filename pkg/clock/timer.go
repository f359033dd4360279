package clock

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/daviddao/correlog/pkg/event"
	"github.com/daviddao/correlog/pkg/logging"
)

// DefaultStep is the interval between timer requests.
const DefaultStep = 100 * time.Millisecond

// Timer periodically sends the elapsed time into the inbound channel shared
// with message producers. It never touches context state.
type Timer struct {
	step   time.Duration
	clock  *Clock
	out    chan<- event.Request
	logger *zap.Logger
}

// NewTimer returns a timer feeding out every step. step <= 0 uses
// DefaultStep.
func NewTimer(step time.Duration, out chan<- event.Request, logger *zap.Logger) *Timer {
	if step <= 0 {
		step = DefaultStep
	}
	return &Timer{
		step:   step,
		out:    out,
		logger: logging.OrNop(logger).Named("timer"),
	}
}

func (t *Timer) Step() time.Duration { return t.step }

// Run ticks until ctx is cancelled. The clock starts when Run is called.
func (t *Timer) Run(ctx context.Context) {
	t.clock = New(nil)
	ticker := time.NewTicker(t.step)
	defer ticker.Stop()

	t.logger.Debug("started", zap.Duration("step", t.step))
	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("stopped")
			return
		case <-ticker.C:
			req := event.TimerRequest(t.clock.Tick())
			select {
			case t.out <- req:
			case <-ctx.Done():
				t.logger.Debug("stopped")
				return
			}
		}
	}
}

// Start runs the timer on its own goroutine.
func (t *Timer) Start(ctx context.Context) {
	go t.Run(ctx)
}
