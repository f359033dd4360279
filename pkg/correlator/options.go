package correlator

import (
	"time"

	"go.uber.org/zap"

	"github.com/daviddao/correlog/pkg/clock"
	"github.com/daviddao/correlog/pkg/metrics"
)

const (
	DefaultQueueSize   = 1024
	DefaultStopTimeout = 5 * time.Second
	DefaultStopRetries = 3
)

type options struct {
	logger      *zap.Logger
	metrics     *metrics.Metrics
	timerStep   time.Duration
	queueSize   int
	stopTimeout time.Duration
	stopRetries int
}

func defaultOptions() options {
	return options{
		logger:      zap.NewNop(),
		timerStep:   clock.DefaultStep,
		queueSize:   DefaultQueueSize,
		stopTimeout: DefaultStopTimeout,
		stopRetries: DefaultStopRetries,
	}
}

// Option configures a Correlator.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records engine activity in m. Without it nothing is recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTimerStep sets how often elapsed time is fed to the contexts. It bounds
// how late a timeout can be detected.
func WithTimerStep(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timerStep = d
		}
	}
}

// WithQueueSize sets the capacity of both the request and response channels.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithStopTimeout bounds each wait for the shutdown handshake in Stop.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithStopRetries sets how many times Stop re-sends Exit before giving up.
func WithStopRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.stopRetries = n
		}
	}
}
