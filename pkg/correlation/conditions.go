package correlation

import (
	"errors"
	"time"

	"github.com/daviddao/correlog/pkg/model"
)

// CloseReason names the condition that closed a window. It only feeds logs
// and metrics; every reason has the same effect.
type CloseReason string

const (
	ReasonTimeout      CloseReason = "timeout"
	ReasonMaxSize      CloseReason = "max_size"
	ReasonRenewTimeout CloseReason = "renew_timeout"
	ReasonLastCloses   CloseReason = "last_closes"
)

// Conditions decide when a window opens and when it closes. A Conditions
// value is never modified after construction and is shared by all windows of
// a context.
type Conditions struct {
	// Timeout closes a window once this much time has passed since it opened.
	Timeout time.Duration
	// MaxSize closes a window once it holds this many messages. 0 disables it.
	MaxSize int
	// RenewTimeout closes a window when no message arrived for this long.
	// 0 disables it.
	RenewTimeout time.Duration
	// Patterns are compared with message ids and names. Empty matches all.
	Patterns []string
	// FirstOpens restricts opening to messages matching Patterns[0].
	FirstOpens bool
	// LastCloses closes a window when a message matching the last pattern
	// is added.
	LastCloses bool
}

var (
	ErrNoTimeout        = errors.New("conditions: timeout must be positive")
	ErrNegativeMaxSize  = errors.New("conditions: max_size must not be negative")
	ErrNegativeRenew    = errors.New("conditions: renew_timeout must not be negative")
	ErrPatternsRequired = errors.New("conditions: first_opens and last_closes need at least one pattern")
)

// Validate reports configuration errors.
func (c Conditions) Validate() error {
	if c.Timeout <= 0 {
		return ErrNoTimeout
	}
	if c.MaxSize < 0 {
		return ErrNegativeMaxSize
	}
	if c.RenewTimeout < 0 {
		return ErrNegativeRenew
	}
	if (c.FirstOpens || c.LastCloses) && len(c.Patterns) == 0 {
		return ErrPatternsRequired
	}
	return nil
}

func matchesPattern(msg *model.Message, pattern string) bool {
	return msg.ID() == pattern || (msg.HasName() && msg.Name() == pattern)
}

// Matches reports whether msg is relevant to the context at all.
func (c Conditions) Matches(msg *model.Message) bool {
	if len(c.Patterns) == 0 {
		return true
	}
	for _, p := range c.Patterns {
		if matchesPattern(msg, p) {
			return true
		}
	}
	return false
}

// IsOpening reports whether msg may open a closed window.
func (c Conditions) IsOpening(msg *model.Message) bool {
	if len(c.Patterns) == 0 {
		return true
	}
	if c.FirstOpens {
		return matchesPattern(msg, c.Patterns[0])
	}
	return c.Matches(msg)
}

// IsClosing reports whether an open window must close now.
func (c Conditions) IsClosing(s *State) bool {
	_, ok := c.ClosingReason(s)
	return ok
}

// ClosingReason returns the first satisfied closing condition, checked in the
// order timeout, max size, renew timeout, last pattern.
func (c Conditions) ClosingReason(s *State) (CloseReason, bool) {
	switch {
	case s.Elapsed() >= c.Timeout:
		return ReasonTimeout, true
	case c.MaxSize > 0 && s.Len() >= c.MaxSize:
		return ReasonMaxSize, true
	case c.RenewTimeout > 0 && s.SinceLastMessage() >= c.RenewTimeout:
		return ReasonRenewTimeout, true
	case c.LastCloses && c.closesOnLast(s):
		return ReasonLastCloses, true
	}
	return "", false
}

func (c Conditions) closesOnLast(s *State) bool {
	last := s.LastMessage()
	if last == nil || len(c.Patterns) == 0 {
		return false
	}
	return matchesPattern(last, c.Patterns[len(c.Patterns)-1])
}

// ConditionsBuilder assembles Conditions step by step.
type ConditionsBuilder struct {
	c Conditions
}

// NewConditionsBuilder starts from the only mandatory setting.
func NewConditionsBuilder(timeout time.Duration) *ConditionsBuilder {
	return &ConditionsBuilder{c: Conditions{Timeout: timeout}}
}

func (b *ConditionsBuilder) MaxSize(n int) *ConditionsBuilder {
	b.c.MaxSize = n
	return b
}

func (b *ConditionsBuilder) RenewTimeout(d time.Duration) *ConditionsBuilder {
	b.c.RenewTimeout = d
	return b
}

func (b *ConditionsBuilder) Patterns(patterns ...string) *ConditionsBuilder {
	b.c.Patterns = append([]string(nil), patterns...)
	return b
}

func (b *ConditionsBuilder) FirstOpens(v bool) *ConditionsBuilder {
	b.c.FirstOpens = v
	return b
}

func (b *ConditionsBuilder) LastCloses(v bool) *ConditionsBuilder {
	b.c.LastCloses = v
	return b
}

// Build returns a copy of the accumulated conditions.
func (b *ConditionsBuilder) Build() Conditions {
	c := b.c
	c.Patterns = append([]string(nil), b.c.Patterns...)
	return c
}
