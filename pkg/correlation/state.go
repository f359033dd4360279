package correlation

import (
	"time"

	"github.com/daviddao/correlog/pkg/model"
)

// State accumulates one window. It starts closed and is only touched by the
// context that owns it.
type State struct {
	messages  []*model.Message
	open      bool
	elapsed   time.Duration
	sinceLast time.Duration
}

// NewState returns a closed, empty window.
func NewState() *State { return &State{} }

// AddMessage appends msg and restarts the since-last-message clock.
func (s *State) AddMessage(msg *model.Message) {
	s.messages = append(s.messages, msg)
	s.sinceLast = 0
}

// Advance moves both clocks forward by delta.
func (s *State) Advance(delta time.Duration) {
	s.elapsed += delta
	s.sinceLast += delta
}

func (s *State) Open() { s.open = true }

// Close marks the window closed. Messages are kept so actions can still read
// them.
func (s *State) Close() { s.open = false }

func (s *State) IsOpen() bool { return s.open }

// Messages returns the accumulated messages in arrival order. The slice must
// not be modified.
func (s *State) Messages() []*model.Message { return s.messages }

func (s *State) Len() int { return len(s.messages) }

func (s *State) Elapsed() time.Duration { return s.elapsed }

func (s *State) SinceLastMessage() time.Duration { return s.sinceLast }

// LastMessage returns the most recently added message, or nil.
func (s *State) LastMessage() *model.Message {
	if len(s.messages) == 0 {
		return nil
	}
	return s.messages[len(s.messages)-1]
}
