package dispatcher

import "sync"

// ExitPhase is a step of the shutdown handshake.
type ExitPhase int

const (
	Running ExitPhase = iota
	ExitRequested
	Confirmed
)

func (p ExitPhase) String() string {
	switch p {
	case Running:
		return "running"
	case ExitRequested:
		return "exit-requested"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// DefaultExitThreshold is the number of Exit requests needed to stop the
// reactor: one from the first shutdown request and one from the facade once
// it has seen the reactor acknowledge the first.
const DefaultExitThreshold = 2

// ExitState is the shutdown state machine
//
//	Running -> ExitRequested -> Confirmed
//
// Each Exit request handled by the reactor counts as one confirmation; the
// machine is Confirmed once the count reaches the threshold. Done is closed
// at that moment, so other goroutines can wait for it.
type ExitState struct {
	mu        sync.Mutex
	phase     ExitPhase
	count     int
	threshold int
	done      chan struct{}
}

// NewExitState returns a Running machine. threshold < 1 is treated as 1.
func NewExitState(threshold int) *ExitState {
	if threshold < 1 {
		threshold = 1
	}
	return &ExitState{threshold: threshold, done: make(chan struct{})}
}

// Confirm records one Exit request and returns the resulting phase. Calls
// after Confirmed are no-ops.
func (e *ExitState) Confirm() ExitPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == Confirmed {
		return e.phase
	}
	e.count++
	if e.count >= e.threshold {
		e.phase = Confirmed
		close(e.done)
	} else {
		e.phase = ExitRequested
	}
	return e.phase
}

func (e *ExitState) Phase() ExitPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Count returns the number of confirmations seen so far.
func (e *ExitState) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func (e *ExitState) IsConfirmed() bool { return e.Phase() == Confirmed }

// Done is closed once the machine is Confirmed.
func (e *ExitState) Done() <-chan struct{} { return e.done }
