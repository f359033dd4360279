// Package event defines the units of work that cross the engine boundary:
// Requests flow into the reactor, Responses flow out of it.
package event

import (
	"fmt"
	"time"

	"github.com/daviddao/correlog/pkg/model"
)

// RequestKind tags a Request. Reactor handlers are registered per kind.
type RequestKind int

const (
	RequestMessage RequestKind = iota
	RequestTimer
	RequestExit
)

func (k RequestKind) String() string {
	switch k {
	case RequestMessage:
		return "message"
	case RequestTimer:
		return "timer"
	case RequestExit:
		return "exit"
	default:
		return fmt.Sprintf("request(%d)", int(k))
	}
}

// Request is the tagged union carried by the inbound channel. Message is set
// only for RequestMessage, Elapsed only for RequestTimer.
type Request struct {
	Kind    RequestKind
	Message *model.Message
	Elapsed time.Duration
}

// MessageRequest wraps msg for the inbound channel.
func MessageRequest(msg *model.Message) Request {
	return Request{Kind: RequestMessage, Message: msg}
}

// TimerRequest carries the time elapsed since the previous tick.
func TimerRequest(elapsed time.Duration) Request {
	return Request{Kind: RequestTimer, Elapsed: elapsed}
}

// ExitRequest asks the reactor to shut down.
func ExitRequest() Request {
	return Request{Kind: RequestExit}
}

// ResponseKind tags a Response. The facade dispatches responses per kind.
type ResponseKind int

const (
	ResponseExit ResponseKind = iota
	ResponseAlert
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseExit:
		return "exit"
	case ResponseAlert:
		return "alert"
	default:
		return fmt.Sprintf("response(%d)", int(k))
	}
}

// Response is the tagged union carried by the outbound channel. Alert is set
// only for ResponseAlert.
type Response struct {
	Kind  ResponseKind
	Alert *model.Alert
}

// AlertResponse wraps a produced alert.
func AlertResponse(a *model.Alert) Response {
	return Response{Kind: ResponseAlert, Alert: a}
}

// ExitResponse acknowledges an exit request.
func ExitResponse() Response {
	return Response{Kind: ResponseExit}
}

// Responder receives the responses produced while a request is handled.
// Implementations are called only from the reactor goroutine.
type Responder interface {
	SendResponse(Response)
}

// Recorder is a Responder that keeps every response in memory.
type Recorder struct {
	Responses []Response
}

// SendResponse implements Responder.
func (r *Recorder) SendResponse(resp Response) {
	r.Responses = append(r.Responses, resp)
}

// Alerts returns the recorded alerts in arrival order.
func (r *Recorder) Alerts() []*model.Alert {
	var out []*model.Alert
	for _, resp := range r.Responses {
		if resp.Kind == ResponseAlert {
			out = append(out, resp.Alert)
		}
	}
	return out
}

// Reset forgets all recorded responses.
func (r *Recorder) Reset() { r.Responses = nil }
