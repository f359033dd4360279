package dispatcher

import "github.com/daviddao/correlog/pkg/event"

// Demultiplexer selects the next request from the inbound channel.
type Demultiplexer struct {
	in <-chan event.Request
}

func NewDemultiplexer(in <-chan event.Request) *Demultiplexer {
	return &Demultiplexer{in: in}
}

// Select blocks until a request is available. It returns false only when the
// channel has been closed and drained.
func (d *Demultiplexer) Select() (event.Request, bool) {
	req, ok := <-d.in
	return req, ok
}
