package dispatcher

import "github.com/daviddao/correlog/pkg/event"

// ChannelResponder forwards responses to the outbound channel. It blocks when
// the channel is full, which applies back pressure to the reactor.
type ChannelResponder struct {
	out chan<- event.Response
}

func NewChannelResponder(out chan<- event.Response) *ChannelResponder {
	return &ChannelResponder{out: out}
}

// SendResponse implements event.Responder.
func (c *ChannelResponder) SendResponse(resp event.Response) {
	c.out <- resp
}
