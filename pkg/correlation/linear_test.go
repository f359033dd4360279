package correlation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/correlog/pkg/event"
	"github.com/daviddao/correlog/pkg/model"
)

const msgID = "11eaf6f8-0640-460f-aee2-a72d2f2ab258"

func testAction(t *testing.T) *MessageAction {
	t.Helper()
	a, err := NewMessageAction(MessageActionConfig{ID: "action", Message: "closed {{.Context.Len}}"})
	require.NoError(t, err)
	return a
}

func newLinear(t *testing.T, cond Conditions) *LinearContext {
	t.Helper()
	base := NewBaseContextBuilder(uuid.New(), cond).Name("linear").Actions(testAction(t)).Build()
	return NewLinearContext(base)
}

func TestLinear_TimeoutClosesExactlyAtTimeout(t *testing.T) {
	var r event.Recorder
	c := newLinear(t, NewConditionsBuilder(100*time.Millisecond).Patterns(msgID).Build())
	m := model.NewBuilder(msgID).Name("message").Build()

	assert.False(t, c.IsOpen())
	c.OnMessage(m, &r)
	assert.True(t, c.IsOpen())
	c.OnTimer(50*time.Millisecond, &r)
	assert.True(t, c.IsOpen())
	c.OnTimer(49*time.Millisecond, &r)
	assert.True(t, c.IsOpen())
	c.OnTimer(1*time.Millisecond, &r)
	assert.False(t, c.IsOpen())
	assert.Len(t, r.Alerts(), 1)
}

func TestLinear_MaxSizeClosesOnThirdMessage(t *testing.T) {
	var r event.Recorder
	c := newLinear(t, NewConditionsBuilder(100*time.Millisecond).MaxSize(3).Patterns(msgID).Build())
	m := model.NewBuilder(msgID).Build()

	c.OnMessage(m, &r)
	assert.True(t, c.IsOpen())
	c.OnMessage(m, &r)
	assert.True(t, c.IsOpen())
	assert.Empty(t, r.Alerts())
	c.OnMessage(m, &r)
	assert.False(t, c.IsOpen())

	alerts := r.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, 3, alerts[0].WindowLen)
}

func TestLinear_MaxSizeProperty(t *testing.T) {
	for n := 1; n <= 6; n++ {
		var r event.Recorder
		c := newLinear(t, NewConditionsBuilder(time.Hour).MaxSize(n).Build())
		for k := 1; k < n; k++ {
			c.OnMessage(msg("m"), &r)
			require.True(t, c.IsOpen(), "n=%d: window of size %d must stay open", n, k)
		}
		c.OnMessage(msg("m"), &r)
		require.False(t, c.IsOpen(), "n=%d: window must close at size n", n)
		require.Len(t, r.Alerts(), 1)
	}
}

func TestLinear_TimeoutProperty(t *testing.T) {
	steps := [][]time.Duration{
		{99 * time.Millisecond, time.Millisecond},
		{10 * time.Millisecond, 30 * time.Millisecond, 59 * time.Millisecond, 5 * time.Millisecond},
		{100 * time.Millisecond},
	}
	for _, seq := range steps {
		var r event.Recorder
		c := newLinear(t, NewConditionsBuilder(100*time.Millisecond).Build())
		c.OnMessage(msg("m"), &r)

		var sum time.Duration
		for _, d := range seq {
			require.True(t, c.IsOpen(), "open while cumulative %v < timeout", sum)
			c.OnTimer(d, &r)
			sum += d
		}
		assert.False(t, c.IsOpen(), "closed once cumulative %v >= timeout", sum)
		assert.Len(t, r.Alerts(), 1)
	}
}

func TestLinear_RenewTimeoutExpires(t *testing.T) {
	var r event.Recorder
	c := newLinear(t, NewConditionsBuilder(100*time.Millisecond).RenewTimeout(10*time.Millisecond).Patterns(msgID).Build())
	m := model.NewBuilder(msgID).Build()

	c.OnMessage(m, &r)
	assert.True(t, c.IsOpen())
	c.OnTimer(8*time.Millisecond, &r)
	assert.True(t, c.IsOpen())
	c.OnTimer(1*time.Millisecond, &r)
	assert.True(t, c.IsOpen())
	c.OnTimer(1*time.Millisecond, &r)
	assert.False(t, c.IsOpen())
}

func TestLinear_RenewTimeoutRenewedByMessage(t *testing.T) {
	var r event.Recorder
	c := newLinear(t, NewConditionsBuilder(100*time.Millisecond).RenewTimeout(10*time.Millisecond).Patterns(msgID).Build())
	m := model.NewBuilder(msgID).Build()

	c.OnMessage(m, &r)
	c.OnTimer(8*time.Millisecond, &r)
	c.OnTimer(1*time.Millisecond, &r)
	assert.True(t, c.IsOpen())
	c.OnMessage(m, &r)
	assert.True(t, c.IsOpen())
	c.OnTimer(1*time.Millisecond, &r)
	assert.True(t, c.IsOpen())
	assert.Empty(t, r.Alerts())
}

func TestLinear_OpenAndCloseOnSameMessage(t *testing.T) {
	var r event.Recorder
	c := newLinear(t, NewConditionsBuilder(time.Second).MaxSize(1).Build())
	c.OnMessage(msg("m"), &r)
	assert.False(t, c.IsOpen())
	assert.Len(t, r.Alerts(), 1)
}

func TestLinear_ClosedIsIdempotent(t *testing.T) {
	var r event.Recorder
	c := newLinear(t, NewConditionsBuilder(10*time.Millisecond).Patterns("p1").Build())
	c.OnMessage(msg("p1"), &r)
	c.OnTimer(10*time.Millisecond, &r)
	require.False(t, c.IsOpen())
	require.Len(t, r.Alerts(), 1)

	c.OnTimer(10*time.Millisecond, &r)
	c.OnMessage(msg("other"), &r)
	c.OnTimer(10*time.Millisecond, &r)
	assert.False(t, c.IsOpen())
	assert.Len(t, r.Alerts(), 1, "no duplicate action firing")
}

func TestLinear_ReopensWithFreshWindow(t *testing.T) {
	var r event.Recorder
	c := newLinear(t, NewConditionsBuilder(time.Second).MaxSize(2).Build())
	c.OnMessage(msg("a"), &r)
	c.OnMessage(msg("b"), &r)
	require.False(t, c.IsOpen())

	c.OnMessage(msg("c"), &r)
	assert.True(t, c.IsOpen())
	assert.Equal(t, 1, c.State().Len())
	assert.Equal(t, time.Duration(0), c.State().Elapsed())
}

func TestLinear_IrrelevantMessagesNotAccumulated(t *testing.T) {
	var r event.Recorder
	c := newLinear(t, NewConditionsBuilder(time.Second).MaxSize(2).Patterns("p1", "p2").Build())
	c.OnMessage(msg("p1"), &r)
	c.OnMessage(msg("noise"), &r)
	assert.True(t, c.IsOpen())
	assert.Equal(t, 1, c.State().Len())
	c.OnMessage(msg("p2"), &r)
	assert.False(t, c.IsOpen())
}

func TestLinear_FirstOpensLastCloses(t *testing.T) {
	var r event.Recorder
	c := newLinear(t, NewConditionsBuilder(time.Second).Patterns("p1", "p2", "p3").FirstOpens(true).LastCloses(true).Build())

	c.OnMessage(named("u2", "p2"), &r)
	assert.False(t, c.IsOpen(), "only the first pattern opens")
	c.OnMessage(named("u1", "p1"), &r)
	assert.True(t, c.IsOpen())
	c.OnMessage(named("u2", "p2"), &r)
	assert.True(t, c.IsOpen())
	c.OnMessage(named("u3", "p3"), &r)
	assert.False(t, c.IsOpen())
	require.Len(t, r.Alerts(), 1)
	assert.Equal(t, 3, r.Alerts()[0].WindowLen)
}

func TestLinear_OnEventRouting(t *testing.T) {
	var r event.Recorder
	c := newLinear(t, NewConditionsBuilder(10*time.Millisecond).Build())
	c.OnEvent(event.MessageRequest(msg("m")), &r)
	assert.True(t, c.IsOpen())
	c.OnEvent(event.ExitRequest(), &r)
	assert.True(t, c.IsOpen(), "exit is not a context concern")
	c.OnEvent(event.TimerRequest(10*time.Millisecond), &r)
	assert.False(t, c.IsOpen())
}

type failingAction struct{}

func (failingAction) ID() string { return "failing" }

func (failingAction) Execute(ClosedWindow) (*model.Alert, error) {
	return nil, assert.AnError
}

func (failingAction) isAction() {}

func TestLinear_ActionFailureStillCloses(t *testing.T) {
	var r event.Recorder
	base := NewBaseContextBuilder(uuid.New(), NewConditionsBuilder(time.Second).MaxSize(1).Build()).
		Actions(failingAction{}, testAction(t)).
		Build()
	c := NewLinearContext(base)

	c.OnMessage(msg("m"), &r)
	assert.False(t, c.IsOpen())
	assert.Len(t, r.Alerts(), 1, "the failing action is suppressed, the other one still fires")
}
