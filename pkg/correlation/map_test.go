package correlation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/correlog/pkg/event"
	"github.com/daviddao/correlog/pkg/metrics"
	"github.com/daviddao/correlog/pkg/model"
)

func hostMsg(id, host string) *model.Message {
	return model.NewBuilder(id).Pair("HOST", host).Build()
}

func newMap(t *testing.T, cond Conditions, maxKeys int) *MapContext {
	t.Helper()
	base := NewBaseContextBuilder(uuid.New(), cond).Name("map").Actions(testAction(t)).Build()
	c, err := NewMapContext(base, "{{.HOST}}", maxKeys)
	require.NoError(t, err)
	return c
}

func TestMap_KeysAreIndependent(t *testing.T) {
	var r event.Recorder
	c := newMap(t, NewConditionsBuilder(time.Second).MaxSize(2).Build(), 0)

	c.OnMessage(hostMsg("m", "a"), &r)
	c.OnMessage(hostMsg("m", "b"), &r)
	assert.True(t, c.IsOpen("a"))
	assert.True(t, c.IsOpen("b"))

	c.OnMessage(hostMsg("m", "a"), &r)
	assert.False(t, c.IsOpen("a"))
	assert.True(t, c.IsOpen("b"), "closing one key must not touch another")
	assert.Equal(t, 1, c.State("b").Len())
	assert.Equal(t, 1, c.Len(), "closed keys are removed")
	require.Len(t, r.Alerts(), 1)
}

func TestMap_TimerAppliesToEveryOpenKey(t *testing.T) {
	var r event.Recorder
	c := newMap(t, NewConditionsBuilder(100*time.Millisecond).Build(), 0)

	c.OnMessage(hostMsg("m", "a"), &r)
	c.OnTimer(60*time.Millisecond, &r)
	c.OnMessage(hostMsg("m", "b"), &r)
	c.OnTimer(40*time.Millisecond, &r)

	assert.False(t, c.IsOpen("a"))
	assert.True(t, c.IsOpen("b"))
	assert.Equal(t, 40*time.Millisecond, c.State("b").Elapsed())

	c.OnTimer(60*time.Millisecond, &r)
	assert.Equal(t, 0, c.Len())
	assert.Len(t, r.Alerts(), 2)
}

func TestMap_MissingKeyIgnored(t *testing.T) {
	var r event.Recorder
	c := newMap(t, NewConditionsBuilder(time.Second).Build(), 0)
	c.OnMessage(msg("no-host"), &r)
	assert.Equal(t, 0, c.Len())
}

func TestMap_NonOpeningMessageCreatesNoState(t *testing.T) {
	var r event.Recorder
	c := newMap(t, NewConditionsBuilder(time.Second).Patterns("p1", "p2").FirstOpens(true).Build(), 0)
	c.OnMessage(hostMsg("p2", "a"), &r)
	assert.Equal(t, 0, c.Len())
	c.OnMessage(hostMsg("p1", "a"), &r)
	assert.True(t, c.IsOpen("a"))
	c.OnMessage(hostMsg("p2", "a"), &r)
	assert.Equal(t, 2, c.State("a").Len())
}

func TestMap_MaxKeysRejectsNewKeys(t *testing.T) {
	var r event.Recorder
	m := metrics.New()
	base := NewBaseContextBuilder(uuid.New(), NewConditionsBuilder(time.Second).Build()).Metrics(m).Build()
	c, err := NewMapContext(base, "{{.HOST}}", 2)
	require.NoError(t, err)

	c.OnMessage(hostMsg("m", "a"), &r)
	c.OnMessage(hostMsg("m", "b"), &r)
	c.OnMessage(hostMsg("m", "c"), &r)
	assert.Equal(t, []string{"a", "b"}, c.OpenKeys())

	c.OnMessage(hostMsg("m", "a"), &r)
	assert.Equal(t, 2, c.State("a").Len(), "existing keys still accumulate at the limit")
}

func TestMap_CompositeKey(t *testing.T) {
	base := NewBaseContextBuilder(uuid.New(), NewConditionsBuilder(time.Second).Build()).Build()
	c, err := NewMapContext(base, "{{.HOST}}/{{.PROGRAM}}", 0)
	require.NoError(t, err)

	key, err := c.Key(model.NewBuilder("m").Pair("HOST", "h").Pair("PROGRAM", "sshd").Build())
	require.NoError(t, err)
	assert.Equal(t, "h/sshd", key)
}

func TestNewMapContext_BadTemplate(t *testing.T) {
	base := NewBaseContextBuilder(uuid.New(), NewConditionsBuilder(time.Second).Build()).Build()
	_, err := NewMapContext(base, "{{.HOST", 0)
	assert.Error(t, err)
}

func TestContextMap_BroadcastsToAll(t *testing.T) {
	var r event.Recorder
	a := newLinear(t, NewConditionsBuilder(time.Second).MaxSize(1).Patterns("p1").Build())
	b := newLinear(t, NewConditionsBuilder(time.Second).MaxSize(1).Patterns("p2").Build())
	c := newMap(t, NewConditionsBuilder(time.Second).MaxSize(1).Build(), 0)
	cm := NewContextMap(a, b)
	cm.Add(c)
	require.Equal(t, 3, cm.Len())

	cm.OnEvent(event.MessageRequest(model.NewBuilder("p1").Pair("HOST", "h").Build()), &r)

	alerts := r.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "linear", alerts[0].ContextName)
	assert.Equal(t, "map", alerts[1].ContextName)
}

func TestContextMap_Summaries(t *testing.T) {
	a := newLinear(t, NewConditionsBuilder(time.Second).Patterns("p1").Build())
	b := newMap(t, NewConditionsBuilder(time.Second).Build(), 0)
	s := NewContextMap(a, b).Summaries()
	require.Len(t, s, 2)
	assert.Equal(t, "linear", s[0].Kind)
	assert.Equal(t, []string{"p1"}, s[0].Patterns)
	assert.Equal(t, "map", s[1].Kind)
	assert.Equal(t, 1, s[1].Actions)
}
