package correlation

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"text/template"

	"github.com/google/uuid"

	"github.com/daviddao/correlog/pkg/model"
)

// MessageKey is the value key that holds the rendered message text of an
// alert.
const MessageKey = "MESSAGE"

// ClosedWindow is what an action sees when a window closes.
type ClosedWindow struct {
	ContextName string
	ContextID   uuid.UUID
	Messages    []*model.Message
}

// Action is the closed set of things a context can do with a closed window.
// The only variant is *MessageAction.
type Action interface {
	// ID identifies the action in produced alerts.
	ID() string
	// Execute renders the action for w. A nil alert with a nil error means
	// the action produced nothing.
	Execute(w ClosedWindow) (*model.Alert, error)

	isAction()
}

// MessageAction renders a new message from a closed window.
type MessageAction struct {
	id      string
	name    string
	message *template.Template
	values  map[string]*template.Template
	keys    []string
	inject  bool
}

// MessageActionConfig is the uncompiled form of a MessageAction.
type MessageActionConfig struct {
	ID      string
	Name    string
	Message string
	Values  map[string]string
	// Inject feeds the produced message back into the correlator.
	Inject bool
}

// NewMessageAction compiles cfg. Templates use text/template syntax and see
// the data described by windowData.
func NewMessageAction(cfg MessageActionConfig) (*MessageAction, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("message action: id is required")
	}
	a := &MessageAction{
		id:     cfg.ID,
		name:   cfg.Name,
		values: make(map[string]*template.Template, len(cfg.Values)),
		inject: cfg.Inject,
	}
	var err error
	if a.message, err = parseTemplate(cfg.ID+"/message", cfg.Message); err != nil {
		return nil, err
	}
	for k, v := range cfg.Values {
		t, err := parseTemplate(cfg.ID+"/values/"+k, v)
		if err != nil {
			return nil, err
		}
		a.values[k] = t
		a.keys = append(a.keys, k)
	}
	sort.Strings(a.keys)
	return a, nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return t, nil
}

func (a *MessageAction) ID() string { return a.id }

func (a *MessageAction) isAction() {}

type messageData struct {
	ID     string
	Name   string
	Values map[string]string
}

type windowData struct {
	Context struct {
		Name string
		ID   string
		Len  int
	}
	Messages []messageData
	First    messageData
	Last     messageData
}

func newWindowData(w ClosedWindow) windowData {
	var d windowData
	d.Context.Name = w.ContextName
	d.Context.ID = w.ContextID.String()
	d.Context.Len = len(w.Messages)
	d.Messages = make([]messageData, 0, len(w.Messages))
	for _, m := range w.Messages {
		d.Messages = append(d.Messages, messageData{ID: m.ID(), Name: m.Name(), Values: m.Values()})
	}
	if n := len(d.Messages); n > 0 {
		d.First = d.Messages[0]
		d.Last = d.Messages[n-1]
	}
	return d
}

func render(t *template.Template, data windowData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// Execute implements Action.
func (a *MessageAction) Execute(w ClosedWindow) (*model.Alert, error) {
	data := newWindowData(w)

	b := model.NewBuilder(a.id).Name(a.name)
	for _, k := range a.keys {
		v, err := render(a.values[k], data)
		if err != nil {
			return nil, err
		}
		b.Pair(k, v)
	}
	text, err := render(a.message, data)
	if err != nil {
		return nil, err
	}
	b.Pair(MessageKey, text)
	b.Pair(model.ContextNameKey, w.ContextName)
	b.Pair(model.ContextIDKey, data.Context.ID)
	b.Pair(model.ContextLenKey, strconv.Itoa(len(w.Messages)))

	return &model.Alert{
		ActionID:    a.id,
		ContextID:   data.Context.ID,
		ContextName: w.ContextName,
		Message:     b.Build(),
		WindowLen:   len(w.Messages),
		Inject:      a.inject,
	}, nil
}
