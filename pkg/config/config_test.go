package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/correlog/pkg/correlation"
)

const jsonContexts = `
[
  {
    "name": "CONTEXT_NAME_1",
    "uuid": "185e96da-c00e-454b-b4fe-9d0a14a86335",
    "conditions": {
      "timeout": 100,
      "patterns": ["p1", "p2", "p3"],
      "first_opens": true
    },
    "actions": [{"message": {"uuid": "uuid1"}}]
  },
  {
    "name": "CONTEXT_NAME_2",
    "uuid": "285e96da-c00e-454b-b4fe-9d0a14a86335",
    "conditions": {"timeout": 10000, "max_size": 5},
    "actions": [{"message": {"uuid": "uuid1"}}, {"message": {"uuid": "uuid2"}}]
  },
  {
    "name": "CONTEXT_NAME_3",
    "uuid": "385e96da-c00e-454b-b4fe-9d0a14a86335",
    "conditions": {"timeout": 100, "patterns": ["p1"]},
    "actions": [{"message": {"uuid": "uuid2"}}]
  }
]`

const yamlContexts = `
- name: ssh-bruteforce
  context_id: "{{.HOST}}"
  max_keys: 100
  conditions:
    timeout: 1m
    renew_timeout: 10s
    max_size: 5
    patterns: [LOGIN_FAILED]
  actions:
    - message:
        uuid: ssh-alert
        name: BRUTEFORCE
        message: "{{.Context.Len}} failures"
        values:
          HOST: "{{.Last.Values.HOST}}"
        inject: true
- conditions:
    timeout: 250
`

func TestParseContexts_JSON(t *testing.T) {
	cfgs, err := ParseContexts([]byte(jsonContexts))
	require.NoError(t, err)
	require.Len(t, cfgs, 3)

	first := cfgs[0]
	assert.Equal(t, "CONTEXT_NAME_1", first.Name)
	assert.Equal(t, "185e96da-c00e-454b-b4fe-9d0a14a86335", first.UUID)
	assert.Equal(t, 100*time.Millisecond, first.Conditions.Timeout.Std())
	assert.Equal(t, []string{"p1", "p2", "p3"}, first.Conditions.Patterns)
	assert.True(t, first.Conditions.FirstOpens)
	require.Len(t, first.Actions, 1)
	assert.Equal(t, "uuid1", first.Actions[0].Message.UUID)

	assert.Equal(t, 5, cfgs[1].Conditions.MaxSize)
	assert.Len(t, cfgs[1].Actions, 2)
}

func TestParseContexts_YAML(t *testing.T) {
	cfgs, err := ParseContexts([]byte(yamlContexts))
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	c := cfgs[0]
	assert.Equal(t, "{{.HOST}}", c.ContextID)
	assert.Equal(t, 100, c.MaxKeys)
	assert.Equal(t, time.Minute, c.Conditions.Timeout.Std())
	assert.Equal(t, 10*time.Second, c.Conditions.RenewTimeout.Std())
	msg := c.Actions[0].Message
	assert.True(t, msg.Inject)
	assert.Equal(t, map[string]string{"HOST": "{{.Last.Values.HOST}}"}, msg.Values)

	assert.Equal(t, 250*time.Millisecond, cfgs[1].Conditions.Timeout.Std())
	assert.Empty(t, cfgs[1].UUID)
}

func TestValidate_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not a list", `{"conditions": {"timeout": 1}}`},
		{"missing timeout", `[{"conditions": {"max_size": 3}}]`},
		{"unknown field", `[{"conditions": {"timeout": 1}, "colour": "red"}]`},
		{"action without uuid", `[{"conditions": {"timeout": 1}, "actions": [{"message": {}}]}]`},
		{"negative timeout", `[{"conditions": {"timeout": -5}}]`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]byte(tt.doc))
			var se *SchemaError
			require.True(t, errors.As(err, &se), "want SchemaError, got %v", err)
			assert.NotEmpty(t, se.Problems)
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("1500")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = ParseDuration(" 2m ")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	_, err = ParseDuration("-1s")
	assert.Error(t, err)
	_, err = ParseDuration("soon")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	cfgs, err := ParseContexts([]byte(yamlContexts))
	require.NoError(t, err)

	contexts, err := Build(cfgs, nil, nil)
	require.NoError(t, err)
	require.Len(t, contexts, 2)

	assert.Equal(t, "map", correlation.Kind(contexts[0]))
	assert.Equal(t, "ssh-bruteforce", contexts[0].Base().Name())
	assert.Len(t, contexts[0].Base().Actions(), 1)

	assert.Equal(t, "linear", correlation.Kind(contexts[1]))
	assert.NotEqual(t, contexts[1].Base().ID().String(), "00000000-0000-0000-0000-000000000000",
		"a missing uuid is generated")
}

func TestBuild_KeepsConfiguredUUID(t *testing.T) {
	cfgs, err := ParseContexts([]byte(jsonContexts))
	require.NoError(t, err)
	contexts, err := Build(cfgs, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "185e96da-c00e-454b-b4fe-9d0a14a86335", contexts[0].Base().ID().String())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  ContextConfig
		want error
	}{
		{
			name: "bad uuid",
			cfg:  ContextConfig{UUID: "nope", Conditions: ConditionsConfig{Timeout: Duration(time.Second)}},
		},
		{
			name: "zero timeout",
			cfg:  ContextConfig{},
			want: correlation.ErrNoTimeout,
		},
		{
			name: "first_opens without patterns",
			cfg:  ContextConfig{Conditions: ConditionsConfig{Timeout: Duration(time.Second), FirstOpens: true}},
			want: correlation.ErrPatternsRequired,
		},
		{
			name: "max_keys without context_id",
			cfg:  ContextConfig{MaxKeys: 3, Conditions: ConditionsConfig{Timeout: Duration(time.Second)}},
			want: ErrMaxKeysWithoutID,
		},
		{
			name: "action without message",
			cfg: ContextConfig{
				Conditions: ConditionsConfig{Timeout: Duration(time.Second)},
				Actions:    []ActionConfig{{}},
			},
			want: ErrMissingAction,
		},
		{
			name: "bad key template",
			cfg:  ContextConfig{ContextID: "{{.HOST", Conditions: ConditionsConfig{Timeout: Duration(time.Second)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build([]ContextConfig{tt.cfg}, nil, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "context 0")
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestLoadContexts(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/correlog/contexts.yaml", []byte(yamlContexts), 0o644))

	cfgs, err := LoadContexts(fs, "/etc/correlog/contexts.yaml")
	require.NoError(t, err)
	assert.Len(t, cfgs, 2)

	_, err = LoadContexts(fs, "/missing.yaml")
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(afero.NewMemMapFs(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultDBPath, s.DB)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, 100*time.Millisecond, s.TimerStep)
	assert.Equal(t, 1024, s.QueueSize)
	assert.Equal(t, 5*time.Second, s.StopTimeout)
	assert.Equal(t, 3, s.StopRetries)
	assert.Zero(t, s.IngestRate)
	assert.Empty(t, s.MetricsAddr)
}

func TestLoad_Layering(t *testing.T) {
	fs := afero.NewMemMapFs()
	file := `
contexts: contexts.yaml
log:
  level: debug
timer:
  step: 50ms
queue:
  size: 16
`
	require.NoError(t, afero.WriteFile(fs, DefaultConfigFile, []byte(file), 0o644))
	t.Setenv("CORRELOG_QUEUE_SIZE", "32")
	t.Setenv("CORRELOG_METRICS_ADDR", ":9100")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--timer.step=250ms"}))

	s, err := Load(fs, "", flags)
	require.NoError(t, err)
	assert.Equal(t, "contexts.yaml", s.Contexts, "file")
	assert.Equal(t, "debug", s.LogLevel, "file")
	assert.Equal(t, 32, s.QueueSize, "env beats file")
	assert.Equal(t, ":9100", s.MetricsAddr, "env")
	assert.Equal(t, 250*time.Millisecond, s.TimerStep, "flag beats file")
	assert.Equal(t, 3, s.StopRetries, "unset flag keeps default")
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "nowhere.yaml", nil)
	assert.Error(t, err)
}

func TestLoad_InvalidSettings(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c.yaml", []byte("queue:\n  size: 0\nstop:\n  retries: -1\n"), 0o644))
	_, err := Load(fs, "c.yaml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyQueueSize)
	assert.Contains(t, err.Error(), KeyStopRetries)
}
