package config

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaData []byte

var contextsSchema = mustSchema(schemaData)

func mustSchema(b []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		panic(fmt.Sprintf("config: compile contexts schema: %v", err))
	}
	return s
}

// Duration accepts either a number of milliseconds or a Go duration string.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	v, err := ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ParseDuration reads "1500" as 1500ms and anything else with
// time.ParseDuration.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// ContextConfig is one entry of the contexts document.
type ContextConfig struct {
	Name string `yaml:"name,omitempty"`
	UUID string `yaml:"uuid,omitempty"`
	// ContextID is a template rendered over message values. When set the
	// context keeps one window per rendered key.
	ContextID  string           `yaml:"context_id,omitempty"`
	MaxKeys    int              `yaml:"max_keys,omitempty"`
	Conditions ConditionsConfig `yaml:"conditions"`
	Actions    []ActionConfig   `yaml:"actions,omitempty"`
}

type ConditionsConfig struct {
	Timeout      Duration `yaml:"timeout"`
	RenewTimeout Duration `yaml:"renew_timeout,omitempty"`
	MaxSize      int      `yaml:"max_size,omitempty"`
	Patterns     []string `yaml:"patterns,omitempty"`
	FirstOpens   bool     `yaml:"first_opens,omitempty"`
	LastCloses   bool     `yaml:"last_closes,omitempty"`
}

type ActionConfig struct {
	Message *MessageConfig `yaml:"message"`
}

type MessageConfig struct {
	UUID    string            `yaml:"uuid"`
	Name    string            `yaml:"name,omitempty"`
	Message string            `yaml:"message,omitempty"`
	Values  map[string]string `yaml:"values,omitempty"`
	Inject  bool              `yaml:"inject,omitempty"`
}

// SchemaError lists every schema violation found in a contexts document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "contexts document does not match schema: " + strings.Join(e.Problems, "; ")
}

// Validate checks a contexts document against the embedded JSON schema.
// JSON documents are accepted since they are valid YAML.
func Validate(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse contexts: %w", err)
	}
	if doc == nil {
		return &SchemaError{Problems: []string{"document is empty"}}
	}
	res, err := contextsSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate contexts: %w", err)
	}
	if res.Valid() {
		return nil
	}
	se := &SchemaError{}
	for _, re := range res.Errors() {
		se.Problems = append(se.Problems, re.String())
	}
	return se
}

// ParseContexts validates and decodes a contexts document.
func ParseContexts(data []byte) ([]ContextConfig, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var cfgs []ContextConfig
	if err := yaml.Unmarshal(data, &cfgs); err != nil {
		return nil, fmt.Errorf("decode contexts: %w", err)
	}
	return cfgs, nil
}

// LoadContexts reads and decodes the contexts document at path.
func LoadContexts(fs afero.Fs, path string) ([]ContextConfig, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read contexts: %w", err)
	}
	cfgs, err := ParseContexts(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfgs, nil
}
