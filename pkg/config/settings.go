// Package config loads process settings and the correlation contexts
// document.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

const (
	EnvPrefix         = "CORRELOG_"
	DefaultConfigFile = "correlog.yaml"
	DefaultDBPath     = ".correlog/alerts.db"
)

// Keys understood in the settings file, as CORRELOG_* variables and as
// flags of the same name.
const (
	KeyContexts    = "contexts"
	KeyDB          = "db"
	KeyLogLevel    = "log.level"
	KeyLogJSON     = "log.json"
	KeyTimerStep   = "timer.step"
	KeyQueueSize   = "queue.size"
	KeyStopTimeout = "stop.timeout"
	KeyStopRetries = "stop.retries"
	KeyMetricsAddr = "metrics.addr"
	KeyIngestRate  = "ingest.rate"
)

// Settings is the resolved process configuration.
type Settings struct {
	Contexts    string
	DB          string
	LogLevel    string
	LogJSON     bool
	TimerStep   time.Duration
	QueueSize   int
	StopTimeout time.Duration
	StopRetries int
	MetricsAddr string
	// IngestRate caps messages per second read by the run command. Zero
	// means unlimited.
	IngestRate float64
}

// Defaults returns the lowest-priority layer.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		KeyContexts:    "",
		KeyDB:          DefaultDBPath,
		KeyLogLevel:    "info",
		KeyLogJSON:     false,
		KeyTimerStep:   "100ms",
		KeyQueueSize:   1024,
		KeyStopTimeout: "5s",
		KeyStopRetries: 3,
		KeyMetricsAddr: "",
		KeyIngestRate:  0.0,
	}
}

// envKey maps CORRELOG_LOG_LEVEL to log.level.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
}

// Load resolves settings from defaults, the YAML file at path, CORRELOG_*
// environment variables and flags, each layer overriding the previous one.
// A missing file is only an error when path was given explicitly; an empty
// path falls back to DefaultConfigFile if it exists. flags may be nil.
func Load(fs afero.Fs, path string, flags *pflag.FlagSet) (*Settings, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	switch {
	case exists:
		b, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(b), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit:
		return nil, fmt.Errorf("config file %s not found", path)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	s := &Settings{
		Contexts:    k.String(KeyContexts),
		DB:          k.String(KeyDB),
		LogLevel:    k.String(KeyLogLevel),
		LogJSON:     k.Bool(KeyLogJSON),
		TimerStep:   k.Duration(KeyTimerStep),
		QueueSize:   k.Int(KeyQueueSize),
		StopTimeout: k.Duration(KeyStopTimeout),
		StopRetries: k.Int(KeyStopRetries),
		MetricsAddr: k.String(KeyMetricsAddr),
		IngestRate:  k.Float64(KeyIngestRate),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects values the engine cannot run with.
func (s *Settings) Validate() error {
	var errs []error
	if s.TimerStep <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeyTimerStep, s.TimerStep))
	}
	if s.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyQueueSize, s.QueueSize))
	}
	if s.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeyStopTimeout, s.StopTimeout))
	}
	if s.StopRetries < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeyStopRetries, s.StopRetries))
	}
	if s.IngestRate < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %g", KeyIngestRate, s.IngestRate))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// RegisterFlags adds one flag per settings key to fs. Only flags the user
// sets override the other layers.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyContexts, "", "path to the contexts document (YAML or JSON)")
	fs.String(KeyDB, DefaultDBPath, "path to the alert journal")
	fs.String(KeyLogLevel, "info", "log level (debug, info, warn, error)")
	fs.Bool(KeyLogJSON, false, "log as JSON")
	fs.Duration(KeyTimerStep, 100*time.Millisecond, "interval between timer ticks")
	fs.Int(KeyQueueSize, 1024, "request and response queue capacity")
	fs.Duration(KeyStopTimeout, 5*time.Second, "wait per shutdown attempt")
	fs.Int(KeyStopRetries, 3, "extra shutdown attempts before giving up")
	fs.String(KeyMetricsAddr, "", "serve Prometheus metrics on this address")
	fs.Float64(KeyIngestRate, 0, "max messages per second read by run (0 = unlimited)")
}
