package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/daviddao/correlog/pkg/config"
	"github.com/daviddao/correlog/pkg/correlation"
	"github.com/daviddao/correlog/pkg/logging"
	"github.com/daviddao/correlog/pkg/metrics"
	"github.com/daviddao/correlog/pkg/store"
)

// app holds shared state for all CLI subcommands.
type app struct {
	fs         afero.Fs
	configPath string
	settings   *config.Settings
	logger     *zap.Logger
	journal    store.StoreInterface
}

func newApp(fs afero.Fs) *app {
	return &app{fs: fs, logger: zap.NewNop()}
}

// init resolves settings and builds the logger. Called before every
// subcommand.
func (a *app) init(flags *pflag.FlagSet) error {
	s, err := config.Load(a.fs, a.configPath, flags)
	if err != nil {
		return err
	}
	l, err := logging.New(s.LogLevel, s.LogJSON)
	if err != nil {
		return err
	}
	a.settings = s
	a.logger = l
	return nil
}

// openJournal opens the alert journal, creating its directory if needed.
func (a *app) openJournal() (store.StoreInterface, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	path := a.settings.DB
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	s, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open journal %q: %w", path, err)
	}
	a.journal = s
	return s, nil
}

// loadContexts reads, validates and builds the contexts document at path.
func (a *app) loadContexts(path string, m *metrics.Metrics) ([]config.ContextConfig, []correlation.Context, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("no contexts document: pass --%s or set it in the settings file", config.KeyContexts)
	}
	cfgs, err := config.LoadContexts(a.fs, path)
	if err != nil {
		return nil, nil, err
	}
	contexts, err := config.Build(cfgs, a.logger, m)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfgs, contexts, nil
}

// Close releases the journal and flushes the logger.
func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
	_ = a.logger.Sync()
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
