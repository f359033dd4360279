// Command correlog is the correlog CLI: it groups a stream of JSON-lines
// messages into windows and emits alerts when windows close.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/daviddao/correlog/pkg/config"
)

const version = "0.1.0"

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "correlog",
		Short: "Correlate message streams into alerts",
		Long: `correlog groups related messages into time- and size-bounded windows and
runs actions when a window closes.

Settings are read from correlog.yaml (or --config), CORRELOG_* environment
variables and flags, in increasing priority. Example: CORRELOG_LOG_LEVEL=debug.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Root().PersistentFlags())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "settings file (default "+config.DefaultConfigFile+" if present)")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newAlertsCmd(a),
		newVersionCmd(),
	)
	return root
}

func main() {
	a := newApp(afero.NewOsFs())
	err := newRootCmd(a).Execute()
	a.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "correlog: %v\n", err)
		os.Exit(1)
	}
}
