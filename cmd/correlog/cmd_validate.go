package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daviddao/correlog/pkg/correlation"
)

func newValidateCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "validate [contexts]",
		Short: "Check a contexts document and summarize it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.settings.Contexts
			if len(args) == 1 {
				path = args[0]
			}
			return a.validate(cmd.OutOrStdout(), path, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}

func (a *app) validate(out io.Writer, path string, jsonOut bool) error {
	_, contexts, err := a.loadContexts(path, nil)
	if err != nil {
		return err
	}
	summaries := correlation.NewContextMap(contexts...).Summaries()

	if jsonOut {
		printJSON(out, map[string]interface{}{"contexts": summaries, "count": len(summaries)})
		return nil
	}
	fmt.Fprintf(out, "%s: %d context(s) OK\n", path, len(summaries))
	for _, s := range summaries {
		name := s.Name
		if name == "" {
			name = "(unnamed)"
		}
		patterns := "*"
		if len(s.Patterns) > 0 {
			patterns = strings.Join(s.Patterns, ",")
		}
		fmt.Fprintf(out, "  %-20s %-6s %s patterns=%s actions=%d\n", name, s.Kind, s.ID, patterns, s.Actions)
	}
	return nil
}
