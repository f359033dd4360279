package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/daviddao/correlog/pkg/model"
)

type alertsQuery struct {
	sinceID int64
	limit   int
	context string
	jsonOut bool
}

func newAlertsCmd(a *app) *cobra.Command {
	var q alertsQuery
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Query the alert journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.alerts(cmd.OutOrStdout(), q)
		},
	}
	cmd.Flags().Int64Var(&q.sinceID, "since", 0, "only alerts with id > this")
	cmd.Flags().IntVar(&q.limit, "limit", 50, "max alerts to return")
	cmd.Flags().StringVar(&q.context, "context", "", "only alerts of this context name")
	cmd.Flags().BoolVar(&q.jsonOut, "json", false, "JSON output")
	return cmd
}

func (a *app) alerts(out io.Writer, q alertsQuery) error {
	j, err := a.openJournal()
	if err != nil {
		return err
	}

	var alerts []model.JournaledAlert
	if q.context != "" {
		alerts, err = j.ListAlertsForContext(q.context, q.sinceID, q.limit)
	} else {
		alerts, err = j.ListAlerts(q.sinceID, q.limit)
	}
	if err != nil {
		return fmt.Errorf("alerts: %w", err)
	}

	if q.jsonOut {
		printJSON(out, map[string]interface{}{"alerts": alerts, "count": len(alerts), "total": j.CountAlerts()})
		return nil
	}
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts")
		return nil
	}
	for _, ja := range alerts {
		fmt.Fprintf(out, "#%d %s %s\n", ja.ID, ja.CreatedAt.Local().Format("2006-01-02 15:04:05"), formatAlert(&ja.Alert))
	}
	return nil
}
