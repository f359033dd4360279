package store

import "github.com/daviddao/correlog/pkg/model"

// StoreInterface is the journal as seen by the cmd layer. *Store implements
// it; tests can inject a fake.
type StoreInterface interface {
	Close() error

	// InsertAlert appends an alert. Returns the row ID.
	InsertAlert(a *model.Alert) (int64, error)

	// ListAlerts returns alerts with row ID > sinceID.
	ListAlerts(sinceID int64, limit int) ([]model.JournaledAlert, error)

	// ListAlertsForContext returns alerts of one context with row ID > sinceID.
	ListAlertsForContext(contextName string, sinceID int64, limit int) ([]model.JournaledAlert, error)

	MaxAlertID() int64
	CountAlerts() int64
}

var _ StoreInterface = (*Store)(nil)
