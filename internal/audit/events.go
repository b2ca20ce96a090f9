// Package audit records pipeline transitions as an append-only event trail.
package audit

import (
	"github.com/sirupsen/logrus"

	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/store"
)

// EventWriter appends audit events for state-mutating pipeline actions.
// A write failure never blocks the pipeline; it is logged and dropped.
type EventWriter struct {
	store *store.Store
	log   *logrus.Logger
}

// NewEventWriter creates a new event writer.
func NewEventWriter(s *store.Store, log *logrus.Logger) *EventWriter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EventWriter{store: s, log: log}
}

// Record writes one event. Component may be empty for task-level actions.
func (w *EventWriter) Record(taskID string, kind models.ComponentKind, action, outcome, detail string) {
	e := &models.Event{
		TaskID:    taskID,
		Component: string(kind),
		Action:    action,
		Outcome:   outcome,
		Detail:    detail,
	}
	if err := w.store.AppendEvent(e); err != nil {
		w.log.WithFields(logrus.Fields{
			"task_id": taskID,
			"action":  action,
		}).WithError(err).Warn("failed to append audit event")
	}
}
