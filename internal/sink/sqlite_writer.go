package sink

import (
	"time"

	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/storage"
	"droneops-ctl/internal/telemetry"
)

// SQLiteWriter persists a session's flight log through storage.Store.
type SQLiteWriter struct {
	store     *storage.Store
	sessionID int64
}

// NewSQLiteWriter registers a new session and returns a writer bound to it.
func NewSQLiteWriter(store *storage.Store, sessionUUID, vehicle string, config any) (*SQLiteWriter, error) {
	id, err := store.CreateSession(sessionUUID, vehicle, time.Now(), config)
	if err != nil {
		return nil, err
	}
	return &SQLiteWriter{store: store, sessionID: id}, nil
}

// SessionID returns the storage row ID of the bound session.
func (w *SQLiteWriter) SessionID() int64 { return w.sessionID }

// Write inserts a telemetry record.
func (w *SQLiteWriter) Write(rec telemetry.Record) error {
	return w.store.InsertTelemetry(w.sessionID, rec)
}

// WriteBatch inserts records in one transaction.
func (w *SQLiteWriter) WriteBatch(recs []telemetry.Record) error {
	return w.store.InsertTelemetry(w.sessionID, recs...)
}

// WriteEvent inserts a safety event.
func (w *SQLiteWriter) WriteEvent(ev safety.Event) error {
	return w.store.InsertEvent(w.sessionID, ev)
}

// WriteTransition inserts a mode change.
func (w *SQLiteWriter) WriteTransition(tr flight.Transition) error {
	return w.store.InsertTransition(w.sessionID, tr)
}
