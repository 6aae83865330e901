// Package storage persists flight logs in SQLite.
package storage

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

//go:embed schema.sql
var schemaSQL string

// Store handles flight log reads and writes. Connections open lazily.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New returns a store backed by the SQLite file at dbPath.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", "file:"+s.dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
		if err != nil {
			s.writeDBErr = err
			return
		}
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// the schema must exist before a read-only handle can query it
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}
		db, err := sql.Open("sqlite3", "file:"+s.dbPath+"?mode=ro&_busy_timeout=5000")
		if err != nil {
			s.readDBErr = err
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

const insertSessionSQL = `
INSERT INTO sessions (uuid, vehicle, start_time, config)
VALUES (?, ?, ?, ?)`

// CreateSession records a new session and returns its row ID. config may be
// nil, a string, raw bytes or any JSON-encodable value.
func (s *Store) CreateSession(uuid, vehicle string, start time.Time, config any) (sessionID int64, err error) {
	var configData sql.NullString
	switch c := config.(type) {
	case nil:
	case string:
		configData = sql.NullString{String: c, Valid: true}
	case []byte:
		configData = sql.NullString{String: string(c), Valid: true}
	default:
		p, mErr := json.Marshal(c)
		if mErr != nil {
			return 0, fmt.Errorf("marshaling config: %w", mErr)
		}
		configData = sql.NullString{String: string(p), Valid: true}
	}

	db, err := s.getWriteDB()
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.Exec(insertSessionSQL, uuid, vehicle, start.UTC(), configData)
	if err != nil {
		return 0, fmt.Errorf("inserting session: %w", err)
	}
	return result.LastInsertId()
}

const selectSessionsSQL = `
SELECT
    id,
    uuid,
    vehicle,
    start_time,
    config
FROM sessions
ORDER BY id`

// Sessions lists every recorded session, oldest first.
func (s *Store) Sessions() (sessions []Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.Query(selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var sess Session
		if err = rows.Scan(&sess.ID, &sess.UUID, &sess.Vehicle, &sess.StartTime, &sess.Config); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionByUUID resolves a session by its public identifier.
func (s *Store) SessionByUUID(uuid string) (Session, error) {
	db, err := s.getReadDB()
	if err != nil {
		return Session{}, fmt.Errorf("getting read connection: %w", err)
	}
	var sess Session
	err = db.QueryRow(`SELECT id, uuid, vehicle, start_time, config FROM sessions WHERE uuid = ?`, uuid).
		Scan(&sess.ID, &sess.UUID, &sess.Vehicle, &sess.StartTime, &sess.Config)
	if err != nil {
		return Session{}, fmt.Errorf("scanning session %s: %w", uuid, err)
	}
	return sess, nil
}

const insertTelemetrySQL = `
INSERT INTO telemetry (session_id,
                       timestamp,
                       battery,
                       altitude_cm,
                       vgx,
                       vgy,
                       vgz,
                       pitch,
                       roll,
                       yaw,
                       temperature_c,
                       tof_cm,
                       barometer_cm,
                       agx,
                       agy,
                       agz,
                       motor_time_sec)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertTelemetry stores records for sessionID in a single transaction.
func (s *Store) InsertTelemetry(sessionID int64, records ...telemetry.Record) (err error) {
	if len(records) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	stmt, err := tx.Prepare(insertTelemetrySQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.Exec(
			sessionID,
			r.ReceivedAt.UTC(),
			r.BatteryPct,
			r.AltitudeCM,
			r.Velocity.X,
			r.Velocity.Y,
			r.Velocity.Z,
			r.Attitude.Pitch,
			r.Attitude.Roll,
			r.Attitude.Yaw,
			r.TemperatureC,
			r.TimeOfFlightCM,
			r.BarometerCM,
			r.Acceleration.X,
			r.Acceleration.Y,
			r.Acceleration.Z,
			r.MotorTimeSec,
		)
		if err != nil {
			return fmt.Errorf("inserting telemetry: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const selectTelemetrySQL = `
SELECT timestamp,
       battery,
       altitude_cm,
       vgx,
       vgy,
       vgz,
       pitch,
       roll,
       yaw,
       temperature_c,
       tof_cm,
       barometer_cm,
       agx,
       agy,
       agz,
       motor_time_sec
FROM telemetry
WHERE session_id = ?
ORDER BY timestamp, id`

// Telemetry returns a session's records in arrival order.
func (s *Store) Telemetry(sessionID int64) (records []telemetry.Record, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.Query(selectTelemetrySQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry: %w", err)
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var r telemetry.Record
		if err = rows.Scan(
			&r.ReceivedAt,
			&r.BatteryPct,
			&r.AltitudeCM,
			&r.Velocity.X,
			&r.Velocity.Y,
			&r.Velocity.Z,
			&r.Attitude.Pitch,
			&r.Attitude.Roll,
			&r.Attitude.Yaw,
			&r.TemperatureC,
			&r.TimeOfFlightCM,
			&r.BarometerCM,
			&r.Acceleration.X,
			&r.Acceleration.Y,
			&r.Acceleration.Z,
			&r.MotorTimeSec,
		); err != nil {
			return nil, fmt.Errorf("scanning telemetry: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

const insertEventSQL = `
INSERT INTO safety_events (session_id, event_id, timestamp, level, cond, action_taken, message)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// InsertEvent stores one safety event.
func (s *Store) InsertEvent(sessionID int64, ev safety.Event) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}
	_, err = db.Exec(insertEventSQL, sessionID, ev.ID, ev.At.UTC(), ev.Level.String(), string(ev.Condition), string(ev.Action), ev.Message)
	if err != nil {
		return fmt.Errorf("inserting safety event: %w", err)
	}
	return nil
}

// Events returns a session's safety events, oldest first.
func (s *Store) Events(sessionID int64) (events []safety.Event, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.Query(`
SELECT event_id, timestamp, level, cond, action_taken, message
FROM safety_events
WHERE session_id = ?
ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying safety events: %w", err)
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var (
			ev                       safety.Event
			level, condition, action string
		)
		if err = rows.Scan(&ev.ID, &ev.At, &level, &condition, &action, &ev.Message); err != nil {
			return nil, fmt.Errorf("scanning safety event: %w", err)
		}
		if err = ev.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
		ev.Condition = safety.Condition(condition)
		ev.Action = safety.Action(action)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// InsertTransition stores one mode change.
func (s *Store) InsertTransition(sessionID int64, tr flight.Transition) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}
	_, err = db.Exec(`INSERT INTO transitions (session_id, timestamp, from_mode, to_mode) VALUES (?, ?, ?, ?)`,
		sessionID, tr.At.UTC(), tr.From.String(), tr.To.String())
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// Close closes both connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error
		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}
		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}
		s.closeErr = errors.Join(writeErr, readErr)
	})
	return s.closeErr
}
