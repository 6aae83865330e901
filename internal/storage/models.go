package storage

import (
	"database/sql"
	"time"
)

// Session is one recorded connection to a vehicle.
type Session struct {
	ID        int64
	UUID      string
	Vehicle   string
	StartTime time.Time
	Config    sql.NullString
}
