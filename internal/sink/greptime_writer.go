package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"droneops-ctl/internal/config"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

const greptimeWriteTimeout = 5 * time.Second

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes telemetry and safety events to GreptimeDB via the
// ingester client. Tables are created on first write.
type GreptimeDBWriter struct {
	client      greptimeClient
	session     string
	teleTable   string
	eventsTable string
	log         *slog.Logger
}

// NewGreptimeDBWriter connects to the configured endpoint. Endpoint may carry
// a port, which overrides cfg.Port.
func NewGreptimeDBWriter(cfg config.GreptimeSettings, session string, log *slog.Logger) (*GreptimeDBWriter, error) {
	if log == nil {
		log = slog.Default()
	}
	host, port := cfg.Endpoint, cfg.Port
	if h, p, err := net.SplitHostPort(cfg.Endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptime endpoint %q: %w", cfg.Endpoint, err)
		}
		host, port = h, n
	}
	gcfg := greptime.NewConfig(host).WithPort(port).WithDatabase(cfg.Database)
	client, err := greptime.NewClient(gcfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return &GreptimeDBWriter{
		client:      client,
		session:     session,
		teleTable:   cfg.TelemetryTable,
		eventsTable: cfg.EventsTable,
		log:         log.With("component", "greptime"),
	}, nil
}

// Write inserts a single telemetry record.
func (w *GreptimeDBWriter) Write(rec telemetry.Record) error {
	return w.WriteBatch([]telemetry.Record{rec})
}

// WriteBatch inserts multiple telemetry records.
func (w *GreptimeDBWriter) WriteBatch(recs []telemetry.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tbl, err := table.New(w.teleTable)
	if err != nil {
		return err
	}
	cols := []struct {
		name string
		typ  types.ColumnType
	}{
		{"battery", types.INT64},
		{"altitude_cm", types.INT64},
		{"ground_speed", types.FLOAT64},
		{"pitch", types.INT64},
		{"roll", types.INT64},
		{"yaw", types.INT64},
		{"temperature_c", types.INT64},
		{"tof_cm", types.INT64},
		{"barometer_cm", types.FLOAT64},
		{"agx", types.FLOAT64},
		{"agy", types.FLOAT64},
		{"agz", types.FLOAT64},
	}
	if err := tbl.AddTagColumn("session", types.STRING); err != nil {
		return err
	}
	for _, c := range cols {
		if err := tbl.AddFieldColumn(c.name, c.typ); err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}

	for _, r := range recs {
		ts := r.ReceivedAt
		if ts.IsZero() {
			ts = time.Now()
		}
		err := tbl.AddRow(
			w.session,
			int64(r.BatteryPct),
			int64(r.AltitudeCM),
			r.GroundSpeed(),
			int64(r.Attitude.Pitch),
			int64(r.Attitude.Roll),
			int64(r.Attitude.Yaw),
			int64(r.TemperatureC),
			int64(r.TimeOfFlightCM),
			r.BarometerCM,
			r.Acceleration.X,
			r.Acceleration.Y,
			r.Acceleration.Z,
			ts,
		)
		if err != nil {
			return err
		}
	}
	return w.write(tbl, len(recs))
}

// WriteEvent inserts a safety event.
func (w *GreptimeDBWriter) WriteEvent(ev safety.Event) error {
	tbl, err := table.New(w.eventsTable)
	if err != nil {
		return err
	}
	for _, tag := range []string{"session", "level", "cond"} {
		if err := tbl.AddTagColumn(tag, types.STRING); err != nil {
			return err
		}
	}
	for _, field := range []string{"event_id", "action", "message"} {
		if err := tbl.AddFieldColumn(field, types.STRING); err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	if err := tbl.AddRow(w.session, ev.Level.String(), string(ev.Condition), ev.ID, string(ev.Action), ev.Message, ev.At); err != nil {
		return err
	}
	return w.write(tbl, 1)
}

func (w *GreptimeDBWriter) write(tbl *table.Table, n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), greptimeWriteTimeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		w.log.Error("write failed", "rows", n, "err", err)
		return err
	}
	w.log.Debug("wrote rows", "rows", n)
	return nil
}
