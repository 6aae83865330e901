package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"

	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

type mockGreptimeClient struct {
	tables []*table.Table
	calls  int
	err    error
}

func (m *mockGreptimeClient) Write(_ context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error) {
	m.calls++
	m.tables = append(m.tables, tables...)
	if m.err != nil {
		return nil, m.err
	}
	return &gpb.GreptimeResponse{}, nil
}

func TestGreptimeWriterTelemetryBatch(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, session: "s1", teleTable: "drone_telemetry", eventsTable: "safety_events", log: discardLogger()}

	recs := []telemetry.Record{
		{BatteryPct: 90, AltitudeCM: 100, ReceivedAt: time.Unix(10, 0)},
		{BatteryPct: 89, AltitudeCM: 110, ReceivedAt: time.Unix(11, 0)},
	}
	if err := w.WriteBatch(recs); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if m.calls != 1 || len(m.tables) != 1 {
		t.Fatalf("expected one write with one table, got calls=%d tables=%d", m.calls, len(m.tables))
	}
	if err := w.WriteBatch(nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if m.calls != 1 {
		t.Fatalf("empty batch should not write")
	}
}

func TestGreptimeWriterEvent(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, session: "s1", teleTable: "drone_telemetry", eventsTable: "safety_events", log: discardLogger()}
	ev := safety.Event{ID: "e1", Level: safety.Emergency, Condition: safety.CondLinkLoss, Action: safety.ActionLand, Message: "lost", At: time.Unix(5, 0)}
	if err := w.WriteEvent(ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if m.calls != 1 {
		t.Fatalf("expected one write, got %d", m.calls)
	}
}

func TestGreptimeWriterPropagatesErrors(t *testing.T) {
	boom := errors.New("unavailable")
	m := &mockGreptimeClient{err: boom}
	w := &GreptimeDBWriter{client: m, session: "s1", teleTable: "drone_telemetry", eventsTable: "safety_events", log: discardLogger()}
	if err := w.Write(telemetry.Record{BatteryPct: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}
