package export

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

type fakeSource struct {
	recs   []telemetry.Record
	events []safety.Event
	err    error
}

func (f fakeSource) Telemetry(int64) ([]telemetry.Record, error) { return f.recs, f.err }
func (f fakeSource) Events(int64) ([]safety.Event, error)        { return f.events, nil }

func sampleSource() fakeSource {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return fakeSource{
		recs: []telemetry.Record{
			{BatteryPct: 80, AltitudeCM: 100, TemperatureC: 40, ReceivedAt: t0},
			{BatteryPct: 19, AltitudeCM: 250, TemperatureC: 45, ReceivedAt: t0.Add(90 * time.Second)},
		},
		events: []safety.Event{
			{ID: "e1", Level: safety.Warning, Condition: safety.CondBatteryWarning, Message: "Low battery warning: 19%", At: t0.Add(90 * time.Second)},
		},
	}
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.xlsx")
	if err := WriteXLSX(sampleSource(), 7, path); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 3 || sheets[0] != SheetSummary || sheets[1] != SheetTelemetry || sheets[2] != SheetEvents {
		t.Fatalf("unexpected sheets: %v", sheets)
	}

	rows, err := f.GetRows(SheetTelemetry)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][1] != "Battery %" || rows[2][1] != "19" {
		t.Fatalf("unexpected telemetry rows: %v", rows)
	}

	events, err := f.GetRows(SheetEvents)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(events) != 2 || events[1][1] != "warning" || events[1][2] != "battery_warning" {
		t.Fatalf("unexpected event rows: %v", events)
	}

	summary, err := f.GetRows(SheetSummary)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if summary[0][1] != "7" || summary[2][1] != "1m30s" || summary[3][1] != "19" {
		t.Fatalf("unexpected summary: %v", summary)
	}
}

func TestWriteStream(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(sampleSource(), 1, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	if rows, _ := f.GetRows(SheetEvents); len(rows) != 2 {
		t.Fatalf("expected 2 event rows, got %d", len(rows))
	}
}

func TestBuildPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("db locked")
	if _, err := Build(fakeSource{err: boom}, 1); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestSummarize(t *testing.T) {
	src := sampleSource()
	s := Summarize(src.recs, src.events)
	if s.Records != 2 || s.MinBattery != 19 || s.MaxAltitude != 250 || s.MaxTemp != 45 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.Duration != 90*time.Second || s.Events[safety.Warning] != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if empty := Summarize(nil, nil); empty.Records != 0 || empty.Duration != 0 {
		t.Fatalf("unexpected empty summary: %+v", empty)
	}
}
