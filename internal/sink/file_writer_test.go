package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

func readLines(t *testing.T, path string) [][]byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var out [][]byte
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, append([]byte(nil), sc.Bytes()...))
	}
	return out
}

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	ts := time.Unix(0, 0).UTC()
	rec := telemetry.Record{BatteryPct: 80, AltitudeCM: 120, Attitude: telemetry.Attitude{Yaw: 45}, ReceivedAt: ts}
	ev := safety.Event{ID: "e1", Level: safety.Warning, Message: "Low battery warning: 19%", Condition: safety.CondBatteryWarning, At: ts}
	tr := flight.Transition{From: flight.Manual, To: flight.Landing, At: ts}

	telePath := filepath.Join(dir, "telemetry.jsonl")
	eventPath := filepath.Join(dir, "events.jsonl")
	transPath := filepath.Join(dir, "transitions.jsonl")
	fw, err := NewFileWriter(telePath, eventPath, transPath)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := fw.WriteBatch([]telemetry.Record{rec, rec}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := fw.WriteEvent(ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := fw.WriteTransition(tr); err != nil {
		t.Fatalf("WriteTransition: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, telePath)
	if len(lines) != 2 {
		t.Fatalf("expected 2 telemetry lines, got %d", len(lines))
	}
	var gotRec telemetry.Record
	if err := json.Unmarshal(lines[0], &gotRec); err != nil {
		t.Fatalf("decode telemetry: %v", err)
	}
	if gotRec.Attitude.Yaw != 45 || !gotRec.ReceivedAt.Equal(ts) {
		t.Fatalf("unexpected telemetry: %#v", gotRec)
	}

	var gotEv safety.Event
	if err := json.Unmarshal(readLines(t, eventPath)[0], &gotEv); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if gotEv.Level != safety.Warning || gotEv.Condition != safety.CondBatteryWarning {
		t.Fatalf("unexpected event: %#v", gotEv)
	}

	var raw map[string]any
	if err := json.Unmarshal(readLines(t, transPath)[0], &raw); err != nil {
		t.Fatalf("decode transition: %v", err)
	}
	if raw["from"] != "manual" || raw["to"] != "landing" {
		t.Fatalf("unexpected transition: %v", raw)
	}
}

func TestFileWriterOptionalLogs(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWriter(filepath.Join(dir, "telemetry.jsonl"), "", "")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()
	if err := fw.WriteEvent(safety.Event{ID: "e"}); err != nil {
		t.Fatalf("WriteEvent without file: %v", err)
	}
	if err := fw.WriteTransition(flight.Transition{}); err != nil {
		t.Fatalf("WriteTransition without file: %v", err)
	}
}

func TestFileWriterBadPath(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewFileWriter(filepath.Join(dir, "t.jsonl"), filepath.Join(dir, "missing", "e.jsonl"), ""); err == nil {
		t.Fatal("expected error for unwritable events path")
	}
}
