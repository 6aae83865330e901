package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

// JSONStdoutWriter prints telemetry, events and transitions as JSON lines.
type JSONStdoutWriter struct {
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (w *JSONStdoutWriter) emit(kind string, v any) error {
	data, err := json.Marshal(envelope{Type: kind, Data: v})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// Write outputs a telemetry record.
func (w *JSONStdoutWriter) Write(rec telemetry.Record) error {
	return w.emit("telemetry", rec)
}

// WriteBatch outputs multiple telemetry records.
func (w *JSONStdoutWriter) WriteBatch(recs []telemetry.Record) error {
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent outputs a safety event.
func (w *JSONStdoutWriter) WriteEvent(ev safety.Event) error {
	return w.emit("safety", ev)
}

// WriteTransition outputs a mode change.
func (w *JSONStdoutWriter) WriteTransition(tr flight.Transition) error {
	return w.emit("transition", tr)
}
