package sink

import (
	"encoding/json"
	"errors"
	"os"
	"sync"

	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

// FileWriter writes telemetry, safety events and transitions to JSONL files.
type FileWriter struct {
	mu        sync.Mutex
	teleFile  *os.File
	eventFile *os.File
	transFile *os.File
	teleEnc   *json.Encoder
	eventEnc  *json.Encoder
	transEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. eventsPath or transitionsPath may be
// empty to skip those logs.
func NewFileWriter(telemetryPath, eventsPath, transitionsPath string) (*FileWriter, error) {
	tf, err := os.Create(telemetryPath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{teleFile: tf, teleEnc: json.NewEncoder(tf)}
	if eventsPath != "" {
		ef, err := os.Create(eventsPath)
		if err != nil {
			_ = fw.Close()
			return nil, err
		}
		fw.eventFile = ef
		fw.eventEnc = json.NewEncoder(ef)
	}
	if transitionsPath != "" {
		sf, err := os.Create(transitionsPath)
		if err != nil {
			_ = fw.Close()
			return nil, err
		}
		fw.transFile = sf
		fw.transEnc = json.NewEncoder(sf)
	}
	return fw, nil
}

// Write logs a single telemetry record.
func (f *FileWriter) Write(rec telemetry.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teleEnc.Encode(rec)
}

// WriteBatch logs multiple telemetry records.
func (f *FileWriter) WriteBatch(recs []telemetry.Record) error {
	for _, r := range recs {
		if err := f.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent logs a safety event, if enabled.
func (f *FileWriter) WriteEvent(ev safety.Event) error {
	if f.eventEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventEnc.Encode(ev)
}

// WriteTransition logs a mode change, if enabled.
func (f *FileWriter) WriteTransition(tr flight.Transition) error {
	if f.transEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transEnc.Encode(tr)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var errs []error
	for _, file := range []*os.File{f.teleFile, f.eventFile, f.transFile} {
		if file != nil {
			errs = append(errs, file.Close())
		}
	}
	return errors.Join(errs...)
}
