package sink

import (
	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

// MultiWriter fans records, events and transitions out to multiple writers.
type MultiWriter struct {
	telewriters  []TelemetryWriter
	eventwriters []EventWriter
	transwriters []TransitionWriter
	all          []any
}

type operatorSetter interface {
	SetOperator(Operator)
}

type statusSetter interface {
	SetLinkStatus(up bool)
	SetSafetyStatus(enabled bool)
}

// NewMultiWriter creates a MultiWriter. Each writer is registered for every
// interface it implements.
func NewMultiWriter(writers ...any) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range writers {
		if tw, ok := w.(TelemetryWriter); ok {
			mw.telewriters = append(mw.telewriters, tw)
		}
		if ew, ok := w.(EventWriter); ok {
			mw.eventwriters = append(mw.eventwriters, ew)
		}
		if trw, ok := w.(TransitionWriter); ok {
			mw.transwriters = append(mw.transwriters, trw)
		}
		mw.all = append(mw.all, w)
	}
	return mw
}

// Write sends a telemetry record to all writers.
func (mw *MultiWriter) Write(rec telemetry.Record) error {
	for _, w := range mw.telewriters {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch sends multiple records to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(recs []telemetry.Record) error {
	for _, w := range mw.telewriters {
		if bw, ok := w.(batchWriter); ok {
			if err := bw.WriteBatch(recs); err != nil {
				return err
			}
			continue
		}
		for _, r := range recs {
			if err := w.Write(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteEvent sends a safety event to all event writers.
func (mw *MultiWriter) WriteEvent(ev safety.Event) error {
	for _, w := range mw.eventwriters {
		if err := w.WriteEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// WriteTransition sends a mode change to all transition writers.
func (mw *MultiWriter) WriteTransition(tr flight.Transition) error {
	for _, w := range mw.transwriters {
		if err := w.WriteTransition(tr); err != nil {
			return err
		}
	}
	return nil
}

// SetOperator forwards the operator to writers that accept keyboard control.
func (mw *MultiWriter) SetOperator(op Operator) {
	for _, w := range mw.all {
		if s, ok := w.(operatorSetter); ok {
			s.SetOperator(op)
		}
	}
}

// SetLinkStatus forwards link edges to writers that show them.
func (mw *MultiWriter) SetLinkStatus(up bool) {
	for _, w := range mw.all {
		if s, ok := w.(statusSetter); ok {
			s.SetLinkStatus(up)
		}
	}
}

// SetSafetyStatus forwards the supervisor's enabled flag.
func (mw *MultiWriter) SetSafetyStatus(enabled bool) {
	for _, w := range mw.all {
		if s, ok := w.(statusSetter); ok {
			s.SetSafetyStatus(enabled)
		}
	}
}
