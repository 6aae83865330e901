package sink

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

// TelemetrySource publishes parsed telemetry.
type TelemetrySource interface {
	SubscribeTelemetry(fn func(telemetry.Record)) (cancel func())
}

// EventSource publishes safety events.
type EventSource interface {
	Subscribe(fn func(safety.Event)) (cancel func())
}

// TransitionSource publishes mode changes.
type TransitionSource interface {
	SubscribeTransitions(fn func(flight.Transition)) (cancel func())
}

// Recorder forwards everything a session produces to a writer. Write
// failures are logged and never propagate back to the sources.
type Recorder struct {
	session string
	out     *MultiWriter
	log     *slog.Logger

	mu      sync.Mutex
	cancels []func()
	failed  uint64
}

// NewSession returns a fresh session identifier.
func NewSession() string { return uuid.NewString() }

// NewRecorder returns a recorder writing to out under session.
func NewRecorder(session string, out *MultiWriter, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{session: session, out: out, log: log.With("component", "recorder", "session", session)}
}

// Session returns the session identifier.
func (r *Recorder) Session() string { return r.session }

// Attach subscribes to the given sources. Nil sources are skipped.
func (r *Recorder) Attach(tel TelemetrySource, events EventSource, transitions TransitionSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tel != nil {
		r.cancels = append(r.cancels, tel.SubscribeTelemetry(func(rec telemetry.Record) {
			r.check("telemetry", r.out.Write(rec))
		}))
	}
	if events != nil {
		r.cancels = append(r.cancels, events.Subscribe(func(ev safety.Event) {
			r.check("safety event", r.out.WriteEvent(ev))
		}))
	}
	if transitions != nil {
		r.cancels = append(r.cancels, transitions.SubscribeTransitions(func(tr flight.Transition) {
			r.check("transition", r.out.WriteTransition(tr))
		}))
	}
}

func (r *Recorder) check(kind string, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.failed++
	n := r.failed
	r.mu.Unlock()
	r.log.Warn("record write failed", "kind", kind, "failures", n, "err", err)
}

// Failures returns how many writes have failed.
func (r *Recorder) Failures() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Stop removes every subscription.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancels := r.cancels
	r.cancels = nil
	r.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}
