// Package admin serves the operator web console: status, telemetry, safety
// history, a websocket push feed and command endpoints.
package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/link"
	"droneops-ctl/internal/protocol"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

// Controller issues operator commands. command.Sequencer satisfies it.
type Controller interface {
	State() flight.State
	Initialize(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
	Hover(ctx context.Context) error
	Move(ctx context.Context, dir string, cm int) error
	Rotate(ctx context.Context, dir string, deg int) error
	SetSpeed(ctx context.Context, v int) error
	QueryBattery(ctx context.Context) (int, error)
}

// Supervisor exposes safety state. safety.Supervisor satisfies it.
type Supervisor interface {
	Status() safety.Status
	Events() []safety.Event
	SetEnabled(on bool)
	Subscribe(fn func(safety.Event)) (cancel func())
}

// Link exposes the vehicle link. link.Channel satisfies it.
type Link interface {
	Status() link.Status
	SubscribeTelemetry(fn func(telemetry.Record)) (cancel func())
	SubscribeLink(fn func(link.Event)) (cancel func())
}

// Options wires a Server.
type Options struct {
	Controller  Controller
	Supervisor  Supervisor
	Link        Link
	Transitions interface {
		SubscribeTransitions(fn func(flight.Transition)) (cancel func())
	}
	JWTSecret string
	Logger    *slog.Logger
}

type Server struct {
	ctl      Controller
	sup      Supervisor
	link     Link
	opts     Options
	auth     *Authenticator
	tpl      *template.Template
	hub      *hub
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	cancels []func()
}

//go:embed templates/index.html
var content embed.FS

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "admin")
	tpl := template.Must(template.New("index.html").Funcs(template.FuncMap{
		"seconds": func(d time.Duration) string { return d.Truncate(time.Second).String() },
	}).ParseFS(content, "templates/index.html"))
	return &Server{
		ctl:      opts.Controller,
		sup:      opts.Supervisor,
		link:     opts.Link,
		opts:     opts,
		auth:     NewAuthenticator(opts.JWTSecret),
		tpl:      tpl,
		hub:      newHub(log),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      log,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /command/{name}", s.auth.Require(s.handleCommand))
	mux.HandleFunc("POST /safety", s.auth.Require(s.handleSafety))
	return mux
}

// Attach subscribes the push feed to every configured source.
func (s *Server) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != nil {
		s.cancels = append(s.cancels,
			s.link.SubscribeTelemetry(func(r telemetry.Record) { s.hub.broadcast("telemetry", r) }),
			s.link.SubscribeLink(func(e link.Event) { s.hub.broadcast("link", e) }),
		)
	}
	if s.sup != nil {
		s.cancels = append(s.cancels, s.sup.Subscribe(func(e safety.Event) { s.hub.broadcast("safety", e) }))
	}
	if s.opts.Transitions != nil {
		s.cancels = append(s.cancels, s.opts.Transitions.SubscribeTransitions(func(tr flight.Transition) { s.hub.broadcast("transition", tr) }))
	}
}

func (s *Server) detach() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	s.hub.closeAll()
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.Attach()
	defer s.detach()

	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin console listening", "addr", addr, "auth", s.auth != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type statusView struct {
	Mode        flight.Mode       `json:"mode"`
	Flying      bool              `json:"flying"`
	Airborne    bool              `json:"airborne"`
	Initialized bool              `json:"initialized"`
	FlightTime  float64           `json:"flight_time_s"`
	Telemetry   *telemetry.Record `json:"telemetry,omitempty"`
	Link        *link.Status      `json:"link,omitempty"`
	Safety      *safety.Status    `json:"safety,omitempty"`
	PushClients int               `json:"push_clients"`
}

func (s *Server) status() statusView {
	st := s.ctl.State()
	v := statusView{
		Mode:        st.Mode,
		Flying:      st.Flying,
		Airborne:    st.Airborne(),
		Initialized: st.Initialized,
		FlightTime:  st.FlightTime(time.Now()).Seconds(),
		Telemetry:   st.Telemetry,
		PushClients: s.hub.count(),
	}
	if s.link != nil {
		ls := s.link.Status()
		v.Link = &ls
	}
	if s.sup != nil {
		ss := s.sup.Status()
		v.Safety = &ss
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	v := s.status()
	data := struct {
		statusView
		FlightDuration time.Duration
		Events         []safety.Event
		Auth           bool
	}{
		statusView:     v,
		FlightDuration: time.Duration(v.FlightTime * float64(time.Second)),
		Auth:           s.auth != nil,
	}
	if s.sup != nil {
		data.Events = s.sup.Events()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		s.log.Error("render index", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	st := s.ctl.State()
	if st.Telemetry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, st.Telemetry)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := []safety.Event{}
	if s.sup != nil {
		events = append(events, s.sup.Events()...)
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := s.hub.add(conn)
	s.hub.sendTo(c, "status", s.status())
}

type commandResult struct {
	OK      bool        `json:"ok"`
	Command string      `json:"command"`
	Error   string      `json:"error,omitempty"`
	Value   *int        `json:"value,omitempty"`
	Mode    flight.Mode `json:"mode"`
}

func intParam(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return v, nil
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx := r.Context()
	res := commandResult{Command: name}

	var err error
	switch name {
	case "initialize":
		err = s.ctl.Initialize(ctx)
	case "takeoff":
		err = s.ctl.Takeoff(ctx)
	case "land":
		err = s.ctl.Land(ctx)
	case "emergency":
		err = s.ctl.EmergencyStop(ctx)
	case "hover":
		err = s.ctl.Hover(ctx)
	case "move":
		cm, perr := intParam(r, "cm")
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, commandResult{Command: name, Error: perr.Error(), Mode: s.ctl.State().Mode})
			return
		}
		err = s.ctl.Move(ctx, r.URL.Query().Get("dir"), cm)
	case "rotate":
		deg, perr := intParam(r, "deg")
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, commandResult{Command: name, Error: perr.Error(), Mode: s.ctl.State().Mode})
			return
		}
		err = s.ctl.Rotate(ctx, r.URL.Query().Get("dir"), deg)
	case "speed":
		v, perr := intParam(r, "value")
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, commandResult{Command: name, Error: perr.Error(), Mode: s.ctl.State().Mode})
			return
		}
		err = s.ctl.SetSpeed(ctx, v)
	case "battery":
		var pct int
		pct, err = s.ctl.QueryBattery(ctx)
		if err == nil {
			res.Value = &pct
		}
	default:
		writeJSON(w, http.StatusNotFound, commandResult{Command: name, Error: "unknown command", Mode: s.ctl.State().Mode})
		return
	}

	res.OK = err == nil
	if err != nil {
		res.Error = err.Error()
		s.log.Warn("operator command failed", "command", name, "err", err, "timeout", errors.Is(err, protocol.ErrTimeout))
	}
	res.Mode = s.ctl.State().Mode
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	if s.sup == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "safety supervisor not running"})
		return
	}
	on, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "enabled must be true or false"})
		return
	}
	s.sup.SetEnabled(on)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "safety": s.sup.Status()})
}
