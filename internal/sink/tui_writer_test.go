package sink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"droneops-ctl/internal/config"
	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

type fakeProgram struct{ msgs []tea.Msg }

func (f *fakeProgram) Send(msg tea.Msg) { f.msgs = append(f.msgs, msg) }

type nopOperator struct {
	calls []string
	err   error
}

func (n *nopOperator) record(name string) error {
	n.calls = append(n.calls, name)
	return n.err
}

func (n *nopOperator) Initialize(context.Context) error    { return n.record("initialize") }
func (n *nopOperator) Takeoff(context.Context) error       { return n.record("takeoff") }
func (n *nopOperator) Land(context.Context) error          { return n.record("land") }
func (n *nopOperator) EmergencyStop(context.Context) error { return n.record("emergency") }
func (n *nopOperator) Hover(context.Context) error         { return n.record("hover") }
func (n *nopOperator) Move(_ context.Context, dir string, _ int) error {
	return n.record("move " + dir)
}
func (n *nopOperator) Rotate(_ context.Context, dir string, _ int) error {
	return n.record("rotate " + dir)
}

func TestTUIWriterMessages(t *testing.T) {
	p := &fakeProgram{}
	w := &TUIWriter{program: p}
	if err := w.Write(telemetry.Record{BatteryPct: 50}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := p.msgs[0].(telemetryMsg); !ok {
		t.Fatalf("expected telemetryMsg, got %T", p.msgs[0])
	}
	if err := w.WriteEvent(safety.Event{Level: safety.Critical, Message: "landing", Action: safety.ActionLand}); err != nil {
		t.Fatalf("event: %v", err)
	}
	em, ok := p.msgs[1].(eventMsg)
	if !ok {
		t.Fatalf("expected eventMsg, got %T", p.msgs[1])
	}
	if !strings.Contains(em.line, "CRITICAL") || !strings.Contains(em.line, "(land)") {
		t.Fatalf("unexpected event line %q", em.line)
	}
	_ = w.WriteTransition(flight.Transition{To: flight.Manual})
	if _, ok := p.msgs[2].(transitionMsg); !ok {
		t.Fatalf("expected transitionMsg, got %T", p.msgs[2])
	}
	w.SetLinkStatus(true)
	if _, ok := p.msgs[3].(linkMsg); !ok {
		t.Fatalf("expected linkMsg, got %T", p.msgs[3])
	}
}

func sized(t *testing.T) tuiModel {
	t.Helper()
	cfg := config.Default()
	m := newTUIModel(&cfg)
	mi, _ := m.Update(tea.WindowSizeMsg{Width: 40, Height: 30})
	return mi.(tuiModel)
}

func TestTUIModelTracksFlight(t *testing.T) {
	m := sized(t)
	at := time.Now()
	mi, _ := m.Update(transitionMsg{flight.Transition{From: flight.Manual, To: flight.TakingOff, At: at}})
	m = mi.(tuiModel)
	if m.mode != flight.TakingOff || !m.flightStart.Equal(at) {
		t.Fatalf("mode=%s start=%v", m.mode, m.flightStart)
	}
	mi, _ = m.Update(transitionMsg{flight.Transition{From: flight.Landing, To: flight.Idle, At: at}})
	m = mi.(tuiModel)
	if !m.flightStart.IsZero() {
		t.Fatal("flight timer not cleared on Idle")
	}

	mi, _ = m.Update(telemetryMsg{telemetry.Record{BatteryPct: 9}})
	m = mi.(tuiModel)
	if !m.haveRec || len(m.table.Rows()) != 4 {
		t.Fatalf("telemetry table not populated: %v", m.table.Rows())
	}
	if !strings.Contains(strings.Join(m.logs, "\n"), "CRITICAL BATTERY") {
		t.Fatalf("alert not logged: %v", m.logs)
	}
}

func TestWrapToggle(t *testing.T) {
	m := sized(t)
	m.vp.Width = 20
	mi, _ := m.Update(logMsg{line: "one two three four five six"})
	m = mi.(tuiModel)
	lines := strings.Split(m.vp.View(), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[1]) != "" {
		t.Fatalf("expected single line before wrap")
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'w'}})
	m = mi.(tuiModel)
	if !m.wrap {
		t.Fatalf("wrap not toggled")
	}
	lines = strings.Split(m.vp.View(), "\n")
	if strings.TrimSpace(lines[1]) == "" {
		t.Fatalf("expected wrapped content on second line")
	}
}

func TestScrollToggle(t *testing.T) {
	m := newTUIModel(nil)
	m.vp.Height = 1
	m.vp.Width = 20
	mi, _ := m.Update(logMsg{line: "l1"})
	m = mi.(tuiModel)
	mi, _ = m.Update(logMsg{line: "l2"})
	m = mi.(tuiModel)
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset 1, got %d", m.vp.YOffset)
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	m = mi.(tuiModel)
	if m.autoscroll {
		t.Fatalf("autoscroll should be off")
	}
	mi, _ = m.Update(logMsg{line: "l3"})
	m = mi.(tuiModel)
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset unchanged, got %d", m.vp.YOffset)
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = mi.(tuiModel)
	if m.vp.YOffset != 0 {
		t.Fatalf("expected YOffset 0 after scrolling up, got %d", m.vp.YOffset)
	}
}

func TestOperatorKeys(t *testing.T) {
	m := sized(t)
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'T'}}); cmd != nil {
		t.Fatal("keys should be inert without an operator")
	}

	op := &nopOperator{}
	mi, _ := m.Update(setOperatorMsg{op: op})
	m = mi.(tuiModel)

	keys := map[rune]string{'i': "initialize", 'T': "takeoff", '8': "move forward", '9': "rotate cw", 'x': "emergency"}
	for key, want := range keys {
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{key}})
		if cmd == nil {
			t.Fatalf("key %q produced no command", key)
		}
		res, ok := cmd().(resultMsg)
		if !ok || res.op != want || res.err != nil {
			t.Fatalf("key %q: %+v", key, res)
		}
	}
	if len(op.calls) != len(keys) {
		t.Fatalf("operator calls = %v", op.calls)
	}

	mi, _ = m.Update(resultMsg{op: "land", err: errors.New("not airborne")})
	m = mi.(tuiModel)
	if last := m.logs[len(m.logs)-1]; !strings.Contains(last, "land failed: not airborne") {
		t.Fatalf("unexpected result line %q", last)
	}
}

func TestHelpView(t *testing.T) {
	m := sized(t)
	mi, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'h'}})
	m = mi.(tuiModel)
	if !strings.Contains(m.View(), "Key Bindings:") {
		t.Fatal("help not rendered")
	}
}

func TestTUILogWriterSplitsLines(t *testing.T) {
	p := &fakeProgram{}
	w := &TUIWriter{program: p}
	n, err := w.LogWriter().Write([]byte("level=INFO msg=one\nlevel=WARN msg=two\n"))
	if err != nil || n == 0 {
		t.Fatalf("write: %d, %v", n, err)
	}
	if len(p.msgs) != 2 {
		t.Fatalf("expected 2 log messages, got %d", len(p.msgs))
	}
	if lm, ok := p.msgs[1].(logMsg); !ok || lm.line != "level=WARN msg=two" {
		t.Fatalf("unexpected message %#v", p.msgs[1])
	}
}
