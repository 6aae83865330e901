package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"

	"droneops-ctl/internal/config"
	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// Operator is the set of commands the console can issue.
type Operator interface {
	Initialize(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
	Hover(ctx context.Context) error
	Move(ctx context.Context, dir string, cm int) error
	Rotate(ctx context.Context, dir string, deg int) error
}

type logMsg struct{ line string }

type telemetryMsg struct{ telemetry.Record }

type eventMsg struct {
	line string
	ev   safety.Event
}

type transitionMsg struct{ flight.Transition }

type linkMsg struct{ up bool }

type safetyMsg struct{ enabled bool }

type setOperatorMsg struct{ op Operator }

type resultMsg struct {
	op  string
	err error
}

const (
	maxSectionHeightPct = 0.25
	maxLogLines         = 1000
	opTimeout           = 20 * time.Second
	stepCM              = 50
	stepDeg             = 45
)

// TUIWriter renders the flight console using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter. Quitting
// the UI interrupts the process.
func NewTUIWriter(cfg *config.Settings) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(cfg), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// Write implements TelemetryWriter.
func (w *TUIWriter) Write(rec telemetry.Record) error {
	w.program.Send(telemetryMsg{rec})
	return nil
}

// WriteBatch outputs multiple telemetry records.
func (w *TUIWriter) WriteBatch(recs []telemetry.Record) error {
	for _, r := range recs {
		_ = w.Write(r)
	}
	return nil
}

// WriteEvent implements EventWriter.
func (w *TUIWriter) WriteEvent(ev safety.Event) error {
	line := fmt.Sprintf("%s[%s]%s %s%s%s %s",
		colorGray, ev.At.Format(time.TimeOnly), colorReset,
		levelColor(ev.Level), strings.ToUpper(ev.Level.String()), colorReset,
		ev.Message)
	if ev.Action != safety.ActionNone {
		line += fmt.Sprintf(" %s(%s)%s", colorMagenta, ev.Action, colorReset)
	}
	w.program.Send(eventMsg{line: line, ev: ev})
	return nil
}

// WriteTransition implements TransitionWriter.
func (w *TUIWriter) WriteTransition(tr flight.Transition) error {
	w.program.Send(transitionMsg{tr})
	return nil
}

// SetLinkStatus updates the link indicator.
func (w *TUIWriter) SetLinkStatus(up bool) { w.program.Send(linkMsg{up: up}) }

// SetSafetyStatus updates the safety monitoring indicator.
func (w *TUIWriter) SetSafetyStatus(enabled bool) { w.program.Send(safetyMsg{enabled: enabled}) }

// SetOperator enables keyboard flight control.
func (w *TUIWriter) SetOperator(op Operator) { w.program.Send(setOperatorMsg{op: op}) }

// LogWriter returns an io.Writer that shows each written line in the log
// pane. Route the process logger through it while the UI owns the terminal.
func (w *TUIWriter) LogWriter() io.Writer { return tuiLog{w.program} }

type tuiLog struct{ program teaProgram }

func (l tuiLog) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		l.program.Send(logMsg{line: line})
	}
	return len(p), nil
}

// Close stops the UI without interrupting the process.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	cfg         *config.Settings
	table       table.Model
	vp          viewport.Model
	evVP        viewport.Model
	logs        []string
	events      []string
	rec         telemetry.Record
	haveRec     bool
	mode        flight.Mode
	flightStart time.Time
	linkUp      bool
	safetyOn    bool
	op          Operator
	wrap        bool
	autoscroll  bool
	help        bool
	height      int
	alerts      telemetry.AlertThresholds
}

func newTUIModel(cfg *config.Settings) tuiModel {
	cols := []table.Column{
		{Title: "Telemetry", Width: 14},
		{Title: "Value", Width: 12},
		{Title: "Telemetry", Width: 14},
		{Title: "Value", Width: 12},
	}
	t := table.New(table.WithColumns(cols), table.WithRows(telemetryRows(telemetry.Record{}, false)), table.WithHeight(5))
	safetyOn := true
	if cfg != nil {
		safetyOn = cfg.Safety.Enabled
	}
	return tuiModel{
		cfg:        cfg,
		table:      t,
		vp:         viewport.New(0, 0),
		evVP:       viewport.New(0, 0),
		safetyOn:   safetyOn,
		autoscroll: true,
		alerts:     telemetry.DefaultAlertThresholds(),
	}
}

func telemetryRows(r telemetry.Record, have bool) []table.Row {
	if !have {
		return []table.Row{{"Battery", "-", "Altitude", "-"}}
	}
	return []table.Row{
		{"Battery", fmt.Sprintf("%d%%", r.BatteryPct), "Altitude", humanize.Comma(int64(r.AltitudeCM)) + " cm"},
		{"Speed", fmt.Sprintf("%.1f cm/s", r.GroundSpeed()), "Temp", fmt.Sprintf("%d°C", r.TemperatureC)},
		{"Pitch/Roll", fmt.Sprintf("%d° / %d°", r.Attitude.Pitch, r.Attitude.Roll), "Yaw", fmt.Sprintf("%d°", r.Attitude.Yaw)},
		{"ToF", fmt.Sprintf("%d cm", r.TimeOfFlightCM), "Motors", (time.Duration(r.MotorTimeSec) * time.Second).String()},
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.evVP.Width = msg.Width
		m.height = msg.Height
		m.refreshViewport()
		m.refreshEvents()
		m.updateViewportHeight()
	case tea.KeyMsg:
		return m.handleKey(msg)
	case logMsg:
		m.appendLog(msg.line)
	case telemetryMsg:
		m.rec = msg.Record
		m.haveRec = true
		rows := telemetryRows(msg.Record, true)
		m.table.SetRows(rows)
		m.table.SetHeight(len(rows) + 1)
		m.updateViewportHeight()
		if alerts := telemetry.ExtractAlerts(msg.Record, m.alerts); len(alerts) > 0 {
			m.appendLog(fmt.Sprintf("%s%s%s", colorYellow, strings.Join(alerts, ", "), colorReset))
		}
	case eventMsg:
		m.events = append(m.events, msg.line)
		if len(m.events) > maxLogLines {
			m.events = m.events[len(m.events)-maxLogLines:]
		}
		m.refreshEvents()
		m.updateViewportHeight()
	case transitionMsg:
		m.mode = msg.To
		switch {
		case msg.To == flight.TakingOff:
			m.flightStart = msg.At
		case !msg.To.Flying():
			m.flightStart = time.Time{}
		}
		m.appendLog(fmt.Sprintf("%s[%s]%s %sMODE%s %s -> %s",
			colorGray, msg.At.Format(time.TimeOnly), colorReset, colorBlue, colorReset, msg.From, msg.To))
	case linkMsg:
		m.linkUp = msg.up
	case safetyMsg:
		m.safetyOn = msg.enabled
	case setOperatorMsg:
		m.op = msg.op
	case resultMsg:
		if msg.err != nil {
			m.appendLog(fmt.Sprintf("%s%s failed: %v%s", colorRed, msg.op, msg.err, colorReset))
		} else {
			m.appendLog(fmt.Sprintf("%s%s ok%s", colorGreen, msg.op, colorReset))
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "w":
		m.wrap = !m.wrap
		m.refreshViewport()
		return m, nil
	case "s":
		m.autoscroll = !m.autoscroll
		if m.autoscroll {
			m.vp.GotoBottom()
			m.evVP.GotoBottom()
		}
		return m, nil
	case "h", "?":
		m.help = !m.help
		return m, nil
	}
	if cmd := m.operatorCmd(msg.String()); cmd != nil {
		return m, cmd
	}
	if !m.autoscroll {
		switch msg.String() {
		case "j", "down":
			m.vp.LineDown(1)
		case "k", "up":
			m.vp.LineUp(1)
		case "pgdown", "ctrl+n":
			m.vp.LineDown(10)
		case "pgup", "ctrl+p":
			m.vp.LineUp(10)
		default:
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m tuiModel) operatorCmd(key string) tea.Cmd {
	if m.op == nil {
		return nil
	}
	op := m.op
	switch key {
	case "i":
		return runOp("initialize", op.Initialize)
	case "T":
		return runOp("takeoff", op.Takeoff)
	case "L":
		return runOp("land", op.Land)
	case "x", " ":
		return runOp("emergency", op.EmergencyStop)
	case "5":
		return runOp("hover", op.Hover)
	}
	moves := map[string]string{"8": "forward", "2": "back", "4": "left", "6": "right", "+": "up", "-": "down"}
	if dir, ok := moves[key]; ok {
		return runOp("move "+dir, func(ctx context.Context) error { return op.Move(ctx, dir, stepCM) })
	}
	switch key {
	case "7":
		return runOp("rotate ccw", func(ctx context.Context) error { return op.Rotate(ctx, "ccw", stepDeg) })
	case "9":
		return runOp("rotate cw", func(ctx context.Context) error { return op.Rotate(ctx, "cw", stepDeg) })
	}
	return nil
}

func runOp(name string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return resultMsg{op: name, err: fn(ctx)}
	}
}

func (m *tuiModel) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshViewport()
}

func (m *tuiModel) updateViewportHeight() {
	evLines := len(m.events)
	if evLines == 0 {
		evLines = 1
	}
	if limit := m.maxSectionLines(); evLines > limit {
		evLines = limit
	}
	m.evVP.Height = evLines

	header := lipgloss.Height(m.table.View())
	bottom := lipgloss.Height(m.renderBottom())
	h := m.height - header - bottom - (1 + m.evVP.Height) - 3
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
		m.evVP.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshEvents() {
	content := "none"
	if len(m.events) > 0 {
		content = strings.Join(m.events, "\n")
	}
	m.evVP.SetContent(content)
	if m.autoscroll {
		m.evVP.GotoBottom()
	}
}

func (m tuiModel) maxSectionLines() int {
	h := int(float64(m.height) * maxSectionHeightPct)
	if h < 1 {
		h = 1
	}
	return h
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	sections := []string{
		m.table.View(),
		divider,
		m.vp.View(),
		divider,
		"Safety Events:",
		m.evVP.View(),
		divider,
		m.renderBottom(),
	}
	return strings.Join(sections, "\n")
}

func indicator(on bool) string {
	c := lipgloss.Color("9")
	if on {
		c = lipgloss.Color("10")
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func (m tuiModel) renderBottom() string {
	modeColor := colorBlue
	if m.mode == flight.EmergencyStopped {
		modeColor = colorRed
	}
	flightTime := "-"
	if !m.flightStart.IsZero() {
		flightTime = time.Since(m.flightStart).Truncate(time.Second).String()
	}
	battery := "-"
	if m.haveRec {
		battery = fmt.Sprintf("%s%d%%%s", batteryColor(m.rec.BatteryPct), m.rec.BatteryPct, colorReset)
	}
	controls := "view only"
	if m.op != nil {
		controls = "keys active"
	}
	return fmt.Sprintf("%sMODE %s%s | Battery %s | Flight %s | Link %s | Safety %s | Wrap %s | Scroll %s | %s | h for help",
		modeColor, m.mode, colorReset, battery, flightTime,
		indicator(m.linkUp), indicator(m.safetyOn), indicator(m.wrap), indicator(m.autoscroll), controls)
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q          quit",
		" w          toggle wrap",
		" s          toggle auto-scroll",
		" h/?        toggle this help view",
		"",
		"Flight (when controls are active):",
		" i          initialize SDK mode",
		" T / L      takeoff / land",
		" x / space  emergency stop",
		" 5          hover",
		" 8 2 4 6    forward back left right",
		" + -        up down",
		" 7 9        rotate ccw cw",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
	}
	return strings.Join(lines, "\n")
}
