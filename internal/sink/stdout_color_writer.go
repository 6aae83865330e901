package sink

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"droneops-ctl/internal/config"
	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

// ColorStdoutWriter prints human-friendly, colorized output using ANSI codes.
type ColorStdoutWriter struct {
	cfg    *config.Settings
	out    io.Writer
	once   sync.Once
	mu     sync.Mutex
	alerts telemetry.AlertThresholds
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
// cfg may be nil to skip the configuration overview.
func NewColorStdoutWriter(cfg *config.Settings) *ColorStdoutWriter {
	return &ColorStdoutWriter{cfg: cfg, out: os.Stdout, alerts: telemetry.DefaultAlertThresholds()}
}

func (w *ColorStdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}
	fmt.Fprintln(w.out, "Controller Configuration:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Vehicle:\t%s:%d\n", w.cfg.Link.VehicleIP, w.cfg.Link.CommandPort)
	fmt.Fprintf(tw, "Telemetry port:\t%d\n", w.cfg.Link.StatePort)
	fmt.Fprintf(tw, "Heartbeat grace:\t%s\n", w.cfg.Link.HeartbeatGrace)
	fmt.Fprintf(tw, "Safety:\t%t\n", w.cfg.Safety.Enabled)
	fmt.Fprintf(tw, "Battery warn/land/stop:\t%d%% / %d%% / %d%%\n",
		w.cfg.Safety.BatteryWarning, w.cfg.Safety.BatteryAutoLand, w.cfg.Safety.BatteryEmergency)
	fmt.Fprintf(tw, "Max flight time:\t%s\n", w.cfg.Safety.MaxFlightTime)
	fmt.Fprintf(tw, "Max altitude:\t%s cm\n", humanize.Comma(int64(w.cfg.Safety.MaxAltitudeCM)))
	tw.Flush()
	fmt.Fprintln(w.out)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return fmt.Sprintf("%s[%s]%s ", colorGray, t.Format(time.RFC3339), colorReset)
}

// Write outputs a single telemetry record.
func (w *ColorStdoutWriter) Write(rec telemetry.Record) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()

	fmt.Fprint(w.out, stamp(rec.ReceivedAt))
	fmt.Fprintf(w.out, "%sbat=%d%%%s ", batteryColor(rec.BatteryPct), rec.BatteryPct, colorReset)
	fmt.Fprintf(w.out, "%salt=%scm%s ", colorMagenta, humanize.Comma(int64(rec.AltitudeCM)), colorReset)
	fmt.Fprintf(w.out, "%sspd=%.1fcm/s%s ", colorYellow, rec.GroundSpeed(), colorReset)
	fmt.Fprintf(w.out, "%spry=(%d,%d,%d)%s ", colorCyan, rec.Attitude.Pitch, rec.Attitude.Roll, rec.Attitude.Yaw, colorReset)
	fmt.Fprintf(w.out, "%stemp=%d°C%s ", colorBlue, rec.TemperatureC, colorReset)
	fmt.Fprintf(w.out, "%sbaro=%s%s", colorWhite, humanize.FormatFloat("#,###.##", rec.BarometerCM), colorReset)
	if rec.TimeOfFlightCM > 0 {
		fmt.Fprintf(w.out, " %stof=%dcm%s", colorGray, rec.TimeOfFlightCM, colorReset)
	}
	for _, a := range telemetry.ExtractAlerts(rec, w.alerts) {
		fmt.Fprintf(w.out, " %s%s%s", colorRed, a, colorReset)
	}
	fmt.Fprintln(w.out)
	return nil
}

// WriteBatch outputs multiple telemetry records.
func (w *ColorStdoutWriter) WriteBatch(recs []telemetry.Record) error {
	for _, r := range recs {
		_ = w.Write(r)
	}
	return nil
}

// WriteEvent prints a safety event.
func (w *ColorStdoutWriter) WriteEvent(ev safety.Event) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()

	fmt.Fprint(w.out, stamp(ev.At))
	fmt.Fprintf(w.out, "%sSAFETY %s%s %s", levelColor(ev.Level), ev.Level, colorReset, ev.Message)
	if ev.Action != safety.ActionNone {
		fmt.Fprintf(w.out, " %saction=%s%s", colorMagenta, ev.Action, colorReset)
	}
	fmt.Fprintln(w.out)
	return nil
}

// WriteTransition prints a mode change.
func (w *ColorStdoutWriter) WriteTransition(tr flight.Transition) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()

	color := colorBlue
	if tr.To == flight.EmergencyStopped {
		color = colorRed
	}
	fmt.Fprintf(w.out, "%s%sMODE%s %s -> %s%s%s\n", stamp(tr.At), color, colorReset, tr.From, color, tr.To, colorReset)
	return nil
}
