// Package export renders recorded flight logs as spreadsheets.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/telemetry"
)

const (
	SheetSummary   = "Summary"
	SheetTelemetry = "Telemetry"
	SheetEvents    = "Safety Events"
)

// Source supplies one session's flight log. storage.Store satisfies it.
type Source interface {
	Telemetry(sessionID int64) ([]telemetry.Record, error)
	Events(sessionID int64) ([]safety.Event, error)
}

var telemetryHeader = []any{
	"Timestamp", "Battery %", "Altitude cm", "Ground speed cm/s",
	"Pitch", "Roll", "Yaw", "Temperature °C", "ToF cm", "Barometer cm",
	"AGX", "AGY", "AGZ", "Motor time s",
}

var eventHeader = []any{"Timestamp", "Level", "Condition", "Action", "Message", "ID"}

// Build assembles the workbook for sessionID. The caller closes the file.
func Build(src Source, sessionID int64) (*excelize.File, error) {
	recs, err := src.Telemetry(sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading telemetry: %w", err)
	}
	events, err := src.Events(sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading safety events: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		_ = f.Close()
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	steps := []func() error{
		func() error { return writeSummary(f, bold, sessionID, recs, events) },
		func() error { return writeTelemetry(f, bold, recs) },
		func() error { return writeEvents(f, bold, events) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

// WriteXLSX saves the session workbook to path.
func WriteXLSX(src Source, sessionID int64, path string) error {
	f, err := Build(src, sessionID)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

// Write streams the session workbook to w.
func Write(src Source, sessionID int64, w io.Writer) error {
	f, err := Build(src, sessionID)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func writeHeader(f *excelize.File, sheet string, style int, header []any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeTelemetry(f *excelize.File, style int, recs []telemetry.Record) error {
	if _, err := f.NewSheet(SheetTelemetry); err != nil {
		return err
	}
	if err := writeHeader(f, SheetTelemetry, style, telemetryHeader); err != nil {
		return err
	}
	for i, r := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			r.ReceivedAt.UTC().Format(time.RFC3339Nano),
			r.BatteryPct,
			r.AltitudeCM,
			r.GroundSpeed(),
			r.Attitude.Pitch,
			r.Attitude.Roll,
			r.Attitude.Yaw,
			r.TemperatureC,
			r.TimeOfFlightCM,
			r.BarometerCM,
			r.Acceleration.X,
			r.Acceleration.Y,
			r.Acceleration.Z,
			r.MotorTimeSec,
		}
		if err := f.SetSheetRow(SheetTelemetry, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeEvents(f *excelize.File, style int, events []safety.Event) error {
	if _, err := f.NewSheet(SheetEvents); err != nil {
		return err
	}
	if err := writeHeader(f, SheetEvents, style, eventHeader); err != nil {
		return err
	}
	for i, ev := range events {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			ev.At.UTC().Format(time.RFC3339Nano),
			ev.Level.String(),
			string(ev.Condition),
			string(ev.Action),
			ev.Message,
			ev.ID,
		}
		if err := f.SetSheetRow(SheetEvents, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// Summary holds the headline figures of a session.
type Summary struct {
	Records     int
	Duration    time.Duration
	MinBattery  int
	MaxAltitude int
	MaxTemp     int
	Events      map[safety.Level]int
}

// Summarize computes headline figures from a session's log.
func Summarize(recs []telemetry.Record, events []safety.Event) Summary {
	s := Summary{Records: len(recs), Events: make(map[safety.Level]int)}
	for i, r := range recs {
		if i == 0 || r.BatteryPct < s.MinBattery {
			s.MinBattery = r.BatteryPct
		}
		if r.AltitudeCM > s.MaxAltitude {
			s.MaxAltitude = r.AltitudeCM
		}
		if i == 0 || r.TemperatureC > s.MaxTemp {
			s.MaxTemp = r.TemperatureC
		}
	}
	if len(recs) > 1 {
		s.Duration = recs[len(recs)-1].ReceivedAt.Sub(recs[0].ReceivedAt)
	}
	for _, ev := range events {
		s.Events[ev.Level]++
	}
	return s
}

func writeSummary(f *excelize.File, style int, sessionID int64, recs []telemetry.Record, events []safety.Event) error {
	s := Summarize(recs, events)
	rows := [][]any{
		{"Session", sessionID},
		{"Telemetry records", s.Records},
		{"Duration", s.Duration.Round(time.Second).String()},
		{"Minimum battery %", s.MinBattery},
		{"Maximum altitude cm", s.MaxAltitude},
		{"Maximum temperature °C", s.MaxTemp},
	}
	for _, l := range []safety.Level{safety.Info, safety.Warning, safety.Critical, safety.Emergency} {
		rows = append(rows, []any{"Events (" + l.String() + ")", s.Events[l]})
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return err
		}
	}
	last, err := excelize.CoordinatesToCellName(1, len(rows))
	if err != nil {
		return err
	}
	return f.SetCellStyle(SheetSummary, "A1", last, style)
}
