package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrParse is matched by every ParseError.
var ErrParse = errors.New("telemetry parse error")

// ParseError describes why a datagram was rejected.
type ParseError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("telemetry: %s", e.Reason)
	}
	return fmt.Sprintf("telemetry: %s=%q: %s", e.Key, e.Value, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

type intField struct {
	min, max int
	set      func(*Record, int)
}

type floatField struct {
	set func(*Record, float64)
}

var intFields = map[string]intField{
	"bat":   {0, 100, func(r *Record, v int) { r.BatteryPct = v }},
	"h":     {0, math.MaxInt, func(r *Record, v int) { r.AltitudeCM = v }},
	"vgx":   {math.MinInt, math.MaxInt, func(r *Record, v int) { r.Velocity.X = v }},
	"vgy":   {math.MinInt, math.MaxInt, func(r *Record, v int) { r.Velocity.Y = v }},
	"vgz":   {math.MinInt, math.MaxInt, func(r *Record, v int) { r.Velocity.Z = v }},
	"pitch": {-180, 180, func(r *Record, v int) { r.Attitude.Pitch = v }},
	"roll":  {-180, 180, func(r *Record, v int) { r.Attitude.Roll = v }},
	"yaw":   {-180, 180, func(r *Record, v int) { r.Attitude.Yaw = v }},
	"temp":  {math.MinInt, math.MaxInt, func(r *Record, v int) { r.TemperatureC = v }},
	"templ": {math.MinInt, math.MaxInt, nil},
	"temph": {math.MinInt, math.MaxInt, nil},
	"tof":   {0, math.MaxInt, func(r *Record, v int) { r.TimeOfFlightCM = v }},
	"time":  {0, math.MaxInt, func(r *Record, v int) { r.MotorTimeSec = v }},
}

var floatFields = map[string]floatField{
	"baro": {func(r *Record, v float64) { r.BarometerCM = v }},
	"agx":  {func(r *Record, v float64) { r.Acceleration.X = v }},
	"agy":  {func(r *Record, v float64) { r.Acceleration.Y = v }},
	"agz":  {func(r *Record, v float64) { r.Acceleration.Z = v }},
}

var required = []string{"bat", "h"}

// Parse decodes one telemetry datagram. Pairs may be separated by whitespace
// or semicolons; unknown keys are skipped. The record is rejected as a whole
// when a required key is missing or any known key carries a bad value.
func Parse(raw string) (Record, error) {
	return ParseAt(raw, time.Now())
}

// ParseAt is Parse with an explicit receive timestamp.
func ParseAt(raw string, receivedAt time.Time) (Record, error) {
	var rec Record
	seen := make(map[string]bool, len(intFields)+len(floatFields))
	var tempLow, tempHigh int

	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ' ' || r == '\t' || r == '\r' || r == '\n'
	})
	for _, pair := range fields {
		key, val, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		if f, known := intFields[key]; known {
			n, err := strconv.Atoi(val)
			if err != nil {
				return Record{}, &ParseError{Key: key, Value: val, Reason: "not an integer"}
			}
			if n < f.min || n > f.max {
				return Record{}, &ParseError{Key: key, Value: val, Reason: "out of range"}
			}
			switch key {
			case "templ":
				tempLow = n
			case "temph":
				tempHigh = n
			default:
				f.set(&rec, n)
			}
			seen[key] = true
			continue
		}
		if f, known := floatFields[key]; known {
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return Record{}, &ParseError{Key: key, Value: val, Reason: "not a number"}
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Record{}, &ParseError{Key: key, Value: val, Reason: "not finite"}
			}
			f.set(&rec, v)
			seen[key] = true
		}
	}

	for _, key := range required {
		if !seen[key] {
			return Record{}, &ParseError{Key: key, Reason: "required key missing"}
		}
	}
	if !seen["temp"] && (seen["templ"] || seen["temph"]) {
		switch {
		case seen["templ"] && seen["temph"]:
			rec.TemperatureC = (tempLow + tempHigh) / 2
		case seen["temph"]:
			rec.TemperatureC = tempHigh
		default:
			rec.TemperatureC = tempLow
		}
	}
	rec.ReceivedAt = receivedAt
	return rec, nil
}

// Format serializes every known field of r so that Parse(Format(r)) yields
// the same values.
func Format(r Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pitch:%d;roll:%d;yaw:%d;", r.Attitude.Pitch, r.Attitude.Roll, r.Attitude.Yaw)
	fmt.Fprintf(&b, "vgx:%d;vgy:%d;vgz:%d;", r.Velocity.X, r.Velocity.Y, r.Velocity.Z)
	fmt.Fprintf(&b, "temp:%d;tof:%d;h:%d;bat:%d;", r.TemperatureC, r.TimeOfFlightCM, r.AltitudeCM, r.BatteryPct)
	fmt.Fprintf(&b, "baro:%s;time:%d;", strconv.FormatFloat(r.BarometerCM, 'f', -1, 64), r.MotorTimeSec)
	fmt.Fprintf(&b, "agx:%s;agy:%s;agz:%s;",
		strconv.FormatFloat(r.Acceleration.X, 'f', -1, 64),
		strconv.FormatFloat(r.Acceleration.Y, 'f', -1, 64),
		strconv.FormatFloat(r.Acceleration.Z, 'f', -1, 64))
	return b.String()
}
