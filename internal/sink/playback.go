package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"droneops-ctl/internal/telemetry"
)

// ReplayOptions controls how a recorded telemetry log is played back.
type ReplayOptions struct {
	// Speed scales the recorded gaps. Speed <= 0 replays without delay.
	Speed float64
	// MaxGap caps a single pause after scaling, so a long ground stop does
	// not stall the replay. Zero leaves pauses uncapped.
	MaxGap time.Duration
	// From and Until bound the replay by receive time. Zero is unbounded.
	From, Until time.Time
}

// ReplayStats reports what a replay did.
type ReplayStats struct {
	Replayed int `json:"replayed"`
	Filtered int `json:"filtered"`
	Invalid  int `json:"invalid"`
}

func (o ReplayOptions) inWindow(t time.Time) bool {
	if !o.From.IsZero() && t.Before(o.From) {
		return false
	}
	if !o.Until.IsZero() && t.After(o.Until) {
		return false
	}
	return true
}

func (o ReplayOptions) pause(prev, next time.Time) time.Duration {
	if prev.IsZero() || o.Speed <= 0 {
		return 0
	}
	d := next.Sub(prev)
	if o.Speed != 1 {
		d = time.Duration(float64(d) / o.Speed)
	}
	if o.MaxGap > 0 && d > o.MaxGap {
		d = o.MaxGap
	}
	return d
}

// Replay feeds JSONL telemetry records from r to writer. Records outside the
// window are skipped, as are records the live parser would have rejected;
// both are counted. Gaps are paced by the receive timestamps.
func Replay(ctx context.Context, r io.Reader, writer TelemetryWriter, opts ReplayOptions) (ReplayStats, error) {
	var stats ReplayStats
	dec := json.NewDecoder(r)
	var prev time.Time
	for {
		var rec telemetry.Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, err
		}
		if !opts.inWindow(rec.ReceivedAt) {
			stats.Filtered++
			continue
		}
		if _, err := telemetry.ParseAt(telemetry.Format(rec), rec.ReceivedAt); err != nil {
			stats.Invalid++
			continue
		}
		if d := opts.pause(prev, rec.ReceivedAt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return stats, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := writer.Write(rec); err != nil {
			return stats, err
		}
		stats.Replayed++
		prev = rec.ReceivedAt
	}
}

// ReplayFile opens path and replays its telemetry records.
func ReplayFile(ctx context.Context, path string, writer TelemetryWriter, opts ReplayOptions) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, err
	}
	defer f.Close()
	return Replay(ctx, f, writer, opts)
}
