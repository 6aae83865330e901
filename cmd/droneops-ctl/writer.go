package main

import (
	"errors"
	"io"
	"log/slog"

	"droneops-ctl/internal/config"
	"droneops-ctl/internal/sink"
	"droneops-ctl/internal/storage"
)

type writerOptions struct {
	session   string
	printOnly bool
	json      bool
	tui       bool
}

// writerSet is the composed output of a session plus the handles needed to
// shut it down.
type writerSet struct {
	out     *sink.MultiWriter
	console any
	tui     *sink.TUIWriter
	sqlite  *sink.SQLiteWriter
	closers []io.Closer
}

func (ws *writerSet) Close() error {
	var errs []error
	for i := len(ws.closers) - 1; i >= 0; i-- {
		errs = append(errs, ws.closers[i].Close())
	}
	return errors.Join(errs...)
}

// newWriters builds the console writer plus every recorder the settings
// enable. GreptimeDB is skipped when printOnly is set or no endpoint is
// configured.
func newWriters(cfg *config.Settings, opts writerOptions, log *slog.Logger) (*writerSet, error) {
	ws := &writerSet{}
	fail := func(err error) (*writerSet, error) {
		_ = ws.Close()
		return nil, err
	}

	switch {
	case opts.tui:
		t := sink.NewTUIWriter(cfg)
		ws.tui = t
		ws.console = t
		ws.closers = append(ws.closers, t)
	case opts.json:
		ws.console = sink.NewJSONStdoutWriter()
	default:
		ws.console = sink.NewColorStdoutWriter(cfg)
	}
	writers := []any{ws.console}

	if path := cfg.Record.JSONL; path != "" {
		fw, err := sink.NewFileWriter(path, path+".events", path+".transitions")
		if err != nil {
			return fail(err)
		}
		ws.closers = append(ws.closers, fw)
		writers = append(writers, fw)
	}

	if path := cfg.Record.SQLite; path != "" {
		store := storage.New(path)
		ws.closers = append(ws.closers, store)
		redacted := *cfg
		redacted.Admin.JWTSecret = ""
		sw, err := sink.NewSQLiteWriter(store, opts.session, cfg.Link.VehicleIP, redacted)
		if err != nil {
			return fail(err)
		}
		ws.sqlite = sw
		writers = append(writers, sw)
	}

	if !opts.printOnly && cfg.Greptime.Endpoint != "" {
		gw, err := sink.NewGreptimeDBWriter(cfg.Greptime, opts.session, log)
		if err != nil {
			return fail(err)
		}
		writers = append(writers, gw)
	} else if log != nil {
		log.Debug("GreptimeDB export disabled", "print_only", opts.printOnly)
	}

	ws.out = sink.NewMultiWriter(writers...)
	return ws, nil
}
