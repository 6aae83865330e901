package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"droneops-ctl/internal/admin"
	"droneops-ctl/internal/command"
	"droneops-ctl/internal/config"
	"droneops-ctl/internal/emulator"
	"droneops-ctl/internal/link"
	"droneops-ctl/internal/logging"
	"droneops-ctl/internal/safety"
	"droneops-ctl/internal/script"
	"droneops-ctl/internal/sink"
)

var (
	flyPrintOnly bool
	flyJSON      bool
	flyTUI       bool
	flyScript    string
	flyNoAdmin   bool
	flyEmulate   bool
	flySkipInit  bool
)

var flyCmd = &cobra.Command{
	Use:   "fly",
	Short: "Connect to the vehicle and supervise a flight",
	Long: "fly connects to the vehicle, enters SDK mode, starts the safety supervisor, records the session " +
		"and serves the operator console. Landing on shutdown is not automatic.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return fly(ctx, cfg)
	},
}

func fly(ctx context.Context, cfg config.Settings) error {
	session := sink.NewSession()
	useTUI := flyTUI && !flyJSON && term.IsTerminal(int(os.Stdout.Fd()))

	ws, err := newWriters(&cfg, writerOptions{
		session:   session,
		printOnly: flyPrintOnly,
		json:      flyJSON,
		tui:       useTUI,
	}, slog.Default())
	if err != nil {
		return err
	}
	defer ws.Close()

	log := slog.Default()
	if ws.tui != nil {
		// The UI owns the terminal; logs go to its log pane instead of stderr.
		var w io.Writer = ws.tui.LogWriter()
		if logFileHandle != nil {
			w = io.MultiWriter(w, logFileHandle)
		}
		log = logging.New(w, logLevelVar)
	}
	log = log.With("session", session)
	ctx = logging.NewContext(ctx, log)

	if flyEmulate {
		emu, err := startBenchEmulator(&cfg, log)
		if err != nil {
			return err
		}
		defer emu.Close()
	}

	ch := link.New(cfg, log)
	defer ch.Close()
	store := ch.Flight()
	seq := command.New(ch, store, cfg.Commands, cfg.Safety.BatteryWarning, log)
	sup := safety.New(cfg, store, seq, log)
	defer sup.Close()
	unwatch := sup.Watch(ch)
	defer unwatch()

	rec := sink.NewRecorder(session, ws.out, log)
	rec.Attach(ch, sup, store)
	defer rec.Stop()

	ws.out.SetOperator(seq)
	ws.out.SetSafetyStatus(cfg.Safety.Enabled)
	cancelLink := ch.SubscribeLink(func(e link.Event) { ws.out.SetLinkStatus(e.Up) })
	defer cancelLink()
	cancelMon := sup.Subscribe(func(e safety.Event) {
		if e.Condition == safety.CondMonitoring {
			ws.out.SetSafetyStatus(sup.Status().Enabled)
		}
	})
	defer cancelMon()

	log.Info("connecting", "vehicle", cfg.Link.VehicleIP, "command_port", cfg.Link.CommandPort, "state_port", cfg.Link.StatePort)
	if err := ch.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	supDone := make(chan struct{})
	go func() {
		sup.Run(runCtx)
		close(supDone)
	}()

	if !flyNoAdmin && cfg.Admin.Addr != "" {
		srv := admin.NewServer(admin.Options{
			Controller:  seq,
			Supervisor:  sup,
			Link:        ch,
			Transitions: store,
			JWTSecret:   cfg.Admin.JWTSecret,
			Logger:      log,
		})
		go func() {
			if err := srv.Start(runCtx, cfg.Admin.Addr); err != nil {
				log.Error("admin server failed", "err", err)
			}
		}()
	}

	if !flySkipInit {
		if err := seq.Initialize(ctx); err != nil {
			log.Error("initialize failed", "err", err)
		}
	}

	if flyScript != "" {
		sc, err := resolveScript(flyScript)
		if err != nil {
			return err
		}
		go func() {
			if err := script.Run(runCtx, seq, sc, log); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("script failed", "err", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	if st := seq.State(); st.Mode.Flying() {
		log.Warn("vehicle is still airborne; landing is not automatic", "mode", st.Mode)
	}
	cancelRun()
	if err := ch.Disconnect(); err != nil {
		log.Warn("disconnect", "err", err)
	}
	select {
	case <-supDone:
	case <-time.After(5 * time.Second):
		log.Warn("safety supervisor did not stop in time")
	}
	if n := rec.Failures(); n > 0 {
		log.Warn("session recorded with write failures", "failures", n)
	}
	if ws.sqlite != nil {
		log.Info("flight log stored", "db", cfg.Record.SQLite, "session_id", ws.sqlite.SessionID())
	}
	log.Info("session closed")
	return nil
}

// resolveScript loads a script file, falling back to the built-in scripts
// by name.
func resolveScript(name string) (*script.Script, error) {
	if _, err := os.Stat(name); err == nil {
		return script.Load(name)
	}
	if sc, ok := script.BuiltIn()[name]; ok {
		return &sc, nil
	}
	return nil, fmt.Errorf("script %q: no such file or built-in script", name)
}

// startBenchEmulator runs an in-process vehicle on loopback and points the
// link at it.
func startBenchEmulator(cfg *config.Settings, log *slog.Logger) (*emulator.Server, error) {
	statePort := cfg.Link.StatePort
	emu := emulator.New(emulator.Options{
		Listen:      "127.0.0.1:0",
		StateTarget: net.JoinHostPort("127.0.0.1", strconv.Itoa(statePort)),
		Logger:      log,
	})
	if err := emu.Start(); err != nil {
		return nil, fmt.Errorf("start emulator: %w", err)
	}
	cfg.Link.VehicleIP = "127.0.0.1"
	cfg.Link.CommandPort = emu.Port()
	cfg.Link.StateListen = "127.0.0.1"
	log.Info("bench emulator running", "command_port", emu.Port(), "state_port", statePort)
	return emu, nil
}

func init() {
	flyCmd.Flags().BoolVar(&flyPrintOnly, "print-only", false, "Skip the GreptimeDB export even when an endpoint is configured")
	flyCmd.Flags().BoolVar(&flyJSON, "json", false, "Print JSON envelopes to STDOUT instead of the colored console")
	flyCmd.Flags().BoolVar(&flyTUI, "tui", true, "Use the interactive terminal UI when STDOUT is a terminal")
	flyCmd.Flags().StringVar(&flyScript, "script", "", "Command script to run after initialization (file or built-in name)")
	flyCmd.Flags().BoolVar(&flyNoAdmin, "no-admin", false, "Do not serve the operator HTTP console")
	flyCmd.Flags().BoolVar(&flyEmulate, "emulate", false, "Fly against an in-process emulated vehicle")
	flyCmd.Flags().BoolVar(&flySkipInit, "no-init", false, "Do not enter SDK mode after connecting")
}
