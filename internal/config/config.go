// YAML settings loader with CUE validation
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LinkSettings configures the UDP command and telemetry sockets.
type LinkSettings struct {
	VehicleIP         string        `yaml:"vehicle_ip"`
	CommandPort       int           `yaml:"command_port"`
	StatePort         int           `yaml:"state_port"`
	CommandListen     string        `yaml:"command_listen"`
	StateListen       string        `yaml:"state_listen"`
	WakeProbe         bool          `yaml:"wake_probe"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	HeartbeatGrace    time.Duration `yaml:"heartbeat_grace"`
}

// CommandTimeouts bounds how long each command waits for its response.
type CommandTimeouts struct {
	Default   time.Duration `yaml:"default"`
	Takeoff   time.Duration `yaml:"takeoff"`
	Land      time.Duration `yaml:"land"`
	Emergency time.Duration `yaml:"emergency"`
	Move      time.Duration `yaml:"move"`
	Rotate    time.Duration `yaml:"rotate"`
}

// SafetySettings holds the supervisor's policy thresholds.
type SafetySettings struct {
	Enabled           bool          `yaml:"enabled"`
	BatteryWarning    int           `yaml:"battery_warning"`
	BatteryAutoLand   int           `yaml:"battery_auto_land"`
	BatteryEmergency  int           `yaml:"battery_emergency"`
	MaxFlightTime     time.Duration `yaml:"max_flight_time"`
	FlightTimeWarning float64       `yaml:"flight_time_warning"`
	MaxAltitudeCM     int           `yaml:"max_altitude_cm"`
	AltitudeMarginCM  int           `yaml:"altitude_margin_cm"`
	Tick              time.Duration `yaml:"tick"`
	LinkLossAction    string        `yaml:"link_loss_action"`
}

// AdminSettings configures the operator HTTP API.
type AdminSettings struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

// RecordSettings selects local flight recorders. Empty paths disable them.
type RecordSettings struct {
	JSONL  string `yaml:"jsonl"`
	SQLite string `yaml:"sqlite"`
}

// GreptimeSettings configures the optional GreptimeDB export.
type GreptimeSettings struct {
	Endpoint       string `yaml:"endpoint"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	TelemetryTable string `yaml:"telemetry_table"`
	EventsTable    string `yaml:"events_table"`
}

// Settings is the complete controller configuration. It is loaded once and
// handed to components by value.
type Settings struct {
	Link          LinkSettings     `yaml:"link"`
	Commands      CommandTimeouts  `yaml:"commands"`
	Safety        SafetySettings   `yaml:"safety"`
	ObserverQueue int              `yaml:"observer_queue"`
	EventHistory  int              `yaml:"event_history"`
	LogLevel      string           `yaml:"log_level"`
	Admin         AdminSettings    `yaml:"admin"`
	Record        RecordSettings   `yaml:"record"`
	Greptime      GreptimeSettings `yaml:"greptime"`
}

// Link loss actions.
const (
	LinkLossLand  = "land"
	LinkLossHover = "hover"
)

// Default returns the factory settings.
func Default() Settings {
	return Settings{
		Link: LinkSettings{
			VehicleIP:         "192.168.1.1",
			CommandPort:       8889,
			StatePort:         8890,
			CommandListen:     ":0",
			StateListen:       "0.0.0.0",
			WakeProbe:         true,
			ConnectionTimeout: 10 * time.Second,
			HeartbeatGrace:    5 * time.Second,
		},
		Commands: CommandTimeouts{
			Default:   5 * time.Second,
			Takeoff:   10 * time.Second,
			Land:      15 * time.Second,
			Emergency: 2 * time.Second,
			Move:      10 * time.Second,
			Rotate:    10 * time.Second,
		},
		Safety: SafetySettings{
			Enabled:           true,
			BatteryWarning:    20,
			BatteryAutoLand:   10,
			BatteryEmergency:  5,
			MaxFlightTime:     1200 * time.Second,
			FlightTimeWarning: 0.8,
			MaxAltitudeCM:     500,
			AltitudeMarginCM:  50,
			Tick:              time.Second,
			LinkLossAction:    LinkLossLand,
		},
		ObserverQueue: 64,
		EventHistory:  100,
		LogLevel:      "info",
		Admin:         AdminSettings{Addr: ":8080"},
		Greptime: GreptimeSettings{
			Port:           4001,
			Database:       "public",
			TelemetryTable: "drone_telemetry",
			EventsTable:    "safety_events",
		},
	}
}

// Load reads a YAML settings file, validates it against the CUE schema and
// overlays it on Default. An empty configPath yields the defaults. An empty
// cueSchemaPath uses the embedded schema.
func Load(configPath, cueSchemaPath string) (Settings, error) {
	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
		schema, err := loadSchema(cueSchemaPath)
		if err != nil {
			return Settings{}, err
		}
		if err := ValidateWithCue(configPath, data, schema); err != nil {
			return Settings{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Settings{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	slog.Debug("loaded configuration", "path", configPath, "vehicle", cfg.Link.VehicleIP)
	return cfg, nil
}

func applyEnv(cfg *Settings) error {
	if v := os.Getenv("DRONE_IP"); v != "" {
		cfg.Link.VehicleIP = v
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		cfg.Greptime.Endpoint = v
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		cfg.Admin.JWTSecret = v
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TICK_INTERVAL: %w", err)
		}
		cfg.Safety.Tick = d
	}
	return nil
}

// Validate checks relationships the schema cannot express.
func (s Settings) Validate() error {
	var errs []error
	sf := s.Safety
	if !(sf.BatteryEmergency < sf.BatteryAutoLand && sf.BatteryAutoLand < sf.BatteryWarning) {
		errs = append(errs, fmt.Errorf("battery thresholds must satisfy emergency < auto_land < warning (got %d/%d/%d)",
			sf.BatteryEmergency, sf.BatteryAutoLand, sf.BatteryWarning))
	}
	for name, d := range map[string]time.Duration{
		"link.connection_timeout": s.Link.ConnectionTimeout,
		"link.heartbeat_grace":    s.Link.HeartbeatGrace,
		"commands.default":        s.Commands.Default,
		"safety.tick":             sf.Tick,
		"safety.max_flight_time":  sf.MaxFlightTime,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if sf.LinkLossAction != LinkLossLand && sf.LinkLossAction != LinkLossHover {
		errs = append(errs, fmt.Errorf("safety.link_loss_action must be %q or %q", LinkLossLand, LinkLossHover))
	}
	return errors.Join(errs...)
}

// Timeout returns the configured response timeout for a wire command name.
func (c CommandTimeouts) Timeout(name string) time.Duration {
	var d time.Duration
	switch name {
	case "takeoff":
		d = c.Takeoff
	case "land":
		d = c.Land
	case "emergency":
		d = c.Emergency
	case "forward", "back", "left", "right", "up", "down":
		d = c.Move
	case "cw", "ccw":
		d = c.Rotate
	}
	if d <= 0 {
		d = c.Default
	}
	return d
}
