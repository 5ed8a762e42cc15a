// Package config provides configuration loading and validation for the
// coordinator and unit processes.
//
// Configuration file: none by default (built-in Defaults()); a path is
// given with the -config flag.
// Schema version: 1
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (timers > 0, pool size/stride/grid >= 1).
//   - Invalid config on startup: the process refuses to start (fatal error).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure shared by the coordinator and
// unit binaries. All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	Ports         PortsConfig         `yaml:"ports"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Fault         FaultConfig         `yaml:"fault"`
	ZoneGrid      ZoneGridConfig      `yaml:"zone_grid"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PortsConfig holds the fixed UDP port assignments (spec §4.5/§6).
type PortsConfig struct {
	CoordinatorSend    int `yaml:"coordinator_send"`
	CoordinatorReceive int `yaml:"coordinator_receive"`
	IngestionSend      int `yaml:"ingestion_send"`
	IngestionReceive   int `yaml:"ingestion_receive"`
	UnitSendBase       int `yaml:"unit_send_base"`
	UnitReceiveBase    int `yaml:"unit_receive_base"`
	UnitPortStride     int `yaml:"unit_port_stride"`
}

// DispatchConfig holds the coordinator's periodic-loop timing.
type DispatchConfig struct {
	// CleanupInitialDelay/CleanupPeriod govern the timer that purges
	// fire-out zones from the bookkeeping maps and the event queue.
	CleanupInitialDelay time.Duration `yaml:"cleanup_initial_delay"`
	CleanupPeriod       time.Duration `yaml:"cleanup_period"`

	// ProactiveInitialDelay/ProactivePeriod govern the timer that calls
	// reconcileActiveFires when the queue is empty.
	ProactiveInitialDelay time.Duration `yaml:"proactive_initial_delay"`
	ProactivePeriod       time.Duration `yaml:"proactive_period"`

	// ReceiveTimeout is validated to lie in (0, 250ms]. The receive loops
	// do not read it: transport.Endpoint polls with its own fixed 200ms
	// deadline.
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`

	// IdleWorkerPoolSize bounds the number of concurrent
	// findAssignmentForIdle follow-ups in flight at once.
	IdleWorkerPoolSize int `yaml:"idle_worker_pool_size"`

	// ShutdownDrainTimeout is how long shutdown() waits for in-flight
	// loops to notice cancellation before returning anyway.
	ShutdownDrainTimeout time.Duration `yaml:"shutdown_drain_timeout"`
}

// TelemetryConfig holds the unit's telemetry emission cadence.
type TelemetryConfig struct {
	// MotionInterval is the minimum interval between telemetry updates
	// emitted during travel (spec: "every 50ms during motion").
	MotionInterval time.Duration `yaml:"motion_interval"`

	// SimulationHz is validated to be >= 20. The mission engine does not
	// read it: position is interpolated once per MotionInterval tick.
	SimulationHz float64 `yaml:"simulation_hz"`
}

// FaultConfig holds the unit's fault-timeout thresholds.
type FaultConfig struct {
	// MaxMovementTime is the ceiling on any single travel leg before the
	// unit transitions to Fault with ErrorDroneStuck.
	MaxMovementTime time.Duration `yaml:"max_movement_time"`

	// MaxDropAgentTime is the ceiling on the agent-drop sequence before
	// the unit transitions to Fault with ErrorNozzleJam.
	MaxDropAgentTime time.Duration `yaml:"max_drop_agent_time"`

	// RefillDelay is the time spent in ArrivedToBase before returning to
	// Idle with capacity restored.
	RefillDelay time.Duration `yaml:"refill_delay"`
}

// ZoneGridConfig holds the constants used to derive a zone's center from a
// raw id and to build the default fallback grid (spec §4.2).
type ZoneGridConfig struct {
	DeltaX   int `yaml:"delta_x"`
	DeltaY   int `yaml:"delta_y"`
	OriginX  int `yaml:"origin_x"`
	OriginY  int `yaml:"origin_y"`
	Columns  int `yaml:"columns"`
	Rows     int `yaml:"rows"`
	Spacing  int `yaml:"spacing"`
	ZoneFile string `yaml:"zone_file"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`

	// SnapshotSocketPath is the Unix domain socket the read-only operator
	// snapshot server listens on.
	SnapshotSocketPath string `yaml:"snapshot_socket_path"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	return Config{
		SchemaVersion: "1",
		Ports: PortsConfig{
			CoordinatorSend:    6000,
			CoordinatorReceive: 6001,
			IngestionSend:      5000,
			IngestionReceive:   5001,
			UnitSendBase:       7000,
			UnitReceiveBase:    7001,
			UnitPortStride:     100,
		},
		Dispatch: DispatchConfig{
			CleanupInitialDelay:   5 * time.Second,
			CleanupPeriod:         15 * time.Second,
			ProactiveInitialDelay: 3 * time.Second,
			ProactivePeriod:       3 * time.Second,
			ReceiveTimeout:        200 * time.Millisecond,
			IdleWorkerPoolSize:    8,
			ShutdownDrainTimeout:  time.Second,
		},
		Telemetry: TelemetryConfig{
			MotionInterval: 50 * time.Millisecond,
			SimulationHz:   20,
		},
		Fault: FaultConfig{
			MaxMovementTime:  30 * time.Second,
			MaxDropAgentTime: 15 * time.Second,
			RefillDelay:      2 * time.Second,
		},
		ZoneGrid: ZoneGridConfig{
			DeltaX: 10, DeltaY: 10,
			OriginX: 1000, OriginY: 1000,
			Columns: 3, Rows: 4, Spacing: 10,
			ZoneFile: "zones.txt",
		},
		Observability: ObservabilityConfig{
			MetricsAddr:        "127.0.0.1:9091",
			LogLevel:           "info",
			LogFormat:          "json",
			SnapshotSocketPath: "/tmp/dispatch-snapshot.sock",
		},
	}
}

// Load reads and validates a config file from the given path. Returns the
// merged config (defaults overridden by file values). A missing file is
// not an error: the caller passes an empty path or a path known not to
// exist to fall back to pure defaults, mirroring the zone file's
// fallback-to-default-grid behaviour.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		if err := Validate(&cfg); err != nil {
			return nil, fmt.Errorf("config.Load: validation failed: %w", err)
		}
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := Validate(&cfg); err != nil {
				return nil, fmt.Errorf("config.Load: validation failed: %w", err)
			}
			return &cfg, nil
		}
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks all config fields for correctness, returning a
// descriptive error listing every violation found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.Ports.CoordinatorSend == cfg.Ports.CoordinatorReceive {
		errs = append(errs, "ports.coordinator_send and ports.coordinator_receive must differ")
	}
	if cfg.Ports.UnitPortStride < 1 {
		errs = append(errs, fmt.Sprintf("ports.unit_port_stride must be >= 1, got %d", cfg.Ports.UnitPortStride))
	}
	if cfg.Dispatch.ReceiveTimeout <= 0 || cfg.Dispatch.ReceiveTimeout > 250*time.Millisecond {
		errs = append(errs, fmt.Sprintf("dispatch.receive_timeout must be in (0, 250ms], got %s", cfg.Dispatch.ReceiveTimeout))
	}
	if cfg.Dispatch.CleanupPeriod <= 0 {
		errs = append(errs, "dispatch.cleanup_period must be > 0")
	}
	if cfg.Dispatch.ProactivePeriod <= 0 {
		errs = append(errs, "dispatch.proactive_period must be > 0")
	}
	if cfg.Dispatch.IdleWorkerPoolSize < 1 {
		errs = append(errs, fmt.Sprintf("dispatch.idle_worker_pool_size must be >= 1, got %d", cfg.Dispatch.IdleWorkerPoolSize))
	}
	if cfg.Telemetry.SimulationHz < 20 {
		errs = append(errs, fmt.Sprintf("telemetry.simulation_hz must be >= 20, got %f", cfg.Telemetry.SimulationHz))
	}
	if cfg.Fault.MaxMovementTime <= 0 {
		errs = append(errs, "fault.max_movement_time must be > 0")
	}
	if cfg.Fault.MaxDropAgentTime <= 0 {
		errs = append(errs, "fault.max_drop_agent_time must be > 0")
	}
	if cfg.ZoneGrid.Columns < 1 || cfg.ZoneGrid.Rows < 1 {
		errs = append(errs, "zone_grid.columns and zone_grid.rows must be >= 1")
	}
	if cfg.ZoneGrid.Spacing < 1 {
		errs = append(errs, fmt.Sprintf("zone_grid.spacing must be >= 1, got %d", cfg.ZoneGrid.Spacing))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
