package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/ground-control/internal/control"
	"github.com/roman-kulish/ground-control/internal/flight"
	"github.com/roman-kulish/ground-control/internal/hub"
	"github.com/roman-kulish/ground-control/internal/source"
	"github.com/roman-kulish/ground-control/internal/storage"
	"github.com/roman-kulish/ground-control/internal/telemetry"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"

	DefaultListen    = ":8080"
	DefaultHeartbeat = 15 * time.Second
	DefaultDataDir   = "data"

	DefaultBridgeCommand = "python"
)

// DefaultBridgeArgs start the serial decoder shipped with the ground station.
var DefaultBridgeArgs = []string{
	"-u", "python_bridge/decoder_main.py",
	"--port", "{port}",
	"--baud", "{baud}",
	"--host", "{host}",
	"--tcp_port", "{tcp_port}",
}

// DefaultPortLister prints the serial ports as a JSON array.
var DefaultPortLister = []string{DefaultBridgeCommand, "python_bridge/list_ports.py"}

// Duration is a time.Duration written as a Go duration string, e.g. "750ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Server    ServerConfig    `yaml:"server"`
	Ejection  EjectionConfig  `yaml:"ejection"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Replay    ReplayConfig    `yaml:"replay"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Storage   StorageConfig   `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel   slog.Level `yaml:"logLevel"`
	LogFormat  string     `yaml:"logFormat"`
	LogFile    string     `yaml:"logFile"` // Rotated copy of the log, in addition to stdout
	MaxSizeMB  int        `yaml:"maxSizeMB"`
	MaxBackups int        `yaml:"maxBackups"`
	MaxAgeDays int        `yaml:"maxAgeDays"`
}

// ServerConfig represents the HTTP surface settings
type ServerConfig struct {
	Listen               string   `yaml:"listen"`
	StaticDir            string   `yaml:"staticDir"`
	SubscriberBuffer     int      `yaml:"subscriberBuffer"`
	StopOnLastDisconnect bool     `yaml:"stopOnLastDisconnect"`
	Heartbeat            Duration `yaml:"heartbeat"`
}

// EjectionConfig represents the recovery trigger thresholds
type EjectionConfig struct {
	TiltLimit        float64  `yaml:"tiltLimit"`
	AltitudeDrop     float64  `yaml:"altitudeDrop"`
	HistorySize      int      `yaml:"historySize"`
	TimeCeiling      Duration `yaml:"timeCeiling"`
	EvaluateExternal bool     `yaml:"evaluateExternal"`
	BurnTime         Duration `yaml:"burnTime"`
}

// SimulatorConfig represents the synthetic flight profile
type SimulatorConfig struct {
	FastTick       Duration `yaml:"fastTick"`
	SlowTickMin    Duration `yaml:"slowTickMin"`
	SlowTickMax    Duration `yaml:"slowTickMax"`
	LaunchDelayMin Duration `yaml:"launchDelayMin"`
	LaunchDelayMax Duration `yaml:"launchDelayMax"`
	Ceiling        float64  `yaml:"ceiling"`
	Origin         struct {
		Lat float64 `yaml:"lat"`
		Lon float64 `yaml:"lon"`
	} `yaml:"origin"`
}

// ReplayConfig represents the recorded log to replay
type ReplayConfig struct {
	File      string `yaml:"file"`
	SkipLines int    `yaml:"skipLines"`
}

// BridgeConfig represents the external decoder process settings
type BridgeConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	Listen     string   `yaml:"listen"`
	PortLister []string `yaml:"portLister"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DataDirectory string   `yaml:"dataDirectory"`
	MaxBatchSize  int      `yaml:"maxBatchSize"`
	FlushInterval Duration `yaml:"flushInterval"`
}

// NewConfig returns the configuration used when the file leaves a setting
// out.
func NewConfig() *Config {
	ejection := flight.DefaultEjectionConfig()
	simulator := source.DefaultSimulatorConfig()

	c := Config{
		Settings: Settings{
			LogLevel:   slog.LevelInfo,
			LogFormat:  LogFormatText,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{
			Listen:           DefaultListen,
			SubscriberBuffer: hub.DefaultSubscriberBuffer,
			Heartbeat:        Duration(DefaultHeartbeat),
		},
		Ejection: EjectionConfig{
			TiltLimit:        ejection.TiltLimit,
			AltitudeDrop:     ejection.AltitudeDrop,
			HistorySize:      ejection.HistorySize,
			TimeCeiling:      Duration(ejection.TimeCeiling),
			EvaluateExternal: true,
			BurnTime:         Duration(flight.DefaultBurnTime),
		},
		Simulator: SimulatorConfig{
			FastTick:       Duration(simulator.FastTick),
			SlowTickMin:    Duration(simulator.SlowTickMin),
			SlowTickMax:    Duration(simulator.SlowTickMax),
			LaunchDelayMin: Duration(simulator.LaunchDelayMin),
			LaunchDelayMax: Duration(simulator.LaunchDelayMax),
			Ceiling:        simulator.Ceiling,
		},
		Replay: ReplayConfig{
			SkipLines: source.DefaultSkipLines,
		},
		Bridge: BridgeConfig{
			Command:    DefaultBridgeCommand,
			Args:       slices.Clone(DefaultBridgeArgs),
			Listen:     source.DefaultBridgeListen,
			PortLister: slices.Clone(DefaultPortLister),
		},
		Storage: StorageConfig{
			DataDirectory: DefaultDataDir,
			MaxBatchSize:  storage.DefaultMaxBatchSize,
			FlushInterval: Duration(storage.DefaultFlushInterval),
		},
	}
	c.Simulator.Origin.Lat = simulator.Origin.Lat
	c.Simulator.Origin.Lon = simulator.Origin.Lon

	return &c
}

// LoadConfig reads the YAML file at path over the defaults and validates the
// result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	c := NewConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.Settings.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("settings.logFormat: unknown format %q", c.Settings.LogFormat)
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen: address is required")
	}
	if c.Server.Heartbeat <= 0 {
		return fmt.Errorf("server.heartbeat: must be positive: %s given", c.Server.Heartbeat)
	}

	hubConfig := c.HubConfig()
	if err := hubConfig.Validate(); err != nil {
		return err
	}

	simulator := c.SimulatorConfig()
	if err := simulator.Validate(); err != nil {
		return err
	}

	if c.Replay.SkipLines < 0 {
		return fmt.Errorf("replay.skipLines: must not be negative: %d given", c.Replay.SkipLines)
	}

	if c.Storage.Enabled {
		if c.Storage.MaxBatchSize <= 0 {
			return fmt.Errorf("storage.maxBatchSize: must be positive: %d given", c.Storage.MaxBatchSize)
		}
		if c.Storage.FlushInterval <= 0 {
			return fmt.Errorf("storage.flushInterval: must be positive: %s given", c.Storage.FlushInterval)
		}
	}

	return nil
}

func (c *Config) ejectionConfig() flight.EjectionConfig {
	return flight.EjectionConfig{
		TiltLimit:    c.Ejection.TiltLimit,
		AltitudeDrop: c.Ejection.AltitudeDrop,
		HistorySize:  c.Ejection.HistorySize,
		TimeCeiling:  time.Duration(c.Ejection.TimeCeiling),
	}
}

// HubConfig returns the hub part of the configuration.
func (c *Config) HubConfig() hub.Config {
	return hub.Config{
		SubscriberBuffer:      c.Server.SubscriberBuffer,
		Ejection:              c.ejectionConfig(),
		BurnTime:              time.Duration(c.Ejection.BurnTime),
		EvaluateExternal:      c.Ejection.EvaluateExternal,
		StopOnLastUnsubscribe: c.Server.StopOnLastDisconnect,
	}
}

// SimulatorConfig returns the simulator profile; it shares the ejection
// thresholds with the hub.
func (c *Config) SimulatorConfig() source.SimulatorConfig {
	return source.SimulatorConfig{
		FastTick:       time.Duration(c.Simulator.FastTick),
		SlowTickMin:    time.Duration(c.Simulator.SlowTickMin),
		SlowTickMax:    time.Duration(c.Simulator.SlowTickMax),
		LaunchDelayMin: time.Duration(c.Simulator.LaunchDelayMin),
		LaunchDelayMax: time.Duration(c.Simulator.LaunchDelayMax),
		Ceiling:        c.Simulator.Ceiling,
		Origin:         telemetry.Position{Lat: c.Simulator.Origin.Lat, Lon: c.Simulator.Origin.Lon},
		Ejection:       c.ejectionConfig(),
	}
}

// ControlConfig returns the source settings of the controller.
func (c *Config) ControlConfig() control.Config {
	return control.Config{
		Simulator: c.SimulatorConfig(),
		Replay: source.ReplayConfig{
			File:      c.Replay.File,
			SkipLines: c.Replay.SkipLines,
		},
		Bridge: control.BridgeSettings{
			Command:    c.Bridge.Command,
			Args:       c.Bridge.Args,
			Listen:     c.Bridge.Listen,
			PortLister: c.Bridge.PortLister,
		},
	}
}
