package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roman-kulish/ground-control/internal/source"
)

// ErrUnknownSource is returned for a source ID that names neither a
// synthetic source nor, with the bridge configured, a serial port.
var ErrUnknownSource = errors.New("unknown source")

// Switcher is the part of the hub the controller drives.
type Switcher interface {
	SwitchTo(src *source.Source) error
	Stop()
}

// BridgeSettings are the server-wide parts of the bridge configuration. Port
// and baud come from each connect request.
type BridgeSettings struct {
	Command    string
	Args       []string
	Listen     string
	PortLister []string // Command and arguments printing the serial port list
}

// Enabled reports whether a decoder command is configured.
func (b BridgeSettings) Enabled() bool {
	return b.Command != ""
}

type Config struct {
	Simulator source.SimulatorConfig
	Replay    source.ReplayConfig
	Bridge    BridgeSettings
}

// SourceInfo is one selectable source.
type SourceInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
}

// ConnectRequest selects a source. Port defaults to the source ID; Baud is
// required for serial sources.
type ConnectRequest struct {
	SourceID string `json:"sourceId"`
	Port     string `json:"port,omitempty"`
	Baud     int    `json:"baud,omitempty"`
}

// WithLogger sets the logger for the controller and the sources it creates
func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller turns connect and disconnect requests into hub source switches.
type Controller struct {
	hub    Switcher
	config Config
	logger *slog.Logger
}

// New creates a controller with a discard logger
func New(hub Switcher, config Config, options ...func(c *Controller)) *Controller {
	c := Controller{
		hub:    hub,
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// ListSources returns the serial ports reported by the port lister followed
// by the simulator and the replay. A failing lister is logged and skipped.
func (c *Controller) ListSources(ctx context.Context) []SourceInfo {
	var sources []SourceInfo

	if c.config.Bridge.Enabled() && len(c.config.Bridge.PortLister) > 0 {
		lister := c.config.Bridge.PortLister
		ports, err := source.ListPorts(ctx, lister[0], lister[1:]...)
		if err != nil {
			c.logger.Warn("failed to list serial ports", slog.String("error", err.Error()))
		}
		for _, p := range ports {
			sources = append(sources, SourceInfo{ID: p.Device, Description: p.Description, Kind: source.KindBridge.String()})
		}
	}

	sources = append(sources,
		SourceInfo{ID: source.KindSimulator.String(), Description: "Flight simulator", Kind: source.KindSimulator.String()},
		SourceInfo{ID: source.KindReplay.String(), Description: "Recorded flight replay", Kind: source.KindReplay.String()},
	)

	return sources
}

// Connect validates the request, builds the source and switches the hub to
// it. Invalid requests are rejected with a *source.ConfigError before the
// active session is touched.
func (c *Controller) Connect(req ConnectRequest) error {
	src, err := c.build(req)
	if err != nil {
		return err
	}

	c.logger.Info("connecting", slog.String("source", src.String()))

	return c.hub.SwitchTo(src)
}

// Disconnect stops the active source, if any.
func (c *Controller) Disconnect() {
	c.logger.Info("disconnecting")
	c.hub.Stop()
}

func (c *Controller) build(req ConnectRequest) (*source.Source, error) {
	id := strings.TrimSpace(req.SourceID)
	if id == "" {
		return nil, source.NewConfigError("sourceId", "source is required")
	}

	var (
		driver source.Driver
		desc   string
		err    error
	)

	switch source.Kind(strings.ToUpper(id)) {
	case source.KindSimulator:
		driver, err = source.NewSimulator(c.config.Simulator, source.WithSimulatorLogger(c.logger.With(slog.String("source", "SIMULATOR"))))
		desc = source.KindSimulator.String()

	case source.KindReplay:
		driver, err = source.NewReplay(c.config.Replay, source.WithReplayLogger(c.logger.With(slog.String("source", "CSV_REPLAY"))))
		desc = c.config.Replay.File

	default:
		port := strings.TrimSpace(req.Port)
		if port == "" {
			port = id
		}
		if req.Baud <= 0 {
			return nil, source.NewConfigError("baud", fmt.Sprintf("baud rate is required for serial port %s", port))
		}
		if !c.config.Bridge.Enabled() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
		}

		driver, err = source.NewBridge(source.BridgeConfig{
			Command: c.config.Bridge.Command,
			Args:    c.config.Bridge.Args,
			Listen:  c.config.Bridge.Listen,
			Port:    port,
			Baud:    req.Baud,
		}, source.WithBridgeLogger(c.logger.With(slog.String("source", "BRIDGE"), slog.String("port", port))))
		desc = fmt.Sprintf("%s @ %d", port, req.Baud)
	}
	if err != nil {
		return nil, err
	}

	return source.New(driver, desc, source.WithLogger(c.logger)), nil
}
