package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBridgeListen is where the decoder process connects to deliver records.
	DefaultBridgeListen = "127.0.0.1:9000"

	// processWaitDelay bounds how long Wait blocks on pipes after the decoder is killed.
	processWaitDelay = 2 * time.Second
)

// BridgeConfig describes how to spawn the serial decoder.
type BridgeConfig struct {
	Command string   // Interpreter or executable, resolved with FindRuntime
	Args    []string // {port}, {baud}, {host} and {tcp_port} are substituted
	Listen  string   // Local address the decoder connects back to
	Port    string   // Serial device
	Baud    int
}

func (c *BridgeConfig) Validate() error {
	if c.Command == "" {
		return NewConfigError("bridge.command", "bridge command is not configured")
	}
	if c.Port == "" {
		return NewConfigError("port", "serial port is required")
	}
	if c.Baud <= 0 {
		return NewConfigError("baud", fmt.Sprintf("baud rate must be positive: %d given", c.Baud))
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return NewConfigError("bridge.listen", fmt.Sprintf("invalid listen address %q: %s", c.Listen, err.Error()))
	}
	return nil
}

// ExpandArgs renders the argument templates for the given callback address.
func (c *BridgeConfig) ExpandArgs(host, tcpPort string) []string {
	r := strings.NewReplacer(
		"{port}", c.Port,
		"{baud}", strconv.Itoa(c.Baud),
		"{host}", host,
		"{tcp_port}", tcpPort,
	)

	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = r.Replace(arg)
	}

	return args
}

// WithBridgeLogger sets the logger for the bridge
func WithBridgeLogger(logger *slog.Logger) func(*Bridge) {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// Bridge relays a physical vehicle: it listens on a local TCP address,
// spawns the serial decoder and reads the NDJSON records the decoder sends
// back. The session ends when the decoder process exits.
type Bridge struct {
	config BridgeConfig
	logger *slog.Logger
}

// NewBridge creates a bridge driver
func NewBridge(config BridgeConfig, options ...func(*Bridge)) (*Bridge, error) {
	if config.Listen == "" {
		config.Listen = DefaultBridgeListen
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := Bridge{
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&b)
	}

	return &b, nil
}

func (b *Bridge) Kind() Kind {
	return KindBridge
}

func (b *Bridge) Run(ctx context.Context, sink Sink) error {
	binPath, err := FindRuntime(b.config.Command)
	if err != nil {
		return NewSourceError(KindBridge.String(), err)
	}

	ln, err := net.Listen("tcp", b.config.Listen)
	if err != nil {
		return NewSourceError(KindBridge.String(), fmt.Errorf("failed to listen on %s: %w", b.config.Listen, err))
	}
	defer ln.Close()

	host, tcpPort, _ := net.SplitHostPort(ln.Addr().String())

	cmd := exec.CommandContext(ctx, binPath, b.config.ExpandArgs(host, tcpPort)...)
	cmd.WaitDelay = processWaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return NewSourceError(KindBridge.String(), fmt.Errorf("error creating stdout pipe: %w", err))
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return NewSourceError(KindBridge.String(), fmt.Errorf("error creating stderr pipe: %w", err))
	}

	if err = cmd.Start(); err != nil {
		return NewSourceError(KindBridge.String(), fmt.Errorf("error starting decoder: %w", err))
	}

	b.logger.Info("decoder started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("port", b.config.Port),
		slog.Int("baud", b.config.Baud),
		slog.String("listen", ln.Addr().String()))

	var (
		wg    sync.WaitGroup
		conns connSet
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		b.serve(ln, sink, &conns)
	}()
	go func() {
		defer wg.Done()
		b.logOutput(stdout, slog.LevelInfo, "stdout")
	}()
	go func() {
		defer wg.Done()
		b.logOutput(stderr, slog.LevelWarn, "stderr")
	}()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	var runErr error

	select {
	case <-ctx.Done():
		<-exited // CommandContext kills the decoder
	case err := <-exited:
		cause := ErrBridgeExited
		if err != nil {
			cause = fmt.Errorf("%w: %w", ErrBridgeExited, err)
		}
		runErr = NewSourceError(KindBridge.String(), cause)
	}

	ln.Close()
	conns.closeAll()
	wg.Wait()

	b.logger.Info("decoder stopped")

	return runErr
}

// serve accepts decoder connections one at a time until the listener closes.
func (b *Bridge) serve(ln net.Listener, sink Sink, conns *connSet) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed
		}

		if !conns.add(conn) {
			conn.Close()
			return
		}

		b.logger.Info("decoder connected", slog.String("remote", conn.RemoteAddr().String()))

		if err := ReadStream(conn, sink, b.logger); err != nil {
			b.logger.Warn(err.Error())
		}

		conns.remove(conn)
		conn.Close()

		b.logger.Info("decoder disconnected")
	}
}

func (b *Bridge) logOutput(r io.Reader, level slog.Level, stream string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		b.logger.Log(context.Background(), level, fmt.Sprintf("decoder >> %s", line), slog.String("stream", stream))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) && !errors.Is(err, exec.ErrWaitDelay) {
		b.logger.Warn(fmt.Sprintf("error reading decoder %s: %s", stream, err.Error()))
	}
}

// connSet tracks the live decoder connection so that Run can close it.
type connSet struct {
	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
}

func (c *connSet) add(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if c.conns == nil {
		c.conns = make(map[net.Conn]struct{})
	}
	c.conns[conn] = struct{}{}

	return true
}

func (c *connSet) remove(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.conns, conn)
}

func (c *connSet) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for conn := range c.conns {
		conn.Close()
	}
	clear(c.conns)
}
