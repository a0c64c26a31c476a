//go:build !windows

package source

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"testing"
	"time"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

func TestBridgeConfig_ExpandArgs(t *testing.T) {
	config := BridgeConfig{
		Command: "python3",
		Args:    []string{"decoder.py", "--port", "{port}", "--baud", "{baud}", "--host", "{host}", "--tcp_port", "{tcp_port}"},
		Port:    "/dev/ttyUSB0",
		Baud:    115200,
	}

	expected := []string{"decoder.py", "--port", "/dev/ttyUSB0", "--baud", "115200", "--host", "127.0.0.1", "--tcp_port", "9000"}
	if got := config.ExpandArgs("127.0.0.1", "9000"); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
}

func TestBridgeConfig_Validate(t *testing.T) {
	valid := BridgeConfig{Command: "python3", Listen: DefaultBridgeListen, Port: "COM3", Baud: 9600}

	testCases := []struct {
		name   string
		modify func(c *BridgeConfig)
		field  string
	}{
		{"missing command", func(c *BridgeConfig) { c.Command = "" }, "bridge.command"},
		{"missing port", func(c *BridgeConfig) { c.Port = "" }, "port"},
		{"zero baud", func(c *BridgeConfig) { c.Baud = 0 }, "baud"},
		{"bad listen", func(c *BridgeConfig) { c.Listen = "nowhere" }, "bridge.listen"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := valid
			tc.modify(&config)

			var cerr *ConfigError
			if err := config.Validate(); !errors.As(err, &cerr) || cerr.Field != tc.field {
				t.Errorf("Expected ConfigError for %s, got %v", tc.field, err)
			}
		})
	}
}

func TestBridge_ProcessExit(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	bridge, err := NewBridge(BridgeConfig{
		Command: "sh",
		Args:    []string{"-c", "echo decoding {port} at {baud}; exit 3"},
		Listen:  "127.0.0.1:0",
		Port:    "/dev/null",
		Baud:    9600,
	})
	if err != nil {
		t.Fatalf("Failed to create bridge: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = bridge.Run(ctx, &recordingSink{})

	var serr *SourceError
	if !errors.As(err, &serr) || !errors.Is(err, ErrBridgeExited) {
		t.Errorf("Expected bridge exit SourceError, got %v", err)
	}
}

func TestBridge_Stream(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}

	script := `exec 3<>/dev/tcp/{host}/{tcp_port}
printf '%s\n' '{"type":"status","status":"success","message":"connected"}' >&3
printf '%s\n' '{"type":"telemetry","payload":{"alt":42,"launch":1}}' >&3
sleep 0.2
exec 3>&-`

	bridge, err := NewBridge(BridgeConfig{
		Command: "bash",
		Args:    []string{"-c", script},
		Listen:  "127.0.0.1:0",
		Port:    "/dev/null",
		Baud:    9600,
	})
	if err != nil {
		t.Fatalf("Failed to create bridge: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink := &recordingSink{}
	if err := bridge.Run(ctx, sink); !errors.Is(err, ErrBridgeExited) {
		t.Errorf("Expected ErrBridgeExited, got %v", err)
	}

	statuses := sink.Statuses()
	if len(statuses) != 1 || statuses[0].Status != telemetry.StatusSuccess {
		t.Errorf("Expected decoder status, got %v", statuses)
	}

	samples := sink.Samples()
	if len(samples) != 1 || samples[0].Altitude != 42 || !samples[0].LaunchState {
		t.Errorf("Expected one sample at 42m, got %+v", samples)
	}
}

func TestBridge_Cancel(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	bridge, err := NewBridge(BridgeConfig{
		Command: "sleep",
		Args:    []string{"60"},
		Listen:  "127.0.0.1:0",
		Port:    "/dev/null",
		Baud:    9600,
	})
	if err != nil {
		t.Fatalf("Failed to create bridge: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := bridge.Run(ctx, &recordingSink{}); err != nil {
		t.Errorf("Expected nil error on cancellation, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Cancellation took %s", elapsed)
	}
}

func TestParsePorts(t *testing.T) {
	ports, err := ParsePorts([]byte(`[{"device":"/dev/ttyUSB0","description":"CP2102"},{"device":""},{"device":"/dev/ttyACM0"}]`))
	if err != nil {
		t.Fatalf("Failed to parse ports: %v", err)
	}

	expected := []PortInfo{
		{Device: "/dev/ttyUSB0", Description: "CP2102"},
		{Device: "/dev/ttyACM0", Description: "/dev/ttyACM0"},
	}
	if !reflect.DeepEqual(ports, expected) {
		t.Errorf("Expected %v, got %v", expected, ports)
	}

	if _, err := ParsePorts([]byte("not json")); err == nil {
		t.Error("Expected error for invalid output")
	}
}
