package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// DefaultListTimeout bounds a port listing run.
const DefaultListTimeout = 5 * time.Second

// PortInfo is a serial device reported by the port lister.
type PortInfo struct {
	Device      string `json:"device"`
	Description string `json:"description"`
}

// ListPorts runs the port lister and parses the JSON array it prints to
// stdout.
func ListPorts(ctx context.Context, command string, args ...string) ([]PortInfo, error) {
	binPath, err := FindRuntime(command)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultListTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, binPath, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("port lister failed: %w", err)
	}

	return ParsePorts(out)
}

// ParsePorts decodes the port lister output. Entries without a device are
// skipped.
func ParsePorts(data []byte) ([]PortInfo, error) {
	var raw []PortInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid port list: %w", err)
	}

	ports := raw[:0]
	for _, p := range raw {
		if p.Device == "" {
			continue
		}
		if p.Description == "" {
			p.Description = p.Device
		}
		ports = append(ports, p)
	}

	return ports, nil
}
