//go:build !windows

package source

import (
	"fmt"
	"os/exec"
)

// FindRuntime resolves the bridge interpreter or executable on PATH.
func FindRuntime(runtime string) (string, error) {
	binPath, err := exec.LookPath(runtime)
	if err != nil {
		return "", fmt.Errorf("failed to find runtime '%s': %w", runtime, err)
	}

	return binPath, nil
}
