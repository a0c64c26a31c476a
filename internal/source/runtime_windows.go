//go:build windows

package source

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindRuntime resolves the bridge interpreter, looking first on PATH and then
// in a bin directory next to the executable or the working directory.
func FindRuntime(runtime string) (string, error) {
	if binPath, err := exec.LookPath(runtime); err == nil {
		return binPath, nil
	}

	lookup := []string{}

	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}

	lookup = append(lookup, filepath.Dir(exePath))

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	lookup = append(lookup, wd)

	for _, dir := range lookup {
		binPath := filepath.Join(dir, "bin", fmt.Sprintf("%s.exe", runtime))
		if _, err = os.Stat(binPath); err != nil {
			continue // continue to next directory
		}

		return binPath, nil
	}

	return "", fmt.Errorf("failed to find runtime '%s'", runtime)
}
