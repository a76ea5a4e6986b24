package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const pidFileName = "daemon.pid"

func getPidFilePath(dataDir string) string {
	return filepath.Join(dataDir, pidFileName)
}

// WritePidFile records the current process id in dataDir.
func WritePidFile(dataDir string) error {
	return os.WriteFile(getPidFilePath(dataDir), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPidFile returns the pid recorded in dataDir.
func ReadPidFile(dataDir string) (int, error) {
	data, err := os.ReadFile(getPidFilePath(dataDir))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID: %d", pid)
	}
	return pid, nil
}

// RemovePidFile removes the pid file; a missing file is not an error.
func RemovePidFile(dataDir string) error {
	err := os.Remove(getPidFilePath(dataDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
