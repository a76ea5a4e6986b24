//go:build windows

package cmd

import (
	"context"
	"os"
	"os/signal"
)

func setupShutdownHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// isProcessRunning reports whether pid can be opened.
func isProcessRunning(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}

// killDaemon terminates pid. Windows has no SIGTERM, so the daemon gets no
// chance to announce its shutdown.
func killDaemon(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
