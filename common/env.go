// Package common provides the wire records and constants shared by the
// warppkg daemon and its clients.
package common

import (
	"os"
	"path/filepath"
	"strconv"
)

// Environment variable names for configuration.
const (
	// SocketPathEnv is the environment variable for custom socket path.
	SocketPathEnv = "WARPPKG_SOCKET_PATH"

	// TCPPortEnv is the environment variable for custom TCP port.
	TCPPortEnv = "WARPPKG_TCP_PORT"

	// ForceTCPEnv is the environment variable to force TCP connections.
	ForceTCPEnv = "WARPPKG_FORCE_TCP"

	// DebugEnv is the environment variable to enable debug logging.
	DebugEnv = "WARPPKG_DEBUG"

	// DataDirEnv overrides the directory holding the database and archives.
	DataDirEnv = "WARPPKG_DATA_DIR"

	// RepoEnv points at the package repository the provider reads from.
	RepoEnv = "WARPPKG_REPO"

	// TokenEnv is the bearer token required by the websocket endpoint.
	TokenEnv = "WARPPKG_TOKEN"

	// DaemonURIEnv selects the daemon clients connect to.
	DaemonURIEnv = "WARPPKG_DAEMON_URI"
)

// DataDir returns the daemon data directory.
func DataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDirName
	}
	return filepath.Join(home, DefaultDataDirName)
}

// SocketPath returns the unix socket path of the daemon.
func SocketPath() string {
	if p := os.Getenv(SocketPathEnv); p != "" {
		return p
	}
	return filepath.Join(os.TempDir(), DefaultSocketName)
}

// TCPPort returns the fallback TCP port, honouring TCPPortEnv when valid.
func TCPPort() int {
	if v := os.Getenv(TCPPortEnv); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			return port
		}
	}
	return DefaultTCPPort
}

// ForceTCP reports whether clients and daemon should skip the unix socket.
func ForceTCP() bool {
	v, _ := strconv.ParseBool(os.Getenv(ForceTCPEnv))
	return v
}

// Debug reports whether debug logging is enabled.
func Debug() bool {
	v, _ := strconv.ParseBool(os.Getenv(DebugEnv))
	return v
}
