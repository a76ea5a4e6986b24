package common

import (
	"path/filepath"
	"testing"
)

func TestTCPPort(t *testing.T) {
	t.Setenv(TCPPortEnv, "")
	if got := TCPPort(); got != DefaultTCPPort {
		t.Fatalf("TCPPort() = %d; want %d", got, DefaultTCPPort)
	}
	t.Setenv(TCPPortEnv, "10001")
	if got := TCPPort(); got != 10001 {
		t.Fatalf("TCPPort() = %d; want 10001", got)
	}
	for _, bad := range []string{"abc", "0", "70000"} {
		t.Setenv(TCPPortEnv, bad)
		if got := TCPPort(); got != DefaultTCPPort {
			t.Fatalf("TCPPort() with %q = %d; want default", bad, got)
		}
	}
}

func TestSocketPath(t *testing.T) {
	t.Setenv(SocketPathEnv, "/run/custom.sock")
	if got := SocketPath(); got != "/run/custom.sock" {
		t.Fatalf("SocketPath() = %q", got)
	}
	t.Setenv(SocketPathEnv, "")
	if got := filepath.Base(SocketPath()); got != DefaultSocketName {
		t.Fatalf("SocketPath() base = %q; want %q", got, DefaultSocketName)
	}
}

func TestDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DataDirEnv, dir)
	if got := DataDir(); got != dir {
		t.Fatalf("DataDir() = %q; want %q", got, dir)
	}
}

func TestBoolEnv(t *testing.T) {
	t.Setenv(ForceTCPEnv, "true")
	t.Setenv(DebugEnv, "")
	if !ForceTCP() {
		t.Fatal("ForceTCP() = false; want true")
	}
	if Debug() {
		t.Fatal("Debug() = true; want false")
	}
}
