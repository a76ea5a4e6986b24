package cmd

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/warppkg/internal/repo"
	"github.com/warpdl/warppkg/pkg/distcli"
	"github.com/warpdl/warppkg/pkg/distlib"
	"github.com/warpdl/warppkg/pkg/logger"
)

func testDaemonConfig(t *testing.T) DaemonConfig {
	t.Helper()
	dir := t.TempDir()
	return DaemonConfig{
		DataDir:    dir,
		RepoDir:    "/repo",
		SocketPath: filepath.Join(dir, "d.sock"),
		Workers:    2,
		Fs:         afero.NewMemMapFs(),
	}
}

func publishTo(t *testing.T, cfg DaemonConfig, pkg string, version int) {
	t.Helper()
	p := repo.NewFSProvider(cfg.Fs, cfg.RepoDir, nil, nil)
	meta := &distlib.AppDistributionMeta{Package: pkg, Version: version, Size: 4}
	if err := p.Publish(meta, map[string]io.Reader{"": strings.NewReader("data")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestInitDaemonComponents(t *testing.T) {
	cfg := testDaemonConfig(t)
	cfg.WebPort = 19438
	cfg.Token = "secret"
	cfg.UpdateCron = "0 3 * * *"
	c, err := initDaemonComponents(logger.NewNopLogger(), cfg)
	if err != nil {
		t.Fatalf("initDaemonComponents: %v", err)
	}
	defer c.Close()
	if c.Web == nil {
		t.Fatal("web server expected when a port is set")
	}
	if c.cfg.MaxConns == 0 || c.cfg.TCPPort == 0 {
		t.Fatalf("defaults not applied: %+v", c.cfg)
	}
}

func TestInitDaemonComponents_BadCron(t *testing.T) {
	cfg := testDaemonConfig(t)
	cfg.UpdateCron = "not a cron"
	if _, err := initDaemonComponents(logger.NewNopLogger(), cfg); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestDaemonComponents_BackgroundUpdates(t *testing.T) {
	cfg := testDaemonConfig(t)
	publishTo(t, cfg, "app", 1)
	c, err := initDaemonComponents(logger.NewNopLogger(), cfg)
	if err != nil {
		t.Fatalf("initDaemonComponents: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	installed := distlib.NewInstalledSubpackageManager(c.Store, nil)
	if err := installed.MarkInstalled(ctx, "app", "", 1); err != nil {
		t.Fatalf("MarkInstalled: %v", err)
	}
	publishTo(t, cfg, "app", 2)

	c.onTrigger("unrelated")
	c.onTrigger(updateEventKey)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := c.Service.Status("app"); st != nil && st.IsFinished() {
			if st.ResultCode != distlib.ResultOK {
				t.Fatalf("background update failed: %s", st)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background update never finished")
}

func TestRunDaemon_ServesClients(t *testing.T) {
	cfg := testDaemonConfig(t)
	publishTo(t, cfg, "app", 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runDaemon(ctx, logger.NewNopLogger(), cfg) }()

	var b *distcli.RemoteBackend
	deadline := time.Now().Add(3 * time.Second)
	for {
		var err error
		b, err = distcli.Dial(context.Background(), "unix://"+cfg.SocketPath, "", nil)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("Dial: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	s := &session{backend: b}
	s.manager, _ = distcli.NewManager(distcli.Options{Backend: b})

	st, err := s.runAndFollow("app", func() error {
		return s.manager.ScheduleInstall(distlib.InstallRequest{Package: "app"})
	})
	if err != nil {
		t.Fatalf("runAndFollow: %v", err)
	}
	if st == nil || st.ResultCode != distlib.ResultOK {
		t.Fatalf("expected ok install, got %v", st)
	}
	if pid, err := ReadPidFile(cfg.DataDir); err != nil || pid <= 0 {
		t.Fatalf("pid file not written: %v", err)
	}

	cancel()
	select {
	case <-b.Shutdown():
	case <-time.After(3 * time.Second):
		t.Fatal("client missed the shutdown notice")
	}
	if err := <-done; err != nil {
		t.Fatalf("runDaemon: %v", err)
	}
	s.Close()
	if _, err := ReadPidFile(cfg.DataDir); err == nil {
		t.Fatal("pid file should be removed on exit")
	}
}
