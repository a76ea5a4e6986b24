package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/warpdl/warppkg/common"
	"github.com/warpdl/warppkg/internal/api"
	"github.com/warpdl/warppkg/internal/metrics"
	"github.com/warpdl/warppkg/internal/repo"
	"github.com/warpdl/warppkg/internal/scheduler"
	"github.com/warpdl/warppkg/internal/server"
	"github.com/warpdl/warppkg/internal/store"
	"github.com/warpdl/warppkg/pkg/distlib"
	"github.com/warpdl/warppkg/pkg/logger"
)

const updateEventKey = "background-updates"

// DaemonConfig is everything the daemon needs to start.
type DaemonConfig struct {
	DataDir    string
	RepoDir    string
	Workers    int
	MaxConns   int
	SocketPath string
	TCPPort    int
	ForceTCP   bool
	WebPort    int
	Token      string
	UpdateCron string
	// Fs backs the repository, the install root and the archive cache.
	Fs afero.Fs
}

func (c *DaemonConfig) setDefaults() {
	if c.DataDir == "" {
		c.DataDir = common.DataDir()
	}
	if c.RepoDir == "" {
		c.RepoDir = filepath.Join(c.DataDir, "repo")
	}
	if c.Workers <= 0 {
		c.Workers = common.DefaultMaxWorkers
	}
	if c.MaxConns <= 0 {
		c.MaxConns = common.DefaultMaxConns
	}
	if c.SocketPath == "" {
		c.SocketPath = common.SocketPath()
	}
	if c.TCPPort <= 0 {
		c.TCPPort = common.TCPPort()
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
}

// DaemonComponents holds the initialized daemon so it can be torn down in
// reverse order.
type DaemonComponents struct {
	Store      *store.SQLiteStore
	Dispatcher *distlib.PriorityDispatcher
	Service    *distlib.Service
	Metrics    *metrics.PrometheusRecorder
	Api        *api.Api
	Server     *server.Server
	Web        *server.WebServer
	Scheduler  *scheduler.Scheduler

	cfg    DaemonConfig
	log    logger.Logger
	cancel context.CancelFunc
}

// Close stops the scheduler, the install service and the store.
func (c *DaemonComponents) Close() {
	c.log.Info("shutting down daemon")
	if c.cancel != nil {
		c.cancel()
		<-c.Scheduler.Done()
	}
	if c.Service != nil {
		c.Service.Close()
	} else if c.Dispatcher != nil {
		c.Dispatcher.Close()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.log.Warning("close store: %v", err)
		}
	}
	c.log.Info("daemon stopped")
}

// onTrigger runs scheduled daemon events.
func (c *DaemonComponents) onTrigger(key string) {
	if key != updateEventKey {
		return
	}
	c.log.Info("scheduling background updates")
	if err := c.Service.ScheduleBackgroundUpdates(context.Background()); err != nil {
		c.log.Error("background updates: %v", err)
	}
}

// initDaemonComponents builds the daemon. On error every component created
// so far is closed.
var initDaemonComponents = func(log logger.Logger, cfg DaemonConfig) (*DaemonComponents, error) {
	cfg.setDefaults()
	// the database always lives on the real filesystem
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, "installed.db"))
	if err != nil {
		log.Error("store initialization failed: %v", err)
		return nil, err
	}
	c := &DaemonComponents{Store: db, cfg: cfg, log: log}

	reg := prometheus.NewRegistry()
	c.Metrics = metrics.NewPrometheusRecorder(reg)
	c.Metrics.RegisterProcessCollectors()
	c.Dispatcher = distlib.NewPriorityDispatcher(log, cfg.Workers)
	c.Metrics.RegisterQueue(c.Dispatcher)

	installed := distlib.NewInstalledSubpackageManager(db, log)
	c.Service, err = distlib.NewService(distlib.Options{
		Provider:   repo.NewFSProvider(cfg.Fs, cfg.RepoDir, installed, log),
		Sink:       repo.NewFSSink(cfg.Fs, filepath.Join(cfg.DataDir, "apps"), log),
		Installed:  installed,
		Archives:   distlib.NewLocalArchiveManager(cfg.Fs, filepath.Join(cfg.DataDir, "archives")),
		Dispatcher: c.Dispatcher,
		Logger:     log,
		Recorder:   c.Metrics,
	})
	if err != nil {
		log.Error("service initialization failed: %v", err)
		c.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.Scheduler = scheduler.New(ctx, c.onTrigger)
	if cfg.UpdateCron != "" {
		if err := c.Scheduler.AddCron(updateEventKey, cfg.UpdateCron); err != nil {
			c.Close()
			return nil, fmt.Errorf("invalid --update-cron: %w", err)
		}
	}

	c.Api = api.NewApi(log, c.Service, common.VersionResponse{
		Version:   currentBuildArgs.Version,
		Commit:    currentBuildArgs.Commit,
		BuildType: currentBuildArgs.BuildType,
	})
	if cfg.WebPort > 0 {
		c.Web = server.NewWebServer(log, c.Api, c.Metrics.Handler(), cfg.Token, cfg.WebPort)
	}
	c.Server = server.NewServer(log, c.Api, server.Config{
		SocketPath: cfg.SocketPath,
		TCPPort:    cfg.TCPPort,
		ForceTCP:   cfg.ForceTCP,
		MaxConns:   cfg.MaxConns,
	}, c.Web)
	return c, nil
}

// runDaemon serves until ctx is cancelled.
func runDaemon(ctx context.Context, log logger.Logger, cfg DaemonConfig) error {
	c, err := initDaemonComponents(log, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := WritePidFile(c.cfg.DataDir); err != nil {
		log.Warning("write pid file: %v", err)
	}
	defer RemovePidFile(c.cfg.DataDir)

	log.Info("daemon started (pid %d), repository %s", os.Getpid(), c.cfg.RepoDir)
	return c.Server.Start(ctx)
}
