package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
	cmdCommon "github.com/warpdl/warppkg/cmd/common"
	"github.com/warpdl/warppkg/common"
	"github.com/warpdl/warppkg/internal/scheduler"
	"github.com/warpdl/warppkg/pkg/logger"
)

var daemonFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "repo",
		Usage:  "package repository directory",
		EnvVar: common.RepoEnv,
	},
	cli.StringFlag{
		Name:   "data-dir",
		Usage:  "directory for the install database, archives and installed apps",
		EnvVar: common.DataDirEnv,
	},
	cli.IntFlag{
		Name:  "workers, w",
		Usage: "number of install tasks run at once",
		Value: common.DefaultMaxWorkers,
	},
	cli.IntFlag{
		Name:  "max-conns",
		Usage: "maximum concurrent client connections",
		Value: common.DefaultMaxConns,
	},
	cli.IntFlag{
		Name:  "web-port",
		Usage: "serve websocket JSON-RPC and metrics on this port (0 disables)",
	},
	cli.StringFlag{
		Name:  "update-cron",
		Usage: "cron expression for background update checks, e.g. \"0 */6 * * *\"",
	},
}

var timeNow = time.Now

func errInvalidCron(expr string) error {
	return fmt.Errorf("cron expression %q never fires", expr)
}

func daemon(ctx *cli.Context) error {
	debug := ctx.GlobalBool("debug") || common.Debug()
	log := logger.NewConsoleLogger(os.Stderr, debug)

	cfg := DaemonConfig{
		DataDir:    ctx.String("data-dir"),
		RepoDir:    ctx.String("repo"),
		Workers:    ctx.Int("workers"),
		MaxConns:   ctx.Int("max-conns"),
		ForceTCP:   common.ForceTCP(),
		WebPort:    ctx.Int("web-port"),
		Token:      ctx.GlobalString("token"),
		UpdateCron: ctx.String("update-cron"),
	}
	if cfg.UpdateCron != "" && !scheduler.ValidCron(cfg.UpdateCron, timeNow()) {
		return cmdCommon.PrintErrWithCmdHelp(ctx, errInvalidCron(cfg.UpdateCron))
	}
	if cfg.WebPort > 0 && cfg.Token == "" {
		log.Warning("no --token given, websocket endpoint is disabled")
	}

	sctx, cancel := setupShutdownHandler()
	defer cancel()
	if err := runDaemon(sctx, log, cfg); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "daemon", "run", err)
		return nil
	}
	return nil
}
