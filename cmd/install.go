package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli"
	cmdCommon "github.com/warpdl/warppkg/cmd/common"
	"github.com/warpdl/warppkg/pkg/distlib"
)

var waitFlags = []cli.Flag{
	cli.BoolFlag{
		Name:  "wait",
		Usage: "follow progress until the install finishes",
	},
}

var installFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "subpackage, s",
		Usage: "install this sub-package first",
	},
	cli.StringFlag{
		Name:  "path, p",
		Usage: "install the sub-package owning this path first",
	},
	cli.IntFlag{
		Name:  "version",
		Usage: "version to install (default latest)",
	},
	cli.BoolFlag{
		Name:  "background, b",
		Usage: "run every task at background priority",
	},
	cli.BoolFlag{
		Name:  "detach, d",
		Usage: "return once the install is scheduled",
	},
}

func install(ctx *cli.Context) error {
	pkg, err := cmdCommon.RequirePackage(ctx)
	if err != nil {
		return cmdCommon.PrintErrWithCmdHelp(ctx, err)
	}
	req := distlib.InstallRequest{
		Package:    pkg,
		Version:    ctx.Int("version"),
		Subpackage: ctx.String("subpackage"),
		Path:       ctx.String("path"),
		Background: ctx.Bool("background"),
	}
	s, err := connect(ctx)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "install", "connect", err)
		return nil
	}
	defer s.Close()

	if ctx.Bool("detach") {
		return sendAndWait(ctx, s, "schedule", func() error { return s.manager.ScheduleInstall(req) })
	}
	st, err := s.runAndFollow(pkg, func() error { return s.manager.ScheduleInstall(req) })
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "install", "schedule", err)
		return nil
	}
	return printResult(pkg, st)
}

// sendAndWait runs a fire-and-forget request and waits for the daemon to
// accept it. Failures are logged by the manager.
func sendAndWait(ctx *cli.Context, s *session, action string, send func() error) error {
	if err := send(); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, ctx.Command.Name, action, err)
		return nil
	}
	s.manager.Wait()
	return nil
}

func cancelInstall(ctx *cli.Context) error {
	return packageAction(ctx, func(s *session, pkg string) error {
		return s.manager.CancelInstall(pkg)
	})
}

func delayUpdate(ctx *cli.Context) error {
	return packageAction(ctx, func(s *session, pkg string) error {
		return s.manager.DelayApplyUpdate(pkg)
	})
}

func applyUpdate(ctx *cli.Context) error {
	pkg, err := cmdCommon.RequirePackage(ctx)
	if err != nil {
		return cmdCommon.PrintErrWithCmdHelp(ctx, err)
	}
	if !ctx.Bool("wait") {
		return packageAction(ctx, func(s *session, pkg string) error {
			return s.manager.ApplyUpdate(pkg)
		})
	}
	s, err := connect(ctx)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "apply", "connect", err)
		return nil
	}
	defer s.Close()
	st, err := s.runAndFollow(pkg, func() error { return s.manager.ApplyUpdate(pkg) })
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "apply", "apply", err)
		return nil
	}
	return printResult(pkg, st)
}

func pinVersion(ctx *cli.Context) error {
	if _, err := cmdCommon.RequirePackage(ctx); err != nil {
		return cmdCommon.PrintErrWithCmdHelp(ctx, err)
	}
	version, err := strconv.Atoi(ctx.Args().Get(1))
	if err != nil || version <= 0 {
		return cmdCommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("pin: invalid version %q", ctx.Args().Get(1)))
	}
	return packageAction(ctx, func(s *session, pkg string) error {
		return s.manager.SetMinimumVersion(pkg, version)
	})
}

// packageAction connects, sends one request about the first argument and
// waits for the daemon to take it.
func packageAction(ctx *cli.Context, send func(s *session, pkg string) error) error {
	pkg, err := cmdCommon.RequirePackage(ctx)
	if err != nil {
		return cmdCommon.PrintErrWithCmdHelp(ctx, err)
	}
	s, err := connect(ctx)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, ctx.Command.Name, "connect", err)
		return nil
	}
	defer s.Close()
	return sendAndWait(ctx, s, ctx.Command.Name, func() error { return send(s, pkg) })
}

func status(ctx *cli.Context) error {
	pkg, err := cmdCommon.RequirePackage(ctx)
	if err != nil {
		return cmdCommon.PrintErrWithCmdHelp(ctx, err)
	}
	s, err := connect(ctx)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "status", "connect", err)
		return nil
	}
	defer s.Close()
	cctx, cancel := context.WithTimeout(context.Background(), DEF_CALL_TIMEOUT)
	defer cancel()
	resp, err := s.manager.Status(cctx, pkg)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "status", "query", err)
		return nil
	}
	fmt.Println(cmdCommon.FormatStatus(resp.Package, resp.Installing, resp.Status))
	return nil
}

func watch(ctx *cli.Context) error {
	pkg, err := cmdCommon.RequirePackage(ctx)
	if err != nil {
		return cmdCommon.PrintErrWithCmdHelp(ctx, err)
	}
	s, err := connect(ctx)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "watch", "connect", err)
		return nil
	}
	defer s.Close()

	cctx, cancel := context.WithTimeout(context.Background(), DEF_CALL_TIMEOUT)
	resp, err := s.manager.Status(cctx, pkg)
	cancel()
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "watch", "query", err)
		return nil
	}
	if !resp.Installing {
		fmt.Println(cmdCommon.FormatStatus(pkg, false, resp.Status))
		return nil
	}
	st, err := s.runAndFollow(pkg, func() error { return nil })
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "watch", "follow", err)
		return nil
	}
	return printResult(pkg, st)
}

func version(ctx *cli.Context) error {
	cmdCommon.GetVersion(ctx)
	s, err := connect(ctx)
	if err != nil {
		fmt.Println("daemon: not running")
		return nil
	}
	defer s.Close()
	cctx, cancel := context.WithTimeout(context.Background(), DEF_CALL_TIMEOUT)
	defer cancel()
	v, err := s.backend.Version(cctx)
	if err != nil {
		fmt.Printf("daemon: %v\n", err)
		return nil
	}
	fmt.Printf("daemon: %s-%s (%s)\n", v.Version, v.BuildType, v.Commit)
	return nil
}
