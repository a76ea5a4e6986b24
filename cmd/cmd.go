package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"
	cmdCommon "github.com/warpdl/warppkg/cmd/common"
	"github.com/warpdl/warppkg/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

var currentBuildArgs BuildArgs

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "daemon-uri",
		Usage:  "daemon address (unix:///path, tcp://host:port, ws://host:port)",
		EnvVar: common.DaemonURIEnv,
	},
	cli.StringFlag{
		Name:   "token",
		Usage:  "bearer token for websocket daemons",
		EnvVar: common.TokenEnv,
	},
	cli.BoolFlag{
		Name:   "debug",
		Usage:  "enable debug logging",
		EnvVar: common.DebugEnv,
	},
}

func Execute(args []string, bArgs BuildArgs) error {
	currentBuildArgs = bArgs
	app := cli.App{
		Name:                  "warppkg",
		HelpName:              "warppkg",
		Usage:                 "A prioritized package installer.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "warppkg <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          cmdCommon.UsageErrorCallback,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:               "daemon",
				Usage:              "runs the install scheduler",
				Description:        DaemonDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       cmdCommon.UsageErrorCallback,
				Action:             daemon,
				Flags:              daemonFlags,
			},
			{
				Name:               "stop",
				Usage:              "stops the running daemon",
				Description:        StopDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             stopDaemon,
			},
			{
				Name:                   "install",
				Aliases:                []string{"i"},
				Usage:                  "installs or updates a package",
				ArgsUsage:              "<package>",
				Description:            InstallDescription,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				OnUsageError:           cmdCommon.UsageErrorCallback,
				Action:                 install,
				Flags:                  installFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:               "cancel",
				Usage:              "cancels a pending install",
				ArgsUsage:          "<package>",
				Description:        CancelDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       cmdCommon.UsageErrorCallback,
				Action:             cancelInstall,
			},
			{
				Name:               "delay",
				Usage:              "keeps a downloaded update in the cache",
				ArgsUsage:          "<package>",
				Description:        DelayDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       cmdCommon.UsageErrorCallback,
				Action:             delayUpdate,
			},
			{
				Name:               "apply",
				Usage:              "applies a delayed update",
				ArgsUsage:          "<package>",
				Description:        ApplyDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       cmdCommon.UsageErrorCallback,
				Action:             applyUpdate,
				Flags:              waitFlags,
			},
			{
				Name:               "pin",
				Usage:              "sets the minimum version of a package",
				ArgsUsage:          "<package> <version>",
				Description:        PinDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       cmdCommon.UsageErrorCallback,
				Action:             pinVersion,
			},
			{
				Name:               "status",
				Aliases:            []string{"s"},
				Usage:              "prints the install status of a package",
				ArgsUsage:          "<package>",
				Description:        StatusDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       cmdCommon.UsageErrorCallback,
				Action:             status,
			},
			{
				Name:               "watch",
				Aliases:            []string{"w"},
				Usage:              "shows install progress of a package",
				ArgsUsage:          "<package>",
				Description:        WatchDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       cmdCommon.UsageErrorCallback,
				Action:             watch,
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  cmdCommon.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints the client and daemon versions",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             version,
			},
		},
		HideHelp:    true,
		HideVersion: true,
	}
	cmdCommon.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
