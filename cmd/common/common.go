// Package common holds the helpers shared by warppkg commands: progress
// bars, status formatting and usage error reporting.
package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"github.com/warpdl/warppkg/pkg/distlib"
)

// VersionCmdStr is printed by the version command. Execute fills it in.
var VersionCmdStr string

var (
	showAppHelpAndExit = cli.ShowAppHelpAndExit
	showCommandHelp    = cli.ShowCommandHelp
)

// WholePackage labels the archive of a package without sub-packages.
const WholePackage = "package"

// InitInstallBar adds a bar for one sub-package. total may be zero until the
// first progress notification arrives.
func InitInstallBar(p *mpb.Progress, subpackage string, total int64) *mpb.Bar {
	barStyle := mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")
	name := subpackage
	if name == "" {
		name = WholePackage
	}
	bar := p.New(total,
		barStyle,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.OnComplete(
				decor.EwmaETA(decor.ET_STYLE_GO, 30, decor.WC{W: 4}), "Installed",
			),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f"),
		),
	)
	return bar
}

// FormatStatus renders st on one line for the status command.
func FormatStatus(pkg string, installing bool, st *distlib.InstallStatus) string {
	if st == nil {
		if installing {
			return fmt.Sprintf("%s: installing", pkg)
		}
		return fmt.Sprintf("%s: no recent install", pkg)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", pkg, strings.ToLower(st.StatusCode.String()))
	if st.IsFinished() {
		fmt.Fprintf(&b, " (%s)", strings.ToLower(st.ResultCode.String()))
	}
	if st.ErrorCode != distlib.ErrorNone {
		fmt.Fprintf(&b, " error=%s", st.ErrorCode)
	}
	if st.Cause != "" {
		fmt.Fprintf(&b, ": %s", st.Cause)
	}
	if !st.Timestamp.IsZero() {
		fmt.Fprintf(&b, ", %s", humanize.Time(st.Timestamp))
	}
	return b.String()
}

// FormatBytes renders a byte count the way progress output does.
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// Help prints the application help, or the help of the command named by
// the first argument.
func Help(ctx *cli.Context) error {
	arg := ctx.Args().First()
	if arg == "" || arg == "help" {
		fmt.Printf("%s %s\n", ctx.App.Name, ctx.App.Version)
		showAppHelpAndExit(ctx, 0)
		return nil
	}
	if err := showCommandHelp(ctx, arg); err != nil {
		return err
	}
	return nil
}

func GetVersion(ctx *cli.Context) error {
	fmt.Println(VersionCmdStr)
	return nil
}

// PrintRuntimeErr prints err tagged with the command and the step that
// failed. ctx may be nil.
func PrintRuntimeErr(ctx *cli.Context, cmd, action string, err error) {
	if err == nil {
		return
	}
	name := os.Args[0]
	if ctx != nil {
		name = ctx.App.HelpName
	}
	fmt.Fprintf(os.Stderr, "%s: %s[%s]: %s\n", name, cmd, action, err.Error())
}

// PrintErrWithCmdHelp prints err followed by the current command's help.
func PrintErrWithCmdHelp(ctx *cli.Context, err error) error {
	return printErrWithCallback(ctx, err, func() {
		if err := showCommandHelp(ctx, ctx.Command.Name); err != nil {
			fmt.Println(err.Error())
		}
	})
}

// PrintErrWithHelp prints err followed by the application help and exits.
func PrintErrWithHelp(ctx *cli.Context, err error) error {
	return printErrWithCallback(ctx, err, func() {
		showAppHelpAndExit(ctx, 1)
	})
}

func printErrWithCallback(ctx *cli.Context, err error, callback func()) error {
	if err == nil {
		return nil
	}
	estr := strings.ToLower(err.Error())
	if estr == "flag: help requested" {
		return Help(ctx)
	}
	if strings.Contains(estr, "-version") {
		return GetVersion(ctx)
	}
	fmt.Printf("%s: %s\n\n", ctx.App.HelpName, err.Error())
	callback()
	return nil
}

// UsageErrorCallback is the OnUsageError hook of the app and its commands.
func UsageErrorCallback(ctx *cli.Context, err error, _ bool) error {
	if ctx.Command.Name != "" {
		return PrintErrWithCmdHelp(ctx, err)
	}
	return PrintErrWithHelp(ctx, err)
}

// RequirePackage returns the first argument or an error naming the command.
func RequirePackage(ctx *cli.Context) (string, error) {
	pkg := strings.TrimSpace(ctx.Args().First())
	if pkg == "" {
		return "", fmt.Errorf("%s: package name is required", ctx.Command.Name)
	}
	return pkg, nil
}
