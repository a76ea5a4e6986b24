package cmd

import "time"

const (
	DEF_CALL_TIMEOUT = time.Second * 10
	DEF_DIAL_TIMEOUT = time.Second * 5
)

const DESCRIPTION = `
warppkg installs and updates application packages from a repository.
A background daemon schedules every install as a graph of sub-package
tasks, runs them in priority order and reports progress to any number
of connected clients.
`

const (
	DaemonDescription = `The daemon command starts the install scheduler and serves it
over a local socket and, optionally, a websocket endpoint.

Example:
        warppkg daemon --repo /srv/packages
        warppkg daemon --repo /srv/packages --web-port 9438 --token secret

`
	InstallDescription = `The install command schedules an install or update of a package.
Use --subpackage or --path to ask for one part of the package
first; the remaining sub-packages install in the background.

Example:
        warppkg install com.example.app
        warppkg install --path /docs/index.html com.example.app

`
	CancelDescription = `The cancel command stops every pending task of a package.

Example:
        warppkg cancel com.example.app

`
	DelayDescription = `The delay command keeps a downloaded update in the cache instead
of applying it, so the running version stays untouched.

Example:
        warppkg delay com.example.app

`
	ApplyDescription = `The apply command installs a previously delayed update from the
local cache.

Example:
        warppkg apply com.example.app

`
	PinDescription = `The pin command sets the minimum version a package must be
installed at. Older installs are updated in the background.

Example:
        warppkg pin com.example.app 12

`
	StatusDescription = `The status command prints the latest install status of a package.

Example:
        warppkg status com.example.app

`
	WatchDescription = `The watch command follows a package and renders progress bars for
each sub-package until the install finishes.

Example:
        warppkg watch com.example.app

`
	StopDescription = `The stop command signals a running daemon to shut down.

Example:
        warppkg stop

`
)
