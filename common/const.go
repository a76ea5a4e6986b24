package common

// RPC method names served by the daemon.
const (
	MethodSchedule       = "install.schedule"
	MethodCancel         = "install.cancel"
	MethodDelay          = "install.delay"
	MethodApply          = "install.apply"
	MethodPin            = "install.pin"
	MethodStatus         = "install.status"
	MethodAddListener    = "listener.add"
	MethodRemoveListener = "listener.remove"
	MethodGetVersion     = "system.getVersion"
)

// Server push method names.
const (
	// NotifyInstall carries a distlib.Notification for a registered listener.
	NotifyInstall = "install.notify"
	// NotifyShutdown tells connected clients that the daemon is stopping.
	NotifyShutdown = "system.shutdown"
)

// Defaults used when no flag or environment override is given.
const (
	DefaultSocketName  = "warppkg.sock"
	DefaultTCPPort     = 9437
	DefaultWebPort     = 9438
	DefaultMaxWorkers  = 3
	DefaultMaxConns    = 64
	DefaultDataDirName = ".warppkg"
)

// JSON-RPC error codes returned by the daemon.
const (
	CodeListenerUnknown = -32001
	CodeServiceClosed   = -32002
)
