package common

import "github.com/warpdl/warppkg/pkg/distlib"

// ScheduleParams is the payload of install.schedule.
type ScheduleParams = distlib.InstallRequest

// PackageParams addresses a single package.
type PackageParams struct {
	Package string `json:"package"`
}

type PinParams struct {
	Package string `json:"package"`
	Version int    `json:"version"`
}

// StatusResponse is the reply of install.status.
type StatusResponse struct {
	Package    string                 `json:"package"`
	Installing bool                   `json:"installing"`
	Status     *distlib.InstallStatus `json:"status,omitempty"`
}

// AddListenerParams is the payload of listener.add. The id is chosen by the
// client so notifications can be routed before the call returns.
type AddListenerParams = distlib.ListenerSpec

type RemoveListenerParams struct {
	ID string `json:"id"`
}

// VersionResponse is the reply of system.getVersion.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"build_type,omitempty"`
}

// ShutdownNotice is pushed to every connection before the daemon exits.
type ShutdownNotice struct {
	Reason string `json:"reason,omitempty"`
}
