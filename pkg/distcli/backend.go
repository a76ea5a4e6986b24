// Package distcli is the client side of the distribution scheduler. A
// Manager hands out listener identities, forwards install requests to a
// Backend and routes notifications back to the callbacks that asked for
// them. The Backend is either the scheduler itself, running in-process, or
// a daemon reached over JSON-RPC.
package distcli

import (
	"context"

	"github.com/warpdl/warppkg/common"
	"github.com/warpdl/warppkg/pkg/distlib"
)

// Backend is the orchestrator a Manager talks to.
type Backend interface {
	Schedule(ctx context.Context, req distlib.InstallRequest) error
	Cancel(ctx context.Context, pkg string) error
	Delay(ctx context.Context, pkg string) error
	Apply(ctx context.Context, pkg string) error
	Pin(ctx context.Context, pkg string, version int) error
	Status(ctx context.Context, pkg string) (*common.StatusResponse, error)
	AddListener(ctx context.Context, spec distlib.ListenerSpec, obs distlib.Observer) error
	RemoveListener(ctx context.Context, id string) error
	Close() error
}

// LocalBackend runs requests against an in-process service.
type LocalBackend struct {
	svc *distlib.Service
}

var _ Backend = (*LocalBackend)(nil)

func NewLocalBackend(svc *distlib.Service) *LocalBackend {
	return &LocalBackend{svc: svc}
}

func (b *LocalBackend) Schedule(_ context.Context, req distlib.InstallRequest) error {
	return b.svc.ScheduleInstall(req)
}

func (b *LocalBackend) Cancel(_ context.Context, pkg string) error {
	return b.svc.CancelInstall(pkg)
}

func (b *LocalBackend) Delay(_ context.Context, pkg string) error {
	return b.svc.DelayApplyUpdate(pkg)
}

func (b *LocalBackend) Apply(_ context.Context, pkg string) error {
	return b.svc.ApplyUpdate(pkg)
}

func (b *LocalBackend) Pin(_ context.Context, pkg string, version int) error {
	return b.svc.SetMinimumVersion(pkg, version)
}

func (b *LocalBackend) Status(_ context.Context, pkg string) (*common.StatusResponse, error) {
	if pkg == "" {
		return nil, distlib.ErrEmptyPackage
	}
	return &common.StatusResponse{
		Package:    pkg,
		Installing: b.svc.IsInstalling(pkg),
		Status:     b.svc.Status(pkg),
	}, nil
}

func (b *LocalBackend) AddListener(_ context.Context, spec distlib.ListenerSpec, obs distlib.Observer) error {
	return b.svc.AddListener(spec, obs)
}

func (b *LocalBackend) RemoveListener(_ context.Context, id string) error {
	return b.svc.RemoveListener(id)
}

// Close leaves the service running; its owner closes it.
func (b *LocalBackend) Close() error { return nil }
