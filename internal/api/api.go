// Package api exposes a distlib.Service as JSON-RPC 2.0 methods. Listener
// notifications are pushed back on the connection that registered them.
package api

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/warpdl/warppkg/common"
	"github.com/warpdl/warppkg/pkg/distlib"
	"github.com/warpdl/warppkg/pkg/logger"
)

// Custom JSON-RPC error codes.
const (
	codeListenerUnknown = jrpc2.Code(common.CodeListenerUnknown)
	codeServiceClosed   = jrpc2.Code(common.CodeServiceClosed)
	codeInvalidParams   = jrpc2.Code(-32602)
)

// Api serves the install and listener methods.
type Api struct {
	log     logger.Logger
	svc     *distlib.Service
	version common.VersionResponse

	mu sync.Mutex
	// listener ids owned by each connection, removed on disconnect
	owners map[*jrpc2.Server]map[string]struct{}
}

func NewApi(l logger.Logger, svc *distlib.Service, version common.VersionResponse) *Api {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Api{
		log:     l,
		svc:     svc,
		version: version,
		owners:  make(map[*jrpc2.Server]map[string]struct{}),
	}
}

// Methods returns the handler map to serve on every connection.
func (a *Api) Methods() handler.Map {
	return handler.Map{
		common.MethodSchedule:       handler.New(a.schedule),
		common.MethodCancel:         handler.New(a.cancel),
		common.MethodDelay:          handler.New(a.delay),
		common.MethodApply:          handler.New(a.apply),
		common.MethodPin:            handler.New(a.pin),
		common.MethodStatus:         handler.New(a.status),
		common.MethodAddListener:    handler.New(a.addListener),
		common.MethodRemoveListener: handler.New(a.removeListener),
		common.MethodGetVersion:     handler.New(a.getVersion),
	}
}

// rpcError maps service errors to JSON-RPC errors.
func rpcError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, distlib.ErrEmptyPackage):
		return &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, distlib.ErrListenerUnknown):
		return &jrpc2.Error{Code: codeListenerUnknown, Message: err.Error()}
	case errors.Is(err, distlib.ErrServiceClosed):
		return &jrpc2.Error{Code: codeServiceClosed, Message: err.Error()}
	}
	return err
}

func (a *Api) schedule(_ context.Context, p *common.ScheduleParams) error {
	return rpcError(a.svc.ScheduleInstall(*p))
}

func (a *Api) cancel(_ context.Context, p *common.PackageParams) error {
	return rpcError(a.svc.CancelInstall(p.Package))
}

func (a *Api) delay(_ context.Context, p *common.PackageParams) error {
	return rpcError(a.svc.DelayApplyUpdate(p.Package))
}

func (a *Api) apply(_ context.Context, p *common.PackageParams) error {
	return rpcError(a.svc.ApplyUpdate(p.Package))
}

func (a *Api) pin(_ context.Context, p *common.PinParams) error {
	return rpcError(a.svc.SetMinimumVersion(p.Package, p.Version))
}

func (a *Api) status(_ context.Context, p *common.PackageParams) (*common.StatusResponse, error) {
	if p.Package == "" {
		return nil, rpcError(distlib.ErrEmptyPackage)
	}
	return &common.StatusResponse{
		Package:    p.Package,
		Installing: a.svc.IsInstalling(p.Package),
		Status:     a.svc.Status(p.Package),
	}, nil
}

func (a *Api) getVersion(context.Context) (*common.VersionResponse, error) {
	v := a.version
	return &v, nil
}

// addListener registers a listener whose notifications are pushed as
// install.notify on the calling connection.
func (a *Api) addListener(ctx context.Context, p *common.AddListenerParams) error {
	srv := jrpc2.ServerFromContext(ctx)
	if srv == nil {
		return errors.New("listener.add requires a connection")
	}
	obs := distlib.ObserverFunc(func(n *distlib.Notification) error {
		return srv.Notify(context.Background(), common.NotifyInstall, n)
	})
	if err := a.svc.AddListener(*p, obs); err != nil {
		if errors.Is(err, distlib.ErrServiceClosed) {
			return rpcError(err)
		}
		return &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	}

	a.mu.Lock()
	ids, ok := a.owners[srv]
	if !ok {
		ids = make(map[string]struct{})
		a.owners[srv] = ids
	}
	ids[p.ID] = struct{}{}
	a.mu.Unlock()
	a.log.Debug("listener %s (%s) added for %q", p.ID, p.Kind, p.Package)
	return nil
}

func (a *Api) removeListener(ctx context.Context, p *common.RemoveListenerParams) error {
	if srv := jrpc2.ServerFromContext(ctx); srv != nil {
		a.mu.Lock()
		delete(a.owners[srv], p.ID)
		a.mu.Unlock()
	}
	return rpcError(a.svc.RemoveListener(p.ID))
}

// Disconnected drops every listener registered over srv.
func (a *Api) Disconnected(srv *jrpc2.Server) {
	a.mu.Lock()
	ids := a.owners[srv]
	delete(a.owners, srv)
	a.mu.Unlock()
	for id := range ids {
		if err := a.svc.RemoveListener(id); err != nil && !errors.Is(err, distlib.ErrListenerUnknown) {
			a.log.Warning("remove listener %s: %v", id, err)
		}
	}
	if len(ids) > 0 {
		a.log.Debug("connection closed, %d listeners removed", len(ids))
	}
}

// Connections returns the number of connections owning listeners.
func (a *Api) Connections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.owners)
}
