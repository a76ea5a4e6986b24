package distcli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/warpdl/warppkg/common"
	"github.com/warpdl/warppkg/internal/server"
	"github.com/warpdl/warppkg/pkg/distlib"
	"github.com/warpdl/warppkg/pkg/logger"
)

// RemoteBackend talks to a daemon over JSON-RPC. Pushed install.notify
// messages are routed to the observer registered under their listener id.
type RemoteBackend struct {
	cli *jrpc2.Client
	log logger.Logger

	mu        sync.RWMutex
	observers map[string]distlib.Observer
	shutdown  chan struct{}
	once      sync.Once
}

var _ Backend = (*RemoteBackend)(nil)

// NewRemoteBackend starts a JSON-RPC client over ch.
func NewRemoteBackend(ch channel.Channel, l logger.Logger) *RemoteBackend {
	if l == nil {
		l = logger.NewNopLogger()
	}
	b := &RemoteBackend{
		log:       l,
		observers: make(map[string]distlib.Observer),
		shutdown:  make(chan struct{}),
	}
	b.cli = jrpc2.NewClient(ch, &jrpc2.ClientOptions{OnNotify: b.onNotify})
	return b
}

// Dial connects to the daemon at rawURI. token authenticates websocket
// connections when the URI carries none.
func Dial(ctx context.Context, rawURI, token string, l logger.Logger) (*RemoteBackend, error) {
	uri, err := ParseDaemonURI(rawURI)
	if err != nil {
		return nil, err
	}
	switch uri.Scheme {
	case SchemeWS, SchemeWSS:
		if uri.Token != "" {
			token = uri.Token
		}
		var opts *cws.DialOptions
		if token != "" {
			opts = &cws.DialOptions{HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}}}
		}
		conn, _, err := cws.Dial(ctx, uri.Address, opts)
		if err != nil {
			return nil, fmt.Errorf("error connecting to daemon: %w", err)
		}
		return NewRemoteBackend(server.NewWSChannel(context.Background(), conn), l), nil
	default:
		var d net.Dialer
		conn, err := d.DialContext(ctx, uri.Scheme, uri.Address)
		if err != nil {
			return nil, fmt.Errorf("error connecting to daemon: %w", err)
		}
		return NewRemoteBackend(channel.Line(conn, conn), l), nil
	}
}

func (b *RemoteBackend) onNotify(req *jrpc2.Request) {
	switch req.Method() {
	case common.NotifyInstall:
		var n distlib.Notification
		if err := req.UnmarshalParams(&n); err != nil {
			b.log.Warning("bad %s payload: %v", common.NotifyInstall, err)
			return
		}
		b.mu.RLock()
		obs := b.observers[n.ListenerID]
		b.mu.RUnlock()
		if obs == nil {
			return
		}
		if err := obs.Notify(&n); err != nil {
			b.log.Debug("listener %s failed: %v", n.ListenerID, err)
			b.forget(n.ListenerID)
		}
	case common.NotifyShutdown:
		b.log.Warning("daemon is shutting down")
		b.once.Do(func() { close(b.shutdown) })
	}
}

// Shutdown is closed when the daemon announces it is stopping.
func (b *RemoteBackend) Shutdown() <-chan struct{} {
	return b.shutdown
}

func (b *RemoteBackend) forget(id string) {
	b.mu.Lock()
	delete(b.observers, id)
	b.mu.Unlock()
}

func (b *RemoteBackend) call(ctx context.Context, method string, params any) error {
	_, err := b.cli.Call(ctx, method, params)
	return remoteError(err)
}

// remoteError maps daemon error codes back to distlib errors.
func remoteError(err error) error {
	var rpcErr *jrpc2.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch int(rpcErr.Code) {
	case common.CodeListenerUnknown:
		return fmt.Errorf("%w: %s", distlib.ErrListenerUnknown, rpcErr.Message)
	case common.CodeServiceClosed:
		return fmt.Errorf("%w: %s", distlib.ErrServiceClosed, rpcErr.Message)
	}
	return err
}

func (b *RemoteBackend) Schedule(ctx context.Context, req distlib.InstallRequest) error {
	return b.call(ctx, common.MethodSchedule, req)
}

func (b *RemoteBackend) Cancel(ctx context.Context, pkg string) error {
	return b.call(ctx, common.MethodCancel, common.PackageParams{Package: pkg})
}

func (b *RemoteBackend) Delay(ctx context.Context, pkg string) error {
	return b.call(ctx, common.MethodDelay, common.PackageParams{Package: pkg})
}

func (b *RemoteBackend) Apply(ctx context.Context, pkg string) error {
	return b.call(ctx, common.MethodApply, common.PackageParams{Package: pkg})
}

func (b *RemoteBackend) Pin(ctx context.Context, pkg string, version int) error {
	return b.call(ctx, common.MethodPin, common.PinParams{Package: pkg, Version: version})
}

func (b *RemoteBackend) Status(ctx context.Context, pkg string) (*common.StatusResponse, error) {
	var st common.StatusResponse
	if err := b.cli.CallResult(ctx, common.MethodStatus, common.PackageParams{Package: pkg}, &st); err != nil {
		return nil, remoteError(err)
	}
	return &st, nil
}

// Version asks the daemon for its build information.
func (b *RemoteBackend) Version(ctx context.Context) (*common.VersionResponse, error) {
	var v common.VersionResponse
	if err := b.cli.CallResult(ctx, common.MethodGetVersion, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AddListener stores obs before registering, so replayed notifications that
// race the reply are not lost.
func (b *RemoteBackend) AddListener(ctx context.Context, spec distlib.ListenerSpec, obs distlib.Observer) error {
	b.mu.Lock()
	b.observers[spec.ID] = obs
	b.mu.Unlock()
	if err := b.call(ctx, common.MethodAddListener, spec); err != nil {
		b.forget(spec.ID)
		return err
	}
	return nil
}

func (b *RemoteBackend) RemoveListener(ctx context.Context, id string) error {
	b.forget(id)
	return b.call(ctx, common.MethodRemoveListener, common.RemoveListenerParams{ID: id})
}

// Close closes the connection. The daemon drops its listeners.
func (b *RemoteBackend) Close() error {
	return b.cli.Close()
}
