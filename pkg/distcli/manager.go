package distcli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warpdl/warppkg/common"
	"github.com/warpdl/warppkg/internal/scheduler"
	"github.com/warpdl/warppkg/pkg/distlib"
	"github.com/warpdl/warppkg/pkg/logger"
)

const (
	DefaultIdleDelay   = 30 * time.Second
	DefaultCallTimeout = 10 * time.Second

	releasePrefix = "release:"
)

var ErrManagerClosed = errors.New("distribution manager is closed")

// Options configures a Manager. Backend is required.
type Options struct {
	Backend Backend
	Logger  logger.Logger
	// IdleDelay is how long per-package state outlives its last listener.
	IdleDelay time.Duration
	// CallTimeout bounds each forwarded request.
	CallTimeout time.Duration
	// OnRelease runs once a package's idle delay elapses.
	OnRelease func(pkg string)
}

// packageState is what the Manager retains per package while it has
// listeners, plus IdleDelay.
type packageState struct {
	listeners int
	last      *distlib.InstallStatus
}

type clientListener struct {
	spec distlib.ListenerSpec
	obs  distlib.Observer
}

// Manager is the client façade. Install requests are fire-and-forget: they
// return once validated and their outcome arrives through listeners.
type Manager struct {
	backend   Backend
	log       logger.Logger
	idle      time.Duration
	timeout   time.Duration
	onRelease func(string)
	sched     *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	listeners map[string]*clientListener
	packages  map[string]*packageState
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Backend == nil {
		return nil, errors.New("distcli: backend is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = DefaultIdleDelay
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		backend:   opts.Backend,
		log:       opts.Logger,
		idle:      opts.IdleDelay,
		timeout:   opts.CallTimeout,
		onRelease: opts.OnRelease,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string]*clientListener),
		packages:  make(map[string]*packageState),
	}
	m.sched = scheduler.New(ctx, m.onTimer)
	return m, nil
}

// NewListenerID returns a token unique across processes.
func NewListenerID() string {
	return fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString())
}

// forward runs call in the background and turns a failure into a finished
// status for the package's listeners.
func (m *Manager) forward(pkg, what string, call func(ctx context.Context) error) error {
	if pkg == "" {
		return distlib.ErrEmptyPackage
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.calls.Add(1)
	m.mu.Unlock()

	fail := func(err error) {
		m.log.Error("%s %s: %v", what, pkg, err)
		m.deliverLocal(&distlib.Notification{
			Kind:    distlib.KindInstallStatus,
			Package: pkg,
			Status:  distlib.NewErrorStatus(err, distlib.DefaultStatusTTL),
		})
	}
	onPanic := func(r any) {
		fail(fmt.Errorf("%s panicked: %v", what, r))
	}
	distlib.SafeGo(m.log, &m.calls, what+":"+pkg, onPanic, func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()
		if err := call(ctx); err != nil {
			fail(err)
		}
	})
	return nil
}

// ScheduleInstall asks for req.Package, scoped by req.Path or req.Subpackage.
func (m *Manager) ScheduleInstall(req distlib.InstallRequest) error {
	return m.forward(req.Package, "schedule", func(ctx context.Context) error {
		return m.backend.Schedule(ctx, req)
	})
}

func (m *Manager) CancelInstall(pkg string) error {
	return m.forward(pkg, "cancel", func(ctx context.Context) error {
		return m.backend.Cancel(ctx, pkg)
	})
}

func (m *Manager) DelayApplyUpdate(pkg string) error {
	return m.forward(pkg, "delay", func(ctx context.Context) error {
		return m.backend.Delay(ctx, pkg)
	})
}

func (m *Manager) ApplyUpdate(pkg string) error {
	return m.forward(pkg, "apply", func(ctx context.Context) error {
		return m.backend.Apply(ctx, pkg)
	})
}

func (m *Manager) SetMinimumVersion(pkg string, version int) error {
	return m.forward(pkg, "pin", func(ctx context.Context) error {
		return m.backend.Pin(ctx, pkg, version)
	})
}

// Status queries the backend and waits for the answer.
func (m *Manager) Status(ctx context.Context, pkg string) (*common.StatusResponse, error) {
	return m.backend.Status(ctx, pkg)
}

// LastStatus is the latest status seen by this Manager for pkg, kept while
// the package has listeners or is idling.
func (m *Manager) LastStatus(pkg string) *distlib.InstallStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps := m.packages[pkg]; ps != nil {
		return ps.last
	}
	return nil
}

// Wait blocks until every forwarded request has been answered.
func (m *Manager) Wait() {
	m.calls.Wait()
}

// AddStatusListener calls fn with every merged status of pkg, or of every
// package when pkg is empty.
func (m *Manager) AddStatusListener(pkg string, fn func(pkg string, st *distlib.InstallStatus)) (string, error) {
	return m.addListener(distlib.ListenerSpec{Kind: distlib.ListenStatus, Package: pkg}, func(n *distlib.Notification) {
		fn(n.Package, n.Status)
	})
}

// AddPreviewListener calls fn with the preview description of pkg.
func (m *Manager) AddPreviewListener(pkg string, fn func(info *distlib.PreviewInfo)) (string, error) {
	return m.addListener(distlib.ListenerSpec{Kind: distlib.ListenPreview, Package: pkg}, func(n *distlib.Notification) {
		fn(n.Preview)
	})
}

// AddSubpackageListener calls fn with the result of each sub-package of pkg.
// An empty sub receives every sub-package.
func (m *Manager) AddSubpackageListener(pkg, sub string, fn func(sub string, st *distlib.InstallStatus)) (string, error) {
	return m.addListener(distlib.ListenerSpec{Kind: distlib.ListenSubpackage, Package: pkg, Subpackage: sub}, func(n *distlib.Notification) {
		fn(n.Subpackage, n.Status)
	})
}

// AddProgressListener calls fn with throttled byte progress.
func (m *Manager) AddProgressListener(pkg, sub string, fn func(sub string, loaded, total int64)) (string, error) {
	return m.addListener(distlib.ListenerSpec{Kind: distlib.ListenProgress, Package: pkg, Subpackage: sub}, func(n *distlib.Notification) {
		fn(n.Subpackage, n.Loaded, n.Total)
	})
}

func (m *Manager) addListener(spec distlib.ListenerSpec, fn func(n *distlib.Notification)) (string, error) {
	spec.ID = NewListenerID()
	cl := &clientListener{spec: spec}
	cl.obs = distlib.ObserverFunc(func(n *distlib.Notification) error {
		m.observe(n)
		fn(n)
		return nil
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	m.listeners[spec.ID] = cl
	ps := m.packages[spec.Package]
	if ps == nil {
		ps = &packageState{}
		m.packages[spec.Package] = ps
	}
	ps.listeners++
	m.mu.Unlock()
	m.sched.Remove(releasePrefix + spec.Package)

	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()
	if err := m.backend.AddListener(ctx, spec, cl.obs); err != nil {
		m.detach(spec.ID)
		return "", err
	}
	return spec.ID, nil
}

// observe records the latest package status.
func (m *Manager) observe(n *distlib.Notification) {
	if n.Kind != distlib.KindInstallStatus || n.Status == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps := m.packages[n.Package]; ps != nil {
		ps.last = n.Status
	}
}

// deliverLocal hands n to this Manager's matching listeners without going
// through the backend.
func (m *Manager) deliverLocal(n *distlib.Notification) {
	m.mu.Lock()
	var targets []*clientListener
	for _, cl := range m.listeners {
		if cl.spec.Accepts(n) {
			targets = append(targets, cl)
		}
	}
	m.mu.Unlock()
	for _, cl := range targets {
		c := *n
		c.ListenerID = cl.spec.ID
		cl.obs.Notify(&c)
	}
}

// RemoveListener unregisters id. The package's retained state is released
// after the idle delay once its last listener is gone.
func (m *Manager) RemoveListener(id string) error {
	if !m.detach(id) {
		return distlib.ErrListenerUnknown
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()
	err := m.backend.RemoveListener(ctx, id)
	if errors.Is(err, distlib.ErrListenerUnknown) {
		return nil
	}
	return err
}

func (m *Manager) detach(id string) bool {
	m.mu.Lock()
	cl, ok := m.listeners[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.listeners, id)
	pkg := cl.spec.Package
	ps := m.packages[pkg]
	idle := false
	if ps != nil {
		ps.listeners--
		idle = ps.listeners == 0
	}
	closed := m.closed
	m.mu.Unlock()
	if idle && !closed {
		m.sched.After(releasePrefix+pkg, m.idle)
	}
	return true
}

// onTimer runs on the scheduler goroutine.
func (m *Manager) onTimer(key string) {
	pkg, ok := strings.CutPrefix(key, releasePrefix)
	if !ok {
		return
	}
	m.mu.Lock()
	ps := m.packages[pkg]
	// a listener may have been added after the release was queued
	if ps == nil || ps.listeners > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.packages, pkg)
	m.mu.Unlock()
	m.log.Debug("released idle package state %q", pkg)
	if m.onRelease != nil {
		m.onRelease(pkg)
	}
}

// ListenerCount returns the listeners registered through this Manager.
func (m *Manager) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Close removes every listener, waits for in-flight requests and closes
// the backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ids := make([]string, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.RemoveListener(id); err != nil {
			m.log.Debug("remove listener %s: %v", id, err)
		}
	}
	m.calls.Wait()
	m.cancel()
	<-m.sched.Done()
	return m.backend.Close()
}
