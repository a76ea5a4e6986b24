package distlib

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

type fakeProvider struct {
	mu       sync.Mutex
	metas    map[string]*AppDistributionMeta
	data     map[string][]byte
	upToDate map[string]bool
	metaErr  error
	// streamHook, when set, runs on every stream fetch. A non-nil reader
	// replaces the stored archive bytes.
	streamHook func(meta *AppDistributionMeta, sub string) io.Reader

	metaCalls   int
	streamCalls int
	fileCalls   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		metas:    make(map[string]*AppDistributionMeta),
		data:     make(map[string][]byte),
		upToDate: make(map[string]bool),
	}
}

func (p *fakeProvider) addPackage(meta *AppDistributionMeta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metas[meta.Package] = meta
	if len(meta.Subpackages) == 0 {
		p.data[meta.Package+"/"] = []byte("archive:" + meta.Package)
	}
	for _, sp := range meta.Subpackages {
		p.data[meta.Package+"/"+sp.Name] = []byte("archive:" + meta.Package + "/" + sp.Name)
	}
}

func (p *fakeProvider) setUpToDate(pkg, sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upToDate[pkg+"/"+sub] = true
}

func (p *fakeProvider) fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamCalls + p.fileCalls
}

func (p *fakeProvider) GetDistributionMeta(_ context.Context, pkg string, version int) (*AppDistributionMeta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metaCalls++
	if p.metaErr != nil {
		return nil, p.metaErr
	}
	m, ok := p.metas[pkg]
	if !ok {
		return nil, fmt.Errorf("unknown package %s", pkg)
	}
	c := *m
	if version > 0 {
		c.Version = version
	}
	return &c, nil
}

func (p *fakeProvider) FetchAsStream(_ context.Context, meta *AppDistributionMeta, sub string) (io.ReadCloser, error) {
	if !meta.Streamable {
		return nil, nil
	}
	p.mu.Lock()
	p.streamCalls++
	hook := p.streamHook
	data := p.data[meta.Package+"/"+sub]
	p.mu.Unlock()
	if hook != nil {
		if r := hook(meta, sub); r != nil {
			return io.NopCloser(r), nil
		}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *fakeProvider) FetchToFile(_ context.Context, meta *AppDistributionMeta, sub string, w io.Writer) error {
	p.mu.Lock()
	p.fileCalls++
	data := p.data[meta.Package+"/"+sub]
	p.mu.Unlock()
	_, err := w.Write(data)
	return err
}

func (p *fakeProvider) NeedsUpdate(_ context.Context, pkg string, _ int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.upToDate[pkg+"/"]
}

func (p *fakeProvider) NeedsSubpackageUpdate(_ context.Context, pkg, sub string, _ int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.upToDate[pkg+"/"+sub]
}

func (p *fakeProvider) GetPreviewInfo(_ context.Context, pkg string) (*PreviewInfo, error) {
	return &PreviewInfo{Package: pkg, Name: "Preview " + pkg}, nil
}

type fakeInstaller struct {
	pkg, sub string
	version  int
	src      *InstallSource
}

func (i *fakeInstaller) Package() string    { return i.pkg }
func (i *fakeInstaller) Subpackage() string { return i.sub }
func (i *fakeInstaller) Version() int       { return i.version }
func (i *fakeInstaller) IsStreaming() bool  { return i.src.Streaming }

type fakeSink struct {
	mu        sync.Mutex
	committed map[string][]byte
	failures  map[string]error
	// gate, when set, blocks CreateInstaller after signalling entered.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		committed: make(map[string][]byte),
		failures:  make(map[string]error),
	}
}

func (s *fakeSink) CreateInstaller(_ context.Context, meta *AppDistributionMeta, sub string, src *InstallSource) (Installer, error) {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return &fakeInstaller{pkg: meta.Package, sub: sub, version: meta.Version, src: src}, nil
}

func (s *fakeSink) Commit(_ context.Context, inst Installer) error {
	fi := inst.(*fakeInstaller)
	data, err := io.ReadAll(fi.src.Reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fi.pkg + "/" + fi.sub
	if err := s.failures[key]; err != nil {
		return err
	}
	s.committed[key] = data
	return nil
}

func (s *fakeSink) fail(pkg, sub string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[pkg+"/"+sub] = err
}

func (s *fakeSink) committedData(pkg, sub string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.committed[pkg+"/"+sub]
	return data, ok
}

// manualDispatcher queues jobs until the test runs them.
type manualDispatcher struct {
	mu            sync.Mutex
	jobs          []Job
	reprioritized []string
}

func (d *manualDispatcher) Dispatch(j Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, j)
	return nil
}

func (d *manualDispatcher) Reprioritize(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reprioritized = append(d.reprioritized, key)
	return true
}

func (d *manualDispatcher) Close() {}

func (d *manualDispatcher) take() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	jobs := d.jobs
	d.jobs = nil
	return jobs
}

func taskOf(j Job) Task {
	return j.(*installJob).t
}

func jobNamed(t *testing.T, jobs []Job, name string) Job {
	t.Helper()
	for _, j := range jobs {
		if taskOf(j).Name() == name {
			return j
		}
	}
	t.Fatalf("no job for %q", name)
	return nil
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves the clock and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, rest []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.when.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	for _, t := range due {
		t.f()
	}
}

// collector records notifications delivered to a listener.
type collector struct {
	mu  sync.Mutex
	got []*Notification
	err error
}

func (c *collector) Notify(n *Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return c.err
}

func (c *collector) snapshot() []*Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Notification(nil), c.got...)
}

// waitFor polls until cond holds for the collected notifications.
func (c *collector) waitFor(t *testing.T, what string, cond func([]*Notification) bool) []*Notification {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); cond(got) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, got %d notifications", what, len(c.snapshot()))
	return nil
}

func hasStatus(pkg string, code StatusCode, result ResultCode) func([]*Notification) bool {
	return func(ns []*Notification) bool {
		for _, n := range ns {
			if n.Kind == KindInstallStatus && n.Package == pkg &&
				n.Status.StatusCode == code && n.Status.ResultCode == result {
				return true
			}
		}
		return false
	}
}

type testEnv struct {
	svc       *Service
	provider  *fakeProvider
	sink      *fakeSink
	disp      *manualDispatcher
	archives  *LocalArchiveManager
	installed *InstalledSubpackageManager
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		provider:  newFakeProvider(),
		sink:      newFakeSink(),
		disp:      &manualDispatcher{},
		archives:  NewLocalArchiveManager(afero.NewMemMapFs(), "/archives"),
		installed: NewInstalledSubpackageManager(NewMemoryInstalledStore(), nil),
	}
	opts := Options{
		Provider:   env.provider,
		Sink:       env.sink,
		Installed:  env.installed,
		Archives:   env.archives,
		Dispatcher: env.disp,
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	env.svc = svc
	return env
}

func (e *testEnv) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.svc.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func (e *testEnv) schedule(t *testing.T, req InstallRequest) []Job {
	t.Helper()
	if err := e.svc.ScheduleInstall(req); err != nil {
		t.Fatalf("ScheduleInstall: %v", err)
	}
	e.sync(t)
	return e.disp.take()
}
