package distlib

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warpdl/warppkg/pkg/logger"
)

const requestBuffer = 64

// InstallRequest asks for a package, optionally scoped to a page path or a
// named sub-package.
type InstallRequest struct {
	Package string `json:"package"`
	// Version 0 means the latest version the provider knows.
	Version    int    `json:"version,omitempty"`
	Path       string `json:"path,omitempty"`
	Subpackage string `json:"subpackage,omitempty"`
	Background bool   `json:"background,omitempty"`
	// ApplyUpdateOnly installs from cached archives and never fetches.
	ApplyUpdateOnly bool `json:"apply_update_only,omitempty"`
}

// Options configures a Service. Provider, Sink, Installed and Archives are
// required.
type Options struct {
	Provider   Provider
	Sink       Sink
	Installed  *InstalledSubpackageManager
	Archives   *LocalArchiveManager
	Dispatcher Dispatcher
	Logger     logger.Logger
	Recorder   Recorder
	Clock      Clock
	// StatusTTL is how long finished statuses are replayed to new listeners.
	StatusTTL        time.Duration
	ProgressInterval time.Duration
}

type requestKind int

const (
	reqSchedule requestKind = iota
	reqCancel
	reqDelay
	reqApply
	reqPin
	reqBarrier
)

type request struct {
	kind    requestKind
	install InstallRequest
	pkg     string
	version int
	done    chan struct{}
}

// Service is the distribution orchestrator. Requests are handled one at a
// time by a single goroutine; worker completions and listener registration
// touch shared state under mu. Notifications are queued under mu and
// delivered by a separate goroutine, so no observer runs with mu held.
type Service struct {
	provider   Provider
	sink       Sink
	installed  *InstalledSubpackageManager
	archives   *LocalArchiveManager
	dispatcher Dispatcher
	log        logger.Logger
	rec        Recorder
	clock      Clock
	ttl        time.Duration
	progress   *InstallProgressManager

	ctx    context.Context
	cancel context.CancelFunc
	reqCh  chan request
	wg     sync.WaitGroup
	closed atomic.Bool
	out    *outbox

	// owned by the request goroutine
	pins map[string]int

	mu           sync.Mutex
	tasks        map[string][]Task
	status       map[string]*InstallStatus
	subStatus    map[string]map[string]*InstallStatus
	previews     map[string]*PreviewInfo
	listeners    map[string]*listener
	pendingApply map[string]bool
	// open streams per package/sub-package
	streams map[string]int
}

// NewService validates opts and starts the request and delivery goroutines.
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Provider == nil:
		return nil, errors.New("distlib: provider is required")
	case opts.Sink == nil:
		return nil, errors.New("distlib: sink is required")
	case opts.Installed == nil:
		return nil, errors.New("distlib: installed subpackage manager is required")
	case opts.Archives == nil:
		return nil, errors.New("distlib: archive manager is required")
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}
	d := opts.Dispatcher
	if d == nil {
		d = NewPriorityDispatcher(l, DefaultWorkers)
	}
	rec := opts.Recorder
	if rec == nil {
		rec = NopRecorder{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	ttl := opts.StatusTTL
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		provider:     opts.Provider,
		sink:         opts.Sink,
		installed:    opts.Installed,
		archives:     opts.Archives,
		dispatcher:   d,
		log:          l,
		rec:          rec,
		clock:        clock,
		ttl:          ttl,
		ctx:          ctx,
		cancel:       cancel,
		reqCh:        make(chan request, requestBuffer),
		out:          newOutbox(),
		pins:         make(map[string]int),
		tasks:        make(map[string][]Task),
		status:       make(map[string]*InstallStatus),
		subStatus:    make(map[string]map[string]*InstallStatus),
		previews:     make(map[string]*PreviewInfo),
		listeners:    make(map[string]*listener),
		pendingApply: make(map[string]bool),
		streams:      make(map[string]int),
	}
	s.progress = NewInstallProgressManager(clock, opts.ProgressInterval, s.emitProgress)

	s.wg.Add(2)
	SafeGo(l, &s.wg, "service-loop", nil, s.loop)
	SafeGo(l, &s.wg, "service-deliver", nil, func() {
		s.out.run(ctx, s.dropListener)
	})
	return s, nil
}

func (s *Service) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case r := <-s.reqCh:
			s.handle(r)
		}
	}
}

func (s *Service) handle(r request) {
	switch r.kind {
	case reqSchedule:
		s.schedule(&r.install)
	case reqCancel:
		s.cancelInstall(r.pkg)
	case reqDelay:
		s.delayApplyUpdate(r.pkg)
	case reqApply:
		s.applyUpdate(r.pkg)
	case reqPin:
		if r.version > 0 {
			s.pins[r.pkg] = r.version
		} else {
			delete(s.pins, r.pkg)
		}
	case reqBarrier:
		close(r.done)
	}
}

func (s *Service) submit(r request) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	select {
	case s.reqCh <- r:
		return nil
	case <-s.ctx.Done():
		return ErrServiceClosed
	}
}

// ScheduleInstall queues an install request. Results arrive through
// listeners.
func (s *Service) ScheduleInstall(req InstallRequest) error {
	if req.Package == "" {
		return ErrEmptyPackage
	}
	return s.submit(request{kind: reqSchedule, install: req})
}

// CancelInstall cancels every task of pkg. Cancelled tasks still finish
// through the normal bookkeeping and report FINISHED/CANCEL unless a later
// ScheduleInstall renewed them first.
func (s *Service) CancelInstall(pkg string) error {
	if pkg == "" {
		return ErrEmptyPackage
	}
	return s.submit(request{kind: reqCancel, pkg: pkg})
}

// DelayApplyUpdate asks update tasks of pkg to keep their fetched archive
// instead of committing it.
func (s *Service) DelayApplyUpdate(pkg string) error {
	if pkg == "" {
		return ErrEmptyPackage
	}
	return s.submit(request{kind: reqDelay, pkg: pkg})
}

// ApplyUpdate commits a previously delayed update of pkg.
func (s *Service) ApplyUpdate(pkg string) error {
	if pkg == "" {
		return ErrEmptyPackage
	}
	return s.submit(request{kind: reqApply, pkg: pkg})
}

// SetMinimumVersion pins the lowest acceptable version of pkg. Zero clears
// the pin.
func (s *Service) SetMinimumVersion(pkg string, version int) error {
	if pkg == "" {
		return ErrEmptyPackage
	}
	return s.submit(request{kind: reqPin, pkg: pkg, version: version})
}

// ScheduleBackgroundUpdates queues a background install of every package
// with installed records.
func (s *Service) ScheduleBackgroundUpdates(ctx context.Context) error {
	pkgs, err := s.installed.Packages(ctx)
	if err != nil {
		return fmt.Errorf("list installed packages: %w", err)
	}
	for _, pkg := range pkgs {
		if err := s.ScheduleInstall(InstallRequest{Package: pkg, Background: true}); err != nil {
			return err
		}
	}
	return nil
}

// Sync blocks until every request queued before it has been handled.
func (s *Service) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.submit(request{kind: reqBarrier, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrServiceClosed
	}
}

// Status returns the cached merged status of pkg.
func (s *Service) Status(pkg string) *InstallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[pkg]
}

// IsInstalling reports whether pkg has an active task graph.
func (s *Service) IsInstalling(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[pkg]
	return ok
}

// AddListener registers obs and replays the cached snapshot matching spec.
func (s *Service) AddListener(spec ListenerSpec, obs Observer) error {
	if spec.ID == "" {
		return errors.New("distlib: listener id is required")
	}
	if !spec.Kind.Valid() {
		return fmt.Errorf("distlib: unknown listener kind %q", spec.Kind)
	}
	if obs == nil {
		return errors.New("distlib: observer is required")
	}
	if s.closed.Load() {
		return ErrServiceClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l := &listener{spec: spec, obs: obs}
	s.listeners[spec.ID] = l
	for _, n := range s.snapshotLocked(&spec) {
		s.out.push(delivery{l: l, n: n})
	}
	s.log.Debug("listener %s (%s) added for %q", spec.ID, spec.Kind, spec.Package)
	return nil
}

// RemoveListener unregisters a listener.
func (s *Service) RemoveListener(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[id]; !ok {
		return ErrListenerUnknown
	}
	delete(s.listeners, id)
	return nil
}

// ListenerCount returns the number of registered listeners.
func (s *Service) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Close stops request handling, cancels running tasks and waits for the
// workers and background goroutines.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.dispatcher.Close()
	s.wg.Wait()
	return nil
}

func (s *Service) dropListener(l *listener, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.listeners[l.spec.ID]; ok && cur == l {
		delete(s.listeners, l.spec.ID)
		s.log.Warning("listener %s removed: %v", l.spec.ID, err)
	}
}

// snapshotLocked builds the replay for a new listener in package order.
func (s *Service) snapshotLocked(spec *ListenerSpec) []*Notification {
	now := s.clock.Now()
	var out []*Notification
	add := func(n *Notification) {
		if spec.Accepts(n) {
			n.ListenerID = spec.ID
			out = append(out, n)
		}
	}
	switch spec.Kind {
	case ListenStatus:
		for _, pkg := range sortedKeys(s.status) {
			if st := s.status[pkg]; !st.IsExpired(now) {
				add(&Notification{Kind: KindInstallStatus, Package: pkg, Status: st})
			}
		}
	case ListenSubpackage:
		for _, pkg := range sortedKeys(s.subStatus) {
			subs := s.subStatus[pkg]
			for _, sub := range sortedKeys(subs) {
				if st := subs[sub]; !st.IsExpired(now) {
					add(&Notification{Kind: KindSubpackageResult, Package: pkg, Subpackage: sub, Status: st})
				}
			}
		}
	case ListenPreview:
		for _, pkg := range sortedKeys(s.previews) {
			add(&Notification{Kind: KindPreviewInfo, Package: pkg, Preview: s.previews[pkg]})
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// emitLocked queues n for every listener accepting it.
func (s *Service) emitLocked(n *Notification) {
	for _, id := range sortedKeys(s.listeners) {
		l := s.listeners[id]
		if !l.spec.Accepts(n) {
			continue
		}
		c := *n
		c.ListenerID = id
		s.out.push(delivery{l: l, n: &c})
	}
}

func (s *Service) emitProgress(pkg, subpackage string, loaded, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(&Notification{
		Kind:       KindProgress,
		Package:    pkg,
		Subpackage: subpackage,
		Loaded:     loaded,
		Total:      total,
	})
}

// setStatusLocked stores and announces the package status.
func (s *Service) setStatusLocked(pkg string, st *InstallStatus) {
	s.status[pkg] = st
	s.emitLocked(&Notification{Kind: KindInstallStatus, Package: pkg, Status: st})
}

// finishWithoutGraph reports a terminal status for a request that produced
// no tasks.
func (s *Service) finishWithoutGraph(pkg string, st *InstallStatus) {
	merged := Merge(nil, st, true)
	s.mu.Lock()
	s.setStatusLocked(pkg, merged)
	s.mu.Unlock()
	s.rec.InstallFinished(merged.ResultCode)
}

func (s *Service) schedule(req *InstallRequest) {
	s.mu.Lock()
	if tasks, ok := s.tasks[req.Package]; ok {
		s.redispatchLocked(req, tasks)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.buildGraph(req)
}

// redispatchLocked renews failed tasks of an active graph and raises the
// priority of the tasks the request is about.
func (s *Service) redispatchLocked(req *InstallRequest, tasks []Task) {
	pkg := req.Package
	meta := tasks[0].Meta()

	var failed int
	for _, t := range tasks {
		if t.Failed() {
			failed++
		}
	}
	renewed := make(map[string]bool)
	if failed > 0 {
		flag := NewInstallFlag(max(len(meta.Subpackages), 1), failed)
		for i, t := range tasks {
			if t.Failed() {
				// a predecessor still draining gives up its slot now
				t.Flag().Increment(false)
				nt := t.renew(s.ctx, flag)
				tasks[i] = nt
				renewed[nt.Key()] = true
			}
		}
		s.tasks[pkg] = tasks
		s.setStatusLocked(pkg, NewInstallStatus(StatusInstalling, ResultOK, ErrorNone, s.ttl))
		s.log.Info("%s: retrying %d failed tasks", pkg, failed)
	}

	target, exact := meta.ResolveTarget(req.Subpackage, req.Path)
	for _, t := range tasks {
		switch {
		case t.Matches(req.Subpackage, req.Path):
			if !req.Background {
				t.SetPriority(PriorityForeground)
			}
		case isBaseTask(t):
			t.SetPriority(basePriority(target, exact, req.Background))
		}
	}

	sortByPriority(tasks)
	for _, t := range tasks {
		if renewed[t.Key()] {
			s.dispatchLocked(t)
			continue
		}
		s.dispatcher.Reprioritize(t.Key())
	}
}

func isBaseTask(t Task) bool {
	st, ok := t.(*SubpackageTask)
	return ok && st.sub.IsBase
}

// basePriority is FOREGROUND unless the request resolved by name to a
// standalone sub-package.
func basePriority(target *SubpackageInfo, exact, background bool) Priority {
	if target == nil || !exact || !target.IsStandalone {
		return PriorityForeground
	}
	return otherPriority(background)
}

func otherPriority(background bool) Priority {
	if background {
		return PriorityBackground
	}
	return PriorityForegroundPreload
}

func sortByPriority(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority() > tasks[j].Priority()
	})
}

func (s *Service) buildGraph(req *InstallRequest) {
	pkg := req.Package
	meta, err := s.provider.GetDistributionMeta(s.ctx, pkg, req.Version)
	if err != nil {
		s.log.Warning("%s: get distribution meta: %v", pkg, err)
		s.finishWithoutGraph(pkg, NewErrorStatus(err, s.ttl))
		return
	}
	if pin, ok := s.pins[pkg]; ok && meta.Version < pin {
		delete(s.pins, pkg)
		err := fmt.Errorf("%w: version %d, minimum %d", ErrPackageIncompatible, meta.Version, pin)
		s.finishWithoutGraph(pkg, NewErrorStatus(err, s.ttl))
		return
	}

	opts := taskOpts{
		Path:            req.Path,
		IsUpdate:        s.installed.HasAny(s.ctx, pkg),
		ApplyUpdateOnly: req.ApplyUpdateOnly,
	}

	var tasks []Task
	if !meta.HasSubpackages() {
		opts.Priority = PriorityForeground
		if req.Background {
			opts.Priority = PriorityBackground
		}
		tasks = append(tasks, newWholePackageTask(s.ctx, meta, NewInstallFlag(1, 1), &opts))
	} else {
		var needed []SubpackageInfo
		for _, sp := range meta.Subpackages {
			if s.installed.IsInstalled(s.ctx, pkg, sp.Name, meta.Version) {
				continue
			}
			if !s.provider.NeedsSubpackageUpdate(s.ctx, pkg, sp.Name, meta.Version) {
				continue
			}
			needed = append(needed, sp)
		}
		if len(needed) == 0 {
			s.log.Debug("%s@%d: every sub-package is up to date", pkg, meta.Version)
			s.finishWithoutGraph(pkg, NewInstallStatus(StatusFinished, ResultCancel, ErrorNone, s.ttl))
			return
		}
		m := *meta
		m.NeedUpdate = needed
		meta = &m

		flag := NewInstallFlag(len(meta.Subpackages), len(needed))
		target, exact := meta.ResolveTarget(req.Subpackage, req.Path)
		for _, sp := range needed {
			o := opts
			switch {
			case target != nil && sp.Name == target.Name:
				o.Priority = PriorityForeground
			case sp.IsBase:
				o.Priority = basePriority(target, exact, req.Background)
			default:
				o.Priority = otherPriority(req.Background)
			}
			tasks = append(tasks, newSubpackageTask(s.ctx, meta, sp, flag, &o))
		}
	}

	sortByPriority(tasks)
	s.mu.Lock()
	s.tasks[pkg] = tasks
	s.subStatus[pkg] = make(map[string]*InstallStatus)
	s.setStatusLocked(pkg, NewInstallStatus(StatusInstalling, ResultOK, ErrorNone, s.ttl))
	for _, t := range tasks {
		s.dispatchLocked(t)
	}
	s.mu.Unlock()
	s.log.Info("%s@%d: scheduled %d tasks", pkg, meta.Version, len(tasks))

	s.wg.Add(1)
	SafeGo(s.log, &s.wg, "preview:"+pkg, nil, func() { s.loadPreview(pkg) })
}

func (s *Service) loadPreview(pkg string) {
	p, err := s.provider.GetPreviewInfo(s.ctx, pkg)
	if err != nil {
		s.log.Debug("%s: preview info: %v", pkg, err)
		return
	}
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previews[pkg] = p
	s.emitLocked(&Notification{Kind: KindPreviewInfo, Package: pkg, Preview: p})
}

type installJob struct {
	s *Service
	t Task
}

func (j *installJob) Key() string        { return j.t.Key() }
func (j *installJob) Priority() Priority { return j.t.Priority() }
func (j *installJob) Run()               { j.s.installOrUpdate(j.t) }

func (s *Service) dispatchLocked(t Task) {
	if err := s.dispatcher.Dispatch(&installJob{s: s, t: t}); err != nil {
		s.log.Error("%s: dispatch %s: %v", t.Package(), t.Key(), err)
		t.MarkFailed()
		s.completeLocked(t, false, NewErrorStatus(err, s.ttl))
	}
}

func (s *Service) cancelInstall(pkg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, ok := s.tasks[pkg]
	if !ok {
		return
	}
	// unfinished tasks are failed now so the next schedule request renews them
	for _, t := range tasks {
		t.Cancel()
		if !t.Flag().Done() {
			t.MarkFailed()
		}
	}
	s.log.Info("%s: cancelled %d tasks", pkg, len(tasks))
}

func (s *Service) delayApplyUpdate(pkg string) {
	s.mu.Lock()
	if tasks, ok := s.tasks[pkg]; ok {
		delayed := false
		for _, t := range tasks {
			if t.IsUpdate() && t.Semaphore().RequireDelay() {
				delayed = true
			}
		}
		if delayed {
			update := NewInstallStatus(StatusUpdateDelayed, ResultOK, ErrorNone, s.ttl)
			s.setStatusLocked(pkg, Merge(s.status[pkg], update, false))
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.pendingArchiveVersion(pkg) > 0 {
		s.mu.Lock()
		s.setStatusLocked(pkg, NewInstallStatus(StatusUpdateDelayed, ResultOK, ErrorNone, s.ttl))
		s.mu.Unlock()
		return
	}
	s.finishWithoutGraph(pkg, NewInstallStatus(StatusFinished, ResultCancel, ErrorNone, s.ttl))
}

func (s *Service) applyUpdate(pkg string) {
	s.mu.Lock()
	if tasks, ok := s.tasks[pkg]; ok {
		for _, t := range tasks {
			if t.Semaphore().IsDelayed() {
				s.pendingApply[pkg] = true
				break
			}
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if v := s.pendingArchiveVersion(pkg); v > 0 {
		s.schedule(&InstallRequest{Package: pkg, Version: v, ApplyUpdateOnly: true})
		return
	}
	if v := s.installed.AppVersion(s.ctx, pkg); v > 0 {
		meta, err := s.provider.GetDistributionMeta(s.ctx, pkg, v)
		if err == nil && s.installed.IsPackageComplete(s.ctx, pkg, v, meta.Subpackages) {
			s.finishWithoutGraph(pkg, NewInstallStatus(StatusFinished, ResultCancel, ErrorNone, s.ttl))
			return
		}
	}
	s.schedule(&InstallRequest{Package: pkg})
}

// pendingArchiveVersion returns the highest cached archive version of pkg
// that has not been applied yet.
func (s *Service) pendingArchiveVersion(pkg string) int {
	v := 0
	for sub, code := range s.archives.Archived(pkg) {
		if !s.installed.IsInstalled(s.ctx, pkg, sub, code) {
			v = max(v, code)
		}
	}
	return v
}

// completeTask records a finished task and folds st into the package status.
func (s *Service) completeTask(t Task, success bool, st *InstallStatus) {
	s.finishTask(t, success, false, st)
}

// finishTask flushes the task progress, then marks it failed if asked and
// completes it in one critical section.
func (s *Service) finishTask(t Task, success, failed bool, st *InstallStatus) {
	s.mu.Lock()
	current := s.isCurrentLocked(t)
	s.mu.Unlock()
	if current {
		s.progress.Finish(t.Package(), t.Name())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if failed {
		t.MarkFailed()
	}
	s.completeLocked(t, success, st)
}

// isCurrentLocked reports whether t still belongs to its package graph. A
// renewed task replaces its predecessor.
func (s *Service) isCurrentLocked(t Task) bool {
	for _, x := range s.tasks[t.Package()] {
		if x == t {
			return true
		}
	}
	return false
}

func (s *Service) completeLocked(t Task, success bool, st *InstallStatus) {
	if !t.Flag().Increment(success) {
		return
	}
	pkg := t.Package()
	if !s.isCurrentLocked(t) {
		s.log.Debug("%s: dropping result of replaced task %s: %s", pkg, t.Key(), st)
		return
	}
	tasks := s.tasks[pkg]
	allFinished := true
	for _, x := range tasks {
		if !x.Flag().IsAllFinished() {
			allFinished = false
			break
		}
	}

	if name := t.Name(); name != "" {
		subs, ok := s.subStatus[pkg]
		if !ok {
			subs = make(map[string]*InstallStatus)
			s.subStatus[pkg] = subs
		}
		subs[name] = st
		s.emitLocked(&Notification{Kind: KindSubpackageResult, Package: pkg, Subpackage: name, Status: st})
	}

	merged := Merge(s.status[pkg], st, allFinished)
	s.setStatusLocked(pkg, merged)
	if !allFinished {
		return
	}

	delete(s.tasks, pkg)
	s.rec.InstallFinished(merged.ResultCode)
	s.log.Info("%s: install finished %s", pkg, merged)
	if s.pendingApply[pkg] {
		delete(s.pendingApply, pkg)
		s.wg.Add(1)
		SafeGo(s.log, &s.wg, "apply:"+pkg, nil, func() {
			if err := s.ApplyUpdate(pkg); err != nil {
				s.log.Warning("%s: queue pending apply: %v", pkg, err)
			}
		})
	}
}

// reportTransient merges a non-terminal task status without counting the
// task as finished.
func (s *Service) reportTransient(t Task, st *InstallStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isCurrentLocked(t) {
		return
	}
	s.setStatusLocked(t.Package(), Merge(s.status[t.Package()], st, false))
}

func streamKey(pkg, subpackage string) string {
	return pkg + "/" + subpackage
}

// beginStream records an open stream of a sub-package. The returned func
// releases it.
func (s *Service) beginStream(t Task) func() {
	k := streamKey(t.Package(), t.Name())
	s.mu.Lock()
	s.streams[k]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.streams[k]--; s.streams[k] <= 0 {
				delete(s.streams, k)
			}
		})
	}
}

// streamObsolete reports whether the archive being streamed lost a race: a
// newer version of the sub-package got installed meanwhile, or another
// stream of it is still open.
func (s *Service) streamObsolete(ctx context.Context, t Task) bool {
	if s.installed.InstalledVersion(ctx, t.Package(), t.Name()) > t.Version() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[streamKey(t.Package(), t.Name())] > 1
}
