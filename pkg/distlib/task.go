package distlib

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Priority is the urgency class a task is dispatched with.
type Priority int

const (
	// PriorityBackground is for work nobody is waiting on.
	PriorityBackground Priority = iota
	// PriorityForegroundPreload is for sub-packages likely needed soon.
	PriorityForegroundPreload
	// PriorityForeground is for what the user is waiting on right now.
	PriorityForeground
)

func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityForegroundPreload:
		return "foreground_preload"
	case PriorityForeground:
		return "foreground"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

var taskSeq atomic.Uint64

// Task is one schedulable unit of fetch and install work.
type Task interface {
	// Key is unique per task instance, retries get a new key.
	Key() string
	Package() string
	// Name is the sub-package name, empty for a whole package.
	Name() string
	Meta() *AppDistributionMeta
	Version() int
	Path() string
	Priority() Priority
	SetPriority(p Priority)
	IsUpdate() bool
	ApplyUpdateOnly() bool
	Failed() bool
	MarkFailed()
	Flag() *OneShotInstallFlag
	Semaphore() *InstallSemaphore
	Context() context.Context
	Cancel()
	// Size is the expected archive size used as progress total.
	Size() int64
	// Matches reports whether a request scoped to subpackage/path targets
	// this task. An empty scope matches every task. A path never matches
	// the base sub-package, its priority is derived from the target.
	Matches(subpackage, path string) bool
	// IsPackageReady reports whether the target version is already in place.
	IsPackageReady(ctx context.Context, p Provider, m *InstalledSubpackageManager) bool

	renew(parent context.Context, flag *InstallFlag) Task
}

type taskOpts struct {
	Path            string
	Priority        Priority
	IsUpdate        bool
	ApplyUpdateOnly bool
}

type taskBase struct {
	key             string
	meta            *AppDistributionMeta
	path            string
	isUpdate        bool
	applyUpdateOnly bool
	flag            *OneShotInstallFlag
	sem             *InstallSemaphore
	ctx             context.Context
	cancel          context.CancelFunc

	mu       sync.RWMutex
	priority Priority
	failed   bool
}

func newTaskBase(parent context.Context, name string, meta *AppDistributionMeta, flag *InstallFlag, opts *taskOpts) *taskBase {
	ctx, cancel := context.WithCancel(parent)
	return &taskBase{
		key:             fmt.Sprintf("%s/%s#%d", meta.Package, name, taskSeq.Add(1)),
		meta:            meta,
		path:            opts.Path,
		isUpdate:        opts.IsUpdate,
		applyUpdateOnly: opts.ApplyUpdateOnly,
		flag:            NewOneShotInstallFlag(flag),
		sem:             NewInstallSemaphore(),
		ctx:             ctx,
		cancel:          cancel,
		priority:        opts.Priority,
	}
}

func (t *taskBase) opts() *taskOpts {
	return &taskOpts{
		Path:            t.path,
		Priority:        t.Priority(),
		IsUpdate:        t.isUpdate,
		ApplyUpdateOnly: t.applyUpdateOnly,
	}
}

func (t *taskBase) Key() string                  { return t.key }
func (t *taskBase) Package() string              { return t.meta.Package }
func (t *taskBase) Meta() *AppDistributionMeta   { return t.meta }
func (t *taskBase) Version() int                 { return t.meta.Version }
func (t *taskBase) Path() string                 { return t.path }
func (t *taskBase) IsUpdate() bool               { return t.isUpdate }
func (t *taskBase) ApplyUpdateOnly() bool        { return t.applyUpdateOnly }
func (t *taskBase) Flag() *OneShotInstallFlag    { return t.flag }
func (t *taskBase) Semaphore() *InstallSemaphore { return t.sem }
func (t *taskBase) Context() context.Context     { return t.ctx }
func (t *taskBase) Cancel()                      { t.cancel() }

func (t *taskBase) Priority() Priority {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.priority
}

func (t *taskBase) SetPriority(p Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.priority = p
}

func (t *taskBase) Failed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failed
}

func (t *taskBase) MarkFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = true
}

// WholePackageTask installs a package that has no sub-packages.
type WholePackageTask struct {
	*taskBase
}

func newWholePackageTask(parent context.Context, meta *AppDistributionMeta, flag *InstallFlag, opts *taskOpts) *WholePackageTask {
	return &WholePackageTask{taskBase: newTaskBase(parent, "", meta, flag, opts)}
}

func (t *WholePackageTask) Name() string { return "" }

func (t *WholePackageTask) Size() int64 { return t.meta.Size }

func (t *WholePackageTask) Matches(string, string) bool { return true }

func (t *WholePackageTask) IsPackageReady(ctx context.Context, p Provider, _ *InstalledSubpackageManager) bool {
	return !p.NeedsUpdate(ctx, t.Package(), t.Version())
}

func (t *WholePackageTask) renew(parent context.Context, flag *InstallFlag) Task {
	return newWholePackageTask(parent, t.meta, flag, t.opts())
}

func (t *WholePackageTask) String() string {
	return fmt.Sprintf("WholePackageTask(%s@%d, %s)", t.Package(), t.Version(), t.Priority())
}

// SubpackageTask installs one sub-package of a split package.
type SubpackageTask struct {
	*taskBase
	sub SubpackageInfo
}

func newSubpackageTask(parent context.Context, meta *AppDistributionMeta, sub SubpackageInfo, flag *InstallFlag, opts *taskOpts) *SubpackageTask {
	return &SubpackageTask{
		taskBase: newTaskBase(parent, sub.Name, meta, flag, opts),
		sub:      sub,
	}
}

func (t *SubpackageTask) Name() string { return t.sub.Name }

func (t *SubpackageTask) Size() int64 { return t.sub.Size }

// Subpackage returns the sub-package description.
func (t *SubpackageTask) Subpackage() SubpackageInfo { return t.sub }

func (t *SubpackageTask) Matches(subpackage, path string) bool {
	switch {
	case subpackage != "":
		return t.sub.Name == subpackage
	case path != "":
		return !t.sub.IsBase && t.sub.Contains(path)
	}
	return true
}

func (t *SubpackageTask) IsPackageReady(ctx context.Context, p Provider, m *InstalledSubpackageManager) bool {
	if m.IsInstalled(ctx, t.Package(), t.sub.Name, t.Version()) {
		return true
	}
	return !p.NeedsSubpackageUpdate(ctx, t.Package(), t.sub.Name, t.Version())
}

func (t *SubpackageTask) renew(parent context.Context, flag *InstallFlag) Task {
	return newSubpackageTask(parent, t.meta, t.sub, flag, t.opts())
}

func (t *SubpackageTask) String() string {
	return fmt.Sprintf("SubpackageTask(%s/%s@%d, %s)", t.Package(), t.sub.Name, t.Version(), t.Priority())
}
