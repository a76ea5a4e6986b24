package distlib

import (
	"sync"
	"sync/atomic"
)

// InstallFlag counts finished tasks of a sibling group. It is shared by every
// SubpackageTask of one package graph.
type InstallFlag struct {
	mu           sync.Mutex
	total        int
	needed       int
	finished     int
	anySucceeded bool
}

// NewInstallFlag creates a flag for a package with total sub-packages of
// which needed require work.
func NewInstallFlag(total, needed int) *InstallFlag {
	if needed < 0 {
		needed = 0
	}
	return &InstallFlag{total: total, needed: needed}
}

// Increment records one finished task. Increments beyond needed are dropped.
func (f *InstallFlag) Increment(success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished >= f.needed {
		return
	}
	f.finished++
	if success {
		f.anySucceeded = true
	}
}

// IsAllFinished reports whether every needed task has finished.
func (f *InstallFlag) IsAllFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished == f.needed
}

// AnySucceeded reports whether at least one task finished successfully.
func (f *InstallFlag) AnySucceeded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.anySucceeded
}

// Counts returns total, needed and finished.
func (f *InstallFlag) Counts() (total, needed, finished int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, f.needed, f.finished
}

// OneShotInstallFlag lets a single task increment a shared flag at most once.
type OneShotInstallFlag struct {
	flag *InstallFlag
	once sync.Once
	done atomic.Bool
}

// NewOneShotInstallFlag wraps flag.
func NewOneShotInstallFlag(flag *InstallFlag) *OneShotInstallFlag {
	return &OneShotInstallFlag{flag: flag}
}

// Increment forwards the first call to the shared flag and ignores the rest.
// It returns true when the call was forwarded.
func (o *OneShotInstallFlag) Increment(success bool) (forwarded bool) {
	o.once.Do(func() {
		o.flag.Increment(success)
		o.done.Store(true)
		forwarded = true
	})
	return
}

// Done reports whether the task already reported its result.
func (o *OneShotInstallFlag) Done() bool {
	return o.done.Load()
}

// Shared returns the wrapped flag.
func (o *OneShotInstallFlag) Shared() *InstallFlag {
	return o.flag
}

// IsAllFinished reports the shared flag's state.
func (o *OneShotInstallFlag) IsAllFinished() bool {
	return o.flag.IsAllFinished()
}
