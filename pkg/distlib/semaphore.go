package distlib

import "sync/atomic"

const semDelayed int32 = -1

// InstallSemaphore decides whether a task commits now or defers to a later
// explicit apply. The first of RequireDelay / RequireInstall to arrive wins;
// once delayed the semaphore never grants an install again.
type InstallSemaphore struct {
	state atomic.Int32
}

// NewInstallSemaphore returns a semaphore in the fresh state.
func NewInstallSemaphore() *InstallSemaphore {
	return &InstallSemaphore{}
}

// RequireDelay moves a fresh semaphore to delayed. It returns true if the
// semaphore is delayed afterwards and false if an install was already granted.
func (s *InstallSemaphore) RequireDelay() bool {
	for {
		cur := s.state.Load()
		switch {
		case cur == semDelayed:
			return true
		case cur > 0:
			return false
		}
		if s.state.CompareAndSwap(cur, semDelayed) {
			return true
		}
	}
}

// RequireInstall grants an install unless the semaphore is delayed.
func (s *InstallSemaphore) RequireInstall() bool {
	for {
		cur := s.state.Load()
		if cur < 0 {
			return false
		}
		if s.state.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// IsDelayed reports whether a delay request won.
func (s *InstallSemaphore) IsDelayed() bool {
	return s.state.Load() == semDelayed
}

// Installs returns the number of granted installs, zero when delayed.
func (s *InstallSemaphore) Installs() int {
	if v := s.state.Load(); v > 0 {
		return int(v)
	}
	return 0
}
