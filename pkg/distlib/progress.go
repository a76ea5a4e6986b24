package distlib

import (
	"sync"
	"time"
)

// DefaultProgressInterval is the minimum gap between two progress
// notifications of one sub-package.
const DefaultProgressInterval = 200 * time.Millisecond

// ProgressFunc delivers one progress notification.
type ProgressFunc func(pkg, subpackage string, loaded, total int64)

type progressKey struct {
	pkg, sub string
}

type progressEntry struct {
	loaded, total int64
	dirty         bool
	lastSent      time.Time
	timer         Timer
	seq           uint64
}

// InstallProgressManager throttles progress notifications per sub-package.
// Updates arriving while a notification is pending overwrite the buffered
// payload instead of scheduling another one.
type InstallProgressManager struct {
	clock    Clock
	interval time.Duration
	send     ProgressFunc

	mu      sync.Mutex
	entries map[progressKey]*progressEntry
	seq     uint64

	sendMu sync.Mutex
}

// NewInstallProgressManager creates a throttle calling send at most once per
// interval for each sub-package.
func NewInstallProgressManager(clock Clock, interval time.Duration, send ProgressFunc) *InstallProgressManager {
	if clock == nil {
		clock = SystemClock{}
	}
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &InstallProgressManager{
		clock:    clock,
		interval: interval,
		send:     send,
		entries:  make(map[progressKey]*progressEntry),
	}
}

// Update buffers the latest sizes of a sub-package.
func (m *InstallProgressManager) Update(pkg, subpackage string, loaded, total int64) {
	k := progressKey{pkg, subpackage}

	m.mu.Lock()
	e, ok := m.entries[k]
	if !ok {
		m.seq++
		e = &progressEntry{seq: m.seq}
		m.entries[k] = e
	}
	e.loaded, e.total, e.dirty = loaded, total, true
	if e.timer != nil {
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	next := e.lastSent.Add(m.interval)
	if !next.After(now) {
		e.dirty = false
		e.lastSent = now
		m.mu.Unlock()
		m.deliver(pkg, subpackage, loaded, total)
		return
	}
	seq := e.seq
	e.timer = m.clock.AfterFunc(next.Sub(now), func() { m.fire(k, seq) })
	m.mu.Unlock()
}

func (m *InstallProgressManager) fire(k progressKey, seq uint64) {
	m.mu.Lock()
	e, ok := m.entries[k]
	if !ok || e.seq != seq {
		m.mu.Unlock()
		return
	}
	e.timer = nil
	if !e.dirty {
		m.mu.Unlock()
		return
	}
	loaded, total := e.loaded, e.total
	e.dirty = false
	e.lastSent = m.clock.Now()
	m.mu.Unlock()

	m.deliver(k.pkg, k.sub, loaded, total)
}

// Finish flushes the buffered value of a sub-package bypassing the throttle
// and forgets its state. Nothing is sent if the last value was delivered.
func (m *InstallProgressManager) Finish(pkg, subpackage string) {
	k := progressKey{pkg, subpackage}

	m.mu.Lock()
	e, ok := m.entries[k]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.entries, k)
	if e.timer != nil {
		e.timer.Stop()
	}
	dirty, loaded, total := e.dirty, e.loaded, e.total
	m.mu.Unlock()

	if dirty {
		m.deliver(pkg, subpackage, loaded, total)
	}
}

func (m *InstallProgressManager) deliver(pkg, subpackage string, loaded, total int64) {
	if m.send == nil {
		return
	}
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	m.send(pkg, subpackage, loaded, total)
}

// Pending returns the number of sub-packages with tracked progress.
func (m *InstallProgressManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
