package distlib

import (
	"context"
	"sync"
)

// NotificationKind identifies the event carried by a Notification.
type NotificationKind string

const (
	KindInstallStatus    NotificationKind = "install_status"
	KindPreviewInfo      NotificationKind = "preview_info"
	KindSubpackageResult NotificationKind = "subpackage_result"
	KindProgress         NotificationKind = "progress"
)

// ListenerKind selects the notifications a listener subscribes to.
type ListenerKind string

const (
	ListenStatus     ListenerKind = "status"
	ListenPreview    ListenerKind = "preview"
	ListenSubpackage ListenerKind = "subpackage"
	ListenProgress   ListenerKind = "progress"
)

func (k ListenerKind) notification() NotificationKind {
	switch k {
	case ListenStatus:
		return KindInstallStatus
	case ListenPreview:
		return KindPreviewInfo
	case ListenSubpackage:
		return KindSubpackageResult
	case ListenProgress:
		return KindProgress
	}
	return ""
}

// Valid reports whether k is a known listener kind.
func (k ListenerKind) Valid() bool {
	return k.notification() != ""
}

// Notification is one event pushed to a listener.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	ListenerID string           `json:"listener_id"`
	Package    string           `json:"package"`
	Subpackage string           `json:"subpackage,omitempty"`
	Status     *InstallStatus   `json:"status,omitempty"`
	Preview    *PreviewInfo     `json:"preview,omitempty"`
	Loaded     int64            `json:"loaded,omitempty"`
	Total      int64            `json:"total,omitempty"`
}

// ListenerSpec registers interest in one kind of notification.
type ListenerSpec struct {
	ID   string       `json:"id"`
	Kind ListenerKind `json:"kind"`
	// Package filters by package name, empty means every package.
	Package string `json:"package,omitempty"`
	// Subpackage filters subpackage and progress events.
	Subpackage string `json:"subpackage,omitempty"`
	// Name is a caller supplied label used in logs.
	Name string `json:"name,omitempty"`
}

// Accepts reports whether n is addressed to this listener.
func (l *ListenerSpec) Accepts(n *Notification) bool {
	if l.Kind.notification() != n.Kind {
		return false
	}
	if l.Package != "" && l.Package != n.Package {
		return false
	}
	if l.Subpackage != "" && n.Subpackage != "" && l.Subpackage != n.Subpackage {
		return false
	}
	return true
}

// Observer receives notifications. A returned error unregisters the
// listener the notification was addressed to.
type Observer interface {
	Notify(n *Notification) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(n *Notification) error

func (f ObserverFunc) Notify(n *Notification) error { return f(n) }

type listener struct {
	spec ListenerSpec
	obs  Observer
}

type delivery struct {
	l *listener
	n *Notification
}

// outbox is an unbounded FIFO drained by one goroutine, so producers never
// block on a slow observer and every listener sees events in emit order.
type outbox struct {
	mu     sync.Mutex
	items  []delivery
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

func (o *outbox) push(d delivery) {
	o.mu.Lock()
	o.items = append(o.items, d)
	o.mu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) take() []delivery {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := o.items
	o.items = nil
	return items
}

// run delivers queued notifications until ctx is done. drop is called for
// every listener whose observer failed.
func (o *outbox) run(ctx context.Context, drop func(l *listener, err error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.signal:
		}
		failed := make(map[*listener]bool)
		for _, d := range o.take() {
			if failed[d.l] {
				continue
			}
			if err := d.l.obs.Notify(d.n); err != nil {
				failed[d.l] = true
				drop(d.l, err)
			}
		}
	}
}
