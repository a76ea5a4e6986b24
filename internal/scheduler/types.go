package scheduler

import "time"

// ScheduleEvent is a pending timer in the scheduler heap.
type ScheduleEvent struct {
	// Key identifies the event; Remove cancels by key.
	Key string
	// TriggerAt is the wall-clock time the event fires.
	TriggerAt time.Time
	// CronExpr makes the event recurring. Empty means one-shot.
	CronExpr string
}
