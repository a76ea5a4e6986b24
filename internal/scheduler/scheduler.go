package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

const maxSleepCap = 60 * time.Second

// Scheduler fires ScheduleEvents through an onTrigger callback.
type Scheduler struct {
	addChan    chan ScheduleEvent
	removeChan chan string
	ctx        context.Context
	done       chan struct{}
}

// New creates and starts a Scheduler. onTrigger runs on the scheduler
// goroutine and receives the key of each fired event. The goroutine exits
// when ctx is cancelled.
func New(ctx context.Context, onTrigger func(key string)) *Scheduler {
	s := &Scheduler{
		addChan:    make(chan ScheduleEvent, 64),
		removeChan: make(chan string, 64),
		ctx:        ctx,
		done:       make(chan struct{}),
	}
	go s.run(onTrigger)
	return s
}

// Add enqueues an event.
func (s *Scheduler) Add(event ScheduleEvent) {
	select {
	case s.addChan <- event:
	case <-s.ctx.Done():
	}
}

// After schedules a one-shot event d from now.
func (s *Scheduler) After(key string, d time.Duration) {
	s.Add(ScheduleEvent{Key: key, TriggerAt: time.Now().Add(d)})
}

// AddCron schedules a recurring event at the next occurrence of expr.
func (s *Scheduler) AddCron(key, expr string) error {
	next, err := nextCronOccurrence(expr, time.Now())
	if err != nil {
		return fmt.Errorf("cron %q: %w", expr, err)
	}
	s.Add(ScheduleEvent{Key: key, TriggerAt: next, CronExpr: expr})
	return nil
}

// Remove cancels every pending event with key.
func (s *Scheduler) Remove(key string) {
	select {
	case s.removeChan <- key:
	case <-s.ctx.Done():
	}
}

// Done is closed once the scheduler goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) run(onTrigger func(string)) {
	defer close(s.done)
	h := &scheduleHeap{}
	heap.Init(h)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			return nil
		}
		dur := time.Until((*h)[0].TriggerAt)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.addChan:
			heapPush(h, event)
			timerCh = resetTimer()
		case key := <-s.removeChan:
			heapRemoveByKey(h, key)
			timerCh = resetTimer()
		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].TriggerAt.After(now) {
				event := heapPop(h)
				onTrigger(event.Key)
				if event.CronExpr == "" {
					continue
				}
				if next, err := nextCronOccurrence(event.CronExpr, time.Now()); err == nil {
					heapPush(h, ScheduleEvent{
						Key:       event.Key,
						TriggerAt: next,
						CronExpr:  event.CronExpr,
					})
				}
			}
			timerCh = resetTimer()
		}
	}
}

// nextCronOccurrence returns the next time expr fires strictly after start.
func nextCronOccurrence(expr string, start time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, start, false)
}

// ValidCron reports whether expr is a cron expression with an occurrence
// within a year of from.
func ValidCron(expr string, from time.Time) bool {
	if !gronx.IsValid(expr) {
		return false
	}
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return false
	}
	return next.Before(from.Add(365 * 24 * time.Hour))
}
