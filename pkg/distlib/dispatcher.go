package distlib

import (
	"fmt"
	"sync"

	"github.com/warpdl/warppkg/pkg/logger"
)

// DefaultWorkers is the default number of concurrently running tasks.
const DefaultWorkers = 3

// Job is a unit the dispatcher runs.
type Job interface {
	Key() string
	Priority() Priority
	Run()
}

// Dispatcher executes jobs respecting their priority class.
type Dispatcher interface {
	// Dispatch runs job now or queues it behind higher priority work.
	Dispatch(job Job) error
	// Reprioritize re-sorts a waiting job after its priority changed.
	// It returns false if the job is not waiting.
	Reprioritize(key string) bool
	// Close stops accepting jobs, drops waiting ones and waits for
	// running jobs to return.
	Close()
}

// PriorityDispatcher runs at most maxConcurrent jobs. Jobs beyond that wait
// in a list ordered by priority, FIFO within one class.
type PriorityDispatcher struct {
	log           logger.Logger
	maxConcurrent int
	active        map[string]struct{}
	waiting       []Job
	closed        bool
	mu            sync.Mutex
	wg            sync.WaitGroup
}

// NewPriorityDispatcher creates a dispatcher with the given worker limit.
func NewPriorityDispatcher(l logger.Logger, maxConcurrent int) *PriorityDispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultWorkers
	}
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &PriorityDispatcher{
		log:           l,
		maxConcurrent: maxConcurrent,
		active:        make(map[string]struct{}),
		waiting:       make([]Job, 0),
	}
}

// Dispatch adds a job. If under capacity, it starts immediately.
func (d *PriorityDispatcher) Dispatch(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherShut
	}
	key := job.Key()
	if _, exists := d.active[key]; exists {
		return fmt.Errorf("job %s is already running", key)
	}
	if d.indexOf(key) >= 0 {
		return fmt.Errorf("job %s is already queued", key)
	}

	if len(d.active) < d.maxConcurrent {
		d.start(job)
		return nil
	}
	d.insert(job)
	return nil
}

// insert places job before the first waiting job of lower priority.
func (d *PriorityDispatcher) insert(job Job) {
	priority := job.Priority()
	insertIdx := len(d.waiting)
	for i, item := range d.waiting {
		if item.Priority() < priority {
			insertIdx = i
			break
		}
	}
	d.waiting = append(d.waiting, nil)
	copy(d.waiting[insertIdx+1:], d.waiting[insertIdx:])
	d.waiting[insertIdx] = job
}

func (d *PriorityDispatcher) indexOf(key string) int {
	for i, item := range d.waiting {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

// Reprioritize moves a waiting job to its new position.
func (d *PriorityDispatcher) Reprioritize(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := d.indexOf(key)
	if idx < 0 {
		return false
	}
	job := d.waiting[idx]
	d.waiting = append(d.waiting[:idx], d.waiting[idx+1:]...)
	d.insert(job)
	return true
}

// start must be called with d.mu held.
func (d *PriorityDispatcher) start(job Job) {
	key := job.Key()
	d.active[key] = struct{}{}
	d.wg.Add(1)
	SafeGo(d.log, &d.wg, key, nil, func() {
		defer d.onComplete(key)
		job.Run()
	})
}

// onComplete frees the slot and starts the next waiting job.
func (d *PriorityDispatcher) onComplete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.active, key)
	if d.closed {
		return
	}
	if len(d.waiting) > 0 && len(d.active) < d.maxConcurrent {
		next := d.waiting[0]
		d.waiting = d.waiting[1:]
		d.start(next)
	}
}

// ActiveCount returns the number of running jobs.
func (d *PriorityDispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// WaitingCount returns the number of queued jobs.
func (d *PriorityDispatcher) WaitingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiting)
}

// WaitingKeys returns the queued job keys in run order.
func (d *PriorityDispatcher) WaitingKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, len(d.waiting))
	for i, item := range d.waiting {
		keys[i] = item.Key()
	}
	return keys
}

// Close drops waiting jobs and waits for running ones.
func (d *PriorityDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	dropped := len(d.waiting)
	d.waiting = nil
	d.mu.Unlock()
	if dropped > 0 {
		d.log.Warning("dispatcher: dropped %d waiting jobs on close", dropped)
	}
	d.wg.Wait()
}
