package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Dispatcher runs deferred tasks one at a time on a single timeline. Time is
// virtual: Advance moves it forward explicitly, Run ties it to the wall clock.
// While a task runs, Now reports the task's due time, so a task that
// reschedules itself with a fixed delay never drifts.
//
// After, Cancel and Do may be called from any goroutine. Task callbacks and
// functions passed to Do only ever run on the goroutine calling Advance or Run.
type Dispatcher struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	queue taskQueue
	inbox []func()
	wake  chan struct{}
}

// Task is a handle to a deferred callback.
type Task struct {
	due   time.Duration
	seq   uint64
	fn    func()
	index int // position in the heap, -1 once fired or cancelled
	d     *Dispatcher
}

func New() *Dispatcher {
	return &Dispatcher{wake: make(chan struct{}, 1)}
}

// Now returns the dispatcher's current time.
func (d *Dispatcher) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// After schedules fn to run once delay has elapsed. Negative delays run at the
// current time, after tasks already due.
func (d *Dispatcher) After(delay time.Duration, fn func()) *Task {
	if delay < 0 {
		delay = 0
	}
	d.mu.Lock()
	d.seq++
	t := &Task{due: d.now + delay, seq: d.seq, fn: fn, d: d}
	heap.Push(&d.queue, t)
	d.mu.Unlock()
	d.signal()
	return t
}

// Cancel removes the task. It reports whether the task was still pending; a
// cancelled task never fires. Cancel on a nil task is a no-op.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.d.queue, t.index)
	return true
}

// Pending reports whether the task is still waiting to fire.
func (t *Task) Pending() bool {
	if t == nil {
		return false
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	return t.index >= 0
}

// Do queues fn to run on the dispatcher's goroutine at the start of the next
// turn, before any timer due in that turn.
func (d *Dispatcher) Do(fn func()) {
	d.mu.Lock()
	d.inbox = append(d.inbox, fn)
	d.mu.Unlock()
	d.signal()
}

// Len returns the number of pending tasks.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Advance moves time forward by delta, running every task that falls due in
// order. It returns the number of callbacks run.
func (d *Dispatcher) Advance(delta time.Duration) int {
	if delta < 0 {
		delta = 0
	}
	return d.advanceTo(d.Now() + delta)
}

func (d *Dispatcher) advanceTo(target time.Duration) int {
	// posted functions see the turn's time, but never past a pending task
	d.mu.Lock()
	horizon := target
	if len(d.queue) > 0 {
		horizon = min(horizon, d.queue[0].due)
	}
	d.now = max(d.now, horizon)
	d.mu.Unlock()
	fired := d.drainInbox()
	for {
		d.mu.Lock()
		if len(d.queue) == 0 || d.queue[0].due > target {
			if target > d.now {
				d.now = target
			}
			d.mu.Unlock()
			return fired
		}
		t := heap.Pop(&d.queue).(*Task)
		if t.due > d.now {
			d.now = t.due
		}
		d.mu.Unlock()
		t.fn()
		fired++
		fired += d.drainInbox()
	}
}

func (d *Dispatcher) drainInbox() int {
	n := 0
	for {
		d.mu.Lock()
		if len(d.inbox) == 0 {
			d.mu.Unlock()
			return n
		}
		fns := d.inbox
		d.inbox = nil
		d.mu.Unlock()
		for _, fn := range fns {
			fn()
			n++
		}
	}
}

// Run drives the dispatcher from the wall clock until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	start := time.Now()
	base := d.Now()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		d.advanceTo(base + time.Since(start))

		wait := time.Hour
		d.mu.Lock()
		if len(d.queue) > 0 {
			wait = d.queue[0].due - (base + time.Since(start))
		}
		d.mu.Unlock()
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*Task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
