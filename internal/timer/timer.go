// Package timer implements spec.md §4.9's timer worker: a dedicated
// background thread that fires setInterval/setTimeout callbacks by
// re-entering the owning engine's runner.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// MinIntervalMS is the minimum scheduling granularity; requests below it
// are clamped up (spec.md §4.9). It is a fixed 20ms, equal to a
// thread.Registry's default idle interval, and does not follow an idle
// interval configured on a Registry.
const MinIntervalMS = 20

// Callback is invoked when a scheduled entry fires. args are the bound
// arguments captured at scheduling time.
type Callback func(args []interface{})

type entry struct {
	id       int64
	fireAt   time.Time
	interval time.Duration
	repeat   bool
	cb       Callback
	args     []interface{}
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Worker drives the timer queue. One Worker is shared by all callbacks
// scheduled from a single engine binding instance; when the owning
// engine's refcount drops to the worker's own reference, callers should
// invoke Stop (spec.md §4.9 "the worker exits and clears the
// back-pointer in the engine").
type Worker struct {
	mu       sync.Mutex
	queue    entryHeap
	byID     map[int64]*entry
	nextID   int64
	wake     chan struct{}
	stopping chan struct{}
	stopped  chan struct{}
}

// NewWorker creates and starts a timer Worker.
func NewWorker() *Worker {
	w := &Worker{
		byID:     make(map[int64]*entry),
		wake:     make(chan struct{}, 1),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	heap.Init(&w.queue)
	go w.loop()
	return w
}

// Stop terminates the worker's loop goroutine.
func (w *Worker) Stop() {
	close(w.stopping)
	<-w.stopped
}

func clampInterval(ms int64) time.Duration {
	if ms < MinIntervalMS {
		ms = MinIntervalMS
	}
	return time.Duration(ms) * time.Millisecond
}

// SetInterval schedules a recurring callback every ms milliseconds
// (clamped to MinIntervalMS) and returns a numeric handle.
func (w *Worker) SetInterval(cb Callback, ms int64, args ...interface{}) int64 {
	return w.schedule(cb, ms, true, args)
}

// SetTimeout schedules a one-shot callback.
func (w *Worker) SetTimeout(cb Callback, ms int64, args ...interface{}) int64 {
	return w.schedule(cb, ms, false, args)
}

func (w *Worker) schedule(cb Callback, ms int64, repeat bool, args []interface{}) int64 {
	d := clampInterval(ms)
	w.mu.Lock()
	w.nextID++
	e := &entry{
		id:       w.nextID,
		fireAt:   time.Now().Add(d),
		interval: d,
		repeat:   repeat,
		cb:       cb,
		args:     args,
	}
	heap.Push(&w.queue, e)
	w.byID[e.id] = e
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return e.id
}

// Clear removes a pending callback. Returns true iff a matching entry
// existed (spec.md §4.4's clearInterval/clearTimeout boolean result, and
// testable property 7: clearing before the first fire yields zero
// invocations).
func (w *Worker) Clear(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&w.queue, e.index)
	delete(w.byID, id)
	return true
}

func (w *Worker) loop() {
	defer close(w.stopped)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		w.mu.Lock()
		var wait time.Duration
		if w.queue.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(w.queue[0].fireAt)
			if wait < 0 {
				wait = 0
			}
		}
		w.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-w.stopping:
			return
		case <-w.wake:
			continue
		case <-timer.C:
			w.fireDue()
		}
	}
}

func (w *Worker) fireDue() {
	now := time.Now()
	for {
		w.mu.Lock()
		if w.queue.Len() == 0 || w.queue[0].fireAt.After(now) {
			w.mu.Unlock()
			return
		}
		e := heap.Pop(&w.queue).(*entry)
		delete(w.byID, e.id)
		if e.repeat {
			e.fireAt = now.Add(e.interval)
			heap.Push(&w.queue, e)
			w.byID[e.id] = e
		}
		w.mu.Unlock()

		e.cb(e.args)
	}
}
