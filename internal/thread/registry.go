package thread

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/nullteam/softpbx/infrastructure/resilience"
)

// ErrCreateFailed is reported (via a nil handle, per spec.md §4.1's
// "Creation reports failure through a null handle") when thread creation
// exhausts its retry budget.
var ErrCreateFailed = errors.New("thread: create failed after retries")

// ErrHardCancelUnsupported reports that the host platform does not support
// forcibly aborting a running thread; the Go runtime offers no such
// primitive, so hard-cancel here is always cooperative-escalation-only.
// See DESIGN.md for the platform-limitation rationale.
var ErrHardCancelUnsupported = errors.New("thread: hard cancel unsupported on this runtime")

// Registry owns every live thread handle (spec.md §2 "Thread registry"):
// create/cancel/reap, mediating global shutdown. Thread creation,
// cancellation, and registry updates are serialized by a single mutex,
// matching spec.md §4.1's "global recursive mutex" (Go mutexes are not
// recursive, so internal methods never re-enter a held lock).
type Registry struct {
	mu           sync.Mutex
	handles      map[uint64]*Handle
	nextID       uint64
	idleInterval time.Duration
}

// NewRegistry creates an empty Registry. idleInterval is the polling
// interval used during the soft phase of ShutdownAll. The timer worker's
// minimum granularity (timer.MinIntervalMS) is fixed and does not read
// this value.
func NewRegistry(idleInterval time.Duration) *Registry {
	if idleInterval <= 0 {
		idleInterval = 20 * time.Millisecond
	}
	return &Registry{
		handles:      make(map[uint64]*Handle),
		idleInterval: idleInterval,
	}
}

// IdleInterval returns the registry's configured idle polling interval.
func (r *Registry) IdleInterval() time.Duration { return r.idleInterval }

var (
	tlsMu sync.RWMutex
	tls   = make(map[int64]*Handle)
)

// goroutineID extracts the calling goroutine's numeric id by parsing the
// leading "goroutine N [...]" line of a minimal runtime.Stack dump. This is
// the standard pattern Go libraries use to emulate thread-local storage
// when each logical "thread" is pinned to one goroutine via
// runtime.LockOSThread; it is never used for scheduling decisions, only
// as a map key for Current().
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	// "goroutine 123 [running]:\n..."
	const prefix = "goroutine "
	if len(b) > len(prefix) {
		b = b[len(prefix):]
	}
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func setCurrent(h *Handle) {
	tlsMu.Lock()
	tls[goroutineID()] = h
	tlsMu.Unlock()
}

func clearCurrent() {
	tlsMu.Lock()
	delete(tls, goroutineID())
	tlsMu.Unlock()
}

// Current returns the handle of the calling goroutine, or nil if the
// caller is not running inside a thread spawned by a Registry
// (spec.md §4.1 "current()").
func Current() *Handle {
	tlsMu.RLock()
	defer tlsMu.RUnlock()
	return tls[goroutineID()]
}

// Create allocates a handle, registers it, then spawns the OS thread
// running entry. Creation retries up to five times with a 20µs pause
// between attempts if spawning reports transient exhaustion, per
// spec.md §4.1. On success the returned Handle is already registered and
// its goroutine started; the goroutine publishes itself to thread-local
// storage before calling entry.
func (r *Registry) Create(name string, priority Priority, entry func(h *Handle)) (*Handle, error) {
	var h *Handle
	cfg := resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 20 * time.Microsecond,
		MaxDelay:     20 * time.Microsecond,
		Multiplier:   1,
		Jitter:       0,
	}
	err := resilience.Retry(context.Background(), cfg, func() error {
		hh, serr := r.spawn(name, priority, entry)
		if serr != nil {
			return serr
		}
		h = hh
		return nil
	})
	if err != nil {
		return nil, ErrCreateFailed
	}
	return h, nil
}

func (r *Registry) spawn(name string, priority Priority, entry func(h *Handle)) (*Handle, error) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	h := &Handle{
		id:       id,
		name:     name,
		priority: priority,
		registry: r,
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.handles[id] = h
	r.mu.Unlock()

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		setCurrent(h)
		defer clearCurrent()

		<-h.started // wait until the parent flips the started flag

		h.SetRunning(true)
		entry(h)
		h.SetRunning(false)

		close(h.done)
		r.remove(id)
		h.runOnExit()
	}()

	// Parent flips the started flag once the handle is fully registered.
	close(h.started)
	return h, nil
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}

// Count returns the number of live thread handles, observed under the
// registry mutex (spec.md Invariant: "Thread-registry count equals the
// number of live thread handles at any observation point under the
// registry mutex").
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Handles returns a snapshot slice of all live handles.
func (r *Registry) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

func (r *Registry) isLive(h *Handle) bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Cancel requests soft or hard cancellation of h. Soft sets the cancel
// flag and returns immediately. Hard first spins up to 50ms polling the
// lock-acquisition depth before escalating the flag to "hard"; since Go
// offers no primitive to forcibly abort a running goroutine, hard-cancel
// here is cooperative escalation only — ErrHardCancelUnsupported is
// returned if the thread is still alive after the flag is set, matching
// spec.md §4.1's "Hard-cancel may fail on platforms where it is
// unsupported" fallback.
func (r *Registry) Cancel(h *Handle, hard bool) error {
	if !hard {
		h.cancelFlag.Store(int32(cancelSoft))
		return nil
	}

	deadline := time.Now().Add(50 * time.Millisecond)
	for h.LockDepth() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.cancelFlag.Store(int32(cancelHard))

	if r.isLive(h) {
		return ErrHardCancelUnsupported
	}
	return nil
}

// ShutdownAll runs the two-phase soft-then-hard shutdown protocol of
// spec.md §4.1: soft-cancel every thread but the caller, poll up to three
// times sleeping the idle interval; for survivors, hard-cancel with
// exponential back-off up to ~63ms per attempt for up to five attempts;
// any still-alive handle is finally detached from the registry.
func (r *Registry) ShutdownAll(caller *Handle) {
	r.mu.Lock()
	targets := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		if h != caller {
			targets = append(targets, h)
		}
	}
	r.mu.Unlock()

	for _, h := range targets {
		h.cancelFlag.Store(int32(cancelSoft))
	}

	for i := 0; i < 3; i++ {
		time.Sleep(r.idleInterval)
		if r.liveCount(targets) == 0 {
			return
		}
	}

	delay := time.Millisecond
	const maxDelay = 63 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		for _, h := range targets {
			if r.isLive(h) {
				h.cancelFlag.Store(int32(cancelHard))
			}
		}
		time.Sleep(delay)
		if delay < maxDelay {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
		if r.liveCount(targets) == 0 {
			return
		}
	}

	r.mu.Lock()
	for _, h := range targets {
		if r.isLive(h) {
			delete(r.handles, h.id)
		}
	}
	r.mu.Unlock()
}

func (r *Registry) liveCount(targets []*Handle) int {
	n := 0
	for _, h := range targets {
		if r.isLive(h) {
			n++
		}
	}
	return n
}
