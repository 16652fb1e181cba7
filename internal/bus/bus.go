package bus

import (
	"regexp"
	"sync"
)

// Filter matches a message parameter either by literal value or by a
// compiled regular expression, per spec.md §6 "Filters match either by
// literal value or by compiled regex" — grounded on IntentFilter's
// data/type matching in system/framework/intent.go, generalized from
// action/category matching to an arbitrary parameter name.
type Filter struct {
	ParamName string
	Literal   string
	Regex     *regexp.Regexp
}

// Match reports whether m satisfies f. A nil Filter always matches.
func (f *Filter) Match(m *Message) bool {
	if f == nil {
		return true
	}
	val := m.GetParam(f.ParamName, "")
	if f.Regex != nil {
		return f.Regex.MatchString(val)
	}
	return val == f.Literal
}

// Handler is an installed message handler (spec.md §4.5 "install(fn,
// name, priority, [filterName, filterValue])").
type Handler struct {
	Name     string
	Priority int
	Filter   *Filter
	Fn       func(m *Message) bool
}

// Hook is a threaded queue hook (spec.md §4.5 "installHook").
type Hook struct {
	Name          string
	Filter        *Filter
	ThreadCount   int
	TrapFn        func()
	TrapThreshold int

	queue   chan *Message
	once    sync.Once
	closing chan struct{}
}

// Bus is spec.md §6's host message bus: dispatch, enqueue, priority- and
// filter-matched handler installation, and threaded queue hooks.
type Bus struct {
	mu       sync.RWMutex
	handlers []*Handler
	hooks    []*Hook

	enqueueCh chan *Message
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// New creates an empty Bus with a background dispatcher for enqueue().
func New() *Bus {
	b := &Bus{
		enqueueCh: make(chan *Message, 256),
		closed:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.runEnqueueLoop()
	return b
}

func (b *Bus) runEnqueueLoop() {
	defer b.wg.Done()
	for {
		select {
		case m, ok := <-b.enqueueCh:
			if !ok {
				return
			}
			b.Dispatch(m)
		case <-b.closed:
			return
		}
	}
}

// Close stops the background dispatcher; pending enqueued messages are
// dropped.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
	b.wg.Wait()
	for _, h := range b.hooks {
		h.stop()
	}
}

// Install attaches a handler, keeping the handler list sorted by
// priority (spec.md §4.5).
func (b *Bus) Install(h *Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
	sortByPriority(b.handlers)
}

// Uninstall removes handlers by name; if name is "", removes all.
func (b *Bus) Uninstall(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		b.handlers = nil
		return
	}
	out := b.handlers[:0]
	for _, h := range b.handlers {
		if h.Name != name {
			out = append(out, h)
		}
	}
	b.handlers = out
}

// Handlers returns installed handlers whose name matches pattern (a
// literal, or, if it compiles, a regex); an empty pattern returns all.
func (b *Bus) Handlers(pattern string) []*Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if pattern == "" {
		return append([]*Handler(nil), b.handlers...)
	}
	re, err := regexp.Compile(pattern)
	var out []*Handler
	for _, h := range b.handlers {
		if err == nil {
			if re.MatchString(h.Name) {
				out = append(out, h)
			}
		} else if h.Name == pattern {
			out = append(out, h)
		}
	}
	return out
}

// Dispatch runs m synchronously through matching handlers in priority
// order, stopping at the first one that reports the message consumed,
// per spec.md §4.5/§8 property 8 ("never delivered" to non-matching
// filters) and §7's host-bus failure propagation (the bool result IS the
// propagation channel, never an exception).
func (b *Bus) Dispatch(m *Message) bool {
	b.mu.RLock()
	handlers := append([]*Handler(nil), b.handlers...)
	b.mu.RUnlock()

	consumed := false
	for _, h := range handlers {
		if !h.Filter.Match(m) {
			continue
		}
		if h.Fn(m) {
			consumed = true
			if !m.Broadcast() {
				break
			}
		}
	}
	b.runHooks(m)
	return consumed
}

// Enqueue hands m to the bus asynchronously, freezing it first (spec.md
// §4.5 "enqueue() ... transfer ownership; the object freezes").
func (b *Bus) Enqueue(m *Message) {
	m.Freeze()
	select {
	case b.enqueueCh <- m:
	default:
		go b.Dispatch(m) // queue full: dispatch off-band rather than block the caller
	}
}

// InstallHook attaches a threaded queue hook, spinning up ThreadCount
// worker goroutines that call Hook's owner-supplied received callback.
func (b *Bus) InstallHook(h *Hook, received func(m *Message)) {
	if h.ThreadCount <= 0 {
		h.ThreadCount = 1
	}
	h.queue = make(chan *Message, 64)
	h.closing = make(chan struct{})

	for i := 0; i < h.ThreadCount; i++ {
		go func() {
			for {
				select {
				case m, ok := <-h.queue:
					if !ok {
						return
					}
					received(m)
					if h.TrapFn != nil && h.TrapThreshold > 0 && len(h.queue) >= h.TrapThreshold {
						h.once.Do(h.TrapFn)
					}
				case <-h.closing:
					return
				}
			}
		}()
	}

	b.mu.Lock()
	b.hooks = append(b.hooks, h)
	b.mu.Unlock()
}

// UninstallHook removes and stops hooks matching name.
func (b *Bus) UninstallHook(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.hooks[:0]
	for _, h := range b.hooks {
		if h.Name == name {
			h.stop()
			continue
		}
		out = append(out, h)
	}
	b.hooks = out
}

func (h *Hook) stop() {
	select {
	case <-h.closing:
	default:
		close(h.closing)
	}
}

func (b *Bus) runHooks(m *Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.hooks {
		if !h.Filter.Match(m) {
			continue
		}
		select {
		case h.queue <- m:
		default:
		}
	}
}
