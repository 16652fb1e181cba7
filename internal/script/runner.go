package script

import (
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/nullteam/softpbx/internal/scripterr"
)

// State mirrors spec.md §3's runner state machine.
type State int32

const (
	Invalid State = iota
	Running
	Incomplete
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Incomplete:
		return "Incomplete"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	default:
		return "Invalid"
	}
}

// WorkItem is spec.md §2's "Async work-item": a request to suspend the
// current run and resume after an OS primitive completes. Resume is run
// by the driver once the underlying wait (sleep, semaphore, DNS, blocking
// dispatch) has finished.
type WorkItem struct {
	Kind   string
	Resume func()
}

// Runner is spec.md §3's "Script runner": one logical thread of
// interpretation bound to a Context. Exactly one goroutine may call
// Execute/Call on a given Runner at a time (spec.md §5 "a runner may only
// be advanced by one thread at a time") — callers are responsible for
// that serialization; Runner itself only guards its own bookkeeping.
type Runner struct {
	ctx   *Context
	title string

	mu       sync.Mutex
	state    atomic.Int32
	traceID  string
	lastErr  error
	program  *Source
	async    []WorkItem
	stack    []goja.Value
}

// NewRunner returns a runner bound to ctx. title is a diagnostic label
// (spec.md §4.3 "createRunner(context|new, title)").
func NewRunner(ctx *Context, title string) *Runner {
	r := &Runner{ctx: ctx, title: title}
	r.state.Store(int32(Invalid))
	return r
}

// Context returns the runner's bound context.
func (r *Runner) Context() *Context { return r.ctx }

// Title returns the runner's diagnostic title.
func (r *Runner) Title() string { return r.title }

// State returns the runner's current state.
func (r *Runner) State() State { return State(r.state.Load()) }

// TraceID returns the runner's trace id, or "" if unset.
func (r *Runner) TraceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.traceID
}

// SetTraceID sets or clears (empty string) the runner's trace id, per
// spec.md §4.4 "setTraceId([id])".
func (r *Runner) SetTraceID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traceID = id
}

// LastError returns the last unrecoverable error observed, analogous to
// spec.md §7's thread-runtime "lastError()" for I/O failures.
func (r *Runner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Load binds an already-parsed source as the runner's top-level program,
// without yet executing it.
func (r *Runner) Load(source *Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.program = source
	r.state.Store(int32(Invalid))
}

// Pause marks the runner to hand control back to its driver after the
// current step, per spec.md §4.3 "pause()". Used by suspension-point
// bindings immediately before they block the calling goroutine on an
// async wait.
func (r *Runner) Pause() {
	r.state.Store(int32(Incomplete))
}

// PushWork appends an async work-item, recording the suspension for
// diagnostics; the native suspension point is expected to perform the
// actual blocking wait itself (see internal/binding/engine), since each
// Runner already owns a dedicated OS thread (spec.md §5) and Go has no
// primitive to suspend a goroutine mid-statement and resume it later on
// a different one. This is the one deliberate simplification from a
// literal single-step driver loop: a "step" here is a whole top-level
// Execute() or Call() invocation, not a single bytecode instruction —
// documented in DESIGN.md.
func (r *Runner) PushWork(item WorkItem) {
	r.mu.Lock()
	r.async = append(r.async, item)
	r.mu.Unlock()
}

// drainWork runs and clears any queued async work-items, in order.
func (r *Runner) drainWork() {
	r.mu.Lock()
	items := r.async
	r.async = nil
	r.mu.Unlock()

	for _, item := range items {
		if item.Resume != nil {
			item.Resume()
		}
	}
}

// Execute advances the runner. The loaded program is executed to
// completion on every call (see PushWork's doc for the step-granularity
// simplification); queued async work-items are then drained. Returns the
// resulting state, or Failed when no program is loaded.
func (r *Runner) Execute() State {
	r.mu.Lock()
	prog := r.program
	r.mu.Unlock()

	if prog == nil {
		r.state.Store(int32(Failed))
		return Failed
	}

	r.state.Store(int32(Running))
	result, err := r.ctx.vm.RunProgram(prog.Program)
	r.drainWork()

	if err != nil {
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		r.state.Store(int32(Failed))
		return Failed
	}

	r.mu.Lock()
	r.stack = append(r.stack, result)
	r.mu.Unlock()

	if State(r.state.Load()) == Incomplete {
		return Incomplete
	}
	r.state.Store(int32(Succeeded))
	return Succeeded
}

// Call invokes a named function on the runner's global object with args,
// per spec.md §4.3 "call(name, args)". The return value is both returned
// to the Go caller and left as the runner's top-of-stack value for
// callers that peek via Pop.
func (r *Runner) Call(name string, args ...interface{}) (goja.Value, error) {
	fnVal := r.ctx.vm.Get(name)
	if fnVal == nil || goja.IsUndefined(fnVal) {
		return goja.Undefined(), scripterr.MissingField(name, false)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return goja.Undefined(), scripterr.Argument(name, "not callable")
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = r.ctx.vm.ToValue(a)
	}

	r.state.Store(int32(Running))
	result, err := fn(goja.Undefined(), jsArgs...)
	r.drainWork()

	if err != nil {
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		r.state.Store(int32(Failed))
		return goja.Undefined(), err
	}

	r.mu.Lock()
	r.stack = append(r.stack, result)
	r.mu.Unlock()

	if State(r.state.Load()) != Incomplete {
		r.state.Store(int32(Succeeded))
	}
	return result, nil
}

// Pop removes and returns the top-of-stack value left by the most recent
// Call or Execute, or undefined if the stack is empty.
func (r *Runner) Pop() goja.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.stack)
	if n == 0 {
		return goja.Undefined()
	}
	v := r.stack[n-1]
	r.stack = r.stack[:n-1]
	return v
}

// Reset clears the runner's stack and, if init is true, re-runs the
// loaded program's top-level module initialization (spec.md §4.3
// "reset(init)").
func (r *Runner) Reset(init bool) {
	r.mu.Lock()
	r.stack = nil
	r.async = nil
	prog := r.program
	r.mu.Unlock()

	r.state.Store(int32(Invalid))
	if init && prog != nil {
		r.Execute()
	}
}
