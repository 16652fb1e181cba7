// Package script implements spec.md §4.3's interpreter and runner on top
// of the goja JavaScript engine (github.com/dop251/goja). Each Context is
// a shared global namespace (one per call or per global script); each
// Runner is one logical thread of interpretation bound to a Context and,
// per spec.md §5, is advanced by exactly one OS thread at a time — here,
// the dedicated thread-runtime Handle the runner's driver spawned it on.
package script

import (
	"sync"

	"github.com/dop251/goja"

	"github.com/nullteam/softpbx/internal/diag"
)

// Context is spec.md §3's "Script context": a shared global namespace
// owning a mutex and hosting object-allocation accounting. The mutex is
// a plain sync.Mutex and is not recursive; callers must not re-enter
// Lock from code already holding it.
type Context struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	name    string
	tracker *diag.Tracker

	globals map[string]goja.Value
}

// NewContext creates a Context with a fresh goja.Runtime and an
// allocation tracker registered under name.
func NewContext(name string) *Context {
	return &Context{
		vm:      goja.New(),
		name:    name,
		tracker: diag.NewTracker(name, nil),
		globals: make(map[string]goja.Value),
	}
}

// VM returns the underlying goja.Runtime for binding installation.
func (c *Context) VM() *goja.Runtime { return c.vm }

// Name returns the context's diagnostic name.
func (c *Context) Name() string { return c.name }

// Tracker returns the context's allocation tracker (spec.md §4.10).
func (c *Context) Tracker() *diag.Tracker { return c.tracker }

// Lock acquires the context's mutex; properties of objects owned by this
// context must be mutated only while holding it (spec.md §5 "Shared
// resources").
func (c *Context) Lock() { c.mu.Lock() }

// Unlock releases the context's mutex.
func (c *Context) Unlock() { c.mu.Unlock() }

// SetGlobal installs a named value into the context's global object and
// records it for Reset to replay.
func (c *Context) SetGlobal(name string, v goja.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globals[name] = v
	_ = c.vm.Set(name, v)
}
