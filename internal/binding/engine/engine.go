// Package engine implements spec.md §4.4's Engine binding: the script-
// facing surface over logging, sleep primitives, codecs, shared vars,
// config factory, timed callbacks, and plugin/lib loaders. Grounded on
// the vm.NewObject()/.Set(name, nativeFunc) namespace-injection idiom of
// system/tee/script_engine_sys.go's setupConsole/setupSecrets/setupSysAPI.
package engine

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/nullteam/softpbx/internal/admission"
	"github.com/nullteam/softpbx/internal/cache"
	"github.com/nullteam/softpbx/internal/codec"
	"github.com/nullteam/softpbx/internal/logging"
	"github.com/nullteam/softpbx/internal/script"
	"github.com/nullteam/softpbx/internal/sharedstore"
	"github.com/nullteam/softpbx/internal/thread"
	"github.com/nullteam/softpbx/internal/timer"
)

// Binding holds the process-wide collaborators the Engine namespace
// exposes to every script context: shared vars, call-admission gate,
// logger, timer worker, and process start time for uptime().
type Binding struct {
	Shared    *sharedstore.Store
	Admission *admission.Gate
	Logger    *logging.Logger
	Timer     *timer.Worker
	Started   time.Time

	AbortsDisabled  bool
	AllowPluginLoad bool
	ExitingFlag     bool
	RunParams       map[string]string
	ConfigFileFn    func(name string, user bool) string

	// AllowRestart gates restart(); RestartFn, when set, is the host's
	// actual shutdown/respawn trigger. InitFn backs init([module]),
	// re-initializing one module or (module=="") every module.
	AllowRestart bool
	RestartFn    func(code int, graceful bool)
	InitFn       func(module string) bool

	Name         string
	DebugLevel   logging.Level
	DebugEnabled bool

	// LibsPath is where loadLibrary resolves bare library names.
	LibsPath string
	// libCache holds previously-read library source text, keyed by
	// resolved path, so repeated loadLibrary(name) calls across many
	// per-call runners don't re-stat/re-read the same file.
	libCache *cache.Cache

	pluginMu sync.Mutex
	plugins  map[string]bool
}

// NewBinding constructs a Binding with fresh collaborators.
func NewBinding() *Binding {
	return &Binding{
		Shared:       sharedstore.New(),
		Admission:    admission.New(admission.DefaultConfig()),
		Logger:       logging.NewDefault("engine"),
		Timer:        timer.NewWorker(),
		Started:      time.Now(),
		RunParams:    make(map[string]string),
		AllowRestart: true,
		Name:         "engine",
		DebugLevel:   logging.Info,
		DebugEnabled: true,
		libCache:     cache.New(cache.DefaultConfig()),
		plugins:      make(map[string]bool),
	}
}

// Install attaches the Engine namespace object to r's context, keyed as
// the global "Engine" per spec.md §4.4.
func (b *Binding) Install(r *script.Runner) {
	vm := r.Context().VM()
	obj := vm.NewObject()

	_ = obj.Set("output", func(call goja.FunctionCall) goja.Value {
		b.emit(r, logging.Info, joinArgs(call))
		return goja.Undefined()
	})

	_ = obj.Set("debug", func(call goja.FunctionCall) goja.Value {
		level, rest := splitLevel(call)
		level = b.clampLevel(level)
		b.emit(r, level, joinValues(rest))
		return goja.Undefined()
	})

	_ = obj.Set("trace", func(call goja.FunctionCall) goja.Value {
		b.emitTraced(r, logging.Info, call)
		return goja.Undefined()
	})
	_ = obj.Set("traceDebug", func(call goja.FunctionCall) goja.Value {
		level, rest := splitLevel(call)
		b.emitTraced(r, b.clampLevel(level), fnCall(rest))
		return goja.Undefined()
	})
	_ = obj.Set("alarm", func(call goja.FunctionCall) goja.Value {
		b.emit(r, logging.Warn, joinArgs(call))
		return goja.Undefined()
	})
	_ = obj.Set("traceAlarm", func(call goja.FunctionCall) goja.Value {
		b.emitTraced(r, logging.Warn, call)
		return goja.Undefined()
	})

	_ = obj.Set("debugName", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			b.Name = call.Argument(0).String()
		}
		return vm.ToValue(b.Name)
	})
	_ = obj.Set("debugLevel", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			b.DebugLevel = b.clampLevel(logging.Level(call.Argument(0).ToInteger()))
		}
		return vm.ToValue(int(b.DebugLevel))
	})
	_ = obj.Set("debugEnabled", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			b.DebugEnabled = call.Argument(0).ToBoolean()
		}
		return vm.ToValue(b.DebugEnabled)
	})
	_ = obj.Set("debugAt", func(call goja.FunctionCall) goja.Value {
		level := b.clampLevel(logging.Level(call.Argument(0).ToInteger()))
		return vm.ToValue(b.DebugEnabled && level <= b.DebugLevel)
	})
	_ = obj.Set("setDebug", func(call goja.FunctionCall) goja.Value {
		command := call.Argument(0).String()
		switch command {
		case "on":
			b.DebugEnabled = true
		case "off":
			b.DebugEnabled = false
		default:
			b.DebugLevel = b.clampLevel(logging.ParseLevel(command))
		}
		return goja.Undefined()
	})

	_ = obj.Set("dump_r", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(dumpValue(call.Argument(0), false))
	})
	_ = obj.Set("print_r", func(call goja.FunctionCall) goja.Value {
		b.emit(r, logging.Info, dumpValue(call.Argument(0), false))
		return goja.Undefined()
	})
	_ = obj.Set("dump_var_r", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(dumpValue(call.Argument(0), true))
	})
	_ = obj.Set("print_var_r", func(call goja.FunctionCall) goja.Value {
		b.emit(r, logging.Info, dumpValue(call.Argument(0), true))
		return goja.Undefined()
	})
	_ = obj.Set("dump_root_r", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(dumpValue(vm.GlobalObject(), false))
	})
	_ = obj.Set("print_root_r", func(call goja.FunctionCall) goja.Value {
		b.emit(r, logging.Info, dumpValue(vm.GlobalObject(), false))
		return goja.Undefined()
	})
	_ = obj.Set("dump_t", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(fmt.Sprintf("%T", call.Argument(0).Export()))
	})
	_ = obj.Set("print_t", func(call goja.FunctionCall) goja.Value {
		b.emit(r, logging.Info, fmt.Sprintf("%T", call.Argument(0).Export()))
		return goja.Undefined()
	})

	_ = obj.Set("setTraceId", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		if goja.IsUndefined(call.Argument(0)) {
			id = ""
		}
		r.SetTraceID(id)
		return goja.Undefined()
	})

	_ = obj.Set("sleep", func(call goja.FunctionCall) goja.Value {
		secs := call.Argument(0).ToFloat()
		if secs > math.MaxInt32 {
			secs = math.MaxInt32
		}
		return vm.ToValue(b.suspend(r, time.Duration(secs*float64(time.Second))))
	})
	_ = obj.Set("usleep", func(call goja.FunctionCall) goja.Value {
		usec := call.Argument(0).ToInteger()
		return vm.ToValue(b.suspend(r, time.Duration(usec)*time.Microsecond))
	})
	_ = obj.Set("yield", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(b.suspend(r, 0))
	})
	_ = obj.Set("idle", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(b.suspend(r, 0))
	})

	_ = obj.Set("uptime", func(call goja.FunctionCall) goja.Value {
		elapsed := time.Since(b.Started)
		if len(call.Arguments) > 1 && call.Argument(1).ToBoolean() {
			return vm.ToValue(elapsed.Milliseconds())
		}
		return vm.ToValue(elapsed.Seconds())
	})
	_ = obj.Set("started", func(call goja.FunctionCall) goja.Value { return vm.ToValue(true) })
	_ = obj.Set("exiting", func(call goja.FunctionCall) goja.Value { return vm.ToValue(b.ExitingFlag) })
	_ = obj.Set("accepting", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			b.Admission.SetState(admission.State(call.Argument(0).ToInteger()))
		}
		return vm.ToValue(b.Admission.Allow())
	})

	_ = obj.Set("runParams", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			key := call.Argument(0).String()
			return vm.ToValue(b.RunParams[key])
		}
		return vm.ToValue(b.RunParams)
	})

	_ = obj.Set("configFile", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		user := call.Argument(1).ToBoolean()
		if b.ConfigFileFn != nil {
			return vm.ToValue(b.ConfigFileFn(name, user))
		}
		return vm.ToValue(name)
	})

	_ = obj.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return b.schedule(r, call, true)
	})
	_ = obj.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return b.schedule(r, call, false)
	})
	_ = obj.Set("clearInterval", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(b.Timer.Clear(call.Argument(0).ToInteger()))
	})
	_ = obj.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(b.Timer.Clear(call.Argument(0).ToInteger()))
	})

	_ = obj.Set("loadLibrary", func(call goja.FunctionCall) goja.Value {
		if !b.AllowPluginLoad {
			return vm.ToValue(false)
		}
		name := call.Argument(0).String()
		ok := b.loadLibrarySource(r, name)
		if ok {
			b.markPlugin(name)
		}
		return vm.ToValue(ok)
	})
	_ = obj.Set("loadObject", func(call goja.FunctionCall) goja.Value {
		if !b.AllowPluginLoad {
			return vm.ToValue(false)
		}
		b.markPlugin(call.Argument(0).String())
		return vm.ToValue(true)
	})
	_ = obj.Set("pluginLoaded", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(b.isPluginLoaded(call.Argument(0).String()))
	})

	_ = obj.Set("replaceParams", func(call goja.FunctionCall) goja.Value {
		text := call.Argument(0).String()
		src := call.Argument(1).Export()
		sqlEscape := call.Argument(2).ToBoolean()
		extraEscape := call.Argument(3).String()
		return vm.ToValue(replaceParams(text, src, sqlEscape, extraEscape))
	})

	_ = obj.Set("restart", func(call goja.FunctionCall) goja.Value {
		if !b.AllowRestart || b.RestartFn == nil {
			return vm.ToValue(false)
		}
		code := int(call.Argument(0).ToInteger())
		graceful := len(call.Arguments) < 2 || call.Argument(1).ToBoolean()
		b.RestartFn(code, graceful)
		return vm.ToValue(true)
	})
	_ = obj.Set("init", func(call goja.FunctionCall) goja.Value {
		if b.InitFn == nil {
			return vm.ToValue(true)
		}
		module := ""
		if len(call.Arguments) > 0 {
			module = call.Argument(0).String()
		}
		return vm.ToValue(b.InitFn(module))
	})

	_ = obj.Set("atob", func(call goja.FunctionCall) goja.Value {
		out, err := codec.Atob(call.Argument(0).String())
		if err != nil {
			return goja.Undefined()
		}
		return vm.ToValue(string(out))
	})
	_ = obj.Set("btoa", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(codec.Btoa([]byte(call.Argument(0).String())))
	})
	_ = obj.Set("atoh", func(call goja.FunctionCall) goja.Value {
		out, err := codec.Atoh(call.Argument(0).String())
		if err != nil {
			return goja.Undefined()
		}
		return vm.ToValue(out)
	})
	_ = obj.Set("htoa", func(call goja.FunctionCall) goja.Value {
		out, err := codec.Htoa(call.Argument(0).String())
		if err != nil {
			return goja.Undefined()
		}
		return vm.ToValue(out)
	})
	_ = obj.Set("btoh", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(codec.Btoh([]byte(call.Argument(0).String())))
	})
	_ = obj.Set("htob", func(call goja.FunctionCall) goja.Value {
		out, err := codec.Htob(call.Argument(0).String())
		if err != nil {
			return goja.Undefined()
		}
		return vm.ToValue(string(out))
	})

	_ = obj.Set("shared", b.bindShared(vm))

	_ = vm.Set("Engine", obj)
}

func (b *Binding) bindShared(vm *goja.Runtime) *goja.Object {
	shared := vm.NewObject()
	_ = shared.Set("get", func(call goja.FunctionCall) goja.Value {
		v, _ := b.Shared.Get(call.Argument(0).String())
		return vm.ToValue(v)
	})
	_ = shared.Set("set", func(call goja.FunctionCall) goja.Value {
		b.Shared.Set(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = shared.Set("exists", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(b.Shared.Exists(call.Argument(0).String()))
	})
	_ = shared.Set("clear", func(call goja.FunctionCall) goja.Value {
		b.Shared.Clear(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = shared.Set("inc", func(call goja.FunctionCall) goja.Value {
		modulus := int64(0)
		if len(call.Arguments) > 2 {
			modulus = call.Argument(2).ToInteger()
		}
		delta := int64(1)
		if len(call.Arguments) > 1 {
			delta = call.Argument(1).ToInteger()
		}
		return vm.ToValue(b.Shared.Inc(call.Argument(0).String(), delta, modulus))
	})
	_ = shared.Set("dec", func(call goja.FunctionCall) goja.Value {
		modulus := int64(0)
		if len(call.Arguments) > 2 {
			modulus = call.Argument(2).ToInteger()
		}
		delta := int64(1)
		if len(call.Arguments) > 1 {
			delta = call.Argument(1).ToInteger()
		}
		return vm.ToValue(b.Shared.Dec(call.Argument(0).String(), delta, modulus))
	})
	return shared
}

// loadLibrarySource reads name (resolved against LibsPath, with a
// ".js" suffix assumed if absent), compiles it, and runs its top-level
// on r's context so the library's globals become visible to the
// calling script. Source text is cached by resolved path to spare
// repeated disk reads across the many per-call runners that share one
// LibsPath.
func (b *Binding) loadLibrarySource(r *script.Runner, name string) bool {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.LibsPath, name)
	}
	if filepath.Ext(path) == "" {
		path += ".js"
	}

	var source []byte
	if cached, ok := b.libCache.Get(path); ok {
		source = cached.([]byte)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		source = data
		b.libCache.Set(path, data, 0)
	}

	parsed, err := script.Parse(source, path, 0, b.LibsPath, b.LibsPath)
	if err != nil {
		return false
	}
	r.Load(parsed)
	return r.Execute() != script.Failed
}

func (b *Binding) markPlugin(name string) {
	b.pluginMu.Lock()
	defer b.pluginMu.Unlock()
	b.plugins[name] = true
}

func (b *Binding) isPluginLoaded(name string) bool {
	b.pluginMu.Lock()
	defer b.pluginMu.Unlock()
	return b.plugins[name]
}

// suspend is the native implementation of every cooperative suspension
// point (spec.md §4.3): it marks the runner Incomplete via Pause(), then
// actually blocks the calling goroutine — which, per spec.md §5, is
// already the one dedicated OS thread driving this runner — for d,
// returning true if cancellation was observed. See internal/script's
// Runner.PushWork doc for why this collapses "pause + later resume" into
// one blocking call rather than a literal two-phase driver loop.
func (b *Binding) suspend(r *script.Runner, d time.Duration) bool {
	r.Pause()
	h := thread.Current()
	exited := thread.Sleep(h, d, true)
	return exited
}

func (b *Binding) schedule(r *script.Runner, call goja.FunctionCall, repeat bool) goja.Value {
	vm := r.Context().VM()
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return goja.Undefined()
	}
	ms := call.Argument(1).ToInteger()
	extra := make([]interface{}, 0)
	for _, a := range call.Arguments[2:] {
		extra = append(extra, a.Export())
	}

	cb := func(args []interface{}) {
		jsArgs := make([]goja.Value, len(args))
		for i, a := range args {
			jsArgs[i] = vm.ToValue(a)
		}
		_, _ = fn(goja.Undefined(), jsArgs...)
	}

	var id int64
	if repeat {
		id = b.Timer.SetInterval(cb, ms, extra...)
	} else {
		id = b.Timer.SetTimeout(cb, ms, extra...)
	}
	return vm.ToValue(id)
}

func (b *Binding) emit(r *script.Runner, level logging.Level, msg string) {
	b.Logger.Emit(level, r.TraceID(), msg)
}

func (b *Binding) emitTraced(r *script.Runner, level logging.Level, call goja.FunctionCall) {
	b.emit(r, level, joinArgs(call))
}

func (b *Binding) clampLevel(level logging.Level) logging.Level {
	if b.AbortsDisabled {
		return level.Clamp(logging.Conf, logging.All)
	}
	return level.Clamp(logging.Fail, logging.All)
}

func joinArgs(call goja.FunctionCall) string {
	return joinValues(call.Arguments)
}

// dumpValue renders v for the dump_r/print_r diagnostic family. named
// requests the dump_var_r/print_var_r variant, which prefixes each
// top-level key with its name instead of rendering a bare value tree.
func dumpValue(v goja.Value, named bool) string {
	exported := v.Export()
	if named {
		if m, ok := exported.(map[string]interface{}); ok {
			parts := make([]string, 0, len(m))
			for k, val := range m {
				parts = append(parts, fmt.Sprintf("%s: %v", k, val))
			}
			return strings.Join(parts, "\n")
		}
	}
	return fmt.Sprintf("%+v", exported)
}

func joinValues(vals []goja.Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, " ")
}

func fnCall(vals []goja.Value) goja.FunctionCall {
	return goja.FunctionCall{Arguments: vals}
}

func splitLevel(call goja.FunctionCall) (logging.Level, []goja.Value) {
	if len(call.Arguments) == 0 {
		return logging.Info, nil
	}
	if n, ok := call.Argument(0).Export().(int64); ok {
		return logging.Level(n), call.Arguments[1:]
	}
	return logging.Info, call.Arguments
}

// replaceParams implements spec.md §4.4's `${…}` template substitution
// from a name-value source, with optional SQL and extra-char escaping.
func replaceParams(text string, src interface{}, sqlEscape bool, extraEscape string) string {
	lookup := func(name string) (string, bool) {
		m, ok := src.(map[string]interface{})
		if !ok {
			return "", false
		}
		v, ok := m[name]
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%v", v), true
	}

	var out strings.Builder
	i := 0
	for i < len(text) {
		if text[i] == '$' && i+1 < len(text) && text[i+1] == '{' {
			end := strings.IndexByte(text[i+2:], '}')
			if end >= 0 {
				name := text[i+2 : i+2+end]
				if v, ok := lookup(name); ok {
					out.WriteString(escapeParam(v, sqlEscape, extraEscape))
					i += 2 + end + 1
					continue
				}
			}
		}
		out.WriteByte(text[i])
		i++
	}
	return out.String()
}

func escapeParam(v string, sqlEscape bool, extraEscape string) string {
	if sqlEscape {
		v = strings.ReplaceAll(v, "'", "''")
	}
	for _, c := range extraEscape {
		v = strings.ReplaceAll(v, string(c), "\\"+string(c))
	}
	return v
}
