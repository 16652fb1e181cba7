// Package message implements spec.md §4.5's Message binding: a goja
// constructor and per-instance accessors wrapping internal/bus.Message,
// plus install/uninstall/handlers and the threaded-queue-hook surface.
package message

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/nullteam/softpbx/internal/bus"
	"github.com/nullteam/softpbx/internal/logging"
	"github.com/nullteam/softpbx/internal/script"
)

// Binding wires a Message constructor into a script context, backed by
// a shared Bus.
type Binding struct {
	Bus    *bus.Bus
	Logger *logging.Logger
}

// NewBinding returns a Binding over b.
func NewBinding(b *bus.Bus) *Binding {
	return &Binding{Bus: b, Logger: logging.NewDefault("message")}
}

// Wrap builds a fresh goja object exposing m's accessors bound to r's
// context, for passing a message as an entry-point call argument
// (spec.md §4.7 "the message is wrapped ... for the handler's
// lifetime"). Unlike the constructor path, no `this` is supplied by a
// `new` expression, so a bare object is allocated here.
func (bd *Binding) Wrap(r *script.Runner, m *bus.Message) *goja.Object {
	return bd.wrap(r, m, r.Context().VM().NewObject())
}

// Install attaches the Message constructor to r's context.
func (bd *Binding) Install(r *script.Runner) {
	vm := r.Context().VM()

	ctor := func(call goja.ConstructorCall) *goja.Object {
		name := call.Argument(0).String()
		broadcast := call.Argument(1).ToBoolean()

		initial := map[string]string{}
		if len(call.Arguments) > 2 {
			if obj, ok := call.Argument(2).(*goja.Object); ok {
				for _, k := range obj.Keys() {
					initial[k] = obj.Get(k).String()
				}
			}
		}

		m := bus.NewMessage(name, broadcast, initial)
		m.SetTraceID(r.TraceID())
		return bd.wrap(r, m, call.This)
	}

	_ = vm.Set("Message", ctor)
}

// wrap installs the instance-level methods/properties for m onto obj
// (the goja-allocated `this` for a `new Message(...)` call, or a fresh
// object for handler re-entry — spec.md §4.5 "Handler re-entry").
func (bd *Binding) wrap(r *script.Runner, m *bus.Message, obj *goja.Object) *goja.Object {
	vm := r.Context().VM()

	_ = obj.Set("name", func(call goja.FunctionCall) goja.Value { return vm.ToValue(m.Name()) })
	_ = obj.Set("broadcast", func(call goja.FunctionCall) goja.Value { return vm.ToValue(m.Broadcast()) })

	_ = obj.Set("retValue", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			return vm.ToValue(m.RetValue(call.Argument(0).String()))
		}
		return vm.ToValue(m.RetValue())
	})

	_ = obj.Set("msgAge", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(m.MsgAge().Milliseconds())
	})

	_ = obj.Set("msgTime", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			if ms, ok := call.Argument(0).Export().(int64); ok {
				return vm.ToValue(m.MsgTime(time.UnixMilli(ms)).UnixMilli())
			}
		}
		return vm.ToValue(m.MsgTime().UnixMilli())
	})

	var trackedName string
	var trackedWithPrio bool
	_ = obj.Set("trackName", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			trackedName = call.Argument(0).String()
			trackedWithPrio = len(call.Arguments) > 1 && call.Argument(1).ToBoolean()
		}
		return vm.ToValue(trackedName)
	})

	var traceMsgN int
	_ = obj.Set("trace", func(call goja.FunctionCall) goja.Value {
		retVal := call.Argument(0)
		if len(call.Arguments) < 2 {
			return retVal
		}
		// Mixes positional level parsing with the trailing free-form
		// text args; levels outside [Fail, All] are silently dropped
		// rather than clamped, matching the source this was distilled
		// from (spec.md §9 edge case).
		level := logging.Level(call.Argument(1).ToInteger())
		if level < logging.Fail || level > logging.All {
			return retVal
		}
		text := joinValues(call.Arguments[2:])
		bd.Logger.Emit(level, m.TraceID(), text)
		if m.TraceID() != "" {
			traceMsgN++
			m.SetParam(fmt.Sprintf("trace_msg_%d", traceMsgN), text)
		}
		return retVal
	})

	_ = obj.Set("getParam", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		def := call.Argument(1).String()
		return vm.ToValue(m.GetParam(name, def))
	})
	_ = obj.Set("setParam", func(call goja.FunctionCall) goja.Value {
		m.SetParam(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = obj.Set("clearParam", func(call goja.FunctionCall) goja.Value {
		m.ClearParam(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = obj.Set("copyParams", func(call goja.FunctionCall) goja.Value {
		src, ok := call.Argument(0).(*goja.Object)
		if !ok {
			return goja.Undefined()
		}
		data := make(map[string]string)
		for _, k := range src.Keys() {
			data[k] = src.Get(k).String()
		}
		m.CopyParams(data, call.Argument(1).String(), nil)
		return goja.Undefined()
	})

	_ = obj.Set("getColumn", func(call goja.FunctionCall) goja.Value {
		idx := int(call.Argument(0).ToInteger())
		col, ok := m.GetColumn(idx)
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(col)
	})
	_ = obj.Set("getRow", func(call goja.FunctionCall) goja.Value {
		idx := int(call.Argument(0).ToInteger())
		row, ok := m.GetRow(idx)
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(row)
	})
	_ = obj.Set("getResult", func(call goja.FunctionCall) goja.Value {
		row := int(call.Argument(0).ToInteger())
		col := int(call.Argument(1).ToInteger())
		v, ok := m.GetResult(row, col)
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(v)
	})

	_ = obj.Set("enqueue", func(call goja.FunctionCall) goja.Value {
		bd.Bus.Enqueue(m)
		return goja.Undefined()
	})

	_ = obj.Set("dispatch", func(call goja.FunctionCall) goja.Value {
		async := call.Argument(0).ToBoolean()
		if !async {
			return vm.ToValue(bd.Bus.Dispatch(m))
		}
		r.Pause()
		// Async dispatch is modeled by dispatching synchronously on the
		// runner's own dedicated OS thread (see internal/binding/engine's
		// suspend doc) rather than deferring to a separate driver tick.
		consumed := bd.Bus.Dispatch(m)
		return vm.ToValue(consumed)
	})

	_ = obj.Set("install", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return vm.ToValue(false)
		}
		name := call.Argument(1).String()
		priority := int(call.Argument(2).ToInteger())
		if name == "" && trackedName != "" {
			name = trackedName
			if trackedWithPrio {
				name = fmt.Sprintf("%s:%d", name, priority)
			}
		}

		var filter *bus.Filter
		if len(call.Arguments) > 4 {
			filter = compileFilter(call.Argument(3).String(), call.Argument(4).String())
		}

		bd.Bus.Install(&bus.Handler{
			Name:     name,
			Priority: priority,
			Filter:   filter,
			Fn: func(hm *bus.Message) bool {
				return bd.deliverToHandler(r, fn, hm)
			},
		})
		return vm.ToValue(true)
	})

	_ = obj.Set("uninstall", func(call goja.FunctionCall) goja.Value {
		bd.Bus.Uninstall(call.Argument(0).String())
		return goja.Undefined()
	})

	_ = obj.Set("installHook", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return vm.ToValue(false)
		}
		name := call.Argument(1).String()
		threadCount := int(call.Argument(2).ToInteger())

		filterIdx := 3
		var trapFn func()
		trapThreshold := 0
		if trapVal, ok := goja.AssertFunction(call.Argument(3)); ok {
			trapThreshold = int(call.Argument(4).ToInteger())
			trapFn = func() {
				r.Context().Lock()
				defer r.Context().Unlock()
				_, _ = trapVal(goja.Undefined())
			}
			filterIdx = 5
		}

		var filter *bus.Filter
		if len(call.Arguments) > filterIdx+1 {
			filter = compileFilter(call.Argument(filterIdx).String(), call.Argument(filterIdx+1).String())
		}

		bd.Bus.InstallHook(&bus.Hook{
			Name:          name,
			Filter:        filter,
			ThreadCount:   threadCount,
			TrapFn:        trapFn,
			TrapThreshold: trapThreshold,
		}, func(hm *bus.Message) {
			bd.deliverToHandler(r, fn, hm)
		})
		return vm.ToValue(true)
	})

	_ = obj.Set("uninstallHook", func(call goja.FunctionCall) goja.Value {
		bd.Bus.UninstallHook(call.Argument(0).String())
		return goja.Undefined()
	})

	_ = obj.Set("handlers", func(call goja.FunctionCall) goja.Value {
		pattern := call.Argument(0).String()
		handlers := bd.Bus.Handlers(pattern)
		names := make([]string, len(handlers))
		for i, h := range handlers {
			names[i] = h.Name
		}
		return vm.ToValue(names)
	})

	return obj
}

// compileFilter builds a literal-or-regex filter from a script's
// (filterName, filterValue) pair, per spec.md §4.5/§6.
func compileFilter(name, value string) *bus.Filter {
	if name == "" {
		return nil
	}
	if re, err := regexp.Compile(value); err == nil && looksLikeRegex(value) {
		return &bus.Filter{ParamName: name, Regex: re}
	}
	return &bus.Filter{ParamName: name, Literal: value}
}

func joinValues(vals []goja.Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, " ")
}

func looksLikeRegex(v string) bool {
	for _, c := range v {
		switch c {
		case '^', '$', '*', '+', '?', '(', ')', '[', ']', '|', '\\':
			return true
		}
	}
	return false
}

// deliverToHandler implements spec.md §4.5's "Handler re-entry": wraps m
// as a fresh JS object bound to owner's context, invokes the installed
// handler function with it, and interprets a truthy return as "message
// consumed" (the handler stops further dispatch unless m is a broadcast).
func (bd *Binding) deliverToHandler(owner *script.Runner, fn func(this goja.Value, args ...goja.Value) (goja.Value, error), m *bus.Message) bool {
	vm := owner.Context().VM()
	obj := bd.wrap(owner, m, vm.NewObject())

	owner.Context().Lock()
	defer owner.Context().Unlock()

	ret, err := fn(goja.Undefined(), vm.ToValue(obj))
	if err != nil {
		return false
	}
	return ret.ToBoolean()
}
