// Package object implements the spec-specific object subtypes of
// spec.md §4.2 that go beyond plain ECMAScript objects: a POSIX-regex
// wrapper and a hash-order-iterating HashList, both exposed into the
// goja runtime as native objects. Grounded on the engine-binding
// namespace-injection pattern of system/tee/script_engine_sys.go
// (vm.NewObject() + native Go funcs installed via .Set).
package object

import (
	"regexp"

	"github.com/dop251/goja"
)

// Regex wraps a POSIX-flavored regular expression. ignoreCase and
// basicPosix are live: assigning either recompiles the pattern, per
// spec.md §4.2 "Regex object".
type Regex struct {
	vm          *goja.Runtime
	pattern     string
	ignoreCase  bool
	basicPosix  bool
	compiled    *regexp.Regexp
	compileErr  error
}

// NewRegex compiles pattern and returns a goja object exposing test(),
// valid, ignoreCase, basicPosix.
func NewRegex(vm *goja.Runtime, pattern string, ignoreCase, basicPosix bool) *goja.Object {
	r := &Regex{vm: vm, pattern: pattern, ignoreCase: ignoreCase, basicPosix: basicPosix}
	r.recompile()
	return r.bind()
}

func (r *Regex) recompile() {
	expr := r.pattern
	if r.basicPosix {
		expr = posixBasicToExtended(expr)
	}
	if r.ignoreCase {
		expr = "(?i)" + expr
	}
	r.compiled, r.compileErr = regexp.Compile(expr)
}

// posixBasicToExtended performs a minimal BRE->ERE translation for the
// common constructs used in call-routing scripts (\( \) \{ \} grouping
// escapes); scripts relying on exotic POSIX BRE features are out of
// scope, matching spec.md's treatment of the regex object as a thin
// wrapper rather than a full POSIX engine reimplementation.
func posixBasicToExtended(expr string) string {
	out := make([]byte, 0, len(expr))
	for i := 0; i < len(expr); i++ {
		if expr[i] == '\\' && i+1 < len(expr) {
			switch expr[i+1] {
			case '(', ')', '{', '}', '|', '+', '?':
				out = append(out, expr[i+1])
				i++
				continue
			}
		}
		out = append(out, expr[i])
	}
	return string(out)
}

func (r *Regex) bind() *goja.Object {
	obj := r.vm.NewObject()

	_ = obj.Set("test", func(call goja.FunctionCall) goja.Value {
		if r.compiled == nil {
			return r.vm.ToValue(false)
		}
		s := call.Argument(0).String()
		return r.vm.ToValue(r.compiled.MatchString(s))
	})

	_ = obj.DefineAccessorProperty("valid",
		r.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return r.vm.ToValue(r.compileErr == nil)
		}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	_ = obj.DefineAccessorProperty("ignoreCase",
		r.vm.ToValue(func(goja.FunctionCall) goja.Value { return r.vm.ToValue(r.ignoreCase) }),
		r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			r.ignoreCase = call.Argument(0).ToBoolean()
			r.recompile()
			return goja.Undefined()
		}), goja.FLAG_FALSE, goja.FLAG_TRUE)

	_ = obj.DefineAccessorProperty("basicPosix",
		r.vm.ToValue(func(goja.FunctionCall) goja.Value { return r.vm.ToValue(r.basicPosix) }),
		r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			r.basicPosix = call.Argument(0).ToBoolean()
			r.recompile()
			return goja.Undefined()
		}), goja.FLAG_FALSE, goja.FLAG_TRUE)

	_ = obj.Set("source", r.pattern)
	return obj
}
