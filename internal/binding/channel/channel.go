// Package channel implements spec.md §4.6's Channel binding: per-call
// identity/control surface exposed to scripts, with callTo/callJust/
// hangup behavior that depends on the owning assistant's current state.
package channel

import (
	"github.com/dop251/goja"

	"github.com/nullteam/softpbx/internal/bus"
)

// State mirrors the call-assistant states relevant to Channel's
// state-dependent operations (spec.md §4.7).
type State int

const (
	NotStarted State = iota
	Routing
	ReRoute
	Hangup
	Ended
)

// Call is the minimal call-leg surface a Channel binds to; callassist.Call
// satisfies this.
type Call interface {
	ID() string
	PeerID() string
	Status() string
	Direction() string
	Answered() bool
	Answer() error
	HangupLeg(peer bool, reason string, params map[string]string) error
	PlayFile(path string) error
	RecFile(path string) error
}

// Owner is the subset of the call-assistant the Channel binding calls
// back into for state-dependent callTo/callJust behavior.
type Owner interface {
	State() State
	SetState(State)
	CurrentMessage() *bus.Message
	EmitExecute(target string, params map[string]string)
}

// Binding installs a Channel constructor producing objects bound to a
// single Call + Owner pair (one per routing invocation, per spec.md
// §4.6/§4.7).
type Binding struct{}

// NewBinding returns a Binding.
func NewBinding() *Binding { return &Binding{} }

// Wrap builds a goja object exposing call's and owner's state-dependent
// surface, for injection as the script's `Channel` global.
func (b *Binding) Wrap(vm *goja.Runtime, call Call, owner Owner) *goja.Object {
	obj := vm.NewObject()

	_ = obj.Set("id", func(c goja.FunctionCall) goja.Value { return vm.ToValue(call.ID()) })
	_ = obj.Set("peerid", func(c goja.FunctionCall) goja.Value { return vm.ToValue(call.PeerID()) })
	_ = obj.Set("status", func(c goja.FunctionCall) goja.Value { return vm.ToValue(call.Status()) })
	_ = obj.Set("direction", func(c goja.FunctionCall) goja.Value { return vm.ToValue(call.Direction()) })
	_ = obj.Set("answered", func(c goja.FunctionCall) goja.Value { return vm.ToValue(call.Answered()) })

	_ = obj.Set("answer", func(c goja.FunctionCall) goja.Value {
		return vm.ToValue(call.Answer() == nil)
	})

	_ = obj.Set("hangup", func(c goja.FunctionCall) goja.Value {
		reason := ""
		if len(c.Arguments) > 0 {
			reason = c.Argument(0).String()
		}
		var params map[string]string
		if len(c.Arguments) > 1 {
			if pobj, ok := c.Argument(1).(*goja.Object); ok {
				params = make(map[string]string)
				for _, k := range pobj.Keys() {
					params[k] = pobj.Get(k).String()
				}
			}
		}
		peer := len(c.Arguments) > 2 && c.Argument(2).ToBoolean()
		owner.SetState(Hangup)
		return vm.ToValue(call.HangupLeg(peer, reason, params) == nil)
	})

	_ = obj.Set("callTo", func(c goja.FunctionCall) goja.Value {
		return vm.ToValue(b.callRoute(vm, call, owner, c, false))
	})
	_ = obj.Set("callJust", func(c goja.FunctionCall) goja.Value {
		ok := b.callRoute(vm, call, owner, c, true)
		owner.SetState(Ended)
		return vm.ToValue(ok)
	})

	_ = obj.Set("playFile", func(c goja.FunctionCall) goja.Value {
		return vm.ToValue(call.PlayFile(c.Argument(0).String()) == nil)
	})
	_ = obj.Set("recFile", func(c goja.FunctionCall) goja.Value {
		return vm.ToValue(call.RecFile(c.Argument(0).String()) == nil)
	})

	return obj
}

// callRoute implements spec.md §4.6's Routing/ReRoute split for
// callTo/callJust.
func (b *Binding) callRoute(vm *goja.Runtime, call Call, owner Owner, c goja.FunctionCall, just bool) bool {
	target := c.Argument(0).String()

	overrides := map[string]string{}
	if len(c.Arguments) > 1 {
		if pobj, ok := c.Argument(1).(*goja.Object); ok {
			for _, k := range pobj.Keys() {
				overrides[k] = pobj.Get(k).String()
			}
		}
	}

	switch owner.State() {
	case Routing:
		if m := owner.CurrentMessage(); m != nil {
			m.RetValue(target)
		}
		return true
	case ReRoute:
		owner.EmitExecute(target, overrides)
		return true
	default:
		return false
	}
}
