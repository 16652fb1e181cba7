// Package callassist implements spec.md §4.7's call-assistant manager:
// the channel-id → assistant map, the assistant state machine, and the
// bridge from bus events to script entry points. Grounded on the same
// message/filter dispatch idiom as internal/bus, generalized here to
// drive a per-channel script.Runner instead of a plain handler func.
package callassist

import (
	"sync"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/nullteam/softpbx/internal/binding/channel"
	"github.com/nullteam/softpbx/internal/binding/message"
	"github.com/nullteam/softpbx/internal/bus"
	"github.com/nullteam/softpbx/internal/script"
)

// Entry names spec.md §4.7 recognizes as JS-side script functions.
const (
	EntryStartup      = "onStartup"
	EntryPreroute     = "onPreroute"
	EntryRoute        = "onRoute"
	EntryExecute      = "onExecute"
	EntryRinging      = "onRinging"
	EntryAnswered     = "onAnswered"
	EntryDisconnected = "onDisconnected"
	EntryHangup       = "onHangup"
	EntryPostExecute  = "onPostExecute"
	EntryUnload       = "onUnload"
)

// Assistant is one channel's script.Runner plus its state-machine
// position (spec.md §3 "Per-call assistant").
type Assistant struct {
	mu sync.Mutex

	channelID string
	runner    *script.Runner
	call      channel.Call
	state     channel.State
	bus       *bus.Bus

	currentMsg *bus.Message
	handled    bool
}

// State implements channel.Owner.
func (a *Assistant) State() channel.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetState implements channel.Owner, enforcing spec.md §3's monotonic
// ordering invariant {NotStarted, Routing, ReRoute, Ended, Hangup}.
// Hangup and Ended are both reachable from any non-terminal state, and
// once either is reached no further transition is accepted.
func (a *Assistant) SetState(s channel.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	terminal := a.state == channel.Hangup || a.state == channel.Ended
	if terminal {
		return
	}
	if s < a.state && s != channel.Hangup && s != channel.Ended {
		return
	}
	a.state = s
}

// CurrentMessage implements channel.Owner.
func (a *Assistant) CurrentMessage() *bus.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentMsg
}

// EmitExecute implements channel.Owner: spec.md §4.6's ReRoute path —
// a fresh call.execute message on the existing channel, carrying
// forward parameters not explicitly overridden.
func (a *Assistant) EmitExecute(target string, overrides map[string]string) {
	a.mu.Lock()
	base := map[string]string{}
	if a.currentMsg != nil {
		for k, v := range a.currentMsg.Params() {
			base[k] = v
		}
	}
	a.mu.Unlock()

	for k, v := range overrides {
		base[k] = v
	}
	base["callto"] = target

	m := bus.NewMessage("call.execute", false, base)
	a.mu.Lock()
	if a.currentMsg != nil {
		m.SetTraceID(a.currentMsg.TraceID())
	}
	b := a.bus
	a.mu.Unlock()

	if b != nil {
		b.Enqueue(m)
	}
}

// Manager owns the channel-id → assistant map and drives entry-point
// dispatch, per spec.md §4.7.
type Manager struct {
	mu         sync.Mutex
	assistants map[string]*Assistant
	Bus        *bus.Bus
	Channel    *channel.Binding
	Message    *message.Binding

	// NewRunner builds a fresh runner with the routing script already
	// loaded, for a channel's first preroute/route event.
	NewRunner func(channelID string) *script.Runner
}

// NewManager returns an empty Manager. msg may be nil, in which case
// entry-point calls receive no wrapped message argument.
func NewManager(b *bus.Bus, ch *channel.Binding, msg *message.Binding, newRunner func(channelID string) *script.Runner) *Manager {
	return &Manager{
		assistants: make(map[string]*Assistant),
		Bus:        b,
		Channel:    ch,
		Message:    msg,
		NewRunner:  newRunner,
	}
}

// Lookup returns the assistant for channelID, if any.
func (mgr *Manager) Lookup(channelID string) (*Assistant, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	a, ok := mgr.assistants[channelID]
	return a, ok
}

// Remove detaches channelID's assistant (call ended).
func (mgr *Manager) Remove(channelID string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	delete(mgr.assistants, channelID)
}

// Dispatch implements spec.md §4.7's event bridge: look up the
// assistant for the message's channel id; if absent and event is
// preroute/route, create one and call onStartup; otherwise ignore.
// Returns the JS entry's "handled" flag, interpreted as the bus'
// consumed signal for applicable events.
func (mgr *Manager) Dispatch(event string, m *bus.Message, call channel.Call) bool {
	channelID := m.GetParam("id", call.ID())

	a, ok := mgr.Lookup(channelID)
	if !ok {
		if event != EntryPreroute && event != EntryRoute {
			return false
		}
		a = &Assistant{channelID: channelID, call: call, state: channel.NotStarted, bus: mgr.Bus}
		if mgr.NewRunner != nil {
			a.runner = mgr.NewRunner(channelID)
			// Every assistant gets a unique trace id up front so its
			// onStartup/onRoute/... log lines correlate even when the
			// triggering message carries none of its own.
			if a.runner.TraceID() == "" {
				a.runner.SetTraceID(uuid.NewString())
			}
			// Run the routing script's top level once so its onStartup/
			// onRoute/... function declarations become callable globals
			// before any entry is invoked (script.Runner.Call only
			// reaches functions already defined on the context).
			a.runner.Execute()
		}
		mgr.mu.Lock()
		mgr.assistants[channelID] = a
		mgr.mu.Unlock()
		mgr.installChannel(a, call)
		mgr.callEntry(a, EntryStartup, m)
	}

	a.mu.Lock()
	a.call = call
	a.currentMsg = m
	a.mu.Unlock()
	mgr.installChannel(a, call)

	switch event {
	case EntryRoute:
		a.SetState(channel.Routing)
		handled := mgr.runRouting(a, m)
		a.SetState(channel.ReRoute)
		return handled
	case EntryDisconnected:
		handled := mgr.callEntry(a, EntryDisconnected, m)
		a.SetState(channel.ReRoute)
		return handled
	case EntryHangup:
		a.SetState(channel.Hangup)
		handled := mgr.callEntry(a, EntryHangup, m)
		mgr.callEntry(a, EntryUnload, nil)
		mgr.Remove(channelID)
		return handled
	default:
		return mgr.callEntry(a, event, m)
	}
}

// installChannel (re)installs the Channel global on a's runner, bound
// to call and to a itself as channel.Owner, per spec.md §4.6/§4.7 — the
// Channel binding's callTo/callJust/hangup behavior depends on the
// assistant's live state, so it is refreshed on every dispatch rather
// than installed once at runner creation.
func (mgr *Manager) installChannel(a *Assistant, call channel.Call) {
	if mgr.Channel == nil || a.runner == nil || call == nil {
		return
	}
	vm := a.runner.Context().VM()
	_ = vm.Set("Channel", mgr.Channel.Wrap(vm, call, a))
}

// wrapMessage returns m's wrapped goja representation via mgr.Message,
// or undefined when no Message binding or message is available.
func (mgr *Manager) wrapMessage(a *Assistant, m *bus.Message) goja.Value {
	if mgr.Message == nil || m == nil || a.runner == nil {
		return goja.Undefined()
	}
	return mgr.Message.Wrap(a.runner, m)
}

// runRouting implements spec.md §4.7's "routing script execution":
// invoke the onRoute entry with the wrapped current message, looping on
// execute() only while the runner reports Incomplete (a suspension left
// outstanding by the entry call itself), then observe the handled flag
// and detach the message wrapper.
func (mgr *Manager) runRouting(a *Assistant, m *bus.Message) bool {
	if a.runner == nil {
		return false
	}

	ret, err := a.runner.Call(EntryRoute, mgr.wrapMessage(a, m))
	state := a.runner.State()
	for state == script.Incomplete {
		state = a.runner.Execute()
	}

	a.mu.Lock()
	if err == nil && ret != nil && ret.ToBoolean() {
		a.handled = true
	}
	handled := a.handled
	a.currentMsg = nil
	a.mu.Unlock()

	return handled
}

// callEntry invokes entry on a's runner if present, passing m's wrapped
// representation (via the Message binding's goja object) when m is
// non-nil. The JS return value, if truthy, becomes handled.
func (mgr *Manager) callEntry(a *Assistant, entry string, m *bus.Message) bool {
	if a.runner == nil {
		return false
	}
	ret, err := a.runner.Call(entry, mgr.wrapMessage(a, m))
	if err != nil || ret == nil {
		return false
	}
	handled := ret.ToBoolean()
	a.mu.Lock()
	a.handled = handled
	a.mu.Unlock()
	return handled
}
