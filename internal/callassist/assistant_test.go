package callassist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullteam/softpbx/internal/binding/channel"
	"github.com/nullteam/softpbx/internal/binding/message"
	"github.com/nullteam/softpbx/internal/bus"
	"github.com/nullteam/softpbx/internal/script"
)

type fakeCall struct {
	id       string
	answered bool
}

func (f *fakeCall) ID() string        { return f.id }
func (f *fakeCall) PeerID() string    { return "" }
func (f *fakeCall) Status() string    { return "routing" }
func (f *fakeCall) Direction() string { return "incoming" }
func (f *fakeCall) Answered() bool    { return f.answered }
func (f *fakeCall) Answer() error     { f.answered = true; return nil }
func (f *fakeCall) HangupLeg(peer bool, reason string, params map[string]string) error {
	return nil
}
func (f *fakeCall) PlayFile(path string) error { return nil }
func (f *fakeCall) RecFile(path string) error  { return nil }

func newRoutingRunner(t *testing.T, src string) *script.Runner {
	t.Helper()
	ctx := script.NewContext("test")
	r := script.NewRunner(ctx, "test")
	parsed, err := script.Parse([]byte(src), "test.js", 0, "", "")
	require.NoError(t, err)
	r.Load(parsed)
	return r
}

func TestDispatchCreatesAssistantOnRoute(t *testing.T) {
	b := bus.New()
	defer b.Close()

	mgr := NewManager(b, channel.NewBinding(), message.NewBinding(b), func(channelID string) *script.Runner {
		return newRoutingRunner(t, "var handled = true;")
	})

	m := bus.NewMessage("call.route", false, map[string]string{"id": "chan1"})
	call := &fakeCall{id: "chan1"}

	mgr.Dispatch(EntryRoute, m, call)

	a, ok := mgr.Lookup("chan1")
	require.True(t, ok)
	assert.Equal(t, channel.ReRoute, a.State())
}

func TestDispatchIgnoresUnknownChannelOnNonRouteEvent(t *testing.T) {
	b := bus.New()
	defer b.Close()

	mgr := NewManager(b, channel.NewBinding(), message.NewBinding(b), func(channelID string) *script.Runner {
		return newRoutingRunner(t, "var handled = true;")
	})

	m := bus.NewMessage("call.answered", false, map[string]string{"id": "chanX"})
	call := &fakeCall{id: "chanX"}

	handled := mgr.Dispatch(EntryAnswered, m, call)
	assert.False(t, handled)

	_, ok := mgr.Lookup("chanX")
	assert.False(t, ok)
}

func TestHangupRemovesAssistant(t *testing.T) {
	b := bus.New()
	defer b.Close()

	mgr := NewManager(b, channel.NewBinding(), message.NewBinding(b), func(channelID string) *script.Runner {
		return newRoutingRunner(t, "var handled = true;")
	})

	m := bus.NewMessage("call.route", false, map[string]string{"id": "chan2"})
	call := &fakeCall{id: "chan2"}
	mgr.Dispatch(EntryRoute, m, call)

	hangupMsg := bus.NewMessage("call.hangup", false, map[string]string{"id": "chan2"})
	mgr.Dispatch(EntryHangup, hangupMsg, call)

	_, ok := mgr.Lookup("chan2")
	assert.False(t, ok)
}

func TestDispatchAssignsTraceIDToNewAssistant(t *testing.T) {
	b := bus.New()
	defer b.Close()

	mgr := NewManager(b, channel.NewBinding(), message.NewBinding(b), func(channelID string) *script.Runner {
		return newRoutingRunner(t, "var handled = true;")
	})

	m := bus.NewMessage("call.route", false, map[string]string{"id": "chan3"})
	call := &fakeCall{id: "chan3"}
	mgr.Dispatch(EntryRoute, m, call)

	a, ok := mgr.Lookup("chan3")
	require.True(t, ok)
	assert.NotEmpty(t, a.runner.TraceID())
}

// TestRunRoutingCallsOnRouteEntry covers spec.md E1: a routing script
// defining onRoute(msg) must actually run, and its retValue(...) call
// on the passed-in message must be observed by the caller.
func TestRunRoutingCallsOnRouteEntry(t *testing.T) {
	b := bus.New()
	defer b.Close()

	mgr := NewManager(b, channel.NewBinding(), message.NewBinding(b), func(channelID string) *script.Runner {
		return newRoutingRunner(t, `
			function onRoute(msg) {
				msg.retValue("sip/alice");
				return true;
			}
		`)
	})

	m := bus.NewMessage("call.route", false, map[string]string{"id": "chan4"})
	call := &fakeCall{id: "chan4"}

	handled := mgr.Dispatch(EntryRoute, m, call)
	assert.True(t, handled)
	assert.Equal(t, "sip/alice", m.RetValue())
}

// TestRunRoutingInstallsChannelGlobal covers spec.md §4.6/E1: Channel
// must be reachable from the routing script before onRoute runs.
func TestRunRoutingInstallsChannelGlobal(t *testing.T) {
	b := bus.New()
	defer b.Close()

	mgr := NewManager(b, channel.NewBinding(), message.NewBinding(b), func(channelID string) *script.Runner {
		return newRoutingRunner(t, `
			var seenID = "";
			function onRoute(msg) {
				seenID = Channel.id();
				return true;
			}
		`)
	})

	m := bus.NewMessage("call.route", false, map[string]string{"id": "chan5"})
	call := &fakeCall{id: "chan5"}
	mgr.Dispatch(EntryRoute, m, call)

	a, ok := mgr.Lookup("chan5")
	require.True(t, ok)
	assert.Equal(t, "chan5", a.runner.Context().VM().Get("seenID").String())
}

func TestAssistantStateNeverRegressesExceptToTerminal(t *testing.T) {
	a := &Assistant{state: channel.ReRoute}
	a.SetState(channel.Routing)
	assert.Equal(t, channel.ReRoute, a.State())

	a.SetState(channel.Hangup)
	assert.Equal(t, channel.Hangup, a.State())

	a.SetState(channel.Routing)
	assert.Equal(t, channel.Hangup, a.State())
}
