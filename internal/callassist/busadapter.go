package callassist

import "github.com/nullteam/softpbx/internal/bus"

// BusCall adapts a bus.Message describing a call leg into a
// channel.Call. spec.md's Non-goals exclude real SIP signalling and
// audio transport, so control operations here are themselves expressed
// as further bus messages — the same message-passing idiom call.route/
// call.execute/call.answered already use to drive the assistant,
// rather than a direct binding to a media stack.
type BusCall struct {
	bus       *bus.Bus
	id        string
	peerID    string
	status    string
	direction string
	answered  bool
}

// NewBusCall builds a BusCall from m's id/peerid/status/direction/
// answered parameters, falling back to spec.md §4.6 defaults.
func NewBusCall(b *bus.Bus, m *bus.Message) *BusCall {
	return &BusCall{
		bus:       b,
		id:        m.GetParam("id", ""),
		peerID:    m.GetParam("peerid", ""),
		status:    m.GetParam("status", "routing"),
		direction: m.GetParam("direction", "incoming"),
		answered:  m.GetParam("answered", "") == "true",
	}
}

func (c *BusCall) ID() string        { return c.id }
func (c *BusCall) PeerID() string    { return c.peerID }
func (c *BusCall) Status() string    { return c.status }
func (c *BusCall) Direction() string { return c.direction }
func (c *BusCall) Answered() bool    { return c.answered }

// Answer marks the leg answered and announces it on the bus.
func (c *BusCall) Answer() error {
	c.answered = true
	c.status = "answered"
	c.bus.Enqueue(bus.NewMessage("call.answered", false, map[string]string{"id": c.id}))
	return nil
}

// HangupLeg enqueues a call.hangup for this leg (or its peer).
func (c *BusCall) HangupLeg(peer bool, reason string, params map[string]string) error {
	p := map[string]string{"id": c.id, "reason": reason}
	for k, v := range params {
		p[k] = v
	}
	if peer {
		p["peer"] = "true"
	}
	c.bus.Enqueue(bus.NewMessage("call.hangup", false, p))
	return nil
}

// PlayFile requests a source attachment via chan.attach, per the bus
// surface a media-handling collaborator would subscribe to.
func (c *BusCall) PlayFile(path string) error {
	c.bus.Enqueue(bus.NewMessage("chan.attach", false, map[string]string{"id": c.id, "source": "wave/play/" + path}))
	return nil
}

// RecFile requests a consumer attachment via chan.attach.
func (c *BusCall) RecFile(path string) error {
	c.bus.Enqueue(bus.NewMessage("chan.attach", false, map[string]string{"id": c.id, "consumer": "wave/record/" + path}))
	return nil
}

// busEventEntries maps bus message names onto the entry constants
// Dispatch expects (spec.md §4.7's event bridge).
var busEventEntries = map[string]string{
	"call.preroute":     EntryPreroute,
	"call.route":        EntryRoute,
	"call.execute":      EntryExecute,
	"call.ringing":      EntryRinging,
	"call.answered":     EntryAnswered,
	"call.disconnected": EntryDisconnected,
	"call.hangup":       EntryHangup,
}

// InstallBridge wires mgr.Dispatch into live bus traffic: every
// call.preroute/route/execute/ringing/answered/disconnected/hangup
// message dispatched on mgr.Bus reaches the matching assistant entry
// point, via a BusCall built from the message itself.
func (mgr *Manager) InstallBridge() {
	mgr.Bus.Install(&bus.Handler{
		Name:     "callassist",
		Priority: 100,
		Fn: func(m *bus.Message) bool {
			entry, ok := busEventEntries[m.Name()]
			if !ok {
				return false
			}
			return mgr.Dispatch(entry, m, NewBusCall(mgr.Bus, m))
		},
	})
}
