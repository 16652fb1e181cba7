package channel

import (
	"errors"
	"testing"

	"github.com/dop251/goja"

	"github.com/nullteam/softpbx/internal/bus"
)

type fakeCall struct {
	id, peerID, status, direction string
	answered                      bool
	answerErr                     error
	hangupErr                     error
	playErr                       error
	recErr                        error

	hungPeer   bool
	hungReason string
	hungParams map[string]string
	playedPath string
	recPath    string
}

func (c *fakeCall) ID() string        { return c.id }
func (c *fakeCall) PeerID() string    { return c.peerID }
func (c *fakeCall) Status() string    { return c.status }
func (c *fakeCall) Direction() string { return c.direction }
func (c *fakeCall) Answered() bool    { return c.answered }
func (c *fakeCall) Answer() error     { c.answered = true; return c.answerErr }
func (c *fakeCall) HangupLeg(peer bool, reason string, params map[string]string) error {
	c.hungPeer, c.hungReason, c.hungParams = peer, reason, params
	return c.hangupErr
}
func (c *fakeCall) PlayFile(path string) error { c.playedPath = path; return c.playErr }
func (c *fakeCall) RecFile(path string) error  { c.recPath = path; return c.recErr }

type fakeOwner struct {
	state      State
	msg        *bus.Message
	execTarget string
	execParams map[string]string
	execCalled bool
}

func (o *fakeOwner) State() State                 { return o.state }
func (o *fakeOwner) SetState(s State)              { o.state = s }
func (o *fakeOwner) CurrentMessage() *bus.Message { return o.msg }
func (o *fakeOwner) EmitExecute(target string, params map[string]string) {
	o.execCalled = true
	o.execTarget = target
	o.execParams = params
}

func newVM() *goja.Runtime { return goja.New() }

func TestIdPeerIdStatusDirection(t *testing.T) {
	vm := newVM()
	call := &fakeCall{id: "chan1", peerID: "chan2", status: "ringing", direction: "incoming"}
	owner := &fakeOwner{state: Routing}

	obj := NewBinding().Wrap(vm, call, owner)
	_ = vm.Set("Channel", obj)

	v, err := vm.RunString(`Channel.id() + "|" + Channel.peerid() + "|" + Channel.status() + "|" + Channel.direction();`)
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "chan1|chan2|ringing|incoming" {
		t.Fatalf("unexpected: %q", v.String())
	}
}

func TestAnswerSucceeds(t *testing.T) {
	vm := newVM()
	call := &fakeCall{}
	owner := &fakeOwner{state: Routing}

	obj := NewBinding().Wrap(vm, call, owner)
	_ = vm.Set("Channel", obj)

	v, err := vm.RunString(`Channel.answer();`)
	if err != nil {
		t.Fatal(err)
	}
	if !v.ToBoolean() || !call.answered {
		t.Fatal("expected answer to succeed and mark call answered")
	}
}

func TestCallToDuringRoutingSetsRetValue(t *testing.T) {
	vm := newVM()
	call := &fakeCall{}
	m := bus.NewMessage("call.route", false, nil)
	owner := &fakeOwner{state: Routing, msg: m}

	obj := NewBinding().Wrap(vm, call, owner)
	_ = vm.Set("Channel", obj)

	v, err := vm.RunString(`Channel.callTo("dest/100");`)
	if err != nil {
		t.Fatal(err)
	}
	if !v.ToBoolean() {
		t.Fatal("expected callTo to succeed during Routing")
	}
	if m.RetValue() != "dest/100" {
		t.Fatalf("expected retValue set, got %q", m.RetValue())
	}
	if owner.execCalled {
		t.Fatal("did not expect EmitExecute during Routing")
	}
}

func TestCallToDuringReRouteEmitsExecute(t *testing.T) {
	vm := newVM()
	call := &fakeCall{}
	owner := &fakeOwner{state: ReRoute}

	obj := NewBinding().Wrap(vm, call, owner)
	_ = vm.Set("Channel", obj)

	v, err := vm.RunString(`Channel.callTo("dest/200", {foo: "bar"});`)
	if err != nil {
		t.Fatal(err)
	}
	if !v.ToBoolean() {
		t.Fatal("expected callTo to succeed during ReRoute")
	}
	if !owner.execCalled || owner.execTarget != "dest/200" || owner.execParams["foo"] != "bar" {
		t.Fatalf("expected EmitExecute with target/params, got %+v", owner)
	}
}

func TestCallToOutsideRoutingOrReRouteFails(t *testing.T) {
	vm := newVM()
	call := &fakeCall{}
	owner := &fakeOwner{state: NotStarted}

	obj := NewBinding().Wrap(vm, call, owner)
	_ = vm.Set("Channel", obj)

	v, err := vm.RunString(`Channel.callTo("dest/300");`)
	if err != nil {
		t.Fatal(err)
	}
	if v.ToBoolean() {
		t.Fatal("expected callTo to fail outside Routing/ReRoute")
	}
}

func TestCallJustEndsStateAfterRoute(t *testing.T) {
	vm := newVM()
	call := &fakeCall{}
	owner := &fakeOwner{state: ReRoute}

	obj := NewBinding().Wrap(vm, call, owner)
	_ = vm.Set("Channel", obj)

	_, err := vm.RunString(`Channel.callJust("dest/400");`)
	if err != nil {
		t.Fatal(err)
	}
	if owner.state != Ended {
		t.Fatalf("expected owner state Ended after callJust, got %d", owner.state)
	}
}

func TestHangupSetsStateAndInvokesCall(t *testing.T) {
	vm := newVM()
	call := &fakeCall{}
	owner := &fakeOwner{state: Routing}

	obj := NewBinding().Wrap(vm, call, owner)
	_ = vm.Set("Channel", obj)

	v, err := vm.RunString(`Channel.hangup("normal clearing", {cause: "16"});`)
	if err != nil {
		t.Fatal(err)
	}
	if !v.ToBoolean() {
		t.Fatal("expected hangup to succeed")
	}
	if owner.state != Hangup {
		t.Fatalf("expected state Hangup, got %d", owner.state)
	}
	if call.hungReason != "normal clearing" || call.hungParams["cause"] != "16" {
		t.Fatalf("unexpected hangup params: %+v", call)
	}
}

func TestPlayAndRecFile(t *testing.T) {
	vm := newVM()
	call := &fakeCall{}
	owner := &fakeOwner{state: Routing}

	obj := NewBinding().Wrap(vm, call, owner)
	_ = vm.Set("Channel", obj)

	v, err := vm.RunString(`Channel.playFile("/tmp/a.wav") && Channel.recFile("/tmp/b.wav");`)
	if err != nil {
		t.Fatal(err)
	}
	if !v.ToBoolean() || call.playedPath != "/tmp/a.wav" || call.recPath != "/tmp/b.wav" {
		t.Fatalf("unexpected: %+v", call)
	}
}

func TestPlayFileErrorPropagatesFalse(t *testing.T) {
	vm := newVM()
	call := &fakeCall{playErr: errors.New("no such file")}
	owner := &fakeOwner{state: Routing}

	obj := NewBinding().Wrap(vm, call, owner)
	_ = vm.Set("Channel", obj)

	v, err := vm.RunString(`Channel.playFile("/missing.wav");`)
	if err != nil {
		t.Fatal(err)
	}
	if v.ToBoolean() {
		t.Fatal("expected false on playFile error")
	}
}
