package message

import (
	"testing"

	"github.com/dop251/goja"

	"github.com/nullteam/softpbx/internal/bus"
	"github.com/nullteam/softpbx/internal/script"
)

func newTestRunner(t *testing.T, b *bus.Bus) *script.Runner {
	t.Helper()
	ctx := script.NewContext("test")
	r := script.NewRunner(ctx, "test")
	NewBinding(b).Install(r)
	return r
}

func run(t *testing.T, r *script.Runner, src string) goja.Value {
	t.Helper()
	parsed, err := script.Parse([]byte(src), "test.js", 0, "", "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	r.Load(parsed)
	if st := r.Execute(); st == script.Failed {
		t.Fatalf("script failed: %v", r.LastError())
	}
	return r.Pop()
}

func TestConstructorSetsNameBroadcastAndParams(t *testing.T) {
	r := newTestRunner(t, bus.New())

	v := run(t, r, `
		var m = new Message("call.route", true, {id: "chan1"});
		m.name() + "|" + m.broadcast() + "|" + m.getParam("id", "");
	`)
	if v.String() != "call.route|true|chan1" {
		t.Fatalf("unexpected: %q", v.String())
	}
}

func TestSetGetClearParam(t *testing.T) {
	r := newTestRunner(t, bus.New())

	v := run(t, r, `
		var m = new Message("x", false);
		m.setParam("a", "1");
		var before = m.getParam("a", "none");
		m.clearParam("a", "");
		var after = m.getParam("a", "none");
		before + "|" + after;
	`)
	if v.String() != "1|none" {
		t.Fatalf("unexpected: %q", v.String())
	}
}

func TestDispatchSyncDeliversToInstalledHandler(t *testing.T) {
	b := bus.New()
	defer b.Close()
	r := newTestRunner(t, b)

	v := run(t, r, `
		var m1 = new Message("call.route", false);
		m1.install(function(msg) {
			msg.retValue("consumed");
			return true;
		}, "test-handler", 50);

		var m2 = new Message("call.route", false);
		var consumed = m2.dispatch(false);
		consumed + "|" + m2.retValue();
	`)
	if v.String() != "true|consumed" {
		t.Fatalf("unexpected: %q", v.String())
	}
}

func TestDispatchAsyncAlsoInvokesHandler(t *testing.T) {
	b := bus.New()
	defer b.Close()
	r := newTestRunner(t, b)

	v := run(t, r, `
		var m1 = new Message("call.route", false);
		m1.install(function(msg) { return true; }, "h", 10);

		var m2 = new Message("call.route", false);
		m2.dispatch(true);
	`)
	if !v.ToBoolean() {
		t.Fatal("expected async dispatch to report consumed")
	}
}

func TestUninstallRemovesHandler(t *testing.T) {
	b := bus.New()
	defer b.Close()
	r := newTestRunner(t, b)

	v := run(t, r, `
		var m1 = new Message("call.route", false);
		m1.install(function(msg) { return true; }, "h", 10);
		m1.uninstall("h");

		var m2 = new Message("call.route", false);
		m2.dispatch(false);
	`)
	if v.ToBoolean() {
		t.Fatal("expected no handler consumed after uninstall")
	}
}

func TestHandlersReturnsInstalledNames(t *testing.T) {
	b := bus.New()
	defer b.Close()
	r := newTestRunner(t, b)

	v := run(t, r, `
		var m = new Message("x", false);
		m.install(function() { return false; }, "alpha", 10);
		m.install(function() { return false; }, "beta", 20);
		m.handlers("").length;
	`)
	if v.ToInteger() != 2 {
		t.Fatalf("expected 2 handlers, got %d", v.ToInteger())
	}
}

func TestCopyParamsWithPrefix(t *testing.T) {
	r := newTestRunner(t, bus.New())

	v := run(t, r, `
		var m = new Message("x", false);
		m.copyParams({foo: "bar"}, "p.");
		m.getParam("p.foo", "");
	`)
	if v.String() != "bar" {
		t.Fatalf("expected 'bar', got %q", v.String())
	}
}
