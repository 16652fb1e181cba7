package bus

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchStopsAtFirstConsumer(t *testing.T) {
	b := New()
	defer b.Close()

	var calledLow, calledHigh bool
	b.Install(&Handler{Name: "high", Priority: 10, Fn: func(m *Message) bool {
		calledHigh = true
		return true
	}})
	b.Install(&Handler{Name: "low", Priority: 100, Fn: func(m *Message) bool {
		calledLow = true
		return true
	}})

	m := NewMessage("call.route", false, nil)
	consumed := b.Dispatch(m)

	assert.True(t, consumed)
	assert.True(t, calledHigh)
	assert.False(t, calledLow)
}

func TestFilterNonMatchNeverDelivered(t *testing.T) {
	b := New()
	defer b.Close()

	delivered := false
	re := regexp.MustCompile(`^sip/.*`)
	b.Install(&Handler{
		Name:     "sip-only",
		Priority: 50,
		Filter:   &Filter{ParamName: "caller", Regex: re},
		Fn: func(m *Message) bool {
			delivered = true
			return true
		},
	})

	m := NewMessage("call.route", false, map[string]string{"caller": "pstn/555"})
	b.Dispatch(m)
	assert.False(t, delivered)

	m2 := NewMessage("call.route", false, map[string]string{"caller": "sip/alice"})
	b.Dispatch(m2)
	assert.True(t, delivered)
}

func TestEnqueueFreezesMessage(t *testing.T) {
	b := New()
	defer b.Close()
	m := NewMessage("foo", false, nil)
	b.Enqueue(m)
	assert.True(t, m.Frozen())
}

func TestFrozenMessageIgnoresSetParam(t *testing.T) {
	m := NewMessage("foo", false, nil)
	m.Freeze()
	m.SetParam("k", "v")
	assert.Equal(t, "", m.GetParam("k", ""))
}

func TestInstallHookDelivers(t *testing.T) {
	b := New()
	defer b.Close()

	received := make(chan *Message, 1)
	h := &Hook{Name: "pool", ThreadCount: 2}
	b.InstallHook(h, func(m *Message) {
		received <- m
	})

	m := NewMessage("engine.timer", false, nil)
	b.Dispatch(m)

	select {
	case got := <-received:
		require.NotNil(t, got)
		assert.Equal(t, "engine.timer", got.Name())
	case <-time.After(time.Second):
		t.Fatal("hook did not receive message")
	}
}

func TestHandlersPatternMatch(t *testing.T) {
	b := New()
	defer b.Close()
	b.Install(&Handler{Name: "call.route", Priority: 10, Fn: func(*Message) bool { return false }})
	b.Install(&Handler{Name: "call.execute", Priority: 10, Fn: func(*Message) bool { return false }})

	matches := b.Handlers("^call\\.")
	assert.Len(t, matches, 2)
}
