package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetTimeoutFiresOnce(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	var count atomic.Int32
	w.SetTimeout(func(args []interface{}) {
		count.Add(1)
	}, MinIntervalMS)

	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 1, count.Load())
}

// TestClearBeforeFirstFireYieldsZeroInvocations implements spec.md §8
// testable property 7.
func TestClearBeforeFirstFireYieldsZeroInvocations(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	var count atomic.Int32
	id := w.SetInterval(func(args []interface{}) {
		count.Add(1)
	}, 5000)

	ok := w.Clear(id)
	assert.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, count.Load())
}

func TestClearUnknownHandleReturnsFalse(t *testing.T) {
	w := NewWorker()
	defer w.Stop()
	assert.False(t, w.Clear(999))
}

// TestSetIntervalDriftCap is scenario E3: over a bounded observation
// window, a sub-minimum interval fires no more than 1000/MIN_INTERVAL_MS
// times per second.
func TestSetIntervalDriftCap(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	var count atomic.Int32
	w.SetInterval(func(args []interface{}) {
		count.Add(1)
	}, 1)

	time.Sleep(time.Second)
	maxFires := int32(1000/MinIntervalMS) + 2 // small scheduling slack
	assert.LessOrEqual(t, count.Load(), maxFires)
}

func TestArgsPassedToCallback(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	done := make(chan []interface{}, 1)
	w.SetTimeout(func(args []interface{}) {
		done <- args
	}, MinIntervalMS, "a", 42)

	select {
	case args := <-done:
		assert.Equal(t, []interface{}{"a", 42}, args)
	case <-time.After(time.Second):
		t.Fatal("callback did not fire")
	}
}
