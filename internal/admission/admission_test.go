package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRespectsExplicitRefusing(t *testing.T) {
	g := New(DefaultConfig())
	g.SetState(Refusing)
	assert.False(t, g.Allow())
}

func TestAllowWithinBurst(t *testing.T) {
	g := New(Config{CallsPerSecond: 10, Burst: 5})
	now := time.Now()
	allowed := 0
	for i := 0; i < 5; i++ {
		if g.AllowAt(now) {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
	assert.False(t, g.AllowAt(now))
}

func TestResetRestoresBurst(t *testing.T) {
	g := New(Config{CallsPerSecond: 10, Burst: 2})
	now := time.Now()
	assert.True(t, g.AllowAt(now))
	assert.True(t, g.AllowAt(now))
	assert.False(t, g.AllowAt(now))
	g.Reset()
	assert.True(t, g.AllowAt(now))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "accepting", Accepting.String())
	assert.Equal(t, "congested", Congested.String())
	assert.Equal(t, "refusing", Refusing.String())
}
