// Package admission implements Engine.accepting([state]) — the host's
// call-admission gate (spec.md §4.4) — as a token-bucket limiter. Grounded
// on the teacher's infrastructure/ratelimit.RateLimiter.
package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is the admission state a script can read or force via
// Engine.accepting([state]).
type State int

const (
	// Accepting admits new calls normally, subject to the rate limiter.
	Accepting State = iota
	// Congested still admits calls but is signalling load.
	Congested
	// Refusing rejects all new calls regardless of the limiter.
	Refusing
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "accepting"
	case Congested:
		return "congested"
	default:
		return "refusing"
	}
}

// Config configures the admission gate.
type Config struct {
	CallsPerSecond float64
	Burst          int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{CallsPerSecond: 50, Burst: 100}
}

// Gate decides whether a new call may be admitted.
type Gate struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	cfg     Config
	state   State
}

// New creates a Gate in the Accepting state.
func New(cfg Config) *Gate {
	if cfg.CallsPerSecond <= 0 {
		cfg.CallsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.CallsPerSecond * 2)
	}
	return &Gate{
		limiter: rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), cfg.Burst),
		cfg:     cfg,
		state:   Accepting,
	}
}

// Allow reports whether a new call may be admitted right now: the explicit
// state must be Accepting or Congested, and the token bucket must have a
// token available.
func (g *Gate) Allow() bool {
	g.mu.RLock()
	state := g.state
	g.mu.RUnlock()
	if state == Refusing {
		return false
	}
	return g.limiter.Allow()
}

// State returns the current explicit admission state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// SetState forces the explicit admission state, as Engine.accepting(state)
// does when called with an argument.
func (g *Gate) SetState(s State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s
}

// Reset rebuilds the underlying limiter from the original config, clearing
// any accumulated burst debt.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limiter = rate.NewLimiter(rate.Limit(g.cfg.CallsPerSecond), g.cfg.Burst)
}

// AllowAt is a deterministic variant of Allow for testing, evaluated at a
// fixed instant rather than time.Now().
func (g *Gate) AllowAt(now time.Time) bool {
	g.mu.RLock()
	state := g.state
	g.mu.RUnlock()
	if state == Refusing {
		return false
	}
	return g.limiter.AllowN(now, 1)
}
