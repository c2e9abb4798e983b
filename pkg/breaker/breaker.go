// Package breaker implements the circuit breaker that guards the request-path
// cache connection.
//
// The breaker is event driven: it never runs the guarded operation itself.
// Connection lifecycle events feed it (RecordSuccess on connect or a
// successful command, RecordFailure on a connection error) and the cache
// consults Allow before touching the store. OPEN becomes HALF_OPEN lazily once
// the reset timeout has elapsed on the injected Clock, so tests drive time
// without sleeping.
//
// Example usage:
//
//	b := breaker.New(breaker.Config{Name: "cache", Threshold: 5, ResetTimeout: time.Minute})
//	pool.Guard(redispool.ProfileCache, b)
//	if b.Allow() {
//	    // use the cache
//	}
package breaker

import (
	"sync"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/metrics"
)

// State is the breaker state.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// Name labels logs and metrics (usually the pool profile).
	Name string

	// Threshold is the number of consecutive failures that opens the breaker.
	// Default 5.
	Threshold int

	// ResetTimeout is how long the breaker stays open before allowing a probe.
	// It also bounds how long a half-open probe may stay outstanding.
	// Default 60s.
	ResetTimeout time.Duration

	// Clock defaults to SystemClock.
	Clock Clock

	Logger *logging.Logger
}

// Breaker tracks consecutive failures of one guarded connection.
type Breaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	clock        Clock
	logger       *logging.Logger

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probeAt   time.Time
	pending   []change
	listeners []func(from, to State)
}

// New creates a closed Breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}

	b := &Breaker{
		name:         cfg.Name,
		threshold:    cfg.Threshold,
		resetTimeout: cfg.ResetTimeout,
		clock:        cfg.Clock,
		logger:       logging.OrNop(cfg.Logger).WithComponent("breaker"),
	}
	metrics.BreakerState().Set(float64(Closed), b.name)
	return b
}

// OnStateChange registers fn to run after every transition. Handlers run
// synchronously outside the breaker's lock.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	b.advance()
	state := b.state
	changes, listeners := b.flush()
	b.mu.Unlock()

	b.notify(listeners, changes)
	return state
}

// IsDisabled reports whether the guarded connection must not be used at all.
// It is true only while OPEN.
func (b *Breaker) IsDisabled() bool {
	return b.State() == Open
}

// Allow reports whether the caller may use the guarded connection now. While
// HALF_OPEN exactly one caller per reset window gets true: its outcome closes
// or re-opens the breaker.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	b.advance()
	allowed := true
	switch b.state {
	case Open:
		allowed = false
	case HalfOpen:
		now := b.clock.Now()
		if !b.probeAt.IsZero() && now.Sub(b.probeAt) < b.resetTimeout {
			allowed = false
		} else {
			b.probeAt = now
		}
	}
	changes, listeners := b.flush()
	b.mu.Unlock()

	b.notify(listeners, changes)
	return allowed
}

// RecordSuccess records a successful operation or a connect event.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.advance()
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.transition(Closed)
	}
	changes, listeners := b.flush()
	b.mu.Unlock()

	b.notify(listeners, changes)
}

// RecordFailure records a failed operation or a connection error.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.advance()
	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.threshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
	}
	changes, listeners := b.flush()
	b.mu.Unlock()

	b.notify(listeners, changes)
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	if b.state != Closed {
		b.transition(Closed)
	}
	b.failures = 0
	changes, listeners := b.flush()
	b.mu.Unlock()

	b.notify(listeners, changes)
}

type change struct{ from, to State }

// advance applies the timed OPEN -> HALF_OPEN transition. Caller holds mu.
func (b *Breaker) advance() {
	if b.state == Open && b.clock.Now().Sub(b.openedAt) >= b.resetTimeout {
		b.transition(HalfOpen)
	}
}

// transition moves to the given state. Caller holds mu.
func (b *Breaker) transition(to State) {
	b.pending = append(b.pending, change{from: b.state, to: to})
	b.state = to
	b.probeAt = time.Time{}
	switch to {
	case Open:
		b.openedAt = b.clock.Now()
	case Closed:
		b.failures = 0
		b.openedAt = time.Time{}
	}
}

// flush hands pending transitions to the caller. Caller holds mu.
func (b *Breaker) flush() ([]change, []func(from, to State)) {
	changes := b.pending
	b.pending = nil
	return changes, b.listeners
}

func (b *Breaker) notify(listeners []func(from, to State), changes []change) {
	for _, c := range changes {
		metrics.BreakerState().Set(float64(c.to), b.name)
		metrics.BreakerTransitions().Inc(b.name, c.to.String())

		evt := b.logger.Info()
		if c.to == Open {
			evt = b.logger.Warn()
		}
		evt.Str(logging.Pool, b.name).
			Str(logging.BreakerState, c.to.String()).
			Str("from", c.from.String()).
			Msg("circuit breaker state changed")

		for _, fn := range listeners {
			fn(c.from, c.to)
		}
	}
}
