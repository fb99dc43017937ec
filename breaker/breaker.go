// Package breaker implements the Runtime's circuit breaker: a
// Closed/Open/Half-Open state machine guarding calls to a failing
// downstream dependency.
//
// Grounded on the state machine and CircuitBreakerConfig/Stats shape of
// TheEntropyCollective-noisefs's pkg/resilience/circuit_breaker.go
// (state enum, threshold/timeout configuration). The state, counters
// and every transition are guarded by a single sync.Mutex; State and
// Stats take that mutex too, so readers are not lock-free and no
// compare-and-swap is used. The failure-window accounting in the Closed state
// is delegated to go-catrate's sliding-window Limiter rather than a
// hand-rolled ring buffer, since that is exactly the concern catrate
// exists to cover.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/joeycumines/go-runtimecore/clock"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Call when the breaker rejects a call without
// invoking the operation.
var ErrOpen = errors.New("breaker: circuit open")

// Config configures a Breaker's thresholds and timing.
type Config struct {
	// FailureThreshold is the number of failures within FailureWindow
	// that trips Closed -> Open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive Half-Open
	// successes required to transition to Closed.
	SuccessThreshold int
	// Timeout is how long the breaker stays Open before allowing a
	// Half-Open trial.
	Timeout time.Duration
	// FailureWindow bounds how far back Closed-state failures are
	// counted; failures older than this are forgotten. Defaults to
	// Timeout*10 if zero.
	FailureWindow time.Duration
	// Hysteresis, if positive, widens the recovery band required to
	// leave Half-Open for Closed: SuccessThreshold+Hysteresis
	// consecutive Half-Open successes are required instead of just
	// SuccessThreshold, so a dependency that only intermittently
	// recovers must prove itself for longer before the breaker trusts
	// it again.
	Hysteresis int
}

// DefaultConfig returns reasonable defaults: 5 failures within a
// 300s window trips the breaker; 2 consecutive Half-Open successes
// close it; it stays Open for 30s before trialing.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		FailureWindow:    300 * time.Second,
	}
}

// Stats is a point-in-time snapshot of breaker activity.
type Stats struct {
	State            State
	ConsecutiveOK    int
	OpenedAt         clock.Instant
	TotalCalls       uint64
	TotalFailures    uint64
	TotalSuccesses   uint64
	TotalRejected    uint64
}

// Breaker guards calls to one downstream dependency. Safe for
// concurrent use: the call site typically shares one Breaker across
// every goroutine invoking that dependency.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu            sync.Mutex
	state         State
	openedAt      clock.Instant
	consecutiveOK int
	trialInFlight bool

	failures *catrate.Limiter // nil when FailureThreshold <= 1

	totalCalls     uint64
	totalFailures  uint64
	totalSuccesses uint64
	totalRejected  uint64
}

// Option configures a Breaker at construction.
type Option func(*Breaker)

// WithClock overrides the Breaker's time source (tests use clock.Manual).
func WithClock(c clock.Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// New constructs a Breaker in the Closed state.
func New(cfg Config, opts ...Option) *Breaker {
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = cfg.Timeout * 10
	}
	b := &Breaker{cfg: cfg, clock: clock.System{}}
	for _, opt := range opts {
		opt(b)
	}
	if cfg.FailureThreshold > 1 {
		// Allow FailureThreshold-1 failures silently; the Nth failure
		// within the window is the call on which Allow reports the
		// rate exceeded, which is exactly the trip point.
		b.failures = catrate.NewLimiter(map[time.Duration]int{
			cfg.FailureWindow: cfg.FailureThreshold - 1,
		})
	}
	return b
}

// Call executes op under the breaker's protection. If the breaker is
// Open (or Half-Open with a trial already in flight), op is never
// invoked and Call returns ErrOpen. Otherwise op runs and its outcome
// is recorded against the state current when op returns (the state
// the call began in, or its successor); if that state is Open, the
// outcome changes no state.
func (b *Breaker) Call(ctx context.Context, op func(context.Context) error) error {
	if !b.allow() {
		b.mu.Lock()
		b.totalRejected++
		b.mu.Unlock()
		return ErrOpen
	}

	err := op(ctx)

	b.mu.Lock()
	b.totalCalls++
	if err != nil {
		b.totalFailures++
	} else {
		b.totalSuccesses++
	}
	b.mu.Unlock()

	b.recordOutcome(err)
	return err
}

// allow reports whether a call may proceed, transitioning Open ->
// Half-Open if the timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clock.Now().Sub(b.openedAt) < b.cfg.Timeout {
			return false
		}
		b.state = HalfOpen
		b.consecutiveOK = 0
		b.trialInFlight = true
		return true
	case HalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return false
	}
}

// recordOutcome applies a completed call's result to the state
// machine.
func (b *Breaker) recordOutcome(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		if err == nil {
			return
		}
		if b.tripsClosed() {
			b.trip()
		}
	case HalfOpen:
		b.trialInFlight = false
		if err != nil {
			b.trip()
			return
		}
		b.consecutiveOK++
		if b.consecutiveOK >= b.cfg.SuccessThreshold+b.cfg.Hysteresis {
			b.state = Closed
			b.consecutiveOK = 0
		}
	case Open:
		// A racing call may complete after the breaker already
		// re-opened from a failed trial; nothing to record.
	}
}

// tripsClosed reports whether the Closed-state failure window has just
// been exceeded by a failure recorded this call.
func (b *Breaker) tripsClosed() bool {
	if b.failures == nil {
		return true
	}
	_, ok := b.failures.Allow("failure")
	return !ok
}

// trip transitions to Open and records opened_at.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.clock.Now()
	b.consecutiveOK = 0
	b.trialInFlight = false
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of breaker activity.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:          b.state,
		ConsecutiveOK:  b.consecutiveOK,
		OpenedAt:       b.openedAt,
		TotalCalls:     b.totalCalls,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
		TotalRejected:  b.totalRejected,
	}
}
