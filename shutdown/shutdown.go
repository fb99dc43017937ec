// Package shutdown implements the Runtime's Graceful Shutdown
// Coordinator (spec.md §4.6): a broadcast shutdown flag, a drain phase
// that waits for in-flight connections to finish, and an ordered,
// deadline-bounded run of registered shutdown handlers, force-stopping
// if the overall shutdown_deadline elapses first.
//
// Grounded on eventloop.Loop's Shutdown/run state-machine sequencing
// (a sync.Once-guarded transition to a terminating state, a broadcast
// wakeup, then blocking on a completion channel), generalized from the
// teacher's single terminal state to the phased handler execution of
// spec.md §4.6.
package shutdown

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-runtimecore/clock"
	"github.com/joeycumines/go-runtimecore/internal/runtimelog"
)

// Handler is a registered shutdown callback: Run is invoked with a
// context that is cancelled once Deadline elapses. Lower Priority runs
// later; ties are broken by registration order (spec.md §3 Shutdown
// Handler).
type Handler struct {
	Name     string
	Priority int32
	Deadline time.Duration
	Run      func(ctx context.Context) error
}

type registeredHandler struct {
	Handler
	order int
}

// Config configures a Coordinator's phase deadlines.
type Config struct {
	// ShutdownDeadline bounds the Coordinator's total time from Initiate
	// to completion; a handler still running when it elapses has its
	// context cancelled and counts as timed out, and the remaining
	// handlers are skipped.
	ShutdownDeadline time.Duration
	// DrainDeadline bounds how long Initiate waits for in-flight
	// connections to reach zero before proceeding to the handler phase
	// regardless.
	DrainDeadline time.Duration
}

// DefaultConfig returns the Coordinator defaults: a 30s shutdown
// deadline and a 10s drain deadline.
func DefaultConfig() Config {
	return Config{ShutdownDeadline: 30 * time.Second, DrainDeadline: 10 * time.Second}
}

// Stats is the Coordinator's post-shutdown (or in-progress) bookkeeping.
// At completion, HandlersRun + HandlersTimedOut + HandlersSkipped always
// equals the number of registered handlers (spec.md §8 invariant).
type Stats struct {
	Forced           bool
	Duration         time.Duration
	HandlersRun      int
	HandlersTimedOut int
	HandlersSkipped  int
}

// ErrAlreadyInitiated is returned by RegisterHandler once shutdown has
// begun; registering further handlers after Initiate has no effect on an
// in-progress run.
var ErrAlreadyInitiated = errors.New("shutdown: already initiated")

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

// WithClock injects the Clock used to measure elapsed shutdown duration
// (Stats.Duration); defaults to clock.System{}.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger injects the logger used for handler failures/timeouts.
func WithLogger(l *runtimelog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// Coordinator orchestrates phased shutdown for a single Runtime: stop
// accepting new work, drain in-flight connections, run handlers in
// priority order, and force-stop on deadline.
type Coordinator struct {
	cfg    Config
	clock  clock.Clock
	logger *runtimelog.Logger

	mu          sync.Mutex
	handlers    []registeredHandler
	nextOrder   int
	connections int

	initiated atomic.Bool
	signal    chan struct{}
	once      sync.Once

	statsMu sync.Mutex
	stats   Stats
}

// NewCoordinator constructs a Coordinator with the given Config.
func NewCoordinator(cfg Config, opts ...Option) *Coordinator {
	co := &Coordinator{
		cfg:    cfg,
		clock:  clock.System{},
		logger: runtimelog.Nop(),
		signal: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// RegisterHandler adds h to the set of handlers run during shutdown.
// Returns ErrAlreadyInitiated if shutdown has already begun.
func (co *Coordinator) RegisterHandler(h Handler) error {
	if co.initiated.Load() {
		return ErrAlreadyInitiated
	}
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.initiated.Load() {
		return ErrAlreadyInitiated
	}
	co.handlers = append(co.handlers, registeredHandler{Handler: h, order: co.nextOrder})
	co.nextOrder++
	return nil
}

// IncrementConnections records one more in-flight connection, for the
// drain phase to wait on.
func (co *Coordinator) IncrementConnections() {
	co.mu.Lock()
	co.connections++
	co.mu.Unlock()
}

// DecrementConnections records one fewer in-flight connection.
func (co *Coordinator) DecrementConnections() {
	co.mu.Lock()
	co.connections--
	co.mu.Unlock()
}

func (co *Coordinator) liveConnections() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.connections
}

// IsShutdownInitiated reports whether Initiate has been called.
func (co *Coordinator) IsShutdownInitiated() bool {
	return co.initiated.Load()
}

// ShutdownSignal returns a channel that is closed the moment Initiate is
// called, observable without locking from any Reactor (spec.md §5).
func (co *Coordinator) ShutdownSignal() <-chan struct{} {
	return co.signal
}

// Initiate begins the shutdown sequence: set the flag, drain in-flight
// connections (bounded by DrainDeadline), then run handlers in
// descending priority order (ties by registration order), force-
// stopping if ShutdownDeadline elapses. Initiate may be called once;
// subsequent calls return immediately with the result of the first call.
func (co *Coordinator) Initiate(ctx context.Context) Stats {
	co.once.Do(func() {
		co.initiated.Store(true)
		close(co.signal)
		co.run(ctx)
	})
	co.statsMu.Lock()
	defer co.statsMu.Unlock()
	return co.stats
}

func (co *Coordinator) run(ctx context.Context) {
	start := co.clock.Now()
	deadline := start.Add(co.cfg.ShutdownDeadline)

	co.drain(ctx, start)

	co.mu.Lock()
	ordered := append([]registeredHandler(nil), co.handlers...)
	co.mu.Unlock()
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].order < ordered[j].order
	})

	var stats Stats
	forced := false
	for _, h := range ordered {
		if !forced && co.clock.Now().After(deadline) {
			forced = true
		}
		if forced {
			stats.HandlersSkipped++
			continue
		}
		hctx, cancel := context.WithTimeout(ctx, deadline.Sub(co.clock.Now()))
		ok := co.runHandler(hctx, h)
		cancel()
		if ok {
			stats.HandlersRun++
		} else {
			stats.HandlersTimedOut++
			if !co.clock.Now().Before(deadline) {
				forced = true
			}
		}
	}

	stats.Forced = forced
	stats.Duration = co.clock.Now().Sub(start)

	co.statsMu.Lock()
	co.stats = stats
	co.statsMu.Unlock()
}

// drain waits for live connections to reach zero, bounded by
// DrainDeadline measured against co.clock (matching run's own deadline
// check, so a Manual clock in tests drives drain's bound exactly as it
// drives the handler phase's — no real-time wait is needed to exercise
// the deadline path). The ticker only sets the poll cadence; connection
// draining is driven by other goroutines decrementing the counter
// asynchronously, and co.clock has no blocking/wait primitive of its
// own to wake on that.
func (co *Coordinator) drain(ctx context.Context, start clock.Instant) {
	if co.liveConnections() <= 0 {
		return
	}
	deadline := start.Add(co.cfg.DrainDeadline)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for co.liveConnections() > 0 {
		if !co.clock.Now().Before(deadline) {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// runHandler runs h.Run with a per-handler deadline, returning true if
// it completed (successfully or with an error) within that deadline, and
// false if it timed out.
func (co *Coordinator) runHandler(ctx context.Context, h registeredHandler) bool {
	hctx := ctx
	var cancel context.CancelFunc
	if h.Deadline > 0 {
		hctx, cancel = context.WithTimeout(ctx, h.Deadline)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- h.Run(hctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			co.logger.Info().Str("handler", h.Name).Log("shutdown handler returned an error")
		}
		return true
	case <-hctx.Done():
		co.logger.Notice().Str("handler", h.Name).Log("shutdown handler exceeded its deadline")
		return false
	}
}
