// Package reactor implements the Runtime's central event loop (spec.md
// §4.1): it drains the I/O multiplexer with a wait bounded by the next
// timer deadline, advances the timer wheel, dispatches ready tasks
// under the scheduler's fairness policy, and surfaces loop-level
// metrics. A Reactor owns its Multiplexer, Timer Wheel, Connection
// table, and task ready queue exclusively; cross-goroutine Schedule
// calls are the one operation explicitly supported from outside the
// owning goroutine.
//
// Grounded on eventloop/loop.go's Loop: one-goroutine-owns-everything
// design, the wait-then-tick-then-dispatch turn structure of its run()
// method, and its tickAnchor-based elapsed-time accounting — adapted
// from the teacher's JS-microtask-flavored dispatch to the three-lane
// scheduler.Scheduler and hierarchical timer.Wheel built for this
// Runtime.
package reactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/go-microbatch"
	"github.com/joeycumines/go-runtimecore/clock"
	"github.com/joeycumines/go-runtimecore/conn"
	"github.com/joeycumines/go-runtimecore/internal/runtimelog"
	"github.com/joeycumines/go-runtimecore/iomux"
	"github.com/joeycumines/go-runtimecore/metrics"
	"github.com/joeycumines/go-runtimecore/scheduler"
	"github.com/joeycumines/go-runtimecore/timer"
	"github.com/joeycumines/go-runtimecore/token"
)

// Sentinel errors matching spec.md §7's routine taxonomy members that
// the Reactor itself can raise.
var (
	// ErrAlreadyRegistered is returned by Register when fd already has a
	// live Connection.
	ErrAlreadyRegistered = conn.ErrFDAlreadyRegistered
	// ErrResourceExhausted is returned by Register when the Connection
	// table is at its configured MaxConnections limit.
	ErrResourceExhausted = conn.ErrTableFull
	// ErrUnknownToken is returned by Reregister for a Token with no live
	// registration (Deregister returns nil for such a Token).
	ErrUnknownToken = conn.ErrNotFound
	// ErrShuttingDown is returned by Register and Schedule once the
	// Reactor's shutdown flag has been observed.
	ErrShuttingDown = errors.New("reactor: shutting down")
)

// Config bounds a Reactor's per-turn behavior (spec.md §6 Configuration).
type Config struct {
	// MaxConnections bounds the Connection table (0 = unbounded).
	MaxConnections int
	// MaxEventsPerWait sets the initial capacity of the event slice passed
	// to Multiplexer.Wait. It does not cap how many events one Wait call
	// returns: the epoll and kqueue backends read up to 256 per call, and
	// Portable reports every registered fd.
	MaxEventsPerWait int
	// LoopMaxWait bounds how long a turn blocks in Multiplexer.Wait when
	// no timer is due sooner.
	LoopMaxWait time.Duration
	// TaskQuantum bounds how many tasks are dispatched per turn, across
	// all priority lanes (scheduler.DispatchBatch's quantum).
	TaskQuantum int
	// Timer configures the owned timer.Wheel.
	Timer timer.Config
}

// DefaultConfig returns Reactor defaults: unbounded connections, a
// 128-entry initial event slice per wait, a 100ms max wait, and a
// quantum of 4.
func DefaultConfig() Config {
	return Config{
		MaxEventsPerWait: 128,
		LoopMaxWait:      100 * time.Millisecond,
		TaskQuantum:      4,
		Timer:            timer.DefaultConfig(),
	}
}

// Stats is a point-in-time snapshot of Reactor activity (spec.md §4.1
// "surfaces counters observability needs").
type Stats struct {
	Iterations      uint64
	EventsProcessed uint64
	SpuriousWakes   uint64
	SlowTasks       uint64
	TasksDispatched uint64
	Scheduler       scheduler.Stats
	Timer           timer.Stats
	Connections     int
}

type schedJob struct {
	tok      token.Token
	priority scheduler.Priority
	run      scheduler.RunFunc
}

// Option configures a Reactor at construction.
type Option func(*Reactor)

// WithClock injects the Clock driving the owned Timer Wheel and turn
// timing. Defaults to clock.System{}.
func WithClock(c clock.Clock) Option { return func(r *Reactor) { r.clock = c } }

// WithMultiplexer injects the I/O Multiplexer backend. Defaults to
// iomux.New() (the platform-appropriate backend).
func WithMultiplexer(m iomux.Multiplexer) Option { return func(r *Reactor) { r.mux = m } }

// WithLogger injects the structured logger used for routine errors and
// slow-task/panic reporting.
func WithLogger(l *runtimelog.Logger) Option { return func(r *Reactor) { r.logger = l } }

// WithMetrics attaches a metrics.Registry the Reactor records its own
// loop-level counters/histogram into, under the given name prefix.
func WithMetrics(reg *metrics.Registry, prefix string) Option {
	return func(r *Reactor) {
		r.metricsReg = reg
		r.metricsPrefix = prefix
	}
}

// Reactor is the Runtime's single-threaded event loop. All methods
// except Schedule must be called from the same goroutine that calls
// Run/PollOnce; that includes Stats, which reads the owned Scheduler
// and Timer Wheel without synchronization.
type Reactor struct {
	cfg    Config
	clock  clock.Clock
	mux    iomux.Multiplexer
	wheel  *timer.Wheel
	sched  *scheduler.Scheduler
	conns  *conn.Table
	ioGen  *token.Generator
	logger *runtimelog.Logger

	metricsReg    *metrics.Registry
	metricsPrefix string
	waitHist      *metrics.Histogram

	lastTick clock.Instant

	batcher    *microbatch.Batcher[schedJob]
	pendingMu  sync.Mutex
	pending    []schedJob
	shutdown   bool
	shutdownMu sync.Mutex

	stats Stats
}

// New constructs a Reactor. If opts doesn't supply a Multiplexer,
// iomux.New() is used; construction fails if that platform probe fails.
func New(cfg Config, opts ...Option) (*Reactor, error) {
	r := &Reactor{
		cfg:    cfg,
		clock:  clock.System{},
		logger: runtimelog.Nop(),
		sched:  scheduler.New(),
		ioGen:  token.NewGenerator(token.CategoryIO),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.mux == nil {
		mux, err := iomux.New()
		if err != nil {
			return nil, err
		}
		r.mux = mux
	}
	r.conns = conn.NewTable(r.ioGen, cfg.MaxConnections)
	r.wheel = timer.New(r.clock.Now(), timer.WithConfig(cfg.Timer), timer.WithLogger(r.logger))
	r.lastTick = r.clock.Now()
	if r.metricsReg != nil {
		r.waitHist = r.metricsReg.Histogram(r.metricsPrefix+"_wait_seconds", metrics.LinearBounds(0, 0.001, 100))
	}

	r.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:       64,
		FlushInterval: time.Millisecond,
		MaxConcurrency: 1,
	}, r.absorbBatch)

	return r, nil
}

// absorbBatch is the microbatch.BatchProcessor that merges a batch of
// cross-goroutine Schedule submissions into the pending slice the
// Reactor's own goroutine drains at the top of its next turn. This
// coalesces bursts of concurrent Schedule calls into a single lock
// acquisition rather than one per call, which is the whole point of
// wiring go-microbatch here instead of just guarding "pending" directly
// with every Submit.
func (r *Reactor) absorbBatch(_ context.Context, jobs []schedJob) error {
	r.pendingMu.Lock()
	r.pending = append(r.pending, jobs...)
	r.pendingMu.Unlock()
	return nil
}

// Register begins monitoring fd for interest, returning a Token that
// will tag every future readiness event for fd. Must be called from the
// Reactor's own goroutine.
func (r *Reactor) Register(fd int, interest iomux.Interest, handler conn.Handler) (token.Token, error) {
	if r.isShuttingDown() {
		return 0, ErrShuttingDown
	}
	c, err := r.conns.Register(fd, interest, handler)
	if err != nil {
		return 0, err
	}
	if err := r.mux.Register(fd, interest, c.Token()); err != nil {
		_ = r.conns.Remove(c.Token())
		return 0, err
	}
	return c.Token(), nil
}

// Reregister updates the Interest mask for a previously registered
// Connection.
func (r *Reactor) Reregister(tok token.Token, interest iomux.Interest) error {
	c, ok := r.conns.Get(tok)
	if !ok {
		return ErrUnknownToken
	}
	if err := r.mux.Modify(c.FD(), interest); err != nil {
		return err
	}
	return r.conns.SetInterest(tok, interest)
}

// Deregister removes fd from the Multiplexer and the Connection table.
// Idempotent: a second call for the same Token returns nil.
func (r *Reactor) Deregister(tok token.Token) error {
	c, ok := r.conns.Get(tok)
	if !ok {
		return nil
	}
	_ = r.mux.Deregister(c.FD())
	r.sched.Cancel(tok)
	return r.conns.Remove(tok)
}

// Connection looks up a registered Connection by Token, recovering the
// "lookup via the registration table, never a raw pointer" access
// pattern.
func (r *Reactor) Connection(tok token.Token) (*conn.Connection, bool) {
	return r.conns.Get(tok)
}

// Schedule enqueues a task at the given priority, guaranteeing it runs
// within one turn of the loop unless shutdown has been initiated. Safe
// to call from any goroutine, including the Reactor's own.
func (r *Reactor) Schedule(priority scheduler.Priority, run scheduler.RunFunc) (token.Token, error) {
	if r.isShuttingDown() {
		return 0, ErrShuttingDown
	}
	tok := r.sched.NewToken()
	job := schedJob{tok: tok, priority: priority, run: run}

	res, err := r.batcher.Submit(context.Background(), job)
	if err != nil {
		return 0, err
	}
	// Wait for the batch to reach pending, so the next PollOnce's
	// drainPending picks the task up.
	if err := res.Wait(context.Background()); err != nil {
		return 0, err
	}
	return tok, nil
}

// ScheduleTimer registers callback to fire once the Timer Wheel
// advances past deadline, returning the Token identifying it. Must be
// called from the Reactor's own goroutine, like Register — the owned
// timer.Wheel is not safe for concurrent use (spec.md §4.2's single-
// Reactor ownership). Timeouts are expressed by scheduling a Timer
// whose callback cancels the target task's Token (spec.md §4.3).
func (r *Reactor) ScheduleTimer(deadline clock.Instant, callback timer.Callback) (token.Token, error) {
	if r.isShuttingDown() {
		return 0, ErrShuttingDown
	}
	return r.wheel.Schedule(deadline, callback), nil
}

// CancelTimer removes a pending Timer before it fires, returning true
// if it had not yet fired. Must be called from the Reactor's own
// goroutine.
func (r *Reactor) CancelTimer(tok token.Token) bool {
	return r.wheel.Cancel(tok)
}

// InitiateShutdown marks the Reactor as shutting down: further Register
// and Schedule calls fail with ErrShuttingDown. Existing registrations
// and scheduled tasks are unaffected; the caller drives the actual
// teardown via package shutdown.
func (r *Reactor) InitiateShutdown() {
	r.shutdownMu.Lock()
	r.shutdown = true
	r.shutdownMu.Unlock()
}

func (r *Reactor) isShuttingDown() bool {
	r.shutdownMu.Lock()
	defer r.shutdownMu.Unlock()
	return r.shutdown
}

// drainPending merges any cross-goroutine Schedule submissions absorbed
// since the last turn into the scheduler's ready queues.
func (r *Reactor) drainPending() {
	r.pendingMu.Lock()
	jobs := r.pending
	r.pending = nil
	r.pendingMu.Unlock()

	for _, j := range jobs {
		r.sched.SpawnWithToken(j.tok, j.priority, j.run)
	}
}

// PollOnce runs a single turn of the loop and returns the number of
// readiness events handled. Intended for tests and cooperative
// embedding (spec.md §4.1 poll_once).
func (r *Reactor) PollOnce() (int, error) {
	r.drainPending()

	now := r.clock.Now()
	wait := r.cfg.LoopMaxWait
	if deadline, ok := r.wheel.NextDeadline(); ok {
		if untilTimer := deadline.Sub(now); untilTimer < wait {
			wait = untilTimer
		}
	}
	if wait < 0 {
		wait = 0
	}
	if r.sched.HasWork() {
		wait = 0
	}

	events, err := r.mux.Wait(make([]iomux.Event, 0, r.cfg.MaxEventsPerWait), wait)
	if err != nil {
		return 0, err
	}

	r.stats.Iterations++
	if len(events) == 0 && wait != 0 {
		r.stats.SpuriousWakes++
	}

	for _, ev := range events {
		r.dispatchReadiness(ev)
	}
	r.stats.EventsProcessed += uint64(len(events))

	tickNow := r.clock.Now()
	r.wheel.Advance(tickNow)
	r.lastTick = tickNow

	results := r.sched.DispatchBatch(r.cfg.TaskQuantum)
	r.stats.TasksDispatched += uint64(len(results))

	if r.waitHist != nil {
		r.waitHist.Record(r.clock.Now().Sub(now).Seconds())
	}

	return len(events), nil
}

func (r *Reactor) dispatchReadiness(ev iomux.Event) {
	c, ok := r.conns.Get(ev.Token)
	if !ok {
		return
	}
	if !c.Closed() {
		switch {
		case ev.Interest.Has(iomux.Error):
			r.invokeHandler(c, func(h conn.Handler) { h.OnError(c, errors.New("reactor: fd reported an error condition")) })
		default:
			if ev.Interest.Has(iomux.Readable) {
				r.invokeHandler(c, func(h conn.Handler) { h.OnReadable(c) })
			}
			if ev.Interest.Has(iomux.Writable) {
				r.invokeHandler(c, func(h conn.Handler) { h.OnWritable(c) })
			}
		}
	}
	// Wake any task parked on this Token regardless of which readiness
	// bits fired: a task's BlockedOn contract names the Token it's
	// waiting on, not a specific Interest.
	r.sched.Wake(ev.Token)
}

// invokeHandler recovers a panicking Handler the same way the owned
// timer.Wheel isolates a panicking callback, so one misbehaving
// Connection cannot stall the Reactor's turn.
func (r *Reactor) invokeHandler(c *conn.Connection, call func(conn.Handler)) {
	h := c.Handler()
	if h == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.stats.SlowTasks++
			r.logger.Err().Any("panic", rec).Str("token", c.Token().String()).Log("connection handler panicked")
		}
	}()
	call(h)
}

// Run drives the loop, calling PollOnce repeatedly until ctx is done or
// InitiateShutdown has been called, no task is ready and no Connection
// is live. Pending timers and blocked tasks do not keep it running.
func (r *Reactor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := r.PollOnce(); err != nil {
			return err
		}
		if r.isShuttingDown() && !r.sched.HasWork() && r.conns.Len() == 0 {
			return nil
		}
	}
}

// Stats returns a snapshot of Reactor activity, including the owned
// Scheduler's and Timer Wheel's own stats.
func (r *Reactor) Stats() Stats {
	st := r.stats
	st.Scheduler = r.sched.Stats()
	st.Timer = r.wheel.Stats()
	st.Connections = r.conns.Len()
	return st
}

// Close releases the owned Multiplexer and stops the cross-goroutine
// submission batcher.
func (r *Reactor) Close() error {
	_ = r.batcher.Close()
	return r.mux.Close()
}
