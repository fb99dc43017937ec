package runtimecore

import (
	"context"
	"errors"

	"github.com/joeycumines/go-runtimecore/breaker"
	"github.com/joeycumines/go-runtimecore/clock"
	"github.com/joeycumines/go-runtimecore/conn"
	"github.com/joeycumines/go-runtimecore/internal/runtimelog"
	"github.com/joeycumines/go-runtimecore/iomux"
	"github.com/joeycumines/go-runtimecore/metrics"
	"github.com/joeycumines/go-runtimecore/reactor"
	"github.com/joeycumines/go-runtimecore/scheduler"
	"github.com/joeycumines/go-runtimecore/shutdown"
	"github.com/joeycumines/go-runtimecore/timer"
	"github.com/joeycumines/go-runtimecore/token"
)

// Handle is the single capability surface a consumer embeds: register
// Connections, schedule tasks, record metrics, guard calls with Circuit
// Breakers, and coordinate graceful shutdown, all delegating to one
// owned [reactor.Reactor] and [shutdown.Coordinator]. See the package
// doc comment for the concurrency contract each method follows.
type Handle struct {
	cfg        Config
	reactor    *reactor.Reactor
	shutdown   *shutdown.Coordinator
	metricsReg *metrics.Registry
	breakers   *breaker.Registry
	logger     *runtimelog.Logger
}

// New resolves opts into a Config, constructs every owned subsystem
// (Reactor, shutdown Coordinator, metrics Registry, breaker Registry),
// and returns a ready-to-run Handle. The Handle does not start running
// until Run or repeated PollOnce calls drive it.
func New(opts ...Option) (*Handle, error) {
	r := resolveOptions(opts)

	if r.metricsReg == nil {
		r.metricsReg = metrics.NewRegistry()
	}
	if r.breakers == nil {
		r.breakers = breaker.NewRegistry(r.cfg.BreakerDefaults)
	}

	for name, bounds := range r.cfg.MetricHistograms {
		r.metricsReg.Histogram(name, bounds)
	}

	rcfg := reactor.Config{
		MaxConnections:   r.cfg.MaxConnections,
		MaxEventsPerWait: r.cfg.MaxEventsPerWait,
		LoopMaxWait:      r.cfg.LoopMaxWait,
		TaskQuantum:      r.cfg.TaskQuantum,
		Timer: timer.Config{
			Levels:        r.cfg.TimerLevels,
			SlotsPerLevel: r.cfg.TimerSlotsPerLevel,
			TickDuration:  r.cfg.TimerTickDuration,
		},
	}

	ropts := []reactor.Option{
		reactor.WithClock(r.clock),
		reactor.WithLogger(r.logger),
		reactor.WithMetrics(r.metricsReg, "reactor"),
	}
	if r.mux != nil {
		ropts = append(ropts, reactor.WithMultiplexer(r.mux))
	}

	rt, err := reactor.New(rcfg, ropts...)
	if err != nil {
		return nil, err
	}

	scfg := shutdown.Config{
		ShutdownDeadline: r.cfg.ShutdownDeadline,
		DrainDeadline:    r.cfg.DrainDeadline,
	}
	co := shutdown.NewCoordinator(scfg, shutdown.WithClock(r.clock), shutdown.WithLogger(r.logger))

	return &Handle{
		cfg:        r.cfg,
		reactor:    rt,
		shutdown:   co,
		metricsReg: r.metricsReg,
		breakers:   r.breakers,
		logger:     r.logger,
	}, nil
}

// translateErr maps a reactor sentinel error to its
// runtimecore-level equivalent (per errors.go's Kind taxonomy), via
// errors.Is against the reactor package's own sentinels (which in turn
// alias conn's). Unrecognized errors pass through unchanged.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, reactor.ErrShuttingDown):
		return ErrShuttingDown
	case errors.Is(err, reactor.ErrAlreadyRegistered):
		return ErrAlreadyRegistered
	case errors.Is(err, reactor.ErrResourceExhausted):
		return ErrResourceExhausted
	case errors.Is(err, reactor.ErrUnknownToken):
		return ErrUnknownToken
	default:
		return err
	}
}

// Register binds fd (with the given readiness interest) to handler,
// returning the Token the Reactor will use to address it in readiness
// events, Schedule callbacks, and shutdown drain accounting. Must be
// called from the owning goroutine.
func (h *Handle) Register(fd int, interest iomux.Interest, handler conn.Handler) (token.Token, error) {
	tok, err := h.reactor.Register(fd, interest, handler)
	if err != nil {
		return 0, translateErr(err)
	}
	h.shutdown.IncrementConnections()
	return tok, nil
}

// Reregister changes the readiness interest for an already-registered
// Connection. Must be called from the owning goroutine.
func (h *Handle) Reregister(tok token.Token, interest iomux.Interest) error {
	return translateErr(h.reactor.Reregister(tok, interest))
}

// Deregister removes a Connection, invoking its Handler's OnClosed.
// Idempotent: deregistering an already-gone Token is a no-op. Must be
// called from the owning goroutine.
func (h *Handle) Deregister(tok token.Token) error {
	if _, ok := h.reactor.Connection(tok); ok {
		h.shutdown.DecrementConnections()
	}
	return translateErr(h.reactor.Deregister(tok))
}

// Connection returns the live Connection for tok, if any.
func (h *Handle) Connection(tok token.Token) (*conn.Connection, bool) {
	return h.reactor.Connection(tok)
}

// Schedule submits run for execution on the owning goroutine's next
// turn, returning the Token it will be addressed by. Safe to call from
// any goroutine.
func (h *Handle) Schedule(priority scheduler.Priority, run scheduler.RunFunc) (token.Token, error) {
	tok, err := h.reactor.Schedule(priority, run)
	return tok, translateErr(err)
}

// ScheduleTimer registers callback to fire once deadline elapses,
// returning the Token identifying it. Must be called from the owning
// goroutine, like Register — the owned Timer Wheel is not safe for
// concurrent use.
func (h *Handle) ScheduleTimer(deadline clock.Instant, callback timer.Callback) (token.Token, error) {
	tok, err := h.reactor.ScheduleTimer(deadline, callback)
	return tok, translateErr(err)
}

// CancelTimer removes a pending Timer before it fires, returning true
// if it had not yet fired. Must be called from the owning goroutine.
func (h *Handle) CancelTimer(tok token.Token) bool {
	return h.reactor.CancelTimer(tok)
}

// Metrics returns the shared metrics Registry every owned subsystem
// records into. Safe to call from any goroutine.
func (h *Handle) Metrics() *metrics.Registry {
	return h.metricsReg
}

// Breaker returns the named circuit Breaker, creating it with the
// Runtime's configured defaults on first use. Safe to call from any
// goroutine.
func (h *Handle) Breaker(name string) *breaker.Breaker {
	return h.breakers.GetOrCreate(name)
}

// RegisterShutdownHandler registers a handler to run during graceful
// shutdown, ordered by descending Priority then registration order.
// Safe to call from any goroutine, until shutdown has been initiated.
func (h *Handle) RegisterShutdownHandler(handler shutdown.Handler) error {
	return h.shutdown.RegisterHandler(handler)
}

// ShutdownSignal returns a channel closed once Shutdown is initiated.
// Safe to call from any goroutine.
func (h *Handle) ShutdownSignal() <-chan struct{} {
	return h.shutdown.ShutdownSignal()
}

// PollOnce drives exactly one Reactor turn: drains cross-goroutine
// work, polls the Multiplexer, dispatches readiness and due timers,
// and runs one quantum of ready tasks. Must be called from the owning
// goroutine.
func (h *Handle) PollOnce() (int, error) {
	return h.reactor.PollOnce()
}

// Run drives PollOnce in a loop until ctx is done or Shutdown has been
// initiated and the Reactor has no remaining work or live Connections.
// Must be called from the owning goroutine.
func (h *Handle) Run(ctx context.Context) error {
	return h.reactor.Run(ctx)
}

// Shutdown initiates graceful shutdown: the Reactor stops accepting new
// Connections and scheduled work, in-flight Connections are given
// DrainDeadline to finish, then registered shutdown handlers run in
// priority order bounded by ShutdownDeadline overall. Safe to call from
// any goroutine; idempotent.
func (h *Handle) Shutdown(ctx context.Context) shutdown.Stats {
	h.reactor.InitiateShutdown()
	return h.shutdown.Initiate(ctx)
}

// Stats returns a point-in-time snapshot of Reactor activity. Must be
// called from the owning goroutine.
func (h *Handle) Stats() reactor.Stats {
	return h.reactor.Stats()
}

// Close releases the Reactor's Multiplexer and any other OS resources.
// Call after Run/PollOnce has stopped.
func (h *Handle) Close() error {
	return h.reactor.Close()
}
