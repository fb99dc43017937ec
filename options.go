package runtimecore

import (
	"time"

	"github.com/joeycumines/go-runtimecore/breaker"
	"github.com/joeycumines/go-runtimecore/clock"
	"github.com/joeycumines/go-runtimecore/internal/runtimelog"
	"github.com/joeycumines/go-runtimecore/iomux"
	"github.com/joeycumines/go-runtimecore/metrics"
	"github.com/joeycumines/go-runtimecore/reactor"
	"github.com/joeycumines/go-runtimecore/shutdown"
)

// Config enumerates every configuration surface named in spec.md §6:
// reactor/timer/scheduler/multiplexer tuning, circuit breaker defaults,
// shutdown/drain deadlines, and metric histogram bucket layouts.
type Config struct {
	MaxConnections      int
	LoopMaxWait         time.Duration
	MaxEventsPerWait    int
	TaskQuantum         int
	TimerLevels         int
	TimerSlotsPerLevel  int
	TimerTickDuration   time.Duration
	BreakerDefaults     breaker.Config
	ShutdownDeadline    time.Duration
	DrainDeadline       time.Duration
	MetricHistograms    map[string]metrics.Bounds
}

func defaultConfig() Config {
	rc := reactor.DefaultConfig()
	sc := shutdown.DefaultConfig()
	return Config{
		MaxConnections:     rc.MaxConnections,
		LoopMaxWait:        rc.LoopMaxWait,
		MaxEventsPerWait:   rc.MaxEventsPerWait,
		TaskQuantum:        rc.TaskQuantum,
		TimerLevels:        rc.Timer.Levels,
		TimerSlotsPerLevel: rc.Timer.SlotsPerLevel,
		TimerTickDuration:  rc.Timer.TickDuration,
		BreakerDefaults:    breaker.DefaultConfig(),
		ShutdownDeadline:   sc.ShutdownDeadline,
		DrainDeadline:      sc.DrainDeadline,
		MetricHistograms:   map[string]metrics.Bounds{},
	}
}

// resolved bundles the fully-constructed dependencies a Handle needs,
// separate from the plain-data Config so options can inject concrete
// implementations (a test clock, a custom Multiplexer) alongside tuning
// knobs. Mirrors the teacher's resolveLoopOptions(...) (*loopOptions,
// error) pattern in eventloop/options.go, generalized to also carry
// constructed collaborators rather than only scalar fields.
type resolved struct {
	cfg    Config
	clock  clock.Clock
	mux    iomux.Multiplexer
	logger *runtimelog.Logger
	breakers *breaker.Registry
	metricsReg *metrics.Registry
}

// Option configures a Handle at construction via New.
type Option func(*resolved)

// WithConfig overrides the scalar tuning fields of Config; fields left
// at their zero value in cfg fall back to defaultConfig()'s value
// (a field-by-field merge, not a wholesale replace).
func WithConfig(cfg Config) Option {
	return func(r *resolved) {
		if cfg.MaxConnections != 0 {
			r.cfg.MaxConnections = cfg.MaxConnections
		}
		if cfg.LoopMaxWait != 0 {
			r.cfg.LoopMaxWait = cfg.LoopMaxWait
		}
		if cfg.MaxEventsPerWait != 0 {
			r.cfg.MaxEventsPerWait = cfg.MaxEventsPerWait
		}
		if cfg.TaskQuantum != 0 {
			r.cfg.TaskQuantum = cfg.TaskQuantum
		}
		if cfg.TimerLevels != 0 {
			r.cfg.TimerLevels = cfg.TimerLevels
		}
		if cfg.TimerSlotsPerLevel != 0 {
			r.cfg.TimerSlotsPerLevel = cfg.TimerSlotsPerLevel
		}
		if cfg.TimerTickDuration != 0 {
			r.cfg.TimerTickDuration = cfg.TimerTickDuration
		}
		if (cfg.BreakerDefaults != breaker.Config{}) {
			r.cfg.BreakerDefaults = cfg.BreakerDefaults
		}
		if cfg.ShutdownDeadline != 0 {
			r.cfg.ShutdownDeadline = cfg.ShutdownDeadline
		}
		if cfg.DrainDeadline != 0 {
			r.cfg.DrainDeadline = cfg.DrainDeadline
		}
		for name, bounds := range cfg.MetricHistograms {
			r.cfg.MetricHistograms[name] = bounds
		}
	}
}

// WithClock injects the Clock driving every owned subsystem's time
// source; defaults to clock.System{}.
func WithClock(c clock.Clock) Option { return func(r *resolved) { r.clock = c } }

// WithMultiplexer injects the I/O Multiplexer backend; defaults to the
// platform-appropriate iomux.New().
func WithMultiplexer(m iomux.Multiplexer) Option { return func(r *resolved) { r.mux = m } }

// WithLogger injects the structured logger shared by every owned
// subsystem; defaults to runtimelog.Default().
func WithLogger(l *runtimelog.Logger) Option { return func(r *resolved) { r.logger = l } }

// WithMetricsRegistry injects a pre-built metrics Registry, e.g. one
// shared across multiple Handles; defaults to a fresh metrics.NewRegistry().
func WithMetricsRegistry(reg *metrics.Registry) Option {
	return func(r *resolved) { r.metricsReg = reg }
}

// WithBreakerRegistry injects a pre-built breaker Registry; defaults to
// breaker.NewRegistry(cfg.BreakerDefaults).
func WithBreakerRegistry(reg *breaker.Registry) Option {
	return func(r *resolved) { r.breakers = reg }
}

// resolveOptions applies opts over defaultConfig(), in the teacher's
// resolveLoopOptions(...) shape: a fresh defaulted struct, opts applied
// in order, then returned for the constructor to act on.
func resolveOptions(opts []Option) *resolved {
	r := &resolved{
		cfg:   defaultConfig(),
		clock: clock.System{},
		logger: runtimelog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r
}
