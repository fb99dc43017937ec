package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-runtimecore/clock"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_OrdersHandlersByPriorityThenRegistration(t *testing.T) {
	co := NewCoordinator(Config{ShutdownDeadline: 500 * time.Millisecond})

	var mu sync.Mutex
	var started []string
	var completed []string

	// runHandler blocks on the current handler's completion before the
	// loop moves to the next one, so ordering is already serialized;
	// no sleep is needed to prove H_hi runs to completion before H_lo
	// starts.
	require.NoError(t, co.RegisterHandler(Handler{
		Name: "H_hi", Priority: 10, Deadline: 500 * time.Millisecond,
		Run: func(ctx context.Context) error {
			mu.Lock()
			started = append(started, "H_hi")
			mu.Unlock()
			mu.Lock()
			completed = append(completed, "H_hi")
			mu.Unlock()
			return nil
		},
	}))
	require.NoError(t, co.RegisterHandler(Handler{
		Name: "H_lo", Priority: 5, Deadline: 500 * time.Millisecond,
		Run: func(ctx context.Context) error {
			mu.Lock()
			started = append(started, "H_lo")
			mu.Unlock()
			mu.Lock()
			completed = append(completed, "H_lo")
			mu.Unlock()
			return nil
		},
	}))

	stats := co.Initiate(context.Background())
	require.False(t, stats.Forced)
	require.Equal(t, 2, stats.HandlersRun)
	require.Equal(t, []string{"H_hi", "H_lo"}, started)
	require.Equal(t, []string{"H_hi", "H_lo"}, completed)
}

func TestCoordinator_ForcedByDeadline(t *testing.T) {
	co := NewCoordinator(Config{ShutdownDeadline: 50 * time.Millisecond})
	require.NoError(t, co.RegisterHandler(Handler{
		Name: "slow", Priority: 1, Deadline: 2 * time.Second,
		Run: func(ctx context.Context) error {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
			return ctx.Err()
		},
	}))

	start := time.Now()
	stats := co.Initiate(context.Background())
	elapsed := time.Since(start)

	require.True(t, stats.Forced)
	require.GreaterOrEqual(t, stats.HandlersTimedOut, 1)
	require.Less(t, elapsed, time.Second)
}

func TestCoordinator_InitiateIsIdempotent(t *testing.T) {
	co := NewCoordinator(DefaultConfig())
	calls := 0
	require.NoError(t, co.RegisterHandler(Handler{
		Name: "once", Priority: 1, Deadline: time.Second,
		Run: func(ctx context.Context) error {
			calls++
			return nil
		},
	}))

	s1 := co.Initiate(context.Background())
	s2 := co.Initiate(context.Background())
	require.Equal(t, s1, s2)
	require.Equal(t, 1, calls)
}

func TestCoordinator_RegisterAfterInitiateRejected(t *testing.T) {
	co := NewCoordinator(DefaultConfig())
	co.Initiate(context.Background())
	err := co.RegisterHandler(Handler{Name: "late", Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrAlreadyInitiated)
}

func TestCoordinator_ShutdownSignalAndFlag(t *testing.T) {
	co := NewCoordinator(DefaultConfig())
	require.False(t, co.IsShutdownInitiated())
	select {
	case <-co.ShutdownSignal():
		t.Fatal("signal should not be closed before Initiate")
	default:
	}

	co.Initiate(context.Background())
	require.True(t, co.IsShutdownInitiated())
	select {
	case <-co.ShutdownSignal():
	default:
		t.Fatal("signal should be closed after Initiate")
	}
}

func TestCoordinator_DrainsInFlightConnectionsBeforeHandlers(t *testing.T) {
	co := NewCoordinator(Config{ShutdownDeadline: time.Second, DrainDeadline: time.Minute})
	co.IncrementConnections()

	var handlerRan bool
	require.NoError(t, co.RegisterHandler(Handler{
		Name: "after-drain", Priority: 1, Deadline: time.Second,
		Run: func(ctx context.Context) error {
			handlerRan = true
			return nil
		},
	}))

	done := make(chan Stats, 1)
	go func() { done <- co.Initiate(context.Background()) }()

	require.False(t, handlerRan, "the handler phase must not start while a connection is still live")
	co.DecrementConnections()

	stats := <-done
	require.False(t, stats.Forced)
	require.True(t, handlerRan)
}

// TestCoordinator_DrainDeadlineIsBoundByInjectedClock reproduces the
// scenario: a connection never drains, and DrainDeadline is large (ten
// minutes) — but since drain's deadline check is measured against the
// injected Clock rather than a real time.Timer (SPEC_FULL.md §3.4),
// advancing a Manual clock past DrainDeadline lets Initiate proceed to
// the handler phase without the test waiting any real wall-clock time.
func TestCoordinator_DrainDeadlineIsBoundByInjectedClock(t *testing.T) {
	mc := clock.NewManual()
	co := NewCoordinator(Config{ShutdownDeadline: time.Minute, DrainDeadline: 10 * time.Minute}, WithClock(mc))
	co.IncrementConnections() // never decremented

	done := make(chan Stats, 1)
	go func() { done <- co.Initiate(context.Background()) }()

	// Real time here only sequences the two goroutines so drain's poll
	// loop has started observing the live connection before the clock
	// advances; the bound under test (DrainDeadline) is measured
	// entirely via mc, never via wall-clock elapsed time.
	time.Sleep(5 * time.Millisecond)
	mc.Advance(10*time.Minute + time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Initiate did not return once the Manual clock passed DrainDeadline")
	}
}
