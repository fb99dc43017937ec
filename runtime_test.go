package runtimecore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-runtimecore/clock"
	"github.com/joeycumines/go-runtimecore/conn"
	"github.com/joeycumines/go-runtimecore/iomux"
	"github.com/joeycumines/go-runtimecore/scheduler"
	"github.com/joeycumines/go-runtimecore/shutdown"
	"github.com/joeycumines/go-runtimecore/token"
	"github.com/stretchr/testify/require"
)

// fakeMux mirrors reactor's own test double: an in-memory Multiplexer
// so Handle tests run without depending on real OS fds.
type fakeMux struct {
	mu     sync.Mutex
	tokens map[int]token.Token
	queued []iomux.Event
}

func newFakeMux() *fakeMux { return &fakeMux{tokens: make(map[int]token.Token)} }

func (f *fakeMux) Register(fd int, interest iomux.Interest, tok token.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[fd] = tok
	return nil
}

func (f *fakeMux) Modify(fd int, interest iomux.Interest) error { return nil }

func (f *fakeMux) Deregister(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, fd)
	return nil
}

func (f *fakeMux) Wait(dst []iomux.Event, timeout time.Duration) ([]iomux.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dst = append(dst, f.queued...)
	f.queued = nil
	return dst, nil
}

func (f *fakeMux) Close() error { return nil }

func (f *fakeMux) push(ev iomux.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, ev)
}

type nopHandler struct{ closed int }

func (h *nopHandler) OnReadable(*conn.Connection)      {}
func (h *nopHandler) OnWritable(*conn.Connection)      {}
func (h *nopHandler) OnError(*conn.Connection, error)  {}
func (h *nopHandler) OnClosed(*conn.Connection)        { h.closed++ }

func newTestHandle(t *testing.T) (*Handle, *fakeMux) {
	t.Helper()
	h, _, _ := newTestHandleWithClock(t)
	return h, nil
}

func newTestHandleWithClock(t *testing.T) (*Handle, *fakeMux, *clock.Manual) {
	t.Helper()
	mux := newFakeMux()
	mc := clock.NewManual()
	h, err := New(WithMultiplexer(mux), WithClock(mc))
	require.NoError(t, err)
	return h, mux, mc
}

func TestNew_DefaultsConstructEveryCollaborator(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	require.NotNil(t, h.Metrics())
	require.NotNil(t, h.Breaker("downstream"))
	require.NoError(t, h.Close())
}

func TestHandle_RegisterDeregisterTracksDrainAccounting(t *testing.T) {
	h, _ := newTestHandle(t)
	defer h.Close()

	handler := &nopHandler{}
	tok, err := h.Register(5, iomux.Readable, handler)
	require.NoError(t, err)

	require.NoError(t, h.Deregister(tok))
	require.Equal(t, 1, handler.closed)

	// Idempotent: a second Deregister must not double-decrement or
	// re-close.
	require.NoError(t, h.Deregister(tok))
	require.Equal(t, 1, handler.closed)
}

func TestHandle_ScheduleAndPollOnce(t *testing.T) {
	h, _ := newTestHandle(t)
	defer h.Close()

	ran := make(chan struct{}, 1)
	_, err := h.Schedule(scheduler.Normal, func() (scheduler.Outcome, token.Token) {
		ran <- struct{}{}
		return scheduler.Done, 0
	})
	require.NoError(t, err)

	_, err = h.PollOnce()
	require.NoError(t, err)

	select {
	case <-ran:
	default:
		t.Fatal("scheduled task did not run")
	}
}

// TestHandle_ScheduleTimerFiresAndCancels exercises the Timer Wheel
// through the Handle's public surface (spec.md §6's "schedule tasks
// and timers"), including the spec.md §4.3 timeout pattern of a Timer
// cancelling a scheduled task's Token.
func TestHandle_ScheduleTimerFiresAndCancels(t *testing.T) {
	h, _, mc := newTestHandleWithClock(t)
	defer h.Close()

	var fired bool
	_, err := h.ScheduleTimer(mc.Now().Add(time.Millisecond), func(token.Token, clock.Instant) { fired = true })
	require.NoError(t, err)

	mc.Advance(2 * time.Millisecond)
	_, err = h.PollOnce()
	require.NoError(t, err)
	require.True(t, fired)

	var cancelledFired bool
	tok, err := h.ScheduleTimer(mc.Now().Add(time.Millisecond), func(token.Token, clock.Instant) { cancelledFired = true })
	require.NoError(t, err)
	require.True(t, h.CancelTimer(tok))

	mc.Advance(2 * time.Millisecond)
	_, err = h.PollOnce()
	require.NoError(t, err)
	require.False(t, cancelledFired, "a cancelled Timer must never fire")
}

func TestHandle_ScheduleTimerRejectedAfterShutdown(t *testing.T) {
	h, _, mc := newTestHandleWithClock(t)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.Shutdown(ctx)

	_, err := h.ScheduleTimer(mc.Now().Add(time.Millisecond), func(token.Token, clock.Instant) {})
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestHandle_BreakerIsSharedByName(t *testing.T) {
	h, _ := newTestHandle(t)
	defer h.Close()

	b1 := h.Breaker("svc")
	b2 := h.Breaker("svc")
	require.Same(t, b1, b2)
}

func TestHandle_ShutdownRunsRegisteredHandlers(t *testing.T) {
	h, _ := newTestHandle(t)
	defer h.Close()

	var ran bool
	require.NoError(t, h.RegisterShutdownHandler(shutdown.Handler{
		Name:     "flush",
		Priority: 10,
		Deadline: time.Second,
		Run: func(ctx context.Context) error {
			ran = true
			return nil
		},
	}))

	select {
	case <-h.ShutdownSignal():
		t.Fatal("shutdown signal fired before Shutdown was called")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stats := h.Shutdown(ctx)
	require.True(t, ran)
	require.False(t, stats.Forced)

	select {
	case <-h.ShutdownSignal():
	default:
		t.Fatal("shutdown signal must be closed after Shutdown")
	}
}

func TestHandle_ShutdownRejectsNewRegistrations(t *testing.T) {
	h, _ := newTestHandle(t)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.Shutdown(ctx)

	_, err := h.Register(9, iomux.Readable, &nopHandler{})
	require.ErrorIs(t, err, ErrShuttingDown)
}
