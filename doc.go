// Package runtimecore ties the Clock, Timer Wheel, Metrics Registry,
// Connections & Buffers, I/O Multiplexer, Reactor, Task Scheduler,
// Circuit Breaker, and Shutdown Coordinator layers into the single
// capability surface a consumer — a coordinator, database, or network
// service layer built on top of this Runtime — embeds: [Handle].
//
// # Architecture
//
// A [Handle] owns one [reactor.Reactor] (itself owning an
// [iomux.Multiplexer], a [timer.Wheel], a [scheduler.Scheduler], and a
// [conn.Table]), a [shutdown.Coordinator], and references a shared
// [metrics.Registry] and [breaker.Registry]. [New] resolves a [Config]
// from functional [Option] values, constructs every owned subsystem,
// and returns a ready-to-run [Handle]; callers then call [Handle.Run]
// (or drive [Handle.PollOnce] directly for tests and cooperative
// embedding) until [Handle.Shutdown] completes.
//
// # Concurrency
//
// [Handle.Register], [Handle.Reregister], [Handle.Deregister],
// [Handle.ScheduleTimer], [Handle.CancelTimer], [Handle.PollOnce], and
// [Handle.Run] must be called from the single goroutine that owns the
// [Handle]'s [reactor.Reactor] — the owned [timer.Wheel], like the
// owned [conn.Table], is not safe for concurrent use. [Handle.Schedule],
// [Handle.Metrics], [Handle.Breaker], and
// [Handle.RegisterShutdownHandler] are safe to call from any goroutine.
//
// # Platform support
//
// I/O polling uses epoll on Linux and kqueue on Darwin/BSD, falling
// back to a portable, non-production fallback backend elsewhere so the
// module remains buildable on every GOOS (see package iomux).
package runtimecore
