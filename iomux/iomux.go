// Package iomux abstracts the kernel readiness interface the Reactor
// drives: an epoll-like surface on Linux, a kqueue-like surface on
// BSD/macOS, and elsewhere a portable fallback that reports every
// registered fd once its timeout elapses or a registration change wakes it. The
// Runtime mandates only the contract in spec.md §6: no event loss for
// registered interests, and events carry the Token supplied at
// registration.
package iomux

import (
	"errors"
	"time"

	"github.com/joeycumines/go-runtimecore/token"
)

// Interest is a set of I/O conditions a registrant wishes to observe.
type Interest uint32

const (
	// Readable indicates the file descriptor is ready for reading.
	Readable Interest = 1 << iota
	// Writable indicates the file descriptor is ready for writing.
	Writable
	// Error indicates an error condition on the file descriptor.
	Error
	// HangUp indicates the peer closed its end of the connection.
	HangUp
)

// Has reports whether i contains every bit set in other.
func (i Interest) Has(other Interest) bool { return i&other == other }

// String renders the interest set for logging, e.g. "R|W".
func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	s := ""
	for _, p := range []struct {
		bit Interest
		sym string
	}{
		{Readable, "R"},
		{Writable, "W"},
		{Error, "E"},
		{HangUp, "H"},
	} {
		if i.Has(p.bit) {
			if s != "" {
				s += "|"
			}
			s += p.sym
		}
	}
	return s
}

// Standard errors returned by Multiplexer implementations.
var (
	// ErrFDAlreadyRegistered is returned by Register when fd already has
	// an active registration.
	ErrFDAlreadyRegistered = errors.New("iomux: fd already registered")
	// ErrFDNotRegistered is returned by Modify for an unknown fd
	// (Deregister is idempotent and returns nil instead).
	ErrFDNotRegistered = errors.New("iomux: fd not registered")
	// ErrClosed is returned by any operation on a closed Multiplexer.
	ErrClosed = errors.New("iomux: multiplexer closed")
)

// Event is a single readiness notification produced by Wait.
type Event struct {
	// Token is the handle supplied at Register time for this fd.
	Token token.Token
	// Interest is the readiness observed (a subset of, or superset across
	// Error/HangUp of, what was registered).
	Interest Interest
}

// Multiplexer abstracts the OS-backed readiness interface used by the
// Reactor. Implementations must never drop an event for a registered
// interest, and every Event.Token must match the Token supplied at the
// corresponding Register call (spec.md §6).
//
// A Multiplexer is NOT safe for concurrent use beyond the guarantee that
// Wait may run concurrently with Register/Modify/Deregister called from
// another goroutine: every backend guards its registration map with a
// mutex. Only Portable also wakes a blocked Wait on a registration
// change (through an internal channel); Epoll and Kqueue have no wake
// fd, so their Wait returns only on readiness or timeout.
type Multiplexer interface {
	// Register begins monitoring fd for interest, associating tok with
	// every future Event for this fd. Returns ErrFDAlreadyRegistered if fd
	// is already registered, ErrClosed if the multiplexer is closed.
	Register(fd int, interest Interest, tok token.Token) error

	// Modify updates the interest mask for a registered fd. Returns
	// ErrFDNotRegistered if fd has no active registration.
	Modify(fd int, interest Interest) error

	// Deregister stops monitoring fd. Idempotent: deregistering an
	// already-deregistered (or never-registered) fd returns nil.
	Deregister(fd int) error

	// Wait blocks for up to timeout for readiness events, appending them
	// to dst and returning the extended slice. timeout < 0 blocks
	// indefinitely; timeout == 0 polls without blocking. A nil or empty
	// return is a legitimate spurious wake, not an error.
	Wait(dst []Event, timeout time.Duration) ([]Event, error)

	// Close releases the underlying OS resource. Idempotent.
	Close() error
}
