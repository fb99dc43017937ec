//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package iomux

import (
	"sync"
	"time"

	"github.com/joeycumines/go-runtimecore/token"
)

// Portable is a fallback Multiplexer for platforms without a native
// epoll/kqueue binding wired into this module (see DESIGN.md: Windows
// IOCP is an explicit scope reduction from spec.md's "completion-based
// surface where available"). It satisfies the Multiplexer contract but
// always reports every registered fd as ready for its registered
// interest once the requested timeout elapses or a registration change
// wakes Wait, which is correct-but-conservative: callers
// must be prepared to find the fd not actually ready and retry, same as
// handling a spurious wake-up (spec.md §4.1 edge cases).
type Portable struct {
	mu       sync.Mutex
	fds      map[int]portableEntry
	closed   bool
	wakeCh   chan struct{}
}

type portableEntry struct {
	token    token.Token
	interest Interest
}

// NewPortable creates a Portable fallback Multiplexer.
func NewPortable() (*Portable, error) {
	return &Portable{
		fds:    make(map[int]portableEntry),
		wakeCh: make(chan struct{}, 1),
	}, nil
}

// Register implements Multiplexer.
func (p *Portable) Register(fd int, interest Interest, tok token.Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.fds[fd]; ok {
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = portableEntry{token: tok, interest: interest}
	p.wake()
	return nil
}

// Modify implements Multiplexer.
func (p *Portable) Modify(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	e, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	e.interest = interest
	p.fds[fd] = e
	p.wake()
	return nil
}

// Deregister implements Multiplexer. Idempotent.
func (p *Portable) Deregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	p.wake()
	return nil
}

// Wait implements Multiplexer: it blocks for up to timeout (or until woken
// by a registration change), then reports every currently registered fd
// as ready for its full requested interest set.
func (p *Portable) Wait(dst []Event, timeout time.Duration) ([]Event, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return dst, ErrClosed
	}
	p.mu.Unlock()

	if timeout < 0 {
		<-p.wakeCh
	} else {
		select {
		case <-p.wakeCh:
		case <-time.After(timeout):
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.fds {
		dst = append(dst, Event{Token: e.token, Interest: e.interest})
	}
	return dst, nil
}

// Close implements Multiplexer. Idempotent.
func (p *Portable) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.wake()
	return nil
}

func (p *Portable) wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// New returns the platform Multiplexer backend: the portable fallback.
func New() (Multiplexer, error) {
	return NewPortable()
}
