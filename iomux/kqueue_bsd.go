//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package iomux

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-runtimecore/token"
)

// Kqueue is the BSD/macOS Multiplexer backend, driving kevent.
type Kqueue struct {
	kq int

	mu      sync.RWMutex
	entries map[int]kqEntry

	eventBuf [256]unix.Kevent_t
	closed   atomic.Bool
}

type kqEntry struct {
	token    token.Token
	interest Interest
}

// NewKqueue creates and initializes a kqueue-backed Multiplexer.
func NewKqueue() (*Kqueue, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	return &Kqueue{
		kq:      fd,
		entries: make(map[int]kqEntry),
	}, nil
}

// Register implements Multiplexer.
func (p *Kqueue) Register(fd int, interest Interest, tok token.Token) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.mu.Lock()
	if _, ok := p.entries[fd]; ok {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.entries[fd] = kqEntry{token: tok, interest: interest}
	p.mu.Unlock()

	changes := toKevents(fd, interest, unix.EV_ADD|unix.EV_ENABLE)
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
			p.mu.Lock()
			delete(p.entries, fd)
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

// Modify implements Multiplexer.
func (p *Kqueue) Modify(fd int, interest Interest) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.mu.Lock()
	old, ok := p.entries[fd]
	if !ok {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	p.entries[fd] = kqEntry{token: old.token, interest: interest}
	p.mu.Unlock()

	var changes []unix.Kevent_t
	if old.interest.Has(Readable) && !interest.Has(Readable) {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if old.interest.Has(Writable) && !interest.Has(Writable) {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	changes = append(changes, toKevents(fd, interest, unix.EV_ADD|unix.EV_ENABLE)...)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

// Deregister implements Multiplexer. Idempotent.
func (p *Kqueue) Deregister(fd int) error {
	p.mu.Lock()
	_, ok := p.entries[fd]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.entries, fd)
	p.mu.Unlock()

	changes := []unix.Kevent_t{
		kevent(fd, unix.EVFILT_READ, unix.EV_DELETE),
		kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE),
	}
	// Best-effort: the kernel may reject deleting a filter that was never
	// added; kqueue returns ENOENT per-change via the eventlist, which we
	// ignore since Deregister must be idempotent regardless.
	_, _ = unix.Kevent(p.kq, changes, nil, nil)
	return nil
}

// Wait implements Multiplexer.
func (p *Kqueue) Wait(dst []Event, timeout time.Duration) ([]Event, error) {
	if p.closed.Load() {
		return dst, ErrClosed
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}

	p.mu.RLock()
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		e, ok := p.entries[fd]
		if !ok {
			continue
		}
		dst = append(dst, Event{Token: e.token, Interest: fromKevent(p.eventBuf[i])})
	}
	p.mu.RUnlock()

	return dst, nil
}

// Close implements Multiplexer. Idempotent.
func (p *Kqueue) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(p.kq)
}

func kevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
}

func toKevents(fd int, interest Interest, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if interest.Has(Readable) {
		out = append(out, kevent(fd, unix.EVFILT_READ, flags))
	}
	if interest.Has(Writable) {
		out = append(out, kevent(fd, unix.EVFILT_WRITE, flags))
	}
	return out
}

func fromKevent(ev unix.Kevent_t) Interest {
	var i Interest
	switch ev.Filter {
	case unix.EVFILT_READ:
		i |= Readable
	case unix.EVFILT_WRITE:
		i |= Writable
	}
	if ev.Flags&unix.EV_EOF != 0 {
		i |= HangUp
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		i |= Error
	}
	return i
}

// New returns the platform Multiplexer backend for BSD/macOS: kqueue.
func New() (Multiplexer, error) {
	return NewKqueue()
}
