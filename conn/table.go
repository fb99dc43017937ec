package conn

import (
	"errors"
	"sync"

	"github.com/joeycumines/go-runtimecore/buffer"
	"github.com/joeycumines/go-runtimecore/iomux"
	"github.com/joeycumines/go-runtimecore/token"
)

// ErrTableFull is returned by Register when the Table is already at its
// configured MaxConnections limit (spec.md §5 resource limits).
var ErrTableFull = errors.New("conn: connection table at capacity")

// ErrFDAlreadyRegistered is returned by Register when fd already has a
// live Connection in the Table.
var ErrFDAlreadyRegistered = errors.New("conn: fd already registered")

// ErrNotFound is returned by Get/Remove for a Token with no live
// Connection.
var ErrNotFound = errors.New("conn: token not found")

// defaultBufferSize is the initial capacity given to a Connection's
// read/write buffer.Ring on registration when the caller doesn't supply
// one, chosen to match typical single-syscall read sizes without forcing
// an immediate Grow on the first read.
const defaultBufferSize = 4096

// Table is the Reactor's exclusive fd->Connection registration table:
// direct-indexed by fd for O(1) lookup, growing on demand, and bounded by
// a configured maximum live connection count. Grounded on the teacher's
// FastPoller.fds []fdInfo direct-indexing design in poller_darwin.go /
// poller_linux.go, generalized from that design's fixed maxFDs
// preallocation to a table that grows geometrically and enforces an
// explicit MaxConnections ceiling rather than a hardcoded array size.
//
// Table is not safe for unsynchronized concurrent use from multiple
// goroutines; like the Reactor that owns it, all mutating methods are
// intended to be called only from the Reactor's own goroutine. Read-only
// accessors used by other subsystems for diagnostics (Len, Snapshot) take
// the internal mutex defensively.
type Table struct {
	mu      sync.Mutex
	gen     *token.Generator
	byFD    []*Connection
	byToken map[token.Token]*Connection
	max     int
	count   int
}

// NewTable constructs a Table that issues Tokens from gen and refuses
// Register once len(live connections) reaches max. A non-positive max
// means unbounded.
func NewTable(gen *token.Generator, max int) *Table {
	return &Table{
		gen:     gen,
		byToken: make(map[token.Token]*Connection),
		max:     max,
	}
}

// Register creates and indexes a new Connection for fd, returning
// ErrFDAlreadyRegistered if fd already has a live entry and ErrTableFull
// if the Table is at its configured maximum.
func (t *Table) Register(fd int, interest iomux.Interest, handler Handler) (*Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fd < len(t.byFD) && t.byFD[fd] != nil {
		return nil, ErrFDAlreadyRegistered
	}
	if t.max > 0 && t.count >= t.max {
		return nil, ErrTableFull
	}

	if fd >= len(t.byFD) {
		grown := make([]*Connection, growTo(len(t.byFD), fd+1))
		copy(grown, t.byFD)
		t.byFD = grown
	}

	c := &Connection{
		tok:      t.gen.Next(),
		fd:       fd,
		read:     buffer.New(defaultBufferSize),
		write:    buffer.New(defaultBufferSize),
		interest: interest,
		handler:  handler,
	}
	t.byFD[fd] = c
	t.byToken[c.tok] = c
	t.count++
	return c, nil
}

// growTo doubles from cur (starting at 64) until it covers need. This is
// the Table's own geometric policy; buffer.Ring.Grow, by contrast,
// allocates exactly the space requested.
func growTo(cur, need int) int {
	if cur == 0 {
		cur = 64
	}
	for cur < need {
		cur *= 2
	}
	return cur
}

// Get looks up the live Connection for tok.
func (t *Table) Get(tok token.Token) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byToken[tok]
	return c, ok
}

// GetFD looks up the live Connection for fd.
func (t *Table) GetFD(fd int) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.byFD) || t.byFD[fd] == nil {
		return nil, false
	}
	return t.byFD[fd], true
}

// SetInterest updates the Connection's recorded Interest mask. This
// records the Table's bookkeeping only; the caller is responsible for
// also calling iomux.Multiplexer.Modify.
func (t *Table) SetInterest(tok token.Token, interest iomux.Interest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byToken[tok]
	if !ok {
		return ErrNotFound
	}
	c.interest = interest
	return nil
}

// Remove deregisters the Connection for tok, invoking its Handler's
// OnClosed exactly once. Returns ErrNotFound if tok has no live entry.
func (t *Table) Remove(tok token.Token) error {
	t.mu.Lock()
	c, ok := t.byToken[tok]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	delete(t.byToken, tok)
	if c.fd < len(t.byFD) {
		t.byFD[c.fd] = nil
	}
	t.count--
	c.closed = true
	t.mu.Unlock()

	if c.handler != nil {
		c.handler.OnClosed(c)
	}
	return nil
}

// Len returns the current count of live Connections.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Snapshot returns every currently-live Connection's Token. The slice is
// a point-in-time copy; it does not alias Table state.
func (t *Table) Snapshot() []token.Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]token.Token, 0, len(t.byToken))
	for tok := range t.byToken {
		out = append(out, tok)
	}
	return out
}
