// Package conn implements the Connection type and its owning Table: the
// Reactor's exclusive fd-to-state registration (spec.md §3 Connection,
// §6.7 additions). A Connection owns its read/write Buffers, its current
// Interest mask, and an opaque Handler capability the Reactor invokes on
// readiness. Its raw fd is reachable through the exported FD accessor,
// which the Reactor uses for multiplexer registration; the Reactor itself
// looks Connections up by Token through the registration table, matching
// the "connection lookup via the registration table, never a raw pointer"
// rule recovered from the original reactor/connection coupling.
package conn

import (
	"github.com/joeycumines/go-runtimecore/buffer"
	"github.com/joeycumines/go-runtimecore/iomux"
	"github.com/joeycumines/go-runtimecore/token"
)

// Handler is the capability surface a Connection's owner supplies at
// registration time. The Reactor invokes exactly one of these per
// readiness event it dispatches for the Connection's Token, grounded on
// eventtarget.go's single-callback-per-event-type dispatch model,
// narrowed from EventTarget's many-listeners-per-type fan-out since a
// Connection has exactly one owner.
type Handler interface {
	// OnReadable is invoked when the Connection's fd is ready for reading.
	OnReadable(c *Connection)
	// OnWritable is invoked when the Connection's fd is ready for writing.
	OnWritable(c *Connection)
	// OnError is invoked on an error condition reported by the multiplexer.
	OnError(c *Connection, err error)
	// OnClosed is invoked once, when Table.Remove removes the Connection
	// from its Table (the only path that closes a Connection).
	OnClosed(c *Connection)
}

// Connection is a single registered fd: its read/write buffers, its
// current Interest mask, and the Handler the Reactor dispatches readiness
// to. The zero value is not usable; construct via Table.Register.
type Connection struct {
	tok     token.Token
	fd      int
	read    *buffer.Ring
	write   *buffer.Ring
	interest iomux.Interest
	handler Handler
	closed  bool
}

// Token returns the opaque handle identifying this Connection.
func (c *Connection) Token() token.Token { return c.tok }

// FD returns the underlying file descriptor. Exposed for the Reactor's
// own use (multiplexer registration, raw read/write syscalls); consumers
// reach a Connection's data through Read/Write, not this fd directly.
func (c *Connection) FD() int { return c.fd }

// Read returns the Connection's read-side Buffer.
func (c *Connection) Read() *buffer.Ring { return c.read }

// Write returns the Connection's write-side Buffer.
func (c *Connection) Write() *buffer.Ring { return c.write }

// Interest returns the Connection's current registered Interest mask.
func (c *Connection) Interest() iomux.Interest { return c.interest }

// Closed reports whether the Connection has been removed from its Table.
func (c *Connection) Closed() bool { return c.closed }

// Handler returns the capability supplied at registration, or nil if
// none was given.
func (c *Connection) Handler() Handler { return c.handler }
