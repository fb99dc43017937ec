package conn

import (
	"testing"

	"github.com/joeycumines/go-runtimecore/iomux"
	"github.com/joeycumines/go-runtimecore/token"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	closed []int
}

func (h *recordingHandler) OnReadable(*Connection)       {}
func (h *recordingHandler) OnWritable(*Connection)       {}
func (h *recordingHandler) OnError(*Connection, error)   {}
func (h *recordingHandler) OnClosed(c *Connection)       { h.closed = append(h.closed, c.FD()) }

func TestTable_RegisterGetRemove(t *testing.T) {
	gen := token.NewGenerator(token.CategoryIO)
	tbl := NewTable(gen, 0)
	h := &recordingHandler{}

	c, err := tbl.Register(3, iomux.Readable, h)
	require.NoError(t, err)
	require.Equal(t, 3, c.FD())
	require.Equal(t, 1, tbl.Len())

	got, ok := tbl.GetFD(3)
	require.True(t, ok)
	require.Same(t, c, got)

	got2, ok := tbl.Get(c.Token())
	require.True(t, ok)
	require.Same(t, c, got2)

	require.NoError(t, tbl.Remove(c.Token()))
	require.Equal(t, 0, tbl.Len())
	require.Equal(t, []int{3}, h.closed)
	require.True(t, c.Closed())

	_, ok = tbl.GetFD(3)
	require.False(t, ok)
}

func TestTable_DuplicateFDRejected(t *testing.T) {
	gen := token.NewGenerator(token.CategoryIO)
	tbl := NewTable(gen, 0)
	_, err := tbl.Register(5, iomux.Readable, nil)
	require.NoError(t, err)
	_, err = tbl.Register(5, iomux.Readable, nil)
	require.ErrorIs(t, err, ErrFDAlreadyRegistered)
}

func TestTable_MaxConnectionsEnforced(t *testing.T) {
	gen := token.NewGenerator(token.CategoryIO)
	tbl := NewTable(gen, 1)
	_, err := tbl.Register(1, iomux.Readable, nil)
	require.NoError(t, err)
	_, err = tbl.Register(2, iomux.Readable, nil)
	require.ErrorIs(t, err, ErrTableFull)
}

func TestTable_RemoveUnknownToken(t *testing.T) {
	gen := token.NewGenerator(token.CategoryIO)
	tbl := NewTable(gen, 0)
	require.ErrorIs(t, tbl.Remove(token.Token(999)), ErrNotFound)
}

func TestTable_SnapshotAndSetInterest(t *testing.T) {
	gen := token.NewGenerator(token.CategoryIO)
	tbl := NewTable(gen, 0)
	c, err := tbl.Register(7, iomux.Readable, nil)
	require.NoError(t, err)

	require.NoError(t, tbl.SetInterest(c.Token(), iomux.Readable|iomux.Writable))
	require.Equal(t, iomux.Readable|iomux.Writable, c.Interest())

	snap := tbl.Snapshot()
	require.Equal(t, []token.Token{c.Token()}, snap)
}

func TestTable_GrowsPastInitialFDRange(t *testing.T) {
	gen := token.NewGenerator(token.CategoryIO)
	tbl := NewTable(gen, 0)
	_, err := tbl.Register(1000, iomux.Readable, nil)
	require.NoError(t, err)
	got, ok := tbl.GetFD(1000)
	require.True(t, ok)
	require.Equal(t, 1000, got.FD())
}
