package buffer_test

import (
	"testing"

	"github.com/joeycumines/go-runtimecore/buffer"
	"github.com/stretchr/testify/require"
)

func checkInvariant(t *testing.T, r *buffer.Ring) {
	t.Helper()
	require.GreaterOrEqual(t, r.Len(), 0)
	require.LessOrEqual(t, r.Len(), r.Cap())
	require.GreaterOrEqual(t, r.Available(), 0)
}

func TestRing_WriteConsume(t *testing.T) {
	r := buffer.New(8)
	checkInvariant(t, r)

	n, err := r.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	checkInvariant(t, r)
	require.Equal(t, "hello", string(r.Readable()))

	r.Consume(3)
	checkInvariant(t, r)
	require.Equal(t, "lo", string(r.Readable()))

	r.Consume(2)
	checkInvariant(t, r)
	require.Equal(t, 0, r.Len())
}

func TestRing_GrowsWhenFull(t *testing.T) {
	r := buffer.New(4)
	_, err := r.Write([]byte("abcd"))
	require.NoError(t, err)
	checkInvariant(t, r)

	_, err = r.Write([]byte("efgh"))
	require.NoError(t, err)
	checkInvariant(t, r)
	require.Equal(t, "abcdefgh", string(r.Readable()))
	require.GreaterOrEqual(t, r.Cap(), 8)
}

func TestRing_CompactsOnConsumeThenWrite(t *testing.T) {
	r := buffer.New(4)
	_, _ = r.Write([]byte("ab"))
	r.Consume(2)
	checkInvariant(t, r)
	require.Equal(t, 0, r.Len(), "full drain resets head/tail")

	_, err := r.Write([]byte("cd"))
	require.NoError(t, err)
	require.Equal(t, "cd", string(r.Readable()))
}

func TestRing_CommitDirectWrite(t *testing.T) {
	r := buffer.New(4)
	w := r.Writable()
	copy(w, []byte("xy"))
	r.Commit(2)
	checkInvariant(t, r)
	require.Equal(t, "xy", string(r.Readable()))
}

func TestRing_ConsumePastTailPanics(t *testing.T) {
	r := buffer.New(4)
	_, _ = r.Write([]byte("ab"))
	require.Panics(t, func() { r.Consume(3) })
}

func TestRing_CommitPastCapacityPanics(t *testing.T) {
	r := buffer.New(2)
	require.Panics(t, func() { r.Commit(3) })
}

func TestRing_Clear(t *testing.T) {
	r := buffer.New(4)
	_, _ = r.Write([]byte("ab"))
	r.Clear()
	checkInvariant(t, r)
	require.Equal(t, 0, r.Len())
}
