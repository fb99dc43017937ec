//go:build linux || darwin

package iomux_test

import (
	"os"
	"testing"
	"time"

	"github.com/joeycumines/go-runtimecore/iomux"
	"github.com/joeycumines/go-runtimecore/token"
	"github.com/stretchr/testify/require"
)

func TestMultiplexer_RegisterWaitDeregister(t *testing.T) {
	mux, err := iomux.New()
	require.NoError(t, err)
	defer mux.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	gen := token.NewGenerator(token.CategoryIO)
	tok := gen.Next()

	require.NoError(t, mux.Register(int(r.Fd()), iomux.Readable, tok))

	events, err := mux.Wait(nil, 10*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, events, "no data written yet, expected spurious-wake-free empty batch")

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	events, err = mux.Wait(nil, time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, tok, events[0].Token)
	require.True(t, events[0].Interest.Has(iomux.Readable))

	require.NoError(t, mux.Deregister(int(r.Fd())))
	require.NoError(t, mux.Deregister(int(r.Fd())), "deregister must be idempotent")
}

func TestMultiplexer_AlreadyRegistered(t *testing.T) {
	mux, err := iomux.New()
	require.NoError(t, err)
	defer mux.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	gen := token.NewGenerator(token.CategoryIO)
	require.NoError(t, mux.Register(int(r.Fd()), iomux.Readable, gen.Next()))
	err = mux.Register(int(r.Fd()), iomux.Readable, gen.Next())
	require.ErrorIs(t, err, iomux.ErrFDAlreadyRegistered)
}

func TestMultiplexer_ModifyUnknownFD(t *testing.T) {
	mux, err := iomux.New()
	require.NoError(t, err)
	defer mux.Close()

	err = mux.Modify(99999, iomux.Writable)
	require.ErrorIs(t, err, iomux.ErrFDNotRegistered)
}

func TestInterest_String(t *testing.T) {
	require.Equal(t, "none", iomux.Interest(0).String())
	require.Equal(t, "R|W", (iomux.Readable | iomux.Writable).String())
}
