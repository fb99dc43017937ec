package breaker_test

import (
	"testing"
	"time"

	"github.com/joeycumines/go-runtimecore/breaker"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreateIsStable(t *testing.T) {
	r := breaker.NewRegistry(breaker.Config{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Second})

	a := r.GetOrCreate("downstream-a")
	b := r.GetOrCreate("downstream-a")
	require.Same(t, a, b, "repeated GetOrCreate for the same name returns the same Breaker")

	_, ok := r.Get("downstream-b")
	require.False(t, ok)

	r.GetOrCreate("downstream-b")
	require.ElementsMatch(t, []string{"downstream-a", "downstream-b"}, r.Names())

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, breaker.Closed, snap["downstream-a"].State)
}
