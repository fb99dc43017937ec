package scheduler_test

import (
	"testing"

	"github.com/joeycumines/go-runtimecore/scheduler"
	"github.com/joeycumines/go-runtimecore/token"
	"github.com/stretchr/testify/require"
)

// TestScheduler_FairnessWithinFirstFiveBatches reproduces the scenario:
// 10 High + 10 Normal tasks, quantum=4; a Normal task must dispatch
// within the first 5 batches (with the default fairness quantum of 4,
// batch 1 dispatches four High tasks and batch 2 opens with a forced
// Normal dispatch).
func TestScheduler_FairnessWithinFirstFiveBatches(t *testing.T) {
	s := scheduler.New()

	for i := 0; i < 10; i++ {
		s.Spawn(scheduler.High, func() (scheduler.Outcome, token.Token) { return scheduler.Done, 0 })
	}
	for i := 0; i < 10; i++ {
		s.Spawn(scheduler.Normal, func() (scheduler.Outcome, token.Token) { return scheduler.Done, 0 })
	}

	normalSeenAtBatch := -1
	for batch := 1; batch <= 5; batch++ {
		results := s.DispatchBatch(4)
		for _, r := range results {
			if r.Priority == scheduler.Normal && normalSeenAtBatch == -1 {
				normalSeenAtBatch = batch
			}
		}
	}

	require.NotEqual(t, -1, normalSeenAtBatch, "a Normal task should have dispatched within 5 batches")
	require.LessOrEqual(t, normalSeenAtBatch, 5)
}

// TestScheduler_SustainedHighLoadDoesNotStarveNormal reproduces a
// continuously-replenished High queue (e.g. a steady heartbeat
// stream, spec.md §4.3): every High dispatch re-spawns another High
// task, so the lane never empties on its own. A single Normal task
// must still dispatch within fairnessQuantum+1 dispatches, per spec.md
// §4.1's "after K consecutive High-priority dispatches... dispatch at
// least one Normal task if any are ready" — a test that only ever
// drains a fixed High pool, like the batches-based fairness test
// above, would never exercise this.
func TestScheduler_SustainedHighLoadDoesNotStarveNormal(t *testing.T) {
	s := scheduler.New()

	var spawnHeartbeat func()
	spawnHeartbeat = func() {
		s.Spawn(scheduler.High, func() (scheduler.Outcome, token.Token) {
			spawnHeartbeat()
			return scheduler.Done, 0
		})
	}
	spawnHeartbeat()

	normalRan := false
	s.Spawn(scheduler.Normal, func() (scheduler.Outcome, token.Token) {
		normalRan = true
		return scheduler.Done, 0
	})

	const fairnessQuantum = 4
	for i := 0; i < fairnessQuantum+1 && !normalRan; i++ {
		s.DispatchBatch(1)
	}

	require.True(t, normalRan, "a sustained High stream must not starve a ready Normal task")
}

func TestScheduler_CancelPropagatesToChildren(t *testing.T) {
	s := scheduler.New()

	var childRan bool
	parent := s.Spawn(scheduler.Normal, func() (scheduler.Outcome, token.Token) { return scheduler.Yielded, 0 })
	child, ok := s.SpawnChild(parent, scheduler.Normal, func() (scheduler.Outcome, token.Token) {
		childRan = true
		return scheduler.Done, 0
	})
	require.True(t, ok)

	require.True(t, s.Cancel(parent))

	// Drain everything; the cancelled parent and child should both be
	// skipped (reported Done without running).
	for s.HasWork() {
		s.DispatchBatch(10)
	}

	require.False(t, childRan, "a cancelled parent's child must not run")
	stats := s.Stats()
	require.Equal(t, uint64(2), stats.Cancelled)
	_ = child
}

func TestScheduler_BlockAndWake(t *testing.T) {
	s := scheduler.New()
	ioToken := token.NewGenerator(token.CategoryIO).Next()

	ran := false
	first := true
	s.Spawn(scheduler.Normal, func() (scheduler.Outcome, token.Token) {
		if first {
			first = false
			return scheduler.Blocked, ioToken
		}
		ran = true
		return scheduler.Done, 0
	})

	results := s.DispatchBatch(1)
	require.Len(t, results, 1)
	require.Equal(t, scheduler.Blocked, results[0].Outcome)
	require.False(t, s.HasWork(), "blocked task must not be ready")
	require.Equal(t, 1, s.Stats().Blocked)

	woken := s.Wake(ioToken)
	require.Equal(t, 1, woken)
	require.True(t, s.HasWork())

	s.DispatchBatch(1)
	require.True(t, ran)
}

func TestScheduler_WithFairnessQuantumOverridesDefault(t *testing.T) {
	s := scheduler.New(scheduler.WithFairnessQuantum(1))

	for i := 0; i < 3; i++ {
		s.Spawn(scheduler.High, func() (scheduler.Outcome, token.Token) { return scheduler.Done, 0 })
	}
	s.Spawn(scheduler.Normal, func() (scheduler.Outcome, token.Token) { return scheduler.Done, 0 })

	results := s.DispatchBatch(2)
	require.Len(t, results, 2)
	require.Equal(t, scheduler.High, results[0].Priority)
	require.Equal(t, scheduler.Normal, results[1].Priority, "K=1 forces a Normal dispatch after a single High dispatch")
}

func TestScheduler_YieldedTaskRequeues(t *testing.T) {
	s := scheduler.New()
	calls := 0
	s.Spawn(scheduler.Normal, func() (scheduler.Outcome, token.Token) {
		calls++
		if calls < 3 {
			return scheduler.Yielded, 0
		}
		return scheduler.Done, 0
	})

	for i := 0; i < 3; i++ {
		s.DispatchBatch(1)
	}

	require.Equal(t, 3, calls)
	require.False(t, s.HasWork())
}
