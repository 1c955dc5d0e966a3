package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemosys/turn-queue/internal/model"
)

var holdingNow = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

func TestAssignNextLeasesHighestPriority(t *testing.T) {
	store := newMemStore()
	store.addTurn(model.ClassGeneral, holdingNow.Add(-time.Hour))
	special := store.addTurn(model.ClassSpecial, holdingNow.Add(-time.Minute))
	m := NewHoldingManager(store, fixedClock(holdingNow))

	got, err := m.AssignNext(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, special, got.ID)
	require.NotNil(t, got.HoldingBy)
	assert.Equal(t, uint64(1), *got.HoldingBy)
	require.NotNil(t, got.HoldingAt)
	assert.Equal(t, holdingNow, *got.HoldingAt)

	stored := store.turn(special)
	require.NotNil(t, stored.HoldingBy)
	assert.Equal(t, uint64(1), *stored.HoldingBy)
}

func TestAssignNextIdempotent(t *testing.T) {
	store := newMemStore()
	id := store.addTurn(model.ClassGeneral, holdingNow.Add(-time.Minute))
	store.addTurn(model.ClassGeneral, holdingNow)
	m := NewHoldingManager(store, fixedClock(holdingNow))

	first, err := m.AssignNext(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, id, first.ID)

	// The second call must hand back the same lease, not a second one.
	second, err := m.AssignNext(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, *first.HoldingAt, *second.HoldingAt)
	assert.Len(t, store.heldBy(1), 1)
}

func TestAssignNextNoWork(t *testing.T) {
	store := newMemStore()
	m := NewHoldingManager(store, fixedClock(holdingNow))

	got, err := m.AssignNext(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAssignNextRejectsZeroWorker(t *testing.T) {
	m := NewHoldingManager(newMemStore(), fixedClock(holdingNow))
	_, err := m.AssignNext(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidWorker)
}

func TestAssignNextSkipsWorkerAttendingPatient(t *testing.T) {
	store := newMemStore()
	busy := store.addTurn(model.ClassGeneral, holdingNow.Add(-time.Hour))
	worker := uint64(1)
	store.mutateTurn(busy, func(tn *model.Turn) {
		tn.Status = model.StatusInProgress
		tn.AttendedBy = &worker
	})
	pending := store.addTurn(model.ClassGeneral, holdingNow)
	m := NewHoldingManager(store, fixedClock(holdingNow))

	got, err := m.AssignNext(context.Background(), worker)
	require.NoError(t, err)
	assert.Nil(t, got, "a worker mid-attention gets no new lease")
	assert.Nil(t, store.turn(pending).HoldingBy)
}

func TestAssignNextReselectsAfterLostRace(t *testing.T) {
	store := newMemStore()
	contested := store.addTurn(model.ClassGeneral, holdingNow.Add(-time.Hour))
	runnerUp := store.addTurn(model.ClassGeneral, holdingNow)
	store.failAcquire[contested] = 1
	m := NewHoldingManager(store, fixedClock(holdingNow))

	got, err := m.AssignNext(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, runnerUp, got.ID)
}

func TestAssignNextExhaustedRetryBudgetReportsNoWork(t *testing.T) {
	store := newMemStore()
	for i := 0; i < DefaultRetryBudget+2; i++ {
		id := store.addTurn(model.ClassGeneral, holdingNow)
		store.failAcquire[id] = 1
	}
	m := NewHoldingManager(store, fixedClock(holdingNow))

	got, err := m.AssignNext(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, store.heldBy(1))
}

func TestAssignNextExclusivityUnderConcurrency(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 5; i++ {
		store.addTurn(model.ClassGeneral, holdingNow.Add(time.Duration(i)*time.Second))
	}
	m := NewHoldingManager(store, fixedClock(holdingNow))

	const workers = 10
	var wg sync.WaitGroup
	for w := uint64(1); w <= workers; w++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			_, err := m.AssignNext(context.Background(), id)
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	holders := make(map[uint64]uint64) // turnID -> workerID
	for w := uint64(1); w <= workers; w++ {
		held := store.heldBy(w)
		require.LessOrEqual(t, len(held), 1, "worker %d holds more than one turn", w)
		for _, id := range held {
			_, taken := holders[id]
			require.False(t, taken, "turn %d leased twice", id)
			holders[id] = w
		}
	}
	assert.Len(t, holders, 5, "every turn should end up leased exactly once")
}

// Two requests from the same worker (a double poll, a second tab) can
// both pass the HoldingFor fast path before either opens the lease
// transaction.  The in-transaction re-check must hand the second one
// the existing lease instead of a second turn.
func TestAssignNextConcurrentRequestsSameWorker(t *testing.T) {
	store := newMemStore()
	store.addTurn(model.ClassGeneral, holdingNow.Add(-time.Minute))
	store.addTurn(model.ClassGeneral, holdingNow)

	var gate sync.WaitGroup
	gate.Add(2)
	store.afterHoldingFor = func() {
		gate.Done()
		gate.Wait()
	}
	m := NewHoldingManager(store, fixedClock(holdingNow))

	results := make(chan *model.Turn, 2)
	for i := 0; i < 2; i++ {
		go func() {
			got, err := m.AssignNext(context.Background(), 1)
			assert.NoError(t, err)
			results <- got
		}()
	}
	first := <-results
	second := <-results
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID, "both requests should see the same lease")

	held := store.heldBy(1)
	require.Len(t, held, 1, "worker 1 must hold exactly one turn")
	assert.Equal(t, first.ID, held[0])
}

func TestSkipMovesToNextPriority(t *testing.T) {
	store := newMemStore()
	general := store.addTurn(model.ClassGeneral, holdingNow.Add(-time.Hour))
	special := store.addTurn(model.ClassSpecial, holdingNow)
	m := NewHoldingManager(store, fixedClock(holdingNow))

	// Lease the General turn first so the Special one is the skip target.
	worker := uint64(1)
	store.mutateTurn(general, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &worker, &holdingNow
	})

	res, err := m.Skip(context.Background(), worker, general, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.Equal(t, special, res.Next.ID)
	require.NotNil(t, res.Skipped)
	assert.Equal(t, general, res.Skipped.ID)
	assert.False(t, res.CycleCompleted)

	// Conservation: the old lease is free, the new one is ours, and we
	// hold exactly one turn.
	assert.Nil(t, store.turn(general).HoldingBy)
	assert.Equal(t, []uint64{special}, store.heldBy(worker))
}

func TestSkipCycleCompletedReleasesNothing(t *testing.T) {
	store := newMemStore()
	only := store.addTurn(model.ClassGeneral, holdingNow)
	worker := uint64(1)
	store.mutateTurn(only, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &worker, &holdingNow
	})
	m := NewHoldingManager(store, fixedClock(holdingNow))

	res, err := m.Skip(context.Background(), worker, only, nil)
	require.NoError(t, err)
	assert.True(t, res.CycleCompleted)
	require.NotNil(t, res.Next)
	assert.Equal(t, only, res.Next.ID)
	assert.Nil(t, res.Skipped)
	assert.Equal(t, []uint64{only}, store.heldBy(worker))
}

func TestSkipExcludesPreviouslySkipped(t *testing.T) {
	store := newMemStore()
	first := store.addTurn(model.ClassGeneral, holdingNow.Add(-3*time.Minute))
	second := store.addTurn(model.ClassGeneral, holdingNow.Add(-2*time.Minute))
	third := store.addTurn(model.ClassGeneral, holdingNow.Add(-time.Minute))
	worker := uint64(1)
	store.mutateTurn(second, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &worker, &holdingNow
	})
	m := NewHoldingManager(store, fixedClock(holdingNow))

	// first was already rejected this round, so the skip lands on third
	// even though first is the older turn.
	res, err := m.Skip(context.Background(), worker, second, []uint64{first})
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.Equal(t, third, res.Next.ID)
	assert.Nil(t, store.turn(first).HoldingBy)
}

func TestSkipWhenCurrentHeldByAnother(t *testing.T) {
	store := newMemStore()
	contested := store.addTurn(model.ClassGeneral, holdingNow.Add(-time.Hour))
	free := store.addTurn(model.ClassGeneral, holdingNow)
	other := uint64(2)
	store.mutateTurn(contested, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &other, &holdingNow
	})
	m := NewHoldingManager(store, fixedClock(holdingNow))

	res, err := m.Skip(context.Background(), 1, contested, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Skipped, "a lease we do not own is not released")
	require.NotNil(t, res.Next)
	assert.Equal(t, free, res.Next.ID)

	stored := store.turn(contested)
	require.NotNil(t, stored.HoldingBy)
	assert.Equal(t, other, *stored.HoldingBy)
}

// A skip racing a concurrent assignment can arrive with a stale
// currentTurnID while the worker already holds a different lease.  The
// acquisition path must hand back that lease rather than take a second
// turn.
func TestSkipStaleCurrentKeepsSingleLease(t *testing.T) {
	store := newMemStore()
	held := store.addTurn(model.ClassGeneral, holdingNow.Add(-time.Hour))
	stale := store.addTurn(model.ClassGeneral, holdingNow.Add(-time.Minute))
	store.addTurn(model.ClassGeneral, holdingNow)
	worker := uint64(1)
	store.mutateTurn(held, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &worker, &holdingNow
	})
	m := NewHoldingManager(store, fixedClock(holdingNow))

	res, err := m.Skip(context.Background(), worker, stale, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Skipped)
	require.NotNil(t, res.Next)
	assert.Equal(t, held, res.Next.ID)
	assert.Equal(t, []uint64{held}, store.heldBy(worker))
}

func TestSkipUnknownTurn(t *testing.T) {
	store := newMemStore()
	free := store.addTurn(model.ClassGeneral, holdingNow)
	m := NewHoldingManager(store, fixedClock(holdingNow))

	_, err := m.Skip(context.Background(), 1, 999, nil)
	assert.ErrorIs(t, err, ErrTurnNotFound)
	assert.Nil(t, store.turn(free).HoldingBy, "nothing is leased on a failed skip")
}

func TestSkipPoolExhaustedWithoutCurrent(t *testing.T) {
	store := newMemStore()
	m := NewHoldingManager(store, fixedClock(holdingNow))

	res, err := m.Skip(context.Background(), 1, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Next)
	assert.Nil(t, res.Skipped)
	assert.False(t, res.CycleCompleted)
}

func TestCurrentReturnsHeldTurn(t *testing.T) {
	store := newMemStore()
	id := store.addTurn(model.ClassGeneral, holdingNow)
	worker := uint64(3)
	store.mutateTurn(id, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &worker, &holdingNow
	})
	m := NewHoldingManager(store, fixedClock(holdingNow))

	got, err := m.Current(context.Background(), worker)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)

	none, err := m.Current(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReleaseAll(t *testing.T) {
	store := newMemStore()
	id := store.addTurn(model.ClassGeneral, holdingNow)
	worker := uint64(1)
	store.mutateTurn(id, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &worker, &holdingNow
	})
	m := NewHoldingManager(store, fixedClock(holdingNow))

	n, err := m.ReleaseAll(context.Background(), worker)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Nil(t, store.turn(id).HoldingBy)

	// Safe to repeat when nothing is held.
	n, err = m.ReleaseAll(context.Background(), worker)
	require.NoError(t, err)
	assert.Zero(t, n)
}
