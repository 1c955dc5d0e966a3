package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemosys/turn-queue/internal/model"
)

var reapNow = time.Date(2026, 3, 9, 13, 0, 0, 0, time.UTC)

func newTestReaper(store *memStore) *Reaper {
	return NewReaper(store, store, fixedClock(reapNow))
}

func addWorkerSession(store *memStore, id uint64, w *model.Worker, lastActivity time.Time, cubicle *uint64) {
	store.addSession(model.Session{
		ID:                id,
		WorkerID:          w.ID,
		CreatedAt:         reapNow.Add(-2 * time.Hour),
		LastActivity:      lastActivity,
		ExpiresAt:         reapNow.Add(time.Hour),
		SelectedCubicleID: cubicle,
		Worker:            w,
	})
}

func TestReapReleasesHoldingOfSilentSession(t *testing.T) {
	store := newMemStore()
	w := phlebotomist(1, "Ana")
	addWorkerSession(store, 1, w, reapNow.Add(-25*time.Minute), nil)
	id := store.addTurn(model.ClassGeneral, reapNow.Add(-time.Hour))
	heldAt := reapNow.Add(-30 * time.Minute)
	store.mutateTurn(id, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &w.ID, &heldAt
	})

	res, err := newTestReaper(store).Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ReleasedHoldings)

	got := store.turn(id)
	assert.Nil(t, got.HoldingBy)
	assert.Nil(t, got.HoldingAt)
	assert.Equal(t, model.StatusPending, got.Status, "the turn goes back to the pool, not to a terminal state")
}

func TestReapKeepsHoldingOfLiveSession(t *testing.T) {
	store := newMemStore()
	w := phlebotomist(1, "Ana")
	addWorkerSession(store, 1, w, reapNow.Add(-5*time.Minute), nil)
	id := store.addTurn(model.ClassGeneral, reapNow.Add(-time.Hour))
	// Held for two hours; leases have no expiry of their own while the
	// session keeps heartbeating.
	heldAt := reapNow.Add(-2 * time.Hour)
	store.mutateTurn(id, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &w.ID, &heldAt
	})

	res, err := newTestReaper(store).Reap(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.ReleasedHoldings)
	require.NotNil(t, store.turn(id).HoldingBy)
}

func TestReapLiveSessionShieldsAllLeases(t *testing.T) {
	store := newMemStore()
	w := phlebotomist(1, "Ana")
	// One stale tab and one fresh tab; any live session keeps the lease.
	addWorkerSession(store, 1, w, reapNow.Add(-40*time.Minute), nil)
	addWorkerSession(store, 2, w, reapNow.Add(-time.Minute), nil)
	id := store.addTurn(model.ClassGeneral, reapNow.Add(-time.Hour))
	store.mutateTurn(id, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &w.ID, &reapNow
	})

	res, err := newTestReaper(store).Reap(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.ReleasedHoldings)
}

func TestReapFreesStaleCubicleSelection(t *testing.T) {
	store := newMemStore()
	cubicle := uint64(100)
	w := phlebotomist(1, "Ana")
	addWorkerSession(store, 1, w, reapNow.Add(-25*time.Minute), &cubicle)

	res, err := newTestReaper(store).Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.FreedCubicles)

	sessions, err := store.ActiveSessions(context.Background(), reapNow.Add(-time.Hour), reapNow)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Nil(t, sessions[0].SelectedCubicleID)
}

func TestReapIdempotent(t *testing.T) {
	store := newMemStore()
	cubicle := uint64(100)
	w := phlebotomist(1, "Ana")
	addWorkerSession(store, 1, w, reapNow.Add(-25*time.Minute), &cubicle)
	id := store.addTurn(model.ClassGeneral, reapNow.Add(-time.Hour))
	store.mutateTurn(id, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &w.ID, &reapNow
	})
	r := newTestReaper(store)

	first, err := r.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ReleasedHoldings)
	assert.Equal(t, int64(1), first.FreedCubicles)

	second, err := r.Reap(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.ReleasedHoldings)
	assert.Zero(t, second.FreedCubicles)
}

func TestReapThenReassign(t *testing.T) {
	store := newMemStore()
	gone := phlebotomist(1, "Gone")
	addWorkerSession(store, 1, gone, reapNow.Add(-25*time.Minute), nil)
	id := store.addTurn(model.ClassGeneral, reapNow.Add(-time.Hour))
	store.mutateTurn(id, func(tn *model.Turn) {
		tn.HoldingBy, tn.HoldingAt = &gone.ID, &reapNow
	})

	_, err := newTestReaper(store).Reap(context.Background())
	require.NoError(t, err)

	// The reclaimed turn is immediately assignable to another worker.
	m := NewHoldingManager(store, fixedClock(reapNow))
	got, err := m.AssignNext(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
}
