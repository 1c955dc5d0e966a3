package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemosys/turn-queue/internal/model"
)

var selectorBase = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

func pendingTurn(id uint64, class string, createdAt time.Time) model.Turn {
	return model.Turn{
		ID:             id,
		AttentionClass: class,
		Status:         model.StatusPending,
		CreatedAt:      createdAt,
	}
}

func TestSelectNextSpecialBeforeGeneral(t *testing.T) {
	// The Special turn arrived an hour after the General one and still
	// wins on class alone.
	snapshot := []model.Turn{
		pendingTurn(1, model.ClassGeneral, selectorBase),
		pendingTurn(2, model.ClassSpecial, selectorBase.Add(time.Hour)),
	}

	next := SelectNext(snapshot, nil)
	require.NotNil(t, next)
	assert.Equal(t, uint64(2), next.ID)
}

func TestSelectNextNonDeferredBeforeDeferred(t *testing.T) {
	deferredAt := selectorBase.Add(-time.Hour)
	deferred := pendingTurn(1, model.ClassGeneral, selectorBase.Add(-2*time.Hour))
	deferred.IsDeferred = true
	deferred.DeferredAt = &deferredAt
	snapshot := []model.Turn{
		deferred,
		pendingTurn(2, model.ClassGeneral, selectorBase),
	}

	next := SelectNext(snapshot, nil)
	require.NotNil(t, next)
	assert.Equal(t, uint64(2), next.ID, "a deferred turn waits behind fresh arrivals of its class")
}

func TestSelectNextOldestFirstWithinClass(t *testing.T) {
	snapshot := []model.Turn{
		pendingTurn(1, model.ClassGeneral, selectorBase.Add(10*time.Minute)),
		pendingTurn(2, model.ClassGeneral, selectorBase),
		pendingTurn(3, model.ClassGeneral, selectorBase.Add(5*time.Minute)),
	}

	next := SelectNext(snapshot, nil)
	require.NotNil(t, next)
	assert.Equal(t, uint64(2), next.ID)
}

func TestSelectNextDeferredQueueOnDeferralTime(t *testing.T) {
	firstDeferral := selectorBase.Add(time.Minute)
	secondDeferral := selectorBase.Add(2 * time.Minute)

	// Turn 2 was created first but deferred last, so it queues last.
	a := pendingTurn(1, model.ClassGeneral, selectorBase)
	a.IsDeferred, a.DeferredAt = true, &firstDeferral
	b := pendingTurn(2, model.ClassGeneral, selectorBase.Add(-time.Hour))
	b.IsDeferred, b.DeferredAt = true, &secondDeferral

	next := SelectNext([]model.Turn{b, a}, nil)
	require.NotNil(t, next)
	assert.Equal(t, uint64(1), next.ID)
}

func TestSelectNextSkipsIneligible(t *testing.T) {
	holder := uint64(7)
	held := pendingTurn(1, model.ClassSpecial, selectorBase)
	held.HoldingBy = &holder
	attended := pendingTurn(2, model.ClassSpecial, selectorBase)
	attended.Status = model.StatusAttended
	excludedTurn := pendingTurn(3, model.ClassSpecial, selectorBase)
	fallback := pendingTurn(4, model.ClassGeneral, selectorBase)

	next := SelectNext(
		[]model.Turn{held, attended, excludedTurn, fallback},
		map[uint64]struct{}{3: {}},
	)
	require.NotNil(t, next)
	assert.Equal(t, uint64(4), next.ID)
}

func TestSelectNextEmptyPool(t *testing.T) {
	assert.Nil(t, SelectNext(nil, nil))
	assert.Nil(t, SelectNext([]model.Turn{}, map[uint64]struct{}{1: {}}))
}

func TestSelectNextReturnsCopy(t *testing.T) {
	snapshot := []model.Turn{pendingTurn(1, model.ClassGeneral, selectorBase)}
	next := SelectNext(snapshot, nil)
	require.NotNil(t, next)

	next.Status = model.StatusAttended
	assert.Equal(t, model.StatusPending, snapshot[0].Status)
}

func TestSortByPriorityFullOrdering(t *testing.T) {
	defAt := selectorBase.Add(30 * time.Minute)
	deferredGeneral := pendingTurn(4, model.ClassGeneral, selectorBase)
	deferredGeneral.IsDeferred, deferredGeneral.DeferredAt = true, &defAt
	deferredSpecial := pendingTurn(5, model.ClassSpecial, selectorBase)
	deferredSpecial.IsDeferred, deferredSpecial.DeferredAt = true, &defAt

	turns := []model.Turn{
		pendingTurn(1, model.ClassGeneral, selectorBase),
		deferredGeneral,
		pendingTurn(2, model.ClassSpecial, selectorBase.Add(time.Minute)),
		deferredSpecial,
		pendingTurn(3, model.ClassSpecial, selectorBase),
	}
	SortByPriority(turns)

	var got []uint64
	for _, tn := range turns {
		got = append(got, tn.ID)
	}
	// Special fresh (by time), Special deferred, General fresh, General deferred.
	assert.Equal(t, []uint64{3, 2, 5, 1, 4}, got)
}

func TestLessTieBreaksOnID(t *testing.T) {
	a := pendingTurn(1, model.ClassGeneral, selectorBase)
	b := pendingTurn(2, model.ClassGeneral, selectorBase)
	assert.True(t, Less(&a, &b))
	assert.False(t, Less(&b, &a))
}
