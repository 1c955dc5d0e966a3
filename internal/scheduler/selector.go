package scheduler

import (
	"sort"

	"github.com/hemosys/turn-queue/internal/model"
)

// classRank orders attention classes: Special patients are always served
// before General ones.
func classRank(class string) int {
	if class == model.ClassSpecial {
		return 0
	}
	return 1
}

// Less reports whether turn a should be served before turn b.  The
// ordering is the single priority policy used by both the holding and
// the suggestion paths:
//
//  1. attention class, Special first,
//  2. never-deferred before deferred,
//  3. effective time ascending (deferred_at when deferred, else
//     created_at),
//  4. id ascending as the final tie-break.
func Less(a, b *model.Turn) bool {
	ra, rb := classRank(a.AttentionClass), classRank(b.AttentionClass)
	if ra != rb {
		return ra < rb
	}
	if a.IsDeferred != b.IsDeferred {
		return !a.IsDeferred
	}
	ta, tb := a.EffectiveTime(), b.EffectiveTime()
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.ID < b.ID
}

// SortByPriority orders turns in place by the Less policy.
func SortByPriority(turns []model.Turn) {
	sort.Slice(turns, func(i, j int) bool {
		return Less(&turns[i], &turns[j])
	})
}

// SelectNext returns the single best candidate among the snapshot: a
// Pending, unheld turn not in excluded, minimal under Less.  It returns
// nil when no eligible turn exists.  Pure function over the snapshot; no
// side effects.
func SelectNext(snapshot []model.Turn, excluded map[uint64]struct{}) *model.Turn {
	var best *model.Turn
	for i := range snapshot {
		t := &snapshot[i]
		if t.Status != model.StatusPending || t.HoldingBy != nil {
			continue
		}
		if _, skip := excluded[t.ID]; skip {
			continue
		}
		if best == nil || Less(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}
