package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/hemosys/turn-queue/internal/model"
)

// Defaults for lease acquisition.  A lost guarded update is retried
// against a different candidate up to the retry budget; the candidate
// limit bounds how many rows a selection snapshot loads.
const (
	DefaultRetryBudget    = 5
	DefaultCandidateLimit = 50
)

// HoldingManager grants and transfers the exclusive one-turn lease per
// worker.  All lease mutations run inside a single store transaction
// with the conditional update guarded on holding_by still being unset,
// so two workers can never end up holding the same turn and a skip is
// never observed half done.
type HoldingManager struct {
	turns   TurnStore
	retries int
	limit   int
	now     Clock
}

// NewHoldingManager constructs a HoldingManager.  A nil clock means
// time.Now.
func NewHoldingManager(turns TurnStore, now Clock) *HoldingManager {
	if turns == nil {
		panic("nil TurnStore passed to NewHoldingManager")
	}
	return &HoldingManager{
		turns:   turns,
		retries: DefaultRetryBudget,
		limit:   DefaultCandidateLimit,
		now:     orNow(now),
	}
}

// SkipResult is the outcome of Skip.  When the pool is exhausted the
// original turn is re-leased to the caller and CycleCompleted is set, so
// a worker is never left idle while assignable work exists.
type SkipResult struct {
	Skipped        *model.Turn `json:"skipped"`
	Next           *model.Turn `json:"next"`
	CycleCompleted bool        `json:"cycle_completed"`
}

// AssignNext leases the next available turn to the worker.  It is
// idempotent: a worker that already holds a Pending turn gets that same
// turn back with no mutation.  A worker attending a patient gets no new
// lease.  It returns nil, nil when no work is available, which is a
// normal outcome for polling clients.
func (m *HoldingManager) AssignNext(ctx context.Context, workerID uint64) (*model.Turn, error) {
	if workerID == 0 {
		return nil, ErrInvalidWorker
	}
	existing, err := m.turns.HoldingFor(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("holding lookup: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	busy, err := m.turns.InProgressFor(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("in-progress lookup: %w", err)
	}
	if busy != nil {
		log.Printf("[holding] worker %d is attending turn %d, not assigning", workerID, busy.ID)
		return nil, nil
	}
	var leased *model.Turn
	err = m.turns.InTx(ctx, func(tx TurnTx) error {
		t, txErr := m.acquireNext(ctx, tx, workerID, nil)
		leased = t
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("assign next: %w", err)
	}
	if leased != nil {
		log.Printf("[holding] turn %d leased to worker %d", leased.ID, workerID)
	}
	return leased, nil
}

// Skip releases the caller's current lease and moves it to the next
// candidate, excluding every turn the caller already rejected in this
// round.  Release and re-acquisition are one transaction.
func (m *HoldingManager) Skip(ctx context.Context, workerID, currentTurnID uint64, previouslySkipped []uint64) (SkipResult, error) {
	if workerID == 0 {
		return SkipResult{}, ErrInvalidWorker
	}
	var res SkipResult
	err := m.turns.InTx(ctx, func(tx TurnTx) error {
		excluded := make(map[uint64]struct{}, len(previouslySkipped)+1)
		for _, id := range previouslySkipped {
			excluded[id] = struct{}{}
		}

		var skipped *model.Turn
		if currentTurnID != 0 {
			excluded[currentTurnID] = struct{}{}
			cur, err := tx.TurnByID(ctx, currentTurnID)
			if err != nil {
				return err
			}
			if cur == nil {
				return ErrTurnNotFound
			}
			// Release only if the lease is still ours.
			if cur.Status == model.StatusPending && cur.HeldBy(workerID) {
				if _, err := tx.ReleaseHolding(ctx, cur.ID, workerID); err != nil {
					return err
				}
				cur.HoldingBy, cur.HoldingAt = nil, nil
				skipped = cur
			}
		}

		next, err := m.acquireNext(ctx, tx, workerID, excluded)
		if err != nil {
			return err
		}
		if next != nil {
			log.Printf("[holding] worker %d skipped turn %d, now holds %d", workerID, currentTurnID, next.ID)
			res = SkipResult{Skipped: skipped, Next: next}
			return nil
		}

		// Pool exhausted: hand the original turn back so the worker
		// keeps exactly one lease.
		if skipped != nil {
			ok, err := tx.AcquireHolding(ctx, skipped.ID, workerID, m.now())
			if err != nil {
				return err
			}
			if ok {
				at := m.now()
				skipped.HoldingBy, skipped.HoldingAt = &workerID, &at
				log.Printf("[holding] worker %d completed the cycle, back to turn %d", workerID, skipped.ID)
				res = SkipResult{Next: skipped, CycleCompleted: true}
				return nil
			}
		}
		res = SkipResult{Skipped: skipped}
		return nil
	})
	if err != nil {
		return SkipResult{}, fmt.Errorf("skip: %w", err)
	}
	return res, nil
}

// Current returns the worker's currently held Pending turn, or nil.
// Read-only.
func (m *HoldingManager) Current(ctx context.Context, workerID uint64) (*model.Turn, error) {
	if workerID == 0 {
		return nil, ErrInvalidWorker
	}
	return m.turns.HoldingFor(ctx, workerID)
}

// ReleaseAll clears every lease held by the worker.  Used on logout and
// when the client navigates away.  Safe to call when nothing is held.
func (m *HoldingManager) ReleaseAll(ctx context.Context, workerID uint64) (int64, error) {
	if workerID == 0 {
		return 0, ErrInvalidWorker
	}
	n, err := m.turns.ReleaseAllHeldBy(ctx, workerID)
	if err != nil {
		return 0, fmt.Errorf("release holdings: %w", err)
	}
	if n > 0 {
		log.Printf("[holding] released %d lease(s) held by worker %d", n, workerID)
	}
	return n, nil
}

// acquireNext selects a candidate from the transactional snapshot and
// attempts the guarded lease write.  A failed guard means another
// transaction won that turn; the candidate is excluded and selection
// repeats, up to the retry budget.  Exhaustion is reported as no work,
// never as an error.
//
// Before selecting anything it re-checks the worker's existing lease
// inside the transaction.  The pre-transaction HoldingFor read in
// AssignNext is only a fast path: two in-flight requests from the same
// worker (a double poll, a second tab) can both see no lease there and
// then serialize through InTx, so the authoritative check has to happen
// here or the second request would lease a second turn.
func (m *HoldingManager) acquireNext(ctx context.Context, tx TurnTx, workerID uint64, excluded map[uint64]struct{}) (*model.Turn, error) {
	held, err := tx.HeldBy(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if held != nil {
		return held, nil
	}
	if excluded == nil {
		excluded = make(map[uint64]struct{})
	}
	for attempt := 0; attempt < m.retries; attempt++ {
		pool, err := tx.PendingUnheld(ctx, m.limit)
		if err != nil {
			return nil, err
		}
		cand := SelectNext(pool, excluded)
		if cand == nil {
			return nil, nil
		}
		ok, err := tx.AcquireHolding(ctx, cand.ID, workerID, m.now())
		if err != nil {
			return nil, err
		}
		if ok {
			at := m.now()
			cand.HoldingBy, cand.HoldingAt = &workerID, &at
			return cand, nil
		}
		log.Printf("[holding] worker %d lost turn %d to a concurrent writer, reselecting", workerID, cand.ID)
		excluded[cand.ID] = struct{}{}
	}
	log.Printf("[holding] worker %d exhausted the retry budget, reporting no work", workerID)
	return nil, nil
}
