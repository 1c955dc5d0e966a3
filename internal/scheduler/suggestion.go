package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"
)

// DefaultSuggestionTimeout is how long a suggestion stays on a turn
// before the next broadcaster run clears it.  Expiry is evaluated lazily
// by timestamp comparison; no background timer exists.
const DefaultSuggestionTimeout = 5 * time.Minute

// Broadcaster distributes pending turns across active workers as
// advisory UI hints.  Suggestions never touch the holding lease and are
// deliberately not transactional across workers: a suggestion that
// interleaves with a concurrent completion costs nothing.
type Broadcaster struct {
	turns   TurnStore
	tracker *Tracker
	timeout time.Duration
	limit   int
	now     Clock
}

// NewBroadcaster constructs a Broadcaster over the given store and
// liveness tracker.
func NewBroadcaster(turns TurnStore, tracker *Tracker, now Clock) *Broadcaster {
	if turns == nil || tracker == nil {
		panic("nil dependency passed to NewBroadcaster")
	}
	return &Broadcaster{
		turns:   turns,
		tracker: tracker,
		timeout: DefaultSuggestionTimeout,
		limit:   DefaultCandidateLimit,
		now:     orNow(now),
	}
}

// RefreshResult summarizes one broadcaster run.
type RefreshResult struct {
	Assigned       int   `json:"assigned"`
	Expired        int64 `json:"expired"`
	ActiveWorkers  int   `json:"active_workers"`
	AvailableTurns int   `json:"available_turns"`
}

// Refresh runs one broadcast round: expire stale suggestions, rank the
// active workers oldest login first, order the unsuggested pending pool
// by priority, and pair the two lists positionally.  Each active worker
// receives at most one new suggestion per run and a turn is suggested to
// one worker at a time.
func (b *Broadcaster) Refresh(ctx context.Context) (RefreshResult, error) {
	now := b.now()

	expired, err := b.turns.ExpireSuggestions(ctx, now.Add(-b.timeout))
	if err != nil {
		return RefreshResult{}, fmt.Errorf("expire suggestions: %w", err)
	}
	if expired > 0 {
		log.Printf("[suggestion] expired %d stale suggestion(s)", expired)
	}

	workers, err := b.tracker.ActiveWorkers(ctx)
	if err != nil {
		return RefreshResult{}, err
	}
	pool, err := b.turns.PendingUnsuggested(ctx, b.limit)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("pending pool: %w", err)
	}
	SortByPriority(pool)

	res := RefreshResult{
		Expired:        expired,
		ActiveWorkers:  len(workers),
		AvailableTurns: len(pool),
	}
	n := len(workers)
	if len(pool) < n {
		n = len(pool)
	}
	for i := 0; i < n; i++ {
		ok, err := b.turns.Suggest(ctx, pool[i].ID, workers[i].Worker.ID, now)
		if err != nil {
			return res, fmt.Errorf("suggest turn %d: %w", pool[i].ID, err)
		}
		if !ok {
			// Another run suggested this turn first; advisory, so skip.
			continue
		}
		res.Assigned++
		log.Printf("[suggestion] turn %d suggested for worker %d (rank %d)",
			pool[i].ID, workers[i].Worker.ID, workers[i].Rank)
	}
	return res, nil
}
