package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"
)

// DefaultReapInactivity is the heartbeat silence after which a session's
// claims are reclaimed.  It matches the cubicle occupancy window: once a
// session can no longer occupy a station it can no longer hold a lease
// either.  Holding leases have no wall-clock expiry of their own, so a
// worker mid-draw with a live session is never silently reassigned.
const DefaultReapInactivity = 20 * time.Minute

// Reaper releases holdings and cubicle selections tied to sessions that
// expired or stopped heartbeating.  It runs before liveness and
// occupancy reads and on a periodic ticker; every pass is idempotent and
// safe to run concurrently with itself.
type Reaper struct {
	turns      TurnStore
	sessions   SessionDirectory
	inactivity time.Duration
	now        Clock
}

// NewReaper constructs a Reaper with the default inactivity window.
func NewReaper(turns TurnStore, sessions SessionDirectory, now Clock) *Reaper {
	if turns == nil || sessions == nil {
		panic("nil dependency passed to NewReaper")
	}
	return &Reaper{
		turns:      turns,
		sessions:   sessions,
		inactivity: DefaultReapInactivity,
		now:        orNow(now),
	}
}

// ReapResult reports what one pass reclaimed.
type ReapResult struct {
	ReleasedHoldings int64 `json:"released_holdings"`
	FreedCubicles    int64 `json:"freed_cubicles"`
}

// Reap runs one cleanup pass: leases held by workers with no live
// session are cleared, then cubicle selections of dead sessions are
// dropped.
func (r *Reaper) Reap(ctx context.Context) (ReapResult, error) {
	now := r.now()
	cutoff := now.Add(-r.inactivity)

	released, err := r.turns.ReleaseHoldingsWithoutLiveSession(ctx, cutoff, now)
	if err != nil {
		return ReapResult{}, fmt.Errorf("reap holdings: %w", err)
	}
	freed, err := r.sessions.ClearStaleCubicles(ctx, cutoff, now)
	if err != nil {
		return ReapResult{ReleasedHoldings: released}, fmt.Errorf("reap cubicles: %w", err)
	}
	if released > 0 || freed > 0 {
		log.Printf("[reaper] released %d holding(s), freed %d cubicle selection(s)", released, freed)
	}
	return ReapResult{ReleasedHoldings: released, FreedCubicles: freed}, nil
}

// Run executes Reap on the given interval until ctx is done.  Errors are
// logged and the loop continues; a transient store failure must not stop
// reclamation.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil {
				log.Printf("[reaper] pass failed: %v", err)
			}
		}
	}
}
