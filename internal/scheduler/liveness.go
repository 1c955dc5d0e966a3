package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/hemosys/turn-queue/internal/model"
)

// Freshness windows over session heartbeats.  A worker counts as active
// for suggestion ranking within the liveness window; cubicle occupancy
// uses the shorter window so an abandoned station frees up sooner.
const (
	DefaultLivenessWindow  = 30 * time.Minute
	DefaultOccupancyWindow = 20 * time.Minute
)

// RankedWorker is one entry of the active-worker ranking.  Rank 1 is the
// earliest login and receives the highest-priority suggestion.
type RankedWorker struct {
	Rank         int          `json:"rank"`
	Worker       model.Worker `json:"worker"`
	LoggedInAt   time.Time    `json:"logged_in_at"`
	LastActivity time.Time    `json:"last_activity"`
}

// Tracker derives worker liveness and cubicle occupancy from session
// rows.  Both are pure query views over the session table; nothing here
// is cached or stored, so the views can never drift from the source of
// truth.
type Tracker struct {
	sessions        SessionDirectory
	window          time.Duration
	occupancyWindow time.Duration
	now             Clock
}

// NewTracker constructs a Tracker with the default freshness windows.
func NewTracker(sessions SessionDirectory, now Clock) *Tracker {
	if sessions == nil {
		panic("nil SessionDirectory passed to NewTracker")
	}
	return &Tracker{
		sessions:        sessions,
		window:          DefaultLivenessWindow,
		occupancyWindow: DefaultOccupancyWindow,
		now:             orNow(now),
	}
}

// ActiveWorkers returns the currently active phlebotomists ordered by
// login time, earliest first.  A worker must have role Flebotomista,
// status ACTIVE and at least one unexpired session with a heartbeat
// inside the liveness window.  When a worker has several live sessions
// only the most recently active one counts.
func (t *Tracker) ActiveWorkers(ctx context.Context) ([]RankedWorker, error) {
	now := t.now()
	sessions, err := t.sessions.ActiveSessions(ctx, now.Add(-t.window), now)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	latest := latestSessionPerWorker(sessions)

	ranked := make([]RankedWorker, 0, len(latest))
	for _, s := range latest {
		ranked = append(ranked, RankedWorker{
			Worker:       *s.Worker,
			LoggedInAt:   s.CreatedAt,
			LastActivity: s.LastActivity,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].LoggedInAt.Equal(ranked[j].LoggedInAt) {
			return ranked[i].LoggedInAt.Before(ranked[j].LoggedInAt)
		}
		return ranked[i].Worker.ID < ranked[j].Worker.ID
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, nil
}

// CubicleOccupancy maps each selected cubicle to the worker occupying
// it, derived from the freshest session per worker inside the occupancy
// window.  Two workers pointing at the same cubicle is a client bug; the
// more recently active one wins and the collision is logged.
func (t *Tracker) CubicleOccupancy(ctx context.Context) (map[uint64]model.Worker, error) {
	now := t.now()
	sessions, err := t.sessions.ActiveSessions(ctx, now.Add(-t.occupancyWindow), now)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	latest := latestSessionPerWorker(sessions)
	// Most recent activity first, so the first writer for a contested
	// cubicle is the freshest session.
	sort.Slice(latest, func(i, j int) bool {
		return latest[i].LastActivity.After(latest[j].LastActivity)
	})

	occupancy := make(map[uint64]model.Worker)
	for _, s := range latest {
		if s.SelectedCubicleID == nil {
			continue
		}
		if prev, taken := occupancy[*s.SelectedCubicleID]; taken {
			log.Printf("[liveness] cubicle %d claimed by both worker %d and worker %d, keeping the freshest",
				*s.SelectedCubicleID, prev.ID, s.WorkerID)
			continue
		}
		occupancy[*s.SelectedCubicleID] = *s.Worker
	}
	return occupancy, nil
}

// latestSessionPerWorker keeps, per assignable worker, the session with
// the newest heartbeat.  Sessions without a joined worker row or whose
// worker may not receive assignments are dropped.
func latestSessionPerWorker(sessions []model.Session) []model.Session {
	latest := make(map[uint64]model.Session)
	for _, s := range sessions {
		if s.Worker == nil || !s.Worker.IsAssignable() {
			continue
		}
		cur, seen := latest[s.WorkerID]
		if !seen || s.LastActivity.After(cur.LastActivity) {
			latest[s.WorkerID] = s
		}
	}
	out := make([]model.Session, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	return out
}
