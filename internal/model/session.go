package model

import "time"

// Session models one live connection of a worker as stored in the
// `sessions` table.  Sessions drive everything time based in the
// scheduler: CreatedAt fixes the worker's rank in the suggestion
// round-robin (earliest login first), LastActivity is the heartbeat the
// liveness tracker and the reaper compare against, and
// SelectedCubicleID records which physical station the client picked.
//
// Cubicle occupancy is never stored as a fact on the cubicle; it is
// derived from the freshest session per worker, so a dead session can
// never leave a cubicle permanently occupied.
type Session struct {
	ID                uint64     `json:"id"`                  // sessions.id
	WorkerID          uint64     `json:"worker_id"`           // sessions.worker_id
	CreatedAt         time.Time  `json:"created_at"`          // login instant; defines rank
	LastActivity      time.Time  `json:"last_activity"`       // heartbeat
	ExpiresAt         time.Time  `json:"expires_at"`          // hard expiry
	SelectedCubicleID *uint64    `json:"selected_cubicle_id"` // chosen station (nullable)
	Worker            *Worker    `json:"worker,omitempty"`    // joined worker row, when loaded
}
