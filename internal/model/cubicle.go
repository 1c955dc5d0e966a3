package model

import "time"

// Cubicle is a physical sample-collection station.  Occupancy is not a
// column here; see Session.SelectedCubicleID.
type Cubicle struct {
	ID        uint64    `json:"id"`         // cubicles.id
	Name      string    `json:"name"`       // short label shown on the board
	IsSpecial bool      `json:"is_special"` // equipped for Special attention
	IsActive  bool      `json:"is_active"`  // inactive cubicles are hidden
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
