// Package repository implements persistence for turns, workers, sessions
// and cubicles on MySQL.  Sentinel errors defined here let handlers
// distinguish failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrUsernameExists is returned when creating a worker with a username
// that is already taken.  Handlers translate this to HTTP 409.
var ErrUsernameExists = errors.New("username already exists")

// ErrStaleState is returned when a guarded state transition matched zero
// rows, meaning the record changed under the caller (for example a turn
// that is no longer In Progress).  Handlers translate this to HTTP 409.
var ErrStaleState = errors.New("stale state")
