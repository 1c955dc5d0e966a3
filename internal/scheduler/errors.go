package scheduler

// Sentinel errors shared by the scheduler components.  Handlers
// translate these into 400/404 responses; store failures pass through
// wrapped so callers can treat them as retryable service errors.

import "errors"

// ErrInvalidWorker is returned when an operation is invoked with a zero
// worker id.  No state is changed.
var ErrInvalidWorker = errors.New("invalid worker id")

// ErrTurnNotFound is returned when a referenced turn does not exist.
var ErrTurnNotFound = errors.New("turn not found")
