// Package scheduler implements the turn holding and suggestion scheduler:
// the component that decides, under concurrent requests from multiple
// phlebotomists, which pending turn each worker should work on next.
//
// The package holds no mutable state of its own.  All coordination runs
// through the store interfaces below, which the repository layer backs
// with MySQL transactions and guarded conditional updates.  Tests back
// them with an in-memory fake.
package scheduler

import (
	"context"
	"time"

	"github.com/hemosys/turn-queue/internal/model"
)

// Clock supplies the current time.  Components accept a Clock so tests
// can pin it; a nil Clock means time.Now.
type Clock func() time.Time

func orNow(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// TurnStore is the durable turn table as the scheduler sees it.  Every
// method must be safe under concurrent callers; the boolean results of
// the guarded writes tell the scheduler whether its precondition still
// held at commit time.
type TurnStore interface {
	// InTx runs fn inside one store transaction.  A non-nil error from
	// fn rolls the transaction back.
	InTx(ctx context.Context, fn func(tx TurnTx) error) error

	// HoldingFor returns the worker's currently held Pending turn, or
	// nil when the worker holds nothing.
	HoldingFor(ctx context.Context, workerID uint64) (*model.Turn, error)

	// InProgressFor returns the turn the worker is attending, if any.
	InProgressFor(ctx context.Context, workerID uint64) (*model.Turn, error)

	// ReleaseAllHeldBy clears every Pending lease held by the worker and
	// reports how many were cleared.
	ReleaseAllHeldBy(ctx context.Context, workerID uint64) (int64, error)

	// ReleaseHoldingsWithoutLiveSession clears leases held by workers who
	// have no session with last_activity >= activeSince and a future
	// expiry.  Used by the reaper; must be idempotent.
	ReleaseHoldingsWithoutLiveSession(ctx context.Context, activeSince, now time.Time) (int64, error)

	// ExpireSuggestions clears suggestion fields on Pending turns whose
	// suggested_at is older than the cutoff.
	ExpireSuggestions(ctx context.Context, olderThan time.Time) (int64, error)

	// PendingUnsuggested lists Pending turns with no suggestion set, up
	// to limit rows.
	PendingUnsuggested(ctx context.Context, limit int) ([]model.Turn, error)

	// Suggest writes the suggestion pair, guarded on suggested_for still
	// being unset.  Returns false when another broadcaster run won.
	Suggest(ctx context.Context, turnID, workerID uint64, at time.Time) (bool, error)
}

// TurnTx is the transactional view used by lease acquisition.  Guarded
// writes return false, nil when zero rows matched the precondition; that
// is the lease-conflict signal, not an error.
type TurnTx interface {
	// TurnByID returns the turn or nil when absent.
	TurnByID(ctx context.Context, id uint64) (*model.Turn, error)

	// HeldBy returns the Pending turn currently leased to the worker
	// within this transaction's snapshot, or nil.  Acquisition re-checks
	// this so two in-flight requests from the same worker cannot end up
	// with two leases.
	HeldBy(ctx context.Context, workerID uint64) (*model.Turn, error)

	// PendingUnheld lists Pending turns with holding_by unset, up to
	// limit rows.  The selector orders them; no ordering is required.
	PendingUnheld(ctx context.Context, limit int) ([]model.Turn, error)

	// AcquireHolding sets holding_by/holding_at, guarded on the turn
	// still being Pending with holding_by unset.
	AcquireHolding(ctx context.Context, turnID, workerID uint64, at time.Time) (bool, error)

	// ReleaseHolding clears the lease, guarded on it being held by
	// workerID.
	ReleaseHolding(ctx context.Context, turnID, workerID uint64) (bool, error)
}

// SessionDirectory is the session table as the liveness tracker and the
// reaper see it.
type SessionDirectory interface {
	// ActiveSessions lists sessions with last_activity >= activeSince
	// and expires_at > now, ordered by created_at ascending, with the
	// owning worker joined in.
	ActiveSessions(ctx context.Context, activeSince, now time.Time) ([]model.Session, error)

	// ClearStaleCubicles drops the cubicle selection of every session
	// that is expired or inactive since the cutoff.  Idempotent.
	ClearStaleCubicles(ctx context.Context, inactiveBefore, now time.Time) (int64, error)
}
