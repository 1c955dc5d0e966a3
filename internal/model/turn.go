package model

import "time"

// Turn status values as stored in the `turns.status` column.  A turn is
// created Pending, moves to InProgress when a phlebotomist calls the
// patient to a cubicle, and ends Attended.  Attended is terminal.
const (
	StatusPending    = "Pending"
	StatusInProgress = "In Progress"
	StatusAttended   = "Attended"
)

// Attention classes.  Special patients (pregnant, elderly, disabled) are
// always served before General ones regardless of arrival time.
const (
	ClassGeneral = "General"
	ClassSpecial = "Special"
)

// Turn represents one patient's queued request for service as stored in
// the `turns` table.
//
// Two independent claim mechanisms live on the row:
//
//   - HoldingBy/HoldingAt is an exclusive lease: at most one worker may
//     hold a Pending turn, and a worker holds at most one turn.  The lease
//     is only ever set through a guarded UPDATE (holding_by IS NULL) so
//     concurrent grabs cannot overwrite each other.
//   - SuggestedFor/SuggestedAt is an advisory hint used to pre-populate
//     the UI; it expires by timestamp and never blocks a holding.
//
// A lease is only meaningful while Status is Pending; calling or
// completing the turn clears it.
type Turn struct {
	ID             uint64     `json:"id"`              // turns.id
	AssignedTurn   int64      `json:"assigned_turn"`   // display/FIFO sequence number
	PatientName    string     `json:"patient_name"`    // turns.patient_name
	Age            *int       `json:"age"`             // turns.age (nullable)
	Gender         *string    `json:"gender"`          // turns.gender (nullable)
	Observations   *string    `json:"observations"`    // turns.observations (nullable)
	AttentionClass string     `json:"attention_class"` // General or Special
	Status         string     `json:"status"`          // Pending / In Progress / Attended
	IsDeferred     bool       `json:"is_deferred"`     // bounced back to the pool after failed calls
	DeferredAt     *time.Time `json:"deferred_at"`     // when the turn was deferred (nullable)
	HoldingBy      *uint64    `json:"holding_by"`      // worker holding the exclusive lease (nullable)
	HoldingAt      *time.Time `json:"holding_at"`      // when the lease was acquired (nullable)
	SuggestedFor   *uint64    `json:"suggested_for"`   // advisory suggestion target (nullable)
	SuggestedAt    *time.Time `json:"suggested_at"`    // when the suggestion was written (nullable)
	AttendedBy     *uint64    `json:"attended_by"`     // worker attending the patient (nullable)
	CubicleID      *uint64    `json:"cubicle_id"`      // cubicle where the patient is attended (nullable)
	IsCalled       bool       `json:"is_called"`       // whether the patient has been announced
	CallCount      int        `json:"call_count"`      // number of times the patient was called
	CalledAt       *time.Time `json:"called_at"`       // last call timestamp (nullable)
	FinishedAt     *time.Time `json:"finished_at"`     // completion timestamp (nullable)
	CreatedAt      time.Time  `json:"created_at"`      // turns.created_at
	UpdatedAt      time.Time  `json:"updated_at"`      // turns.updated_at
}

// EffectiveTime is the timestamp a turn queues on: the deferral time when
// the turn was deferred, otherwise its creation time.  Deferring a turn
// writes a DeferredAt later than every pending turn of the same class, so
// comparing effective times sends it to the back of its group.
func (t *Turn) EffectiveTime() time.Time {
	if t.IsDeferred && t.DeferredAt != nil {
		return *t.DeferredAt
	}
	return t.CreatedAt
}

// HeldBy reports whether the turn's lease currently belongs to workerID.
func (t *Turn) HeldBy(workerID uint64) bool {
	return t.HoldingBy != nil && *t.HoldingBy == workerID
}
