// Package queue defines message payloads exchanged over the message
// broker and the background consumer for the attention feed.
package queue

// Turn event types published on the attention feed.
const (
	EventCalled     = "called"
	EventRepeatCall = "repeat_call"
	EventCompleted  = "completed"
	EventDeferred   = "deferred"
)

// TurnEvent is published whenever a turn changes attention state.  It
// carries enough information for the waiting-room display to update
// without querying the primary database; audio announcement is handled
// by a separate system consuming the same feed.
type TurnEvent struct {
	Type         string `json:"type"`
	TurnID       uint64 `json:"turn_id"`
	AssignedTurn int64  `json:"assigned_turn"`
	PatientName  string `json:"patient_name"`
	WorkerID     uint64 `json:"worker_id,omitempty"`
	WorkerName   string `json:"worker_name,omitempty"`
	CubicleID    uint64 `json:"cubicle_id,omitempty"`
	CubicleName  string `json:"cubicle_name,omitempty"`
	CallCount    int    `json:"call_count,omitempty"`
	At           string `json:"at"`
}
