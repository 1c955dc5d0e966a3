package model

import "time"

// Worker roles as stored in the `workers.role` column.  Only phlebotomists
// participate in automatic turn assignment; admins and supervisors use the
// service purely for management endpoints.
const (
	RolePhlebotomist = "Flebotomista"
	RoleAdmin        = "Admin"
	RoleSupervisor   = "Supervisor"
)

// Worker account statuses.
const (
	WorkerActive   = "ACTIVE"
	WorkerInactive = "INACTIVE"
)

// Worker represents a staff identity as stored in the `workers` table.
// PasswordHash is bcrypt and never serialized.
type Worker struct {
	ID           uint64    `json:"id"`       // workers.id
	Name         string    `json:"name"`     // display name
	Username     string    `json:"username"` // unique login name
	PasswordHash string    `json:"-"`        // workers.password_hash
	Role         string    `json:"role"`     // Flebotomista / Admin / Supervisor
	Status       string    `json:"status"`   // ACTIVE / INACTIVE
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAssignable reports whether the worker may receive holdings and
// suggestions from the scheduler.
func (w *Worker) IsAssignable() bool {
	return w.Role == RolePhlebotomist && w.Status == WorkerActive
}
