package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hemosys/turn-queue/internal/model"
	"github.com/hemosys/turn-queue/internal/scheduler"
)

// SessionRepo persists worker sessions.  The scheduler never writes
// liveness facts anywhere else; active-worker ranking and cubicle
// occupancy are derived from these rows on every read.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

var _ scheduler.SessionDirectory = (*SessionRepo)(nil)

// Open inserts a session row for the worker and returns its id.  The
// login instant (created_at) fixes the worker's suggestion rank for the
// whole session.
func (r *SessionRepo) Open(ctx context.Context, workerID uint64, expiresAt time.Time) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO sessions (worker_id, last_activity, expires_at) VALUES (?, UTC_TIMESTAMP(), ?)`,
		workerID, expiresAt.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Touch records a heartbeat.  The UPDATE is scoped to the owning worker
// so one staff token cannot refresh another worker's session.  Returns
// false when the session is unknown, expired, or owned by someone else.
func (r *SessionRepo) Touch(ctx context.Context, sessionID, workerID uint64, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ? AND worker_id = ? AND expires_at > ?`,
		at.UTC(), sessionID, workerID, at.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SelectCubicle sets or clears (nil) the session's cubicle selection and
// counts as a heartbeat.  Scoped to the owning worker like Touch.
func (r *SessionRepo) SelectCubicle(ctx context.Context, sessionID, workerID uint64, cubicleID *uint64, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET selected_cubicle_id = ?, last_activity = ?
		 WHERE id = ? AND worker_id = ? AND expires_at > ?`,
		cubicleID, at.UTC(), sessionID, workerID, at.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ActiveSessions lists unexpired sessions with a heartbeat at or after
// activeSince, oldest login first, with the owning worker joined in.
func (r *SessionRepo) ActiveSessions(ctx context.Context, activeSince, now time.Time) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT s.id, s.worker_id, s.created_at, s.last_activity, s.expires_at, s.selected_cubicle_id,
		        w.id, w.name, w.username, w.role, w.status, w.created_at, w.updated_at
		 FROM sessions s
		 JOIN workers w ON w.id = s.worker_id
		 WHERE s.last_activity >= ? AND s.expires_at > ?
		 ORDER BY s.created_at ASC`,
		activeSince.UTC(), now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		var (
			s       model.Session
			w       model.Worker
			cubicle sql.NullInt64
		)
		err := rows.Scan(
			&s.ID, &s.WorkerID, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt, &cubicle,
			&w.ID, &w.Name, &w.Username, &w.Role, &w.Status, &w.CreatedAt, &w.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if cubicle.Valid {
			v := uint64(cubicle.Int64)
			s.SelectedCubicleID = &v
		}
		s.Worker = &w
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ClearStaleCubicles drops the cubicle selection of sessions that are
// expired or have not heartbeat since the cutoff.  Idempotent.
func (r *SessionRepo) ClearStaleCubicles(ctx context.Context, inactiveBefore, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET selected_cubicle_id = NULL
		 WHERE selected_cubicle_id IS NOT NULL
		   AND (expires_at <= ? OR last_activity < ?)`,
		now.UTC(), inactiveBefore.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
