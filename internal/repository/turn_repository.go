package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hemosys/turn-queue/internal/model"
	"github.com/hemosys/turn-queue/internal/scheduler"
)

// turnColumns is the canonical column list scanned into model.Turn.
const turnColumns = `id, assigned_turn, patient_name, age, gender, observations,
	attention_class, status, is_deferred, deferred_at, holding_by, holding_at,
	suggested_for, suggested_at, attended_by, cubicle_id, is_called, call_count,
	called_at, finished_at, created_at, updated_at`

// priorityOrder mirrors scheduler.Less in SQL so listing queries return
// rows in serving order: Special first, never-deferred first, then by
// effective time, then by id.
const priorityOrder = `ORDER BY
	CASE WHEN attention_class = 'Special' THEN 0 ELSE 1 END,
	is_deferred ASC,
	COALESCE(deferred_at, created_at) ASC,
	id ASC`

// TurnRepo provides data access to the turns table.  It implements
// scheduler.TurnStore: lease acquisition runs inside InTx with every
// mutation guarded so that a precondition broken by a concurrent writer
// surfaces as zero affected rows, never as a silent overwrite.
type TurnRepo struct {
	db *sql.DB
}

// NewTurnRepo returns a TurnRepo bound to the provided database.
func NewTurnRepo(db *sql.DB) *TurnRepo { return &TurnRepo{db: db} }

var _ scheduler.TurnStore = (*TurnRepo)(nil)

// Create inserts a new Pending turn and sets its assigned_turn sequence
// number to the row id, which is what the waiting board displays.  The
// insert and the back-fill share a transaction so a failure between
// them can never publish a turn without its board number.
func (r *TurnRepo) Create(ctx context.Context, t *model.Turn) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns (patient_name, age, gender, observations, attention_class, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.PatientName, t.Age, t.Gender, t.Observations, t.AttentionClass, model.StatusPending)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE turns SET assigned_turn = ? WHERE id = ?`, id, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	t.ID = uint64(id)
	t.AssignedTurn = id
	t.Status = model.StatusPending
	return nil
}

// ByID fetches one turn.  Returns nil, nil when the turn does not exist.
func (r *TurnRepo) ByID(ctx context.Context, id uint64) (*model.Turn, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE id = ? LIMIT 1`, id)
	return scanTurnRow(row)
}

// Board lists all Pending turns in serving order for the waiting-room
// display.
func (r *TurnRepo) Board(ctx context.Context) ([]model.Turn, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE status = ? `+priorityOrder,
		model.StatusPending)
	if err != nil {
		return nil, err
	}
	return collectTurns(rows)
}

// HoldingFor returns the Pending turn leased to the worker, or nil.
func (r *TurnRepo) HoldingFor(ctx context.Context, workerID uint64) (*model.Turn, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE status = ? AND holding_by = ? LIMIT 1`,
		model.StatusPending, workerID)
	return scanTurnRow(row)
}

// InProgressFor returns the turn the worker is attending, or nil.
func (r *TurnRepo) InProgressFor(ctx context.Context, workerID uint64) (*model.Turn, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE status = ? AND attended_by = ? LIMIT 1`,
		model.StatusInProgress, workerID)
	return scanTurnRow(row)
}

// ReleaseAllHeldBy clears every Pending lease held by the worker.
func (r *TurnRepo) ReleaseAllHeldBy(ctx context.Context, workerID uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE turns SET holding_by = NULL, holding_at = NULL
		 WHERE status = ? AND holding_by = ?`,
		model.StatusPending, workerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseHoldingsWithoutLiveSession clears leases whose holder has no
// session heartbeating since activeSince with a future expiry.  The
// subquery keeps this one idempotent statement, so concurrent reaper
// passes cannot disagree.
func (r *TurnRepo) ReleaseHoldingsWithoutLiveSession(ctx context.Context, activeSince, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE turns SET holding_by = NULL, holding_at = NULL
		 WHERE status = ? AND holding_by IS NOT NULL
		   AND holding_by NOT IN (
		     SELECT worker_id FROM sessions WHERE last_activity >= ? AND expires_at > ?
		   )`,
		model.StatusPending, activeSince.UTC(), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExpireSuggestions clears suggestion fields older than the cutoff.
func (r *TurnRepo) ExpireSuggestions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE turns SET suggested_for = NULL, suggested_at = NULL
		 WHERE status = ? AND suggested_for IS NOT NULL AND suggested_at < ?`,
		model.StatusPending, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingUnsuggested lists Pending turns with no suggestion, in serving
// order, up to limit rows.
func (r *TurnRepo) PendingUnsuggested(ctx context.Context, limit int) ([]model.Turn, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns
		 WHERE status = ? AND suggested_for IS NULL `+priorityOrder+` LIMIT ?`,
		model.StatusPending, limit)
	if err != nil {
		return nil, err
	}
	return collectTurns(rows)
}

// Suggest writes the advisory suggestion pair, guarded on the turn still
// being Pending and unsuggested.
func (r *TurnRepo) Suggest(ctx context.Context, turnID, workerID uint64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE turns SET suggested_for = ?, suggested_at = ?
		 WHERE id = ? AND status = ? AND suggested_for IS NULL`,
		workerID, at.UTC(), turnID, model.StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InTx runs fn inside one database transaction.  Any error from fn rolls
// the transaction back.
func (r *TurnRepo) InTx(ctx context.Context, fn func(tx scheduler.TurnTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&turnTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// Call transitions a Pending turn to In Progress for the given worker
// and cubicle, clearing the holding lease and any suggestion.  Guarded
// on the turn being Pending and not leased to someone else.
func (r *TurnRepo) Call(ctx context.Context, turnID, workerID, cubicleID uint64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE turns SET status = ?, attended_by = ?, cubicle_id = ?, called_at = ?,
		        is_called = 0, call_count = 1,
		        holding_by = NULL, holding_at = NULL,
		        suggested_for = NULL, suggested_at = NULL
		 WHERE id = ? AND status = ? AND (holding_by IS NULL OR holding_by = ?)`,
		model.StatusInProgress, workerID, cubicleID, at.UTC(),
		turnID, model.StatusPending, workerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RepeatCall re-announces an In Progress turn, bumping call_count.
func (r *TurnRepo) RepeatCall(ctx context.Context, turnID uint64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE turns SET call_count = call_count + 1, called_at = ?, is_called = 0
		 WHERE id = ? AND status = ?`,
		at.UTC(), turnID, model.StatusInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Complete transitions an In Progress turn to Attended.
func (r *TurnRepo) Complete(ctx context.Context, turnID uint64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE turns SET status = ?, is_called = 1, finished_at = ?
		 WHERE id = ? AND status = ?`,
		model.StatusAttended, at.UTC(), turnID, model.StatusInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Defer bounces an In Progress turn back to the Pending pool at the back
// of its attention class: deferred_at is placed one second after the
// latest effective time among pending turns of the same class.  The read
// and the write share a transaction so two concurrent defers of the same
// class cannot compute the same slot.  Returns the deferral timestamp.
func (r *TurnRepo) Defer(ctx context.Context, turnID uint64, class string, createdAt, now time.Time) (time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var maxEffective sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(COALESCE(deferred_at, created_at)) FROM turns
		 WHERE status = ? AND attention_class = ?`,
		model.StatusPending, class).Scan(&maxEffective)
	if err != nil {
		return time.Time{}, err
	}
	base := createdAt
	if maxEffective.Valid {
		base = maxEffective.Time
	}
	deferredAt := base.Add(time.Second)

	res, err := tx.ExecContext(ctx,
		`UPDATE turns SET status = ?, is_deferred = 1, deferred_at = ?, is_called = 0,
		        attended_by = NULL, cubicle_id = NULL,
		        holding_by = NULL, holding_at = NULL,
		        suggested_for = NULL, suggested_at = NULL,
		        updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.StatusPending, deferredAt.UTC(), now.UTC(), turnID, model.StatusInProgress)
	if err != nil {
		return time.Time{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, ErrStaleState
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return deferredAt, nil
}

// turnTx adapts *sql.Tx to scheduler.TurnTx.
type turnTx struct {
	tx *sql.Tx
}

func (t *turnTx) TurnByID(ctx context.Context, id uint64) (*model.Turn, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE id = ? LIMIT 1`, id)
	return scanTurnRow(row)
}

func (t *turnTx) HeldBy(ctx context.Context, workerID uint64) (*model.Turn, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE status = ? AND holding_by = ? LIMIT 1`,
		model.StatusPending, workerID)
	return scanTurnRow(row)
}

func (t *turnTx) PendingUnheld(ctx context.Context, limit int) ([]model.Turn, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns
		 WHERE status = ? AND holding_by IS NULL `+priorityOrder+` LIMIT ?`,
		model.StatusPending, limit)
	if err != nil {
		return nil, err
	}
	return collectTurns(rows)
}

// AcquireHolding is the lease CAS: the UPDATE re-checks holding_by IS
// NULL against the latest committed row version, so at most one
// transaction per turn sees an affected row.
func (t *turnTx) AcquireHolding(ctx context.Context, turnID, workerID uint64, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE turns SET holding_by = ?, holding_at = ?
		 WHERE id = ? AND status = ? AND holding_by IS NULL`,
		workerID, at.UTC(), turnID, model.StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *turnTx) ReleaseHolding(ctx context.Context, turnID, workerID uint64) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE turns SET holding_by = NULL, holding_at = NULL
		 WHERE id = ? AND status = ? AND holding_by = ?`,
		turnID, model.StatusPending, workerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTurn reads one turn row using the turnColumns order.
func scanTurn(s rowScanner, t *model.Turn) error {
	var (
		age          sql.NullInt64
		gender       sql.NullString
		observations sql.NullString
		deferredAt   sql.NullTime
		holdingBy    sql.NullInt64
		holdingAt    sql.NullTime
		suggestedFor sql.NullInt64
		suggestedAt  sql.NullTime
		attendedBy   sql.NullInt64
		cubicleID    sql.NullInt64
		calledAt     sql.NullTime
		finishedAt   sql.NullTime
	)
	err := s.Scan(
		&t.ID, &t.AssignedTurn, &t.PatientName, &age, &gender, &observations,
		&t.AttentionClass, &t.Status, &t.IsDeferred, &deferredAt, &holdingBy, &holdingAt,
		&suggestedFor, &suggestedAt, &attendedBy, &cubicleID, &t.IsCalled, &t.CallCount,
		&calledAt, &finishedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if age.Valid {
		v := int(age.Int64)
		t.Age = &v
	}
	if gender.Valid {
		t.Gender = &gender.String
	}
	if observations.Valid {
		t.Observations = &observations.String
	}
	if deferredAt.Valid {
		t.DeferredAt = &deferredAt.Time
	}
	if holdingBy.Valid {
		v := uint64(holdingBy.Int64)
		t.HoldingBy = &v
	}
	if holdingAt.Valid {
		t.HoldingAt = &holdingAt.Time
	}
	if suggestedFor.Valid {
		v := uint64(suggestedFor.Int64)
		t.SuggestedFor = &v
	}
	if suggestedAt.Valid {
		t.SuggestedAt = &suggestedAt.Time
	}
	if attendedBy.Valid {
		v := uint64(attendedBy.Int64)
		t.AttendedBy = &v
	}
	if cubicleID.Valid {
		v := uint64(cubicleID.Int64)
		t.CubicleID = &v
	}
	if calledAt.Valid {
		t.CalledAt = &calledAt.Time
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.Time
	}
	return nil
}

// scanTurnRow scans a single-row query, mapping sql.ErrNoRows to nil.
func scanTurnRow(row *sql.Row) (*model.Turn, error) {
	var t model.Turn
	if err := scanTurn(row, &t); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// collectTurns drains rows into a slice and closes them.
func collectTurns(rows *sql.Rows) ([]model.Turn, error) {
	defer rows.Close()
	var turns []model.Turn
	for rows.Next() {
		var t model.Turn
		if err := scanTurn(rows, &t); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}
