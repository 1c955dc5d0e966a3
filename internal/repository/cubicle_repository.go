package repository

import (
	"context"
	"database/sql"

	"github.com/hemosys/turn-queue/internal/model"
)

// CubicleRepo persists cubicle records.  Occupancy is not stored here;
// it is derived from sessions by the liveness tracker.
type CubicleRepo struct{ DB *sql.DB }

func NewCubicleRepo(db *sql.DB) *CubicleRepo { return &CubicleRepo{DB: db} }

// Create inserts a cubicle and returns its ID.
func (r *CubicleRepo) Create(ctx context.Context, name string, isSpecial bool) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO cubicles (name, is_special, is_active) VALUES (?,?,1)", name, isSpecial)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ListActive returns active cubicles ordered by name.
func (r *CubicleRepo) ListActive(ctx context.Context) ([]model.Cubicle, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id,name,is_special,is_active,created_at,updated_at FROM cubicles WHERE is_active=1 ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cubicles []model.Cubicle
	for rows.Next() {
		var c model.Cubicle
		if err := rows.Scan(&c.ID, &c.Name, &c.IsSpecial, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cubicles = append(cubicles, c)
	}
	return cubicles, rows.Err()
}

// ByID fetches a cubicle.  Returns nil, nil when absent.
func (r *CubicleRepo) ByID(ctx context.Context, id uint64) (*model.Cubicle, error) {
	var c model.Cubicle
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,name,is_special,is_active,created_at,updated_at FROM cubicles WHERE id=? LIMIT 1",
		id).Scan(&c.ID, &c.Name, &c.IsSpecial, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
