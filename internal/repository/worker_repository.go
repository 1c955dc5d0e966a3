package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hemosys/turn-queue/internal/model"
	"github.com/hemosys/turn-queue/internal/utils"
)

// WorkerRepo persists staff accounts.
type WorkerRepo struct{ DB *sql.DB }

func NewWorkerRepo(db *sql.DB) *WorkerRepo { return &WorkerRepo{DB: db} }

// Create inserts a worker with a bcrypt-hashed password and returns its ID.
func (r *WorkerRepo) Create(ctx context.Context, name, username, password, role string, cost int) (uint64, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO workers (name, username, password_hash, role, status) VALUES (?,?,?,?,?)",
		name, username, hash, role, model.WorkerActive)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrUsernameExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ByID fetches a worker.  Returns nil, nil when absent.
func (r *WorkerRepo) ByID(ctx context.Context, id uint64) (*model.Worker, error) {
	var w model.Worker
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,name,username,password_hash,role,status,created_at,updated_at FROM workers WHERE id=? LIMIT 1",
		id).Scan(&w.ID, &w.Name, &w.Username, &w.PasswordHash, &w.Role, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// List returns all workers ordered by name.
func (r *WorkerRepo) List(ctx context.Context) ([]model.Worker, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id,name,username,password_hash,role,status,created_at,updated_at FROM workers ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var workers []model.Worker
	for rows.Next() {
		var w model.Worker
		if err := rows.Scan(&w.ID, &w.Name, &w.Username, &w.PasswordHash, &w.Role, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// SetStatus activates or deactivates a worker account.
func (r *WorkerRepo) SetStatus(ctx context.Context, id uint64, status string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE workers SET status=? WHERE id=?", status, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
