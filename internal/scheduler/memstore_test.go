package scheduler

// In-memory TurnStore/SessionDirectory fake used by the scheduler tests.
// It mimics the repository semantics: guarded writes report false when
// the precondition no longer holds, reads hand out copies, and InTx
// serializes writers the way the database transaction does.  failAcquire
// lets tests inject lost lease races without a second real writer.

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hemosys/turn-queue/internal/model"
)

type memStore struct {
	mu          sync.Mutex
	turns       map[uint64]*model.Turn
	sessions    []model.Session
	nextTurnID  uint64
	failAcquire map[uint64]int // turnID -> remaining forced CAS failures

	// afterHoldingFor, when set, runs after each HoldingFor read with
	// the lock released.  Tests use it to park concurrent callers in
	// the window between that read and InTx.
	afterHoldingFor func()
}

func newMemStore() *memStore {
	return &memStore{
		turns:       make(map[uint64]*model.Turn),
		failAcquire: make(map[uint64]int),
	}
}

// addTurn inserts a Pending turn and returns its id.
func (s *memStore) addTurn(class string, createdAt time.Time) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTurnID++
	id := s.nextTurnID
	s.turns[id] = &model.Turn{
		ID:             id,
		AssignedTurn:   int64(id),
		PatientName:    "patient",
		AttentionClass: class,
		Status:         model.StatusPending,
		CreatedAt:      createdAt,
	}
	return id
}

func (s *memStore) mutateTurn(id uint64, fn func(t *model.Turn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.turns[id])
}

func (s *memStore) turn(id uint64) model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.turns[id]
}

func (s *memStore) addSession(sess model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

// heldBy lists ids of Pending turns leased to the worker.
func (s *memStore) heldBy(workerID uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for id, t := range s.turns {
		if t.Status == model.StatusPending && t.HeldBy(workerID) {
			ids = append(ids, id)
		}
	}
	return ids
}

// --- TurnStore ---

func (s *memStore) InTx(ctx context.Context, fn func(tx TurnTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{s: s})
}

func (s *memStore) HoldingFor(ctx context.Context, workerID uint64) (*model.Turn, error) {
	s.mu.Lock()
	var out *model.Turn
	for _, t := range s.turns {
		if t.Status == model.StatusPending && t.HeldBy(workerID) {
			cp := *t
			out = &cp
			break
		}
	}
	s.mu.Unlock()
	if s.afterHoldingFor != nil {
		s.afterHoldingFor()
	}
	return out, nil
}

func (s *memStore) InProgressFor(ctx context.Context, workerID uint64) (*model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.turns {
		if t.Status == model.StatusInProgress && t.AttendedBy != nil && *t.AttendedBy == workerID {
			out := *t
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) ReleaseAllHeldBy(ctx context.Context, workerID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.turns {
		if t.Status == model.StatusPending && t.HeldBy(workerID) {
			t.HoldingBy, t.HoldingAt = nil, nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) ReleaseHoldingsWithoutLiveSession(ctx context.Context, activeSince, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := make(map[uint64]struct{})
	for _, sess := range s.sessions {
		if !sess.LastActivity.Before(activeSince) && sess.ExpiresAt.After(now) {
			live[sess.WorkerID] = struct{}{}
		}
	}
	var n int64
	for _, t := range s.turns {
		if t.Status != model.StatusPending || t.HoldingBy == nil {
			continue
		}
		if _, ok := live[*t.HoldingBy]; !ok {
			t.HoldingBy, t.HoldingAt = nil, nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) ExpireSuggestions(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.turns {
		if t.Status == model.StatusPending && t.SuggestedFor != nil && t.SuggestedAt != nil && t.SuggestedAt.Before(olderThan) {
			t.SuggestedFor, t.SuggestedAt = nil, nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) PendingUnsuggested(ctx context.Context, limit int) ([]model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Turn
	for _, t := range s.turns {
		if t.Status == model.StatusPending && t.SuggestedFor == nil {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Suggest(ctx context.Context, turnID, workerID uint64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.turns[turnID]
	if !ok || t.Status != model.StatusPending || t.SuggestedFor != nil {
		return false, nil
	}
	when := at
	t.SuggestedFor, t.SuggestedAt = &workerID, &when
	return true, nil
}

// --- TurnTx ---

// memTx runs with the store mutex already held by InTx.
type memTx struct {
	s *memStore
}

func (tx *memTx) TurnByID(ctx context.Context, id uint64) (*model.Turn, error) {
	t, ok := tx.s.turns[id]
	if !ok {
		return nil, nil
	}
	out := *t
	return &out, nil
}

func (tx *memTx) HeldBy(ctx context.Context, workerID uint64) (*model.Turn, error) {
	for _, t := range tx.s.turns {
		if t.Status == model.StatusPending && t.HeldBy(workerID) {
			out := *t
			return &out, nil
		}
	}
	return nil, nil
}

func (tx *memTx) PendingUnheld(ctx context.Context, limit int) ([]model.Turn, error) {
	var out []model.Turn
	for _, t := range tx.s.turns {
		if t.Status == model.StatusPending && t.HoldingBy == nil {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memTx) AcquireHolding(ctx context.Context, turnID, workerID uint64, at time.Time) (bool, error) {
	if n := tx.s.failAcquire[turnID]; n > 0 {
		tx.s.failAcquire[turnID] = n - 1
		return false, nil
	}
	t, ok := tx.s.turns[turnID]
	if !ok || t.Status != model.StatusPending || t.HoldingBy != nil {
		return false, nil
	}
	when := at
	t.HoldingBy, t.HoldingAt = &workerID, &when
	return true, nil
}

func (tx *memTx) ReleaseHolding(ctx context.Context, turnID, workerID uint64) (bool, error) {
	t, ok := tx.s.turns[turnID]
	if !ok || t.Status != model.StatusPending || !t.HeldBy(workerID) {
		return false, nil
	}
	t.HoldingBy, t.HoldingAt = nil, nil
	return true, nil
}

// --- SessionDirectory ---

func (s *memStore) ActiveSessions(ctx context.Context, activeSince, now time.Time) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Session
	for _, sess := range s.sessions {
		if !sess.LastActivity.Before(activeSince) && sess.ExpiresAt.After(now) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ClearStaleCubicles(ctx context.Context, inactiveBefore, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.sessions {
		sess := &s.sessions[i]
		if sess.SelectedCubicleID == nil {
			continue
		}
		if !sess.ExpiresAt.After(now) || sess.LastActivity.Before(inactiveBefore) {
			sess.SelectedCubicleID = nil
			n++
		}
	}
	return n, nil
}

// fixedClock pins the scheduler clock for deterministic tests.
func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// phlebotomist builds an assignable worker.
func phlebotomist(id uint64, name string) *model.Worker {
	return &model.Worker{
		ID:     id,
		Name:   name,
		Role:   model.RolePhlebotomist,
		Status: model.WorkerActive,
	}
}
