// Package memory is a mutex-guarded in-process store.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/stats"
	"github.com/rustyeddy/tradesim/store"
	"github.com/rustyeddy/tradesim/task"
)

// Store keeps copies of everything written to it; callers never share
// memory with the store.
type Store struct {
	mu        sync.RWMutex
	accounts  map[string]*ledger.Account
	tasks     map[string]*task.Task
	trades    map[string][]journal.TradeRecord
	tradeIDs  map[string]struct{}
	snapshots map[string][]journal.Snapshot
	decisions map[string][]journal.DecisionRecord

	now func() time.Time
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:  make(map[string]*ledger.Account),
		tasks:     make(map[string]*task.Task),
		trades:    make(map[string][]journal.TradeRecord),
		tradeIDs:  make(map[string]struct{}),
		snapshots: make(map[string][]journal.Snapshot),
		decisions: make(map[string][]journal.DecisionRecord),
		now:       time.Now,
	}
}

func (s *Store) CreateAccount(_ context.Context, a *ledger.Account) error {
	if a == nil || a.ID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID]; exists {
		return fmt.Errorf("account %s: %w", a.ID, store.ErrDuplicateKey)
	}
	s.accounts[a.ID] = a.Clone()
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *Store) CreateTask(_ context.Context, t *task.Task) error {
	if t == nil || t.ID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s: %w", t.ID, store.ErrDuplicateKey)
	}
	if _, ok := s.accounts[t.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", t.AccountID, store.ErrNotFound)
	}
	s.tasks[t.ID] = copyTask(t)
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	return copyTask(t), nil
}

// ListTasks returns tasks ordered by creation time.
func (s *Store) ListTasks(_ context.Context) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) TransitionTask(_ context.Context, id string, from []task.Status, to task.Status, errMsg string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}

	next := copyTask(t)
	if err := store.Transition(next, from, to, errMsg, s.now()); err != nil {
		return nil, err
	}
	s.tasks[id] = next
	return copyTask(next), nil
}

func (s *Store) ResetTask(_ context.Context, r store.Reset) error {
	if r.Account == nil {
		return fmt.Errorf("%w: reset account is required", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[r.TaskID]
	if !ok {
		return fmt.Errorf("task %s: %w", r.TaskID, store.ErrNotFound)
	}
	if t.Status != task.Running && t.Status != task.Paused {
		return fmt.Errorf("%w: reset of task %s in status %s", store.ErrConflict, t.ID, t.Status)
	}

	for _, tr := range s.trades[r.TaskID] {
		delete(s.tradeIDs, tr.ID)
	}
	delete(s.trades, r.TaskID)
	delete(s.decisions, r.TaskID)
	s.snapshots[r.TaskID] = []journal.Snapshot{copySnapshot(r.Snapshot)}
	s.accounts[r.Account.ID] = r.Account.Clone()

	next := copyTask(t)
	next.ProcessedItems = 0
	next.TotalItems = r.TotalItems
	next.Stats = nil
	s.tasks[t.ID] = next
	return nil
}

// CommitStep applies the whole step under one lock, so readers never see
// a half-written step.
func (s *Store) CommitStep(_ context.Context, st store.Step) error {
	if err := store.ValidateStep(st); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[st.TaskID]
	if !ok {
		return fmt.Errorf("task %s: %w", st.TaskID, store.ErrNotFound)
	}

	batch := make(map[string]struct{}, len(st.Trades))
	for _, tr := range st.Trades {
		if _, exists := s.tradeIDs[tr.ID]; exists {
			return fmt.Errorf("trade %s: %w", tr.ID, store.ErrDuplicateKey)
		}
		if _, exists := batch[tr.ID]; exists {
			return fmt.Errorf("trade %s: %w", tr.ID, store.ErrDuplicateKey)
		}
		batch[tr.ID] = struct{}{}
	}

	if st.Account != nil {
		s.accounts[st.Account.ID] = st.Account.Clone()
	}
	for _, tr := range st.Trades {
		s.tradeIDs[tr.ID] = struct{}{}
		s.trades[st.TaskID] = append(s.trades[st.TaskID], tr)
	}
	if st.Snapshot != nil {
		s.upsertSnapshot(*st.Snapshot)
	}
	if st.Decision != nil {
		s.upsertDecision(*st.Decision)
	}

	next := copyTask(t)
	next.ProcessedItems = st.Processed
	s.tasks[t.ID] = next
	return nil
}

// upsertSnapshot keeps one snapshot per timestamp, ordered by time.
func (s *Store) upsertSnapshot(snap journal.Snapshot) {
	list := s.snapshots[snap.TaskID]
	i := sort.Search(len(list), func(i int) bool {
		return !list[i].Timestamp.Before(snap.Timestamp)
	})
	snap = copySnapshot(snap)
	if i < len(list) && list[i].Timestamp.Equal(snap.Timestamp) {
		list[i] = snap
		return
	}
	list = append(list, journal.Snapshot{})
	copy(list[i+1:], list[i:])
	list[i] = snap
	s.snapshots[snap.TaskID] = list
}

func (s *Store) upsertDecision(d journal.DecisionRecord) {
	list := s.decisions[d.TaskID]
	i := sort.Search(len(list), func(i int) bool {
		return !list[i].Timestamp.Before(d.Timestamp)
	})
	if i < len(list) && list[i].Timestamp.Equal(d.Timestamp) {
		list[i] = d
		return
	}
	list = append(list, journal.DecisionRecord{})
	copy(list[i+1:], list[i:])
	list[i] = d
	s.decisions[d.TaskID] = list
}

func (s *Store) SaveStats(_ context.Context, taskID string, st stats.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	next := copyTask(t)
	next.Stats = &st
	s.tasks[taskID] = next
	return nil
}

func (s *Store) ListTrades(_ context.Context, taskID string) ([]journal.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	out := append([]journal.TradeRecord(nil), s.trades[taskID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) ListSnapshots(_ context.Context, taskID string) ([]journal.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	list := s.snapshots[taskID]
	out := make([]journal.Snapshot, len(list))
	for i, snap := range list {
		out[i] = copySnapshot(snap)
	}
	return out, nil
}

func (s *Store) ListDecisions(_ context.Context, taskID string) ([]journal.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	return append([]journal.DecisionRecord(nil), s.decisions[taskID]...), nil
}

func (s *Store) Close() error { return nil }

func copyTask(t *task.Task) *task.Task {
	c := *t
	if t.Stats != nil {
		st := *t.Stats
		c.Stats = &st
	}
	return &c
}

func copySnapshot(s journal.Snapshot) journal.Snapshot {
	c := s
	c.LongLots = append([]ledger.LongLot(nil), s.LongLots...)
	c.ShortLots = append([]ledger.ShortLot(nil), s.ShortLots...)
	return c
}
