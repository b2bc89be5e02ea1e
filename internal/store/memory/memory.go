// Package memory is the in-memory store variant: the default backend for
// local development and the test double for both production stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"kharcha/internal/core"
	"kharcha/internal/store"
)

type Store struct {
	mu       sync.Mutex
	profiles map[string]core.Profile
	expenses map[string][]core.Expense // per owner, append order
	settings map[string]string
	nextID   int
}

func New() *Store {
	return &Store{
		profiles: make(map[string]core.Profile),
		expenses: make(map[string][]core.Expense),
		settings: make(map[string]string),
	}
}

func (s *Store) GetProfile(_ context.Context, ownerID string) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[ownerID]
	if !ok {
		return core.Profile{}, store.ErrProfileNotFound
	}
	return p, nil
}

func (s *Store) UpsertProfile(_ context.Context, ownerID string, p core.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[ownerID] = p
	return nil
}

// ListExpenses returns the owner's expenses date-ascending; the stable sort
// keeps insertion order for equal dates.
func (s *Store) ListExpenses(_ context.Context, ownerID string) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.Expense(nil), s.expenses[ownerID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) InsertExpense(_ context.Context, ownerID string, d core.ExpenseDraft) (core.Expense, error) {
	if err := d.Validate(); err != nil {
		return core.Expense{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := d.Expense(fmt.Sprintf("mem:%d", s.nextID))
	s.expenses[ownerID] = append(s.expenses[ownerID], e)
	return e, nil
}

func (s *Store) UpdateExpense(_ context.Context, ownerID, id string, d core.ExpenseDraft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.expenses[ownerID]
	for i, e := range items {
		if e.ID == id {
			items[i] = d.Expense(id)
			return nil
		}
	}
	return store.ErrExpenseNotFound
}

func (s *Store) DeleteExpense(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.expenses[ownerID]
	for i, e := range items {
		if e.ID == id {
			s.expenses[ownerID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return store.ErrExpenseNotFound
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}
