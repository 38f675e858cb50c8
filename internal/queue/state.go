// Package queue maintains the per-category work-queue state file
// (_queue/{category}/state.json). Upserts are read-modify-write under a
// per-category lock so concurrent product runs never clobber each other.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"specfactory/internal/types"
)

// Entry is one product's queue record.
type Entry struct {
	Status    string    `json:"status"` // queued | running | done | error
	AddedAt   time.Time `json:"addedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Attempts  int       `json:"attempts,omitempty"`
	LastRunID string    `json:"lastRunId,omitempty"`
}

// State is the full per-category queue map keyed by product id.
type State struct {
	Products map[string]Entry `json:"products"`
}

// StateStore serializes queue-state updates per category.
type StateStore struct {
	store types.Storage

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStateStore wraps a Storage with per-category queue locking.
func NewStateStore(store types.Storage) *StateStore {
	return &StateStore{store: store, locks: make(map[string]*sync.Mutex)}
}

func (s *StateStore) lock(category string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[category]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[category] = l
	return l
}

func stateKey(category string) string {
	return fmt.Sprintf("_queue/%s/state.json", category)
}

// Load returns the current queue state for a category (empty if absent).
func (s *StateStore) Load(ctx context.Context, category string) (*State, error) {
	data, err := s.store.Read(ctx, stateKey(category))
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			return &State{Products: make(map[string]Entry)}, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse queue state %s: %w", category, err)
	}
	if st.Products == nil {
		st.Products = make(map[string]Entry)
	}
	return &st, nil
}

func (s *StateStore) save(ctx context.Context, category string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return s.store.Write(ctx, stateKey(category), data)
}

// Upsert inserts or updates one product's entry atomically at the category level.
func (s *StateStore) Upsert(ctx context.Context, category, productID string, mutate func(*Entry)) error {
	l := s.lock(category)
	l.Lock()
	defer l.Unlock()

	st, err := s.Load(ctx, category)
	if err != nil {
		return err
	}
	entry, ok := st.Products[productID]
	if !ok {
		entry = Entry{Status: "queued", AddedAt: time.Now().UTC()}
	}
	if mutate != nil {
		mutate(&entry)
	}
	entry.UpdatedAt = time.Now().UTC()
	st.Products[productID] = entry
	return s.save(ctx, category, st)
}

// Remove drops one product's entry. Missing entries are not an error.
func (s *StateStore) Remove(ctx context.Context, category, productID string) error {
	l := s.lock(category)
	l.Lock()
	defer l.Unlock()

	st, err := s.Load(ctx, category)
	if err != nil {
		return err
	}
	if _, ok := st.Products[productID]; !ok {
		return nil
	}
	delete(st.Products, productID)
	return s.save(ctx, category, st)
}

// Rename swaps the key for a product whose slug changed, preserving the entry.
func (s *StateStore) Rename(ctx context.Context, category, oldID, newID string) error {
	l := s.lock(category)
	l.Lock()
	defer l.Unlock()

	st, err := s.Load(ctx, category)
	if err != nil {
		return err
	}
	entry, ok := st.Products[oldID]
	if !ok {
		return nil
	}
	delete(st.Products, oldID)
	entry.UpdatedAt = time.Now().UTC()
	st.Products[newID] = entry
	return s.save(ctx, category, st)
}
