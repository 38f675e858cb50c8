package queue

import (
	"context"
	"sync"
	"testing"

	"specfactory/internal/storage"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return NewStateStore(store)
}

func TestUpsertAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Upsert(ctx, "mouse", "mouse-razer-viper", nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	st, err := s.Load(ctx, "mouse")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry, ok := st.Products["mouse-razer-viper"]
	if !ok || entry.Status != "queued" {
		t.Fatalf("entry = %+v ok=%v", entry, ok)
	}
	if entry.AddedAt.IsZero() || entry.UpdatedAt.IsZero() {
		t.Fatalf("timestamps missing: %+v", entry)
	}

	if err := s.Upsert(ctx, "mouse", "mouse-razer-viper", func(e *Entry) {
		e.Status = "running"
		e.Attempts++
	}); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	st, _ = s.Load(ctx, "mouse")
	entry = st.Products["mouse-razer-viper"]
	if entry.Status != "running" || entry.Attempts != 1 {
		t.Fatalf("entry = %+v", entry)
	}
	// AddedAt is preserved across updates.
	if entry.AddedAt.IsZero() {
		t.Fatal("AddedAt lost")
	}
}

func TestRemoveAndRename(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_ = s.Upsert(ctx, "mouse", "old-id", func(e *Entry) { e.Status = "done"; e.LastRunID = "r1" })

	if err := s.Rename(ctx, "mouse", "old-id", "new-id"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	st, _ := s.Load(ctx, "mouse")
	if _, ok := st.Products["old-id"]; ok {
		t.Fatal("old id still present")
	}
	entry, ok := st.Products["new-id"]
	if !ok || entry.Status != "done" || entry.LastRunID != "r1" {
		t.Fatalf("renamed entry = %+v ok=%v", entry, ok)
	}

	if err := s.Remove(ctx, "mouse", "new-id"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	st, _ = s.Load(ctx, "mouse")
	if len(st.Products) != 0 {
		t.Fatalf("products = %+v", st.Products)
	}
	// Removing a missing entry is fine.
	if err := s.Remove(ctx, "mouse", "new-id"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestUpsert_ConcurrentSameCategory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = s.Upsert(ctx, "mouse", id, func(e *Entry) { e.Attempts++ })
			}
		}(id)
	}
	wg.Wait()

	st, err := s.Load(ctx, "mouse")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, id := range ids {
		if st.Products[id].Attempts != 10 {
			t.Fatalf("product %s attempts = %d", id, st.Products[id].Attempts)
		}
	}
}
