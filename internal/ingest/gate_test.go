package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"kufarwatch/internal/model"
)

type fakeStore struct {
	items  map[string]*model.Item
	nextID int64
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*model.Item)}
}

func (s *fakeStore) InsertItemIfAbsent(_ context.Context, l model.Listing, searchID int64) (*model.Item, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	if existing, ok := s.items[l.KufarID]; ok {
		return existing, false, nil
	}
	s.nextID++
	item := &model.Item{
		ID:       s.nextID,
		KufarID:  l.KufarID,
		SearchID: searchID,
		Title:    l.Title,
		Price:    l.Price,
	}
	s.items[l.KufarID] = item
	return item, true, nil
}

func newTestGate(store ItemStore) *Gate {
	return NewGate(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIngestDedup(t *testing.T) {
	store := newFakeStore()
	g := newTestGate(store)
	ctx := context.Background()

	l := model.Listing{KufarID: "A", Title: "Куртка", Price: 15000}

	_, isNew, err := g.Ingest(ctx, l, 1)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if !isNew {
		t.Error("first ingest should be new")
	}

	// Same identifier via a different filter is still a duplicate.
	_, isNew, err = g.Ingest(ctx, l, 2)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if isNew {
		t.Error("second ingest should be a duplicate")
	}
	if len(store.items) != 1 {
		t.Errorf("store holds %d items, want 1", len(store.items))
	}
}

func TestIngestContentKey(t *testing.T) {
	store := newFakeStore()
	g := newTestGate(store)
	ctx := context.Background()

	l := model.Listing{Title: "Объявление 1", Price: 15000}

	item, isNew, err := g.Ingest(ctx, l, 1)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !isNew || item.KufarID == "" {
		t.Fatalf("expected derived identifier, got %q", item.KufarID)
	}

	_, isNew, err = g.Ingest(ctx, l, 1)
	if err != nil {
		t.Fatalf("repeat ingest: %v", err)
	}
	if isNew {
		t.Error("identical content should deduplicate")
	}

	other := model.Listing{Title: "Объявление 1", Price: 20000}
	_, isNew, err = g.Ingest(ctx, other, 1)
	if err != nil {
		t.Fatalf("other ingest: %v", err)
	}
	if !isNew {
		t.Error("different content should not collide")
	}
}

func TestIngestStoreError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("disk full")
	g := newTestGate(store)

	_, _, err := g.Ingest(context.Background(), model.Listing{KufarID: "A"}, 1)
	if err == nil {
		t.Fatal("store error must surface")
	}
	if !errors.Is(err, store.err) {
		t.Errorf("error not wrapped: %v", err)
	}
}

func TestIngestAll(t *testing.T) {
	store := newFakeStore()
	g := newTestGate(store)
	ctx := context.Background()

	listings := []model.Listing{
		{KufarID: "A", Title: "a"},
		{KufarID: "B", Title: "b"},
		{KufarID: "A", Title: "a again"},
	}

	fresh, err := g.IngestAll(ctx, listings, 1)
	if err != nil {
		t.Fatalf("ingest all: %v", err)
	}
	if len(fresh) != 2 {
		t.Fatalf("got %d new items, want 2", len(fresh))
	}
	if fresh[0].KufarID != "A" || fresh[1].KufarID != "B" {
		t.Errorf("unexpected new set: %+v", fresh)
	}
}
