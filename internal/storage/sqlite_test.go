package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"kufarwatch/internal/model"
)

var ignoreSearchTS = cmpopts.IgnoreFields(model.Search{}, "CreatedAt", "LastScanAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSearchCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tests := []struct {
		name   string
		search model.Search
	}{
		{
			name: "basic search",
			search: model.Search{
				Name:           "куртки",
				URL:            "https://www.kufar.by/l/kurtka",
				TelegramChatID: -100123,
				IsActive:       true,
			},
		},
		{
			name: "inactive search with thread",
			search: model.Search{
				Name:             "ботинки",
				URL:              "https://www.kufar.by/l/botinki",
				TelegramChatID:   -100456,
				TelegramThreadID: 42,
				IsActive:         false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			search := tt.search
			if err := s.CreateSearch(ctx, &search); err != nil {
				t.Fatalf("create: %v", err)
			}
			if search.ID == 0 {
				t.Fatal("expected non-zero ID")
			}

			got, err := s.GetSearch(ctx, search.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}

			want := tt.search
			want.ID = search.ID
			if diff := cmp.Diff(want, *got, ignoreSearchTS); diff != "" {
				t.Errorf("GetSearch mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListActiveSearches(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	searches := []model.Search{
		{Name: "A", URL: "https://www.kufar.by/l/a", TelegramChatID: 1, IsActive: true},
		{Name: "B", URL: "https://www.kufar.by/l/b", TelegramChatID: 1, IsActive: false},
		{Name: "C", URL: "https://www.kufar.by/l/c", TelegramChatID: 2, IsActive: true},
	}
	for i := range searches {
		if err := s.CreateSearch(ctx, &searches[i]); err != nil {
			t.Fatalf("create search %d: %v", i, err)
		}
	}

	got, err := s.ListActiveSearches(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 active searches, got %d", len(got))
	}
	if got[0].Name != "A" || got[1].Name != "C" {
		t.Errorf("unexpected active set: %v, %v", got[0].Name, got[1].Name)
	}

	all, err := s.ListSearches(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 searches, got %d", len(all))
	}
}

func TestUpdateSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	search := model.Search{Name: "Old", URL: "https://www.kufar.by/l/old", TelegramChatID: 1, IsActive: true}
	if err := s.CreateSearch(ctx, &search); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	search.Name = "New"
	search.IsActive = false
	search.LastScanAt = &now

	if err := s.UpdateSearch(ctx, &search); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetSearch(ctx, search.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "New" || got.IsActive {
		t.Errorf("update not applied: %+v", got)
	}
	if got.LastScanAt == nil {
		t.Fatal("expected LastScanAt to be set")
	}
}

func TestAdvanceScanTimeMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	search := model.Search{Name: "A", URL: "https://www.kufar.by/l/a", TelegramChatID: 1, IsActive: true}
	if err := s.CreateSearch(ctx, &search); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := time.Now().UTC().Truncate(time.Second)
	earlier := later.Add(-time.Hour)

	if err := s.AdvanceScanTime(ctx, search.ID, later); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// A backwards move is silently ignored.
	if err := s.AdvanceScanTime(ctx, search.ID, earlier); err != nil {
		t.Fatalf("advance backwards: %v", err)
	}

	got, err := s.GetSearch(ctx, search.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastScanAt == nil || !got.LastScanAt.Equal(later) {
		t.Errorf("LastScanAt = %v, want %v", got.LastScanAt, later)
	}
}

func TestInsertItemIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	search := model.Search{Name: "A", URL: "https://www.kufar.by/l/a", TelegramChatID: 1, IsActive: true}
	if err := s.CreateSearch(ctx, &search); err != nil {
		t.Fatalf("create search: %v", err)
	}
	other := model.Search{Name: "B", URL: "https://www.kufar.by/l/b", TelegramChatID: 2, IsActive: true}
	if err := s.CreateSearch(ctx, &other); err != nil {
		t.Fatalf("create other search: %v", err)
	}

	listing := model.Listing{
		KufarID:  "111",
		Title:    "Куртка зимняя",
		Price:    15000,
		Currency: "BYN",
		Location: "Минск",
		Size:     "48 (M)",
		URL:      "https://www.kufar.by/item/111",
		Images:   []string{"https://rms.kufar.by/v1/gallery/1.jpg"},
		RawData:  `{"ad_id":111}`,
	}

	item, isNew, err := s.InsertItemIfAbsent(ctx, listing, search.ID)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !isNew || item.ID == 0 {
		t.Fatalf("first insert: isNew=%v id=%d", isNew, item.ID)
	}
	if item.Title != listing.Title || item.SearchID != search.ID {
		t.Errorf("stored item mismatch: %+v", item)
	}
	if diff := cmp.Diff(listing.Images, item.Images); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}

	// Same identifier again, via a different search: no new row.
	dup, isNew, err := s.InsertItemIfAbsent(ctx, listing, other.ID)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if isNew {
		t.Error("duplicate insert reported as new")
	}
	if dup.ID != item.ID || dup.SearchID != search.ID {
		t.Errorf("duplicate returned wrong item: %+v", dup)
	}
}

func TestUnsentItemsAndMarkDelivered(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	search := model.Search{
		Name: "куртки", URL: "https://www.kufar.by/l/kurtka",
		TelegramChatID: -100123, TelegramThreadID: 7, IsActive: true,
	}
	if err := s.CreateSearch(ctx, &search); err != nil {
		t.Fatalf("create search: %v", err)
	}

	for _, id := range []string{"A", "B"} {
		_, _, err := s.InsertItemIfAbsent(ctx, model.Listing{KufarID: id, Title: "t-" + id}, search.ID)
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	unsent, err := s.UnsentItems(ctx)
	if err != nil {
		t.Fatalf("unsent: %v", err)
	}
	if len(unsent) != 2 {
		t.Fatalf("expected 2 unsent items, got %d", len(unsent))
	}
	first := unsent[0]
	if first.SearchName != "куртки" || first.TelegramChatID != -100123 || first.TelegramThreadID != 7 {
		t.Errorf("routing data not joined: %+v", first)
	}

	if err := s.MarkDelivered(ctx, first.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	unsent, err = s.UnsentItems(ctx)
	if err != nil {
		t.Fatalf("unsent after mark: %v", err)
	}
	if len(unsent) != 1 || unsent[0].KufarID == first.KufarID {
		t.Errorf("delivered item still pending: %+v", unsent)
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	_, ok, err := s.LookupSetting(ctx, "scan_interval")
	if err != nil {
		t.Fatalf("lookup missing: %v", err)
	}
	if ok {
		t.Fatal("expected missing setting")
	}

	if err := s.PutSetting(ctx, "scan_interval", "120"); err != nil {
		t.Fatalf("put: %v", err)
	}
	val, ok, err := s.LookupSetting(ctx, "scan_interval")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok || val != "120" {
		t.Errorf("got %q ok=%v, want 120", val, ok)
	}

	// Overwrite.
	if err := s.PutSetting(ctx, "scan_interval", "600"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	val, _, _ = s.LookupSetting(ctx, "scan_interval")
	if val != "600" {
		t.Errorf("got %q after overwrite, want 600", val)
	}
}

func TestDeleteSearchRemovesItems(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	search := model.Search{Name: "A", URL: "https://www.kufar.by/l/a", TelegramChatID: 1, IsActive: true}
	if err := s.CreateSearch(ctx, &search); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s.InsertItemIfAbsent(ctx, model.Listing{KufarID: "X", Title: "x"}, search.ID); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	if err := s.DeleteSearch(ctx, search.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetSearch(ctx, search.ID); err == nil {
		t.Fatal("expected error getting deleted search")
	}
	unsent, err := s.UnsentItems(ctx)
	if err != nil {
		t.Fatalf("unsent: %v", err)
	}
	if len(unsent) != 0 {
		t.Errorf("expected no items after cascade, got %d", len(unsent))
	}
}

// Ensure both backends satisfy the Storage interface.
var (
	_ Storage = (*SQLite)(nil)
	_ Storage = (*Postgres)(nil)
)
