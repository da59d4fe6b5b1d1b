// Package scanner drives the scan loop: picks due searches, runs each
// through the fetch, extract, ingest and notify chain, and advances
// scan times on success.
package scanner

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"kufarwatch/internal/metrics"
	"kufarwatch/internal/model"
)

// The loop never sleeps longer than this between cycles, so a shortened
// interval setting takes effect within a minute.
const maxTickInterval = time.Minute

// Randomized pause between consecutive due searches within one cycle.
const (
	interSearchMin = 2 * time.Second
	interSearchMax = 5 * time.Second
)

// Fetcher retrieves a listing page.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
	SetDelayBounds(minDelay, maxDelay time.Duration)
}

// Extractor turns a page into listings.
type Extractor interface {
	Listings(page []byte, maxItems int) []model.Listing
}

// Gate persists the new subset of extracted listings.
type Gate interface {
	IngestAll(ctx context.Context, listings []model.Listing, searchID int64) ([]*model.Item, error)
}

// Dispatcher drains undelivered items to their destinations.
type Dispatcher interface {
	DispatchPending(ctx context.Context) (int, error)
}

// SearchStore is the persistence surface the scanner reads and advances.
type SearchStore interface {
	ListActiveSearches(ctx context.Context) ([]model.Search, error)
	AdvanceScanTime(ctx context.Context, id int64, t time.Time) error
}

// Settings are the hot-reloadable knobs the scanner consults each cycle.
type Settings interface {
	ScanIntervalFor(ctx context.Context) time.Duration
	MaxItemsFor(ctx context.Context) int
	DelayBoundsFor(ctx context.Context) (time.Duration, time.Duration)
}

// CycleStats summarizes one scan cycle.
type CycleStats struct {
	Total     int
	Due       int
	Succeeded int
	Failed    int
	NewItems  int
	Delivered int
}

// Scanner owns the periodic scan loop.
type Scanner struct {
	store      SearchStore
	fetcher    Fetcher
	extractor  Extractor
	gate       Gate
	dispatcher Dispatcher
	settings   Settings
	sink       metrics.Sink
	log        *slog.Logger

	pause func(ctx context.Context) // between due searches
}

func New(store SearchStore, fetcher Fetcher, extractor Extractor, gate Gate,
	dispatcher Dispatcher, settings Settings, sink metrics.Sink, log *slog.Logger) *Scanner {

	s := &Scanner{
		store:      store,
		fetcher:    fetcher,
		extractor:  extractor,
		gate:       gate,
		dispatcher: dispatcher,
		settings:   settings,
		sink:       sink,
		log:        log,
	}
	s.pause = s.randomPause
	return s
}

// Run executes scan cycles until ctx is cancelled. The sleep between
// cycles is the configured interval capped at one minute, re-read every
// iteration so settings-table edits apply without a restart.
func (s *Scanner) Run(ctx context.Context) error {
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("scan cycle failed", "error", err)
		}

		tick := s.settings.ScanIntervalFor(ctx)
		if tick > maxTickInterval {
			tick = maxTickInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tick):
		}
	}
}

// RunCycle scans every due search once. Per-search failures are
// isolated: they are counted and logged, and the search's scan time is
// left untouched so it stays eligible on the next cycle.
func (s *Scanner) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	searches, err := s.store.ListActiveSearches(ctx)
	if err != nil {
		return stats, err
	}
	stats.Total = len(searches)

	interval := s.settings.ScanIntervalFor(ctx)
	maxItems := s.settings.MaxItemsFor(ctx)
	s.fetcher.SetDelayBounds(s.settings.DelayBoundsFor(ctx))

	now := time.Now()
	due := dueSearches(searches, now, interval)
	stats.Due = len(due)

	s.log.Info("scan cycle started",
		"total", stats.Total, "due", stats.Due, "interval", interval)

	for i := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if i > 0 {
			s.pause(ctx)
		}

		search := &due[i]
		newItems, err := s.scanSearch(ctx, search, maxItems)
		// Items persisted before a late failure still count: they are
		// stored and will be dispatched.
		stats.NewItems += newItems
		if err != nil {
			stats.Failed++
			s.log.Error("search scan failed",
				"search_id", search.ID, "name", search.Name, "error", err)
			continue
		}
		stats.Succeeded++
	}

	if stats.NewItems > 0 && s.sink != nil {
		s.sink.AddItemsFound(stats.NewItems)
	}
	if s.sink != nil {
		s.sink.SetLastScan(now)
	}

	if s.dispatcher != nil {
		sent, err := s.dispatcher.DispatchPending(ctx)
		stats.Delivered = sent
		if err != nil {
			s.log.Error("dispatch failed", "error", err)
		}
	}

	s.log.Info("scan cycle finished",
		"due", stats.Due, "succeeded", stats.Succeeded, "failed", stats.Failed,
		"new_items", stats.NewItems, "delivered", stats.Delivered)
	return stats, nil
}

// scanSearch runs one search through fetch, extract and ingest, then
// advances its scan time. Zero extracted listings is a success.
func (s *Scanner) scanSearch(ctx context.Context, search *model.Search, maxItems int) (int, error) {
	page, err := s.fetcher.Get(ctx, search.URL)
	if err != nil {
		return 0, err
	}

	listings := s.extractor.Listings(page, maxItems)
	fresh, err := s.gate.IngestAll(ctx, listings, search.ID)
	if err != nil {
		return 0, err
	}

	if err := s.store.AdvanceScanTime(ctx, search.ID, time.Now()); err != nil {
		return len(fresh), err
	}

	s.log.Debug("search scanned",
		"search_id", search.ID, "listings", len(listings), "new", len(fresh))
	return len(fresh), nil
}

// dueSearches filters to due entries ordered oldest-scan-first, with
// never-scanned searches ahead of everything and ties broken by id.
func dueSearches(searches []model.Search, now time.Time, interval time.Duration) []model.Search {
	var due []model.Search
	for _, s := range searches {
		if s.Due(now, interval) {
			due = append(due, s)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		switch {
		case a.LastScanAt == nil && b.LastScanAt == nil:
			return a.ID < b.ID
		case a.LastScanAt == nil:
			return true
		case b.LastScanAt == nil:
			return false
		case a.LastScanAt.Equal(*b.LastScanAt):
			return a.ID < b.ID
		default:
			return a.LastScanAt.Before(*b.LastScanAt)
		}
	})
	return due
}

func (s *Scanner) randomPause(ctx context.Context) {
	gap := interSearchMin + time.Duration(rand.Int63n(int64(interSearchMax-interSearchMin)))
	select {
	case <-ctx.Done():
	case <-time.After(gap):
	}
}
