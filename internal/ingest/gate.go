// Package ingest decides which extracted listings are new and persists
// them. Duplicates are an expected steady-state outcome, not an error.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"

	"kufarwatch/internal/model"
)

// ItemStore is the persistence surface the gate needs. The insert must
// be atomic: detection of an existing row and insertion of a new one
// happen in one statement, safe under concurrent callers.
type ItemStore interface {
	InsertItemIfAbsent(ctx context.Context, l model.Listing, searchID int64) (*model.Item, bool, error)
}

// Gate filters extracted listings down to the new ones.
type Gate struct {
	store ItemStore
	log   *slog.Logger
}

func NewGate(store ItemStore, log *slog.Logger) *Gate {
	return &Gate{store: store, log: log}
}

// Ingest persists the listing if its identifier has not been seen
// before. Listings without a source identifier get a content-derived
// one so that repeated text-mining results still deduplicate. A store
// error is surfaced: a listing that cannot be checked must not be
// silently dropped.
func (g *Gate) Ingest(ctx context.Context, l model.Listing, searchID int64) (*model.Item, bool, error) {
	if l.KufarID == "" {
		l.KufarID = contentKey(l)
	}

	item, isNew, err := g.store.InsertItemIfAbsent(ctx, l, searchID)
	if err != nil {
		return nil, false, fmt.Errorf("insert listing %s: %w", l.KufarID, err)
	}
	if isNew {
		g.log.Info("new listing",
			"kufar_id", item.KufarID, "search_id", searchID, "title", item.Title)
	} else {
		g.log.Debug("duplicate listing", "kufar_id", l.KufarID)
	}
	return item, isNew, nil
}

// IngestAll runs every listing through the gate and returns the new
// items. The first store error aborts the batch.
func (g *Gate) IngestAll(ctx context.Context, listings []model.Listing, searchID int64) ([]*model.Item, error) {
	var fresh []*model.Item
	for _, l := range listings {
		item, isNew, err := g.Ingest(ctx, l, searchID)
		if err != nil {
			return fresh, err
		}
		if isNew {
			fresh = append(fresh, item)
		}
	}
	return fresh, nil
}

// contentKey derives a stable identifier from listing content for
// entries the extractor could not attribute to a concrete ad.
func contentKey(l model.Listing) string {
	h := sha1.New()
	h.Write([]byte(l.Title))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(l.Price)))
	h.Write([]byte{0})
	h.Write([]byte(l.URL))
	return "txt-" + hex.EncodeToString(h.Sum(nil))[:16]
}
