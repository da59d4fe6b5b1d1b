// Package extract turns fetched listing pages into structured listings.
// Three strategies run as a cascade, from the richest source to the
// crudest, and the first one to produce anything wins.
package extract

import (
	"log/slog"

	"kufarwatch/internal/model"
)

// Strategy is one way of reading listings off a page. Extract returns
// nil both on failure and on a genuinely empty page; the cascade treats
// the two the same.
type Strategy interface {
	Name() string
	Extract(page []byte) []model.Listing
}

// Engine runs strategies in order until one yields listings.
type Engine struct {
	strategies []Strategy
	log        *slog.Logger
}

// NewEngine builds the default cascade: bootstrap JSON, then rendered
// markup, then raw-text price mining.
func NewEngine(log *slog.Logger) *Engine {
	return &Engine{
		strategies: []Strategy{StateStrategy{}, DOMStrategy{}, TextStrategy{}},
		log:        log,
	}
}

// NewEngineWith builds an engine over an explicit strategy chain.
func NewEngineWith(log *slog.Logger, strategies ...Strategy) *Engine {
	return &Engine{strategies: strategies, log: log}
}

// Listings extracts from page, capping the result at maxItems when
// maxItems is positive. An empty result is a valid outcome, not an
// error.
func (e *Engine) Listings(page []byte, maxItems int) []model.Listing {
	for _, s := range e.strategies {
		got := s.Extract(page)
		if len(got) == 0 {
			continue
		}
		e.log.Debug("extraction strategy succeeded",
			"strategy", s.Name(), "listings", len(got))
		if maxItems > 0 && len(got) > maxItems {
			got = got[:maxItems]
		}
		return got
	}
	e.log.Debug("no strategy produced listings")
	return nil
}
