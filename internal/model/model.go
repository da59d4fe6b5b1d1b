// Package model defines the domain types used across the application.
package model

import "time"

// Search represents a saved search against Kufar.by. Each search owns one
// Telegram destination; listings found through it are routed there.
type Search struct {
	ID               int64
	Name             string
	URL              string
	TelegramChatID   int64
	TelegramThreadID int64
	IsActive         bool
	LastScanAt       *time.Time
	CreatedAt        time.Time
}

// Due reports whether the search is eligible for a re-scan: never scanned,
// or the interval has elapsed since the last successful scan.
func (s *Search) Due(now time.Time, interval time.Duration) bool {
	if s.LastScanAt == nil {
		return true
	}
	return now.Sub(*s.LastScanAt) >= interval
}

// Listing is a single extracted advertisement, pre-persistence. Produced
// fresh on every extraction; it is either promoted to an Item by the ingest
// gate or discarded as a duplicate.
type Listing struct {
	KufarID     string
	Title       string
	Price       int // minor units; 0 means not determined
	Currency    string
	Description string
	Location    string
	Size        string
	SellerName  string
	SellerPhone string
	URL         string
	Images      []string
	RawData     string
}

// Item is a Listing that passed the dedup gate, persisted with the owning
// search and delivery state. Delivered flips to true exactly once, after a
// confirmed Telegram send.
type Item struct {
	ID          int64
	KufarID     string
	SearchID    int64
	Title       string
	Price       int
	Currency    string
	Description string
	Location    string
	Size        string
	SellerName  string
	SellerPhone string
	URL         string
	Images      []string
	RawData     string
	Delivered   bool
	CreatedAt   time.Time
}

// UnsentItem pairs an undelivered Item with the routing data of its search.
type UnsentItem struct {
	Item
	SearchName       string
	TelegramChatID   int64
	TelegramThreadID int64
}
