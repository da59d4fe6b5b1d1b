// Package metrics provides an injected counter sink, replacing ambient
// global state: components receive a Sink explicitly and never share
// module-level variables.
package metrics

import (
	"sync"
	"time"
)

// Sink receives operational counters from the scan pipeline.
type Sink interface {
	IncAPIRequests()
	AddItemsFound(n int)
	SetLastScan(t time.Time)
}

// Snapshot is a point-in-time view of the collected metrics.
type Snapshot struct {
	Uptime           time.Duration
	TotalAPIRequests int64
	TotalItemsFound  int64
	LastScanAt       *time.Time
}

// Recorder is an in-process Sink, safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	startedAt   time.Time
	apiRequests int64
	itemsFound  int64
	lastScan    *time.Time
}

// NewRecorder creates a Recorder with uptime measured from now.
func NewRecorder() *Recorder {
	return &Recorder{startedAt: time.Now()}
}

// IncAPIRequests counts one outbound request to the target site.
func (r *Recorder) IncAPIRequests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiRequests++
}

// AddItemsFound counts newly ingested items.
func (r *Recorder) AddItemsFound(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.itemsFound += int64(n)
}

// SetLastScan records the completion time of the most recent cycle.
func (r *Recorder) SetLastScan(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastScan = &t
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *time.Time
	if r.lastScan != nil {
		t := *r.lastScan
		last = &t
	}
	return Snapshot{
		Uptime:           time.Since(r.startedAt),
		TotalAPIRequests: r.apiRequests,
		TotalItemsFound:  r.itemsFound,
		LastScanAt:       last,
	}
}
