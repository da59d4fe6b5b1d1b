// Package proxy maintains a pool of upstream proxies: it validates
// candidates against the target site, hands out working ones round-robin,
// and periodically gives failed ones another chance.
package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	probeURL        = "https://www.kufar.by"
	probeTimeout    = 10 * time.Second
	validateConc    = 10
	revalidateAfter = time.Hour
)

// Stats is a snapshot of the pool state.
type Stats struct {
	Working   int
	Failed    int
	Total     int
	CheckedAt time.Time
}

// Pool tracks working and failed proxies from a fixed candidate list.
type Pool struct {
	log     *slog.Logger
	probeFn func(ctx context.Context, proxy string) bool

	mu         sync.Mutex
	candidates []string
	working    []string
	failed     map[string]struct{}
	nextIdx    int
	checkedAt  time.Time
}

// NewPool creates a pool over the given candidate endpoints. Duplicates
// and blanks are dropped.
func NewPool(candidates []string, log *slog.Logger) *Pool {
	p := &Pool{
		log:    log,
		failed: make(map[string]struct{}),
	}
	p.probeFn = p.probe
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		p.candidates = append(p.candidates, c)
	}
	return p
}

// ValidateAll probes every candidate concurrently and rebuilds the
// working set. Order of the working set follows the candidate list.
func (p *Pool) ValidateAll(ctx context.Context) {
	p.mu.Lock()
	candidates := append([]string(nil), p.candidates...)
	p.mu.Unlock()

	if len(candidates) == 0 {
		return
	}

	ok := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(validateConc)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			ok[i] = p.probeFn(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.working = p.working[:0]
	p.failed = make(map[string]struct{})
	for i, c := range candidates {
		if ok[i] {
			p.working = append(p.working, c)
		} else {
			p.failed[c] = struct{}{}
		}
	}
	p.nextIdx = 0
	p.checkedAt = time.Now()
	p.log.Info("proxy validation finished",
		"working", len(p.working), "failed", len(p.failed))
}

// Next returns the next working proxy round-robin, or "" when none are
// available. A working set that has never been validated, or is older
// than an hour, is revalidated first.
func (p *Pool) Next(ctx context.Context) string {
	p.mu.Lock()
	stale := p.checkedAt.IsZero() || time.Since(p.checkedAt) > revalidateAfter
	p.mu.Unlock()
	if stale {
		p.ValidateAll(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.working) == 0 {
		return ""
	}
	proxy := p.working[p.nextIdx%len(p.working)]
	p.nextIdx++
	return proxy
}

// ReportFailure moves a proxy from the working set to the failed set.
func (p *Pool) ReportFailure(proxy string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.working {
		if w == proxy {
			p.working = append(p.working[:i], p.working[i+1:]...)
			p.failed[proxy] = struct{}{}
			p.log.Warn("proxy marked failed", "proxy", proxy, "working", len(p.working))
			return
		}
	}
}

// RefreshFailed re-probes currently failed proxies and returns recovered
// ones to the working set.
func (p *Pool) RefreshFailed(ctx context.Context) {
	p.mu.Lock()
	failed := make([]string, 0, len(p.failed))
	for c := range p.failed {
		failed = append(failed, c)
	}
	p.mu.Unlock()

	if len(failed) == 0 {
		return
	}

	ok := make([]bool, len(failed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(validateConc)
	for i, c := range failed {
		i, c := i, c
		g.Go(func() error {
			ok[i] = p.probeFn(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	recovered := 0
	for i, c := range failed {
		if ok[i] {
			delete(p.failed, c)
			p.working = append(p.working, c)
			recovered++
		}
	}
	if recovered > 0 {
		p.log.Info("failed proxies recovered", "count", recovered)
	}
}

// Stats reports the current pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Working:   len(p.working),
		Failed:    len(p.failed),
		Total:     len(p.candidates),
		CheckedAt: p.checkedAt,
	}
}

// probe checks whether the target site answers through the proxy.
func (p *Pool) probe(ctx context.Context, proxy string) bool {
	endpoint := proxy
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}

	client := &http.Client{
		Timeout:   probeTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(u)},
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < http.StatusInternalServerError
}
