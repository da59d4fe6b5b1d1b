// Package fetch implements the HTTP client used against the target site:
// jittered inter-request delays, outcome classification by status code,
// bounded retry of transport failures, and proxy rotation on blocking.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"kufarwatch/internal/metrics"
)

const (
	requestTimeout    = 30 * time.Second
	maxBodyBytes      = 10 * 1024 * 1024
	transportRetries  = 2 // attempts after the first, 3 total
	retryBaseDelay    = 2 * time.Second
	retryJitter       = time.Second
	proxySwapCooldown = 5 * time.Minute
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// ProxySource hands out upstream proxies and accepts failure reports.
// An empty Next result means "go direct".
type ProxySource interface {
	Next(ctx context.Context) string
	ReportFailure(proxy string)
}

// Client fetches pages from the target site. Delay state is scoped per
// instance; a fresh client starts without waiting.
type Client struct {
	http   *http.Client
	source ProxySource
	sink   metrics.Sink
	log    *slog.Logger

	mu            sync.Mutex
	delayMin      time.Duration
	delayMax      time.Duration
	currentProxy  string
	lastRequest   time.Time
	lastProxySwap time.Time
}

// New creates a Client. source may be nil when proxying is disabled;
// sink may be nil when request accounting is not wanted.
func New(source ProxySource, sink metrics.Sink, log *slog.Logger) *Client {
	return &Client{
		http:     &http.Client{Timeout: requestTimeout},
		source:   source,
		sink:     sink,
		log:      log,
		delayMin: time.Second,
		delayMax: 3 * time.Second,
	}
}

// SetDelayBounds updates the jittered inter-request delay window.
func (c *Client) SetDelayBounds(minDelay, maxDelay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if minDelay >= 0 && maxDelay >= minDelay {
		c.delayMin, c.delayMax = minDelay, maxDelay
	}
}

// Get fetches pageURL and returns its body. Non-success statuses map to
// the typed errors in this package; transport failures are retried with
// jittered backoff before a TransportError is surfaced. A 403 or 429
// additionally requests a proxy swap, throttled to once per 5 minutes.
func (c *Client) Get(ctx context.Context, pageURL string) ([]byte, error) {
	c.waitDelay(ctx)

	if c.sink != nil {
		c.sink.IncAPIRequests()
	}

	var resp *http.Response
	backoff := retry.WithMaxRetries(transportRetries,
		retry.WithJitter(retryJitter, retry.NewExponential(retryBaseDelay)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return err
		}
		setHeaders(req)

		resp, err = c.http.Do(req) //nolint:bodyclose // closed below on the success path
		if err != nil {
			c.log.Debug("transport error, will retry", "url", pageURL, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		c.reportProxyFailure()
		return nil, &TransportError{URL: pageURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, &TransportError{URL: pageURL, Err: fmt.Errorf("read body: %w", err)}
		}
		return body, nil
	case http.StatusForbidden:
		c.requestProxySwap(ctx)
		return nil, &BlockedError{URL: pageURL}
	case http.StatusTooManyRequests:
		c.requestProxySwap(ctx)
		return nil, &RateLimitedError{URL: pageURL}
	case http.StatusNotFound:
		return nil, &NotFoundError{URL: pageURL}
	default:
		return nil, &StatusError{URL: pageURL, Code: resp.StatusCode}
	}
}

// waitDelay sleeps so that at least a uniform [min,max] interval separates
// consecutive requests from this client.
func (c *Client) waitDelay(ctx context.Context) {
	c.mu.Lock()
	minDelay, maxDelay := c.delayMin, c.delayMax
	last := c.lastRequest
	c.lastRequest = time.Now()
	c.mu.Unlock()

	if last.IsZero() || maxDelay == 0 {
		return
	}
	want := minDelay
	if maxDelay > minDelay {
		want += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
	}
	elapsed := time.Since(last)
	if elapsed >= want {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(want - elapsed):
	}
}

// requestProxySwap rotates to the next working proxy, at most once per
// cooldown window. Without a source, or with no working proxy, requests
// continue direct.
func (c *Client) requestProxySwap(ctx context.Context) {
	if c.source == nil {
		return
	}

	c.mu.Lock()
	if time.Since(c.lastProxySwap) < proxySwapCooldown {
		c.mu.Unlock()
		return
	}
	c.lastProxySwap = time.Now()
	old := c.currentProxy
	c.mu.Unlock()

	next := c.source.Next(ctx)
	c.setProxy(next)
	c.log.Info("proxy swapped", "old", orDirect(old), "new", orDirect(next))
}

func (c *Client) reportProxyFailure() {
	c.mu.Lock()
	current := c.currentProxy
	c.mu.Unlock()
	if current != "" && c.source != nil {
		c.source.ReportFailure(current)
	}
}

// setProxy rebuilds the transport for the given endpoint. Empty means a
// direct connection.
func (c *Client) setProxy(proxy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentProxy = proxy
	if proxy == "" {
		c.http.Transport = nil
		return
	}
	u, err := url.Parse(normalizeProxyURL(proxy))
	if err != nil {
		c.log.Warn("invalid proxy endpoint", "proxy", proxy, "error", err)
		c.currentProxy = ""
		c.http.Transport = nil
		return
	}
	c.http.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
}

func setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.8,en-US;q=0.5,en;q=0.3")
	req.Header.Set("Connection", "keep-alive")
}

func normalizeProxyURL(proxy string) string {
	for _, scheme := range []string{"http://", "https://", "socks5://", "socks4://"} {
		if strings.HasPrefix(proxy, scheme) {
			return proxy
		}
	}
	return "http://" + proxy
}

func orDirect(proxy string) string {
	if proxy == "" {
		return "direct"
	}
	return proxy
}
