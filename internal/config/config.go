// Package config handles application configuration from environment
// variables, with hot-reloadable overrides from the settings table.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings keys recognized in the overrides source. An operator-set value
// under one of these keys takes precedence over the environment default.
const (
	KeyScanInterval    = "scan_interval"
	KeyMaxItemsPerScan = "max_items_per_scan"
	KeyProxyEnabled    = "proxy_enabled"
	KeyProxyList       = "proxy_list"
	KeyRequestDelayMin = "request_delay_min"
	KeyRequestDelayMax = "request_delay_max"
)

// Overrides is a read-only view of operator-set configuration values.
// The storage settings table implements it.
type Overrides interface {
	LookupSetting(ctx context.Context, key string) (string, bool, error)
}

// Config holds the application configuration. Static fields are read once
// at startup; the accessor methods consult Overrides on every call, so
// settings-table edits apply without a restart.
type Config struct {
	TelegramBotToken string
	DatabaseURL      string
	LogLevel         string

	ScanInterval    time.Duration
	MaxItemsPerScan int
	ProxyEnabled    bool
	ProxyList       []string
	RequestDelayMin time.Duration
	RequestDelayMax time.Duration

	overrides Overrides
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "sqlite:./data/kufarwatch.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	interval, err := envSeconds("SEARCH_INTERVAL", 300)
	if err != nil {
		return nil, err
	}

	maxItems := 50
	if raw := os.Getenv("MAX_ITEMS_PER_SEARCH"); raw != "" {
		maxItems, err = strconv.Atoi(raw)
		if err != nil || maxItems <= 0 {
			return nil, fmt.Errorf("invalid MAX_ITEMS_PER_SEARCH %q", raw)
		}
	}

	delayMin, err := envSeconds("REQUEST_DELAY_MIN", 1)
	if err != nil {
		return nil, err
	}
	delayMax, err := envSeconds("REQUEST_DELAY_MAX", 3)
	if err != nil {
		return nil, err
	}
	if delayMax < delayMin {
		return nil, fmt.Errorf("REQUEST_DELAY_MAX %v is below REQUEST_DELAY_MIN %v", delayMax, delayMin)
	}

	return &Config{
		TelegramBotToken: token,
		DatabaseURL:      dbURL,
		LogLevel:         logLevel,
		ScanInterval:     interval,
		MaxItemsPerScan:  maxItems,
		ProxyEnabled:     strings.EqualFold(os.Getenv("PROXY_ENABLED"), "true"),
		ProxyList:        splitList(os.Getenv("PROXY_LIST")),
		RequestDelayMin:  delayMin,
		RequestDelayMax:  delayMax,
	}, nil
}

// SetOverrides attaches the operator-settings source. A nil source means
// environment defaults apply unchanged.
func (c *Config) SetOverrides(o Overrides) {
	c.overrides = o
}

// ScanIntervalFor returns the effective re-scan interval for searches.
func (c *Config) ScanIntervalFor(ctx context.Context) time.Duration {
	if raw, ok := c.lookup(ctx, KeyScanInterval); ok {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.ScanInterval
}

// MaxItemsFor returns the effective cap on listings kept per extraction.
func (c *Config) MaxItemsFor(ctx context.Context) int {
	if raw, ok := c.lookup(ctx, KeyMaxItemsPerScan); ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return c.MaxItemsPerScan
}

// ProxiesFor returns the effective proxy enable flag and endpoint list.
func (c *Config) ProxiesFor(ctx context.Context) (bool, []string) {
	enabled := c.ProxyEnabled
	list := c.ProxyList
	if raw, ok := c.lookup(ctx, KeyProxyEnabled); ok {
		enabled = strings.EqualFold(raw, "true")
	}
	if raw, ok := c.lookup(ctx, KeyProxyList); ok {
		list = splitList(raw)
	}
	return enabled, list
}

// DelayBoundsFor returns the effective jittered inter-request delay window.
// An inverted override window falls back to the environment defaults.
func (c *Config) DelayBoundsFor(ctx context.Context) (time.Duration, time.Duration) {
	minDelay, maxDelay := c.RequestDelayMin, c.RequestDelayMax
	if raw, ok := c.lookup(ctx, KeyRequestDelayMin); ok {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs >= 0 {
			minDelay = time.Duration(secs * float64(time.Second))
		}
	}
	if raw, ok := c.lookup(ctx, KeyRequestDelayMax); ok {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs >= 0 {
			maxDelay = time.Duration(secs * float64(time.Second))
		}
	}
	if maxDelay < minDelay {
		return c.RequestDelayMin, c.RequestDelayMax
	}
	return minDelay, maxDelay
}

func (c *Config) lookup(ctx context.Context, key string) (string, bool) {
	if c.overrides == nil {
		return "", false
	}
	val, ok, err := c.overrides.LookupSetting(ctx, key)
	if err != nil || !ok {
		return "", false
	}
	return strings.TrimSpace(val), val != ""
}

func envSeconds(key string, def int) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(def) * time.Second, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
