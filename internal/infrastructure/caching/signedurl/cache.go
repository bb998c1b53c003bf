// Package signedurl caches short-lived signed asset URLs and refreshes them
// through the request coalescer shortly before they expire.
package signedurl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/go-querystring/query"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/errgroup"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/coalescing"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
)

const (
	defaultTTL                 = time.Hour
	defaultExpiryBuffer        = 5 * time.Minute
	defaultMaxSize             = 1000
	defaultPrefetchConcurrency = 8
)

// Config holds the cache settings. Zero values fall back to defaults.
type Config struct {
	// Endpoint is the absolute URL of the sign endpoint.
	Endpoint            string
	Header              http.Header
	DefaultTTL          time.Duration
	ExpiryBuffer        time.Duration
	MaxSize             int
	PrefetchConcurrency int

	// Recorder receives hit/miss and eviction events when set.
	Recorder Recorder
}

// Recorder observes cache activity. *monitoring.CacheMonitor satisfies it.
type Recorder interface {
	RecordOperation(hit bool, latency time.Duration)
	RecordEviction(reason string, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(bool, time.Duration) {}
func (nopRecorder) RecordEviction(string, int)          {}

// PrefetchItem is one entry of a Prefetch batch
type PrefetchItem struct {
	Ref
	TTL time.Duration
}

type signParams struct {
	AssetID    string `url:"assetId,omitempty"`
	StorageKey string `url:"storageKey,omitempty"`
	TTL        int64  `url:"ttl"`
}

type signPayload struct {
	URL              string  `json:"url"`
	ExpiresInSeconds float64 `json:"expiresInSeconds"`
	Error            string  `json:"error"`
}

// refresh tracks the Gets waiting on a sign call for one key. Invalidating
// the key bumps generation so a result fetched before it is not stored.
type refresh struct {
	waiters    int
	generation uint64
}

// Cache maps asset references to signed URLs.
//
// Entries are kept in insertion order; reads never reorder them, so capacity
// eviction always removes the oldest insertion.
type Cache struct {
	cfg       Config
	coalescer *coalescing.Coalescer
	logger    *logging.ChanneledLogger

	mu         sync.Mutex
	entries    *simplelru.LRU[string, Entry]
	refreshing map[string]*refresh
}

// New builds a cache that refreshes entries through coalescer.
func New(cfg Config, coalescer *coalescing.Coalescer, logger *logging.ChanneledLogger) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTTL
	}
	if cfg.ExpiryBuffer < 0 {
		cfg.ExpiryBuffer = 0
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.PrefetchConcurrency <= 0 {
		cfg.PrefetchConcurrency = defaultPrefetchConcurrency
	}
	if coalescer == nil {
		coalescer = coalescing.New(nil, logger)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	entries, err := simplelru.NewLRU[string, Entry](cfg.MaxSize, nil)
	if err != nil {
		panic(fmt.Sprintf("signedurl: failed to create entry store: %v", err))
	}

	return &Cache{
		cfg:        cfg,
		coalescer:  coalescer,
		logger:     logging.OrNop(logger),
		entries:    entries,
		refreshing: make(map[string]*refresh),
	}
}

// Get returns a live signed URL for ref, fetching a new one when the cached
// entry is missing or within the expiry buffer. A zero ttl requests the
// configured default; an existing live entry keeps its own TTL.
func (c *Cache) Get(ctx context.Context, ref Ref, ttl time.Duration) (string, error) {
	key, err := ref.Key()
	if err != nil {
		return "", err
	}

	start := time.Now()
	c.mu.Lock()
	entry, ok := c.entries.Peek(key)
	if ok && !entry.Stale(start, c.cfg.ExpiryBuffer) {
		c.mu.Unlock()
		c.cfg.Recorder.RecordOperation(true, time.Since(start))
		c.logger.LogCacheOperation("get", key, true, time.Since(start))
		return entry.URL, nil
	}
	r := c.beginRefreshLocked(key)
	generation := r.generation
	c.mu.Unlock()
	defer c.endRefresh(key, r)

	c.logger.LogCacheOperation("get", key, false, time.Since(start))
	defer func() { c.cfg.Recorder.RecordOperation(false, time.Since(start)) }()

	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	target, err := c.signURL(ref, ttl)
	if err != nil {
		return "", err
	}

	resp, err := c.coalescer.Call(ctx, coalescing.Request{
		Method: http.MethodGet,
		URL:    target,
		Header: c.cfg.Header,
	}, coalescing.CallOptions{
		Key:        "sign:" + key,
		LogContext: "signedurl",
		BeforeSettle: func(resp *coalescing.Response) {
			if url, entryTTL, err := decode(resp, ttl); err == nil {
				c.store(key, url, entryTTL, r, generation)
			}
		},
	})
	if err != nil {
		c.logger.Cache().Warn("Sign request failed", "key", key, "error", err.Error())
		return "", err
	}

	url, _, err := decode(resp, ttl)
	if err != nil {
		c.logger.Cache().Warn("Sign response rejected", "key", key, "error", err.Error())
		return "", err
	}
	return url, nil
}

func (c *Cache) signURL(ref Ref, ttl time.Duration) (string, error) {
	if c.cfg.Endpoint == "" {
		return "", fmt.Errorf("signedurl: sign endpoint is not configured")
	}

	values, err := query.Values(signParams{
		AssetID:    ref.AssetID,
		StorageKey: ref.StorageKey,
		TTL:        int64(ttl / time.Second),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode sign parameters: %w", err)
	}

	sep := "?"
	if strings.Contains(c.cfg.Endpoint, "?") {
		sep = "&"
	}
	return c.cfg.Endpoint + sep + values.Encode(), nil
}

// decode extracts the URL and TTL from a sign response. A missing expiry
// falls back to the requested TTL.
func decode(resp *coalescing.Response, requested time.Duration) (string, time.Duration, error) {
	var payload signPayload
	jsonErr := json.Unmarshal(resp.Body, &payload)

	if !resp.OK() {
		msg := payload.Error
		if jsonErr != nil || msg == "" {
			msg = strings.TrimSpace(string(resp.Body))
		}
		return "", 0, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidResponse, jsonErr)
	}
	if payload.URL == "" {
		return "", 0, fmt.Errorf("%w: missing url", ErrInvalidResponse)
	}

	ttl := time.Duration(payload.ExpiresInSeconds * float64(time.Second))
	if ttl <= 0 {
		ttl = requested
	}
	return payload.URL, ttl, nil
}

func (c *Cache) beginRefreshLocked(key string) *refresh {
	r, ok := c.refreshing[key]
	if !ok {
		r = &refresh{}
		c.refreshing[key] = r
	}
	r.waiters++
	return r
}

func (c *Cache) endRefresh(key string, r *refresh) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.waiters--
	if r.waiters == 0 && c.refreshing[key] == r {
		delete(c.refreshing, key)
	}
}

// invalidateRefreshLocked marks any in-flight refresh of key as outdated
func (c *Cache) invalidateRefreshLocked(key string) {
	if r, ok := c.refreshing[key]; ok {
		r.generation++
	}
}

// store inserts a fresh entry unless key was invalidated after the fetch
// began.
func (c *Cache) store(key, url string, ttl time.Duration, r *refresh, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refreshing[key] != r || r.generation != generation {
		c.logger.Cache().Debug("Discarding refresh after invalidation", "key", key)
		return
	}

	// A refresh replaces the entry and counts as a new insertion.
	c.entries.Remove(key)
	if c.entries.Len() >= c.cfg.MaxSize {
		if evicted, _, ok := c.entries.RemoveOldest(); ok {
			c.cfg.Recorder.RecordEviction("capacity", 1)
			c.logger.Cache().Debug("Evicted oldest entry", "key", evicted, "maxSize", c.cfg.MaxSize)
		}
	}
	c.entries.Add(key, Entry{
		Key:       key,
		URL:       url,
		TTL:       ttl,
		CreatedAt: time.Now(),
	})
}

// Invalidate removes the entry for ref and reports whether one existed.
func (c *Cache) Invalidate(ref Ref) bool {
	key, err := ref.Key()
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateRefreshLocked(key)
	if !c.entries.Remove(key) {
		return false
	}
	c.cfg.Recorder.RecordEviction("manual", 1)
	return true
}

// InvalidateMatching removes every entry whose key matches the glob pattern.
func (c *Cache) InvalidateMatching(pattern string) (int, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid invalidation pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.refreshing {
		if g.Match(key) {
			c.invalidateRefreshLocked(key)
		}
	}

	removed := 0
	for _, key := range c.entries.Keys() {
		if g.Match(key) && c.entries.Remove(key) {
			removed++
		}
	}
	c.cfg.Recorder.RecordEviction("manual", removed)
	return removed, nil
}

// Clear removes every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.refreshing {
		c.invalidateRefreshLocked(key)
	}
	c.cfg.Recorder.RecordEviction("manual", c.entries.Len())
	c.entries.Purge()
}

// Prune removes all stale entries and returns how many were removed. Reads
// check staleness themselves, so pruning only reclaims memory.
func (c *Cache) Prune() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if ok && entry.Stale(now, c.cfg.ExpiryBuffer) {
			c.entries.Remove(key)
			removed++
		}
	}
	c.cfg.Recorder.RecordEviction("ttl", removed)
	return removed
}

// Prefetch resolves every item concurrently. Individual failures are logged
// and otherwise ignored.
func (c *Cache) Prefetch(ctx context.Context, items []PrefetchItem) {
	var g errgroup.Group
	g.SetLimit(c.cfg.PrefetchConcurrency)

	for _, item := range items {
		g.Go(func() error {
			if _, err := c.Get(ctx, item.Ref, item.TTL); err != nil {
				c.logger.Cache().Warn("Prefetch failed", "ref", item.Ref.String(), "error", err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Stats returns size, capacity and per-entry timing, oldest insertion first.
func (c *Cache) Stats() Stats {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Size:    c.entries.Len(),
		MaxSize: c.cfg.MaxSize,
		Entries: make([]EntryStats, 0, c.entries.Len()),
	}
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		stats.Entries = append(stats.Entries, EntryStats{
			Key:       key,
			TTL:       entry.TTL,
			Age:       now.Sub(entry.CreatedAt),
			ExpiresIn: entry.ExpiresAt().Sub(now),
			Stale:     entry.Stale(now, c.cfg.ExpiryBuffer),
		})
	}
	return stats
}

// Coalescer exposes the coalescer used for refreshes so callers can cancel
// pending sign requests, e.g. on shutdown.
func (c *Cache) Coalescer() *coalescing.Coalescer {
	return c.coalescer
}
