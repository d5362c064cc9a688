// Package memcache implements the hot in-memory tier of the two-layer
// cache: per-workspace issue-ref lists and per-issue markdown, each
// with independent TTLs and a stale-safe read policy that falls back to
// the durable store and finally to a caller-supplied fetch closure.
package memcache

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ticketfs/ticketfs/internal/store"
	"github.com/ticketfs/ticketfs/internal/upstream"
)

// CacheEntry is the TTL wrapper held by both containers.
type CacheEntry[T any] struct {
	Value         T
	CachedAt      time.Time
	TTL           time.Duration
	SourceUpdated *string
}

func (e CacheEntry[T]) fresh(now time.Time) bool {
	return now.Sub(e.CachedAt) < e.TTL
}

// ProjectSnapshot is a non-fetching view of a workspace's cached issue list.
type ProjectSnapshot struct {
	Issues  []upstream.IssueRef
	IsStale bool
}

// container is a TTL map guarded by its own RWMutex, with a guard
// helper that recovers a panicked critical section instead of leaving
// the mutex poisoned forever — a previously-panicked lock never
// freezes the filesystem.
type container[T any] struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry[T]
}

func newContainer[T any]() *container[T] {
	return &container[T]{entries: make(map[string]CacheEntry[T])}
}

func (c *container[T]) withLock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[memcache] recovered from panic in locked section: %v", r)
		}
	}()
	fn()
}

func (c *container[T]) withRLock(fn func()) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[memcache] recovered from panic in locked section: %v", r)
		}
	}()
	fn()
}

func (c *container[T]) get(key string) (CacheEntry[T], bool) {
	var (entry CacheEntry[T]; ok bool)
	c.withRLock(func() { entry, ok = c.entries[key] })
	return entry, ok
}

func (c *container[T]) set(key string, entry CacheEntry[T]) {
	c.withLock(func() { c.entries[key] = entry })
}

func (c *container[T]) touch(key string) {
	c.withLock(func() {
		if e, ok := c.entries[key]; ok {
			e.CachedAt = time.Now()
			c.entries[key] = e
		}
	})
}

func (c *container[T]) length(key string, sizeOf func(T) int) (int, bool) {
	var (n int; ok bool)
	c.withRLock(func() {
		if e, found := c.entries[key]; found {
			n, ok = sizeOf(e.Value), true
		}
	})
	return n, ok
}

// Cache is the hot tier: project-issue lists and issue markdown, each
// TTL-bounded, with stale-safe reads over an optional durable fallback.
type Cache struct {
	projectTTL time.Duration
	issueTTL   time.Duration
	durable    *store.Store

	projects *container[[]upstream.IssueRef]
	issues   *container[[]byte]

	projectSF singleflight.Group
	issueSF   singleflight.Group

	staleServed atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// New builds a Cache with the given project/issue TTLs over an
// optional durable store (nil disables hydration and best-effort
// persistence).
func New(projectTTL, issueTTL time.Duration, durable *store.Store) *Cache {
	return &Cache{
		projectTTL: projectTTL,
		issueTTL:   issueTTL,
		durable:    durable,
		projects:   newContainer[[]upstream.IssueRef](),
		issues:     newContainer[[]byte](),
	}
}

// StaleServed returns the number of reads answered from a stale memory
// entry after a fetch failure.
func (c *Cache) StaleServed() int64 {
	return c.staleServed.Load()
}

// CacheHits returns the number of reads answered from a fresh memory
// entry (or a durable hydration on first sight of a key) without a
// fetch.
func (c *Cache) CacheHits() int64 {
	return c.cacheHits.Load()
}

// CacheMisses returns the number of reads that required a fetch because
// no fresh memory entry was available.
func (c *Cache) CacheMisses() int64 {
	return c.cacheMisses.Load()
}

// GetProjectIssues returns the workspace's cached issue refs, fetching
// and storing them (ttl = projectTTL) on a miss. Concurrent misses on
// the same workspace share one fetch call.
func (c *Cache) GetProjectIssues(ctx context.Context, workspace string, fetch func(context.Context) ([]upstream.IssueRef, error)) ([]upstream.IssueRef, error) {
	if entry, ok := c.projects.get(workspace); ok && entry.fresh(time.Now()) {
		c.cacheHits.Add(1)
		return entry.Value, nil
	}

	c.cacheMisses.Add(1)
	v, err, _ := c.projectSF.Do(workspace, func() (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return nil, err
	}

	issues := v.([]upstream.IssueRef)
	c.projects.set(workspace, CacheEntry[[]upstream.IssueRef]{Value: issues, CachedAt: time.Now(), TTL: c.projectTTL})
	return issues, nil
}

// GetProjectIssuesSnapshot returns a non-fetching view of a workspace's
// cached issue list.
func (c *Cache) GetProjectIssuesSnapshot(workspace string) ProjectSnapshot {
	entry, ok := c.projects.get(workspace)
	if !ok {
		return ProjectSnapshot{IsStale: true}
	}
	stale := !entry.fresh(time.Now())
	if stale {
		c.cacheMisses.Add(1)
	} else {
		c.cacheHits.Add(1)
	}
	return ProjectSnapshot{Issues: entry.Value, IsStale: stale}
}

// UpsertProjectIssues replaces a workspace's cached issue list outright.
func (c *Cache) UpsertProjectIssues(workspace string, issues []upstream.IssueRef) {
	c.projects.set(workspace, CacheEntry[[]upstream.IssueRef]{Value: issues, CachedAt: time.Now(), TTL: c.projectTTL})
}

// fetchResult is the value threaded through the issue singleflight group.
type fetchResult struct {
	bytes   []byte
	updated *string
}

func sameSourceUpdated(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// GetIssueMarkdownStaleSafe is the defining stale-safe read. In order:
// a fresh memory hit; a durable hydrate on first sight of the key; a
// collapsed fetch on a true miss; and, on fetch failure, whatever
// memory value remains (incrementing the stale-served counter) before
// finally propagating the error.
func (c *Cache) GetIssueMarkdownStaleSafe(ctx context.Context, key string, fetch func(context.Context) ([]byte, *string, error)) ([]byte, error) {
	entry, exists := c.issues.get(key)
	if exists && entry.fresh(time.Now()) {
		c.cacheHits.Add(1)
		return entry.Value, nil
	}

	if !exists && c.durable != nil {
		if pi, found, err := c.durable.GetIssue(ctx, key); err == nil && found {
			c.issues.set(key, CacheEntry[[]byte]{Value: pi.Markdown, CachedAt: time.Now(), TTL: c.issueTTL, SourceUpdated: pi.Updated})
			c.cacheHits.Add(1)
			return pi.Markdown, nil
		}
	}

	c.cacheMisses.Add(1)
	v, err, _ := c.issueSF.Do(key, func() (any, error) {
		bytes, upd, ferr := fetch(ctx)
		if ferr != nil {
			return nil, ferr
		}
		return fetchResult{bytes: bytes, updated: upd}, nil
	})
	if err != nil {
		if exists {
			c.staleServed.Add(1)
			return entry.Value, nil
		}
		return nil, err
	}

	res := v.(fetchResult)
	if exists && sameSourceUpdated(entry.SourceUpdated, res.updated) {
		c.issues.touch(key)
		return entry.Value, nil
	}

	c.issues.set(key, CacheEntry[[]byte]{Value: res.bytes, CachedAt: time.Now(), TTL: c.issueTTL, SourceUpdated: res.updated})
	if c.durable != nil {
		if err := c.durable.UpsertIssue(ctx, key, res.bytes, res.updated); err != nil {
			log.Printf("[memcache] best-effort durable upsert failed for %s: %v", key, err)
		}
	}
	return res.bytes, nil
}

// UpsertIssueDirect writes memory and best-effort durable in one call;
// the memory guard is held only for the memory write.
func (c *Cache) UpsertIssueDirect(ctx context.Context, key string, markdown []byte, updated *string) {
	c.issues.set(key, CacheEntry[[]byte]{Value: markdown, CachedAt: time.Now(), TTL: c.issueTTL, SourceUpdated: updated})
	if c.durable != nil {
		if err := c.durable.UpsertIssue(ctx, key, markdown, updated); err != nil {
			log.Printf("[memcache] best-effort durable upsert failed for %s: %v", key, err)
		}
	}
}

// UpsertIssuesBatch writes every row to memory, then best-effort
// durable as a single batch.
func (c *Cache) UpsertIssuesBatch(ctx context.Context, rows []store.IssueUpsert) {
	for _, r := range rows {
		c.issues.set(r.Key, CacheEntry[[]byte]{Value: r.Markdown, CachedAt: time.Now(), TTL: c.issueTTL, SourceUpdated: r.Updated})
	}
	if c.durable != nil {
		if err := c.durable.UpsertIssuesBatch(ctx, rows); err != nil {
			log.Printf("[memcache] best-effort durable batch upsert failed: %v", err)
		}
	}
}

// CachedIssueLen returns the length of the in-memory markdown for key,
// for the filesystem view's stat path.
func (c *Cache) CachedIssueLen(key string) (int, bool) {
	return c.issues.length(key, func(b []byte) int { return len(b) })
}

// PersistentIssueLen returns the length of the durable markdown for key.
func (c *Cache) PersistentIssueLen(ctx context.Context, key string) (int, bool) {
	if c.durable == nil {
		return 0, false
	}
	pi, found, err := c.durable.GetIssue(ctx, key)
	if err != nil || !found {
		return 0, false
	}
	return len(pi.Markdown), true
}

// SidecarLens returns the durable comments-markdown and comments-jsonl
// lengths for key.
func (c *Cache) SidecarLens(ctx context.Context, key string) (mdLen, jsonlLen int, found bool) {
	if c.durable == nil {
		return 0, 0, false
	}
	sc, ok, err := c.durable.GetSidecar(ctx, key)
	if err != nil || !ok {
		return 0, 0, false
	}
	return len(sc.CommentsMarkdown), len(sc.CommentsJSONL), true
}
