package updater

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrCacheCorrupted is returned when the cache file cannot be parsed.
var ErrCacheCorrupted = errors.New("cache file is corrupted")

// DefaultCacheTTL is the default time-to-live for probe cache entries.
const DefaultCacheTTL = time.Hour

// CacheEntry is one cached probe result.
type CacheEntry struct {
	// Version is the upstream version the probe returned
	Version string `json:"version"`
	// Tag is the release tag the version came from, when applicable
	Tag string `json:"tag,omitempty"`
	// Rev is the upstream head commit, for branch-tracking packages
	Rev string `json:"rev,omitempty"`
	// Timestamp is when this entry was cached
	Timestamp time.Time `json:"timestamp"`
}

// cacheFile is the JSON structure stored on disk.
type cacheFile struct {
	Entries map[string]CacheEntry `json:"entries"`
}

// Cache persists probe results with TTL-based expiration so repeated runs
// do not hammer upstream APIs. Safe for concurrent use.
type Cache struct {
	entries map[string]CacheEntry
	ttl     time.Duration
	path    string
	mu      sync.RWMutex
	// nowFunc allows injecting time for testing
	nowFunc func() time.Time
}

// CacheOption is a functional option for configuring Cache.
type CacheOption func(*Cache)

// WithTTL sets a custom TTL for the cache.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithNowFunc sets a custom time function for testing.
func WithNowFunc(fn func() time.Time) CacheOption {
	return func(c *Cache) {
		c.nowFunc = fn
	}
}

// NewCache creates or loads a probe cache in configDir. A missing or
// corrupted cache file starts empty; corruption is overwritten on the next
// save.
func NewCache(configDir string, opts ...CacheOption) (*Cache, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache := &Cache{
		entries: make(map[string]CacheEntry),
		ttl:     DefaultCacheTTL,
		path:    filepath.Join(configDir, "cache.json"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(cache)
	}

	if err := cache.load(); err != nil && !os.IsNotExist(err) {
		cache.entries = make(map[string]CacheEntry)
	}
	return cache, nil
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	if cf.Entries != nil {
		c.entries = cf.Entries
	}
	return nil
}

// Get retrieves a cached probe result if present and not expired. force
// always misses.
func (c *Cache) Get(pkg string, force bool) (CacheEntry, bool) {
	if force {
		return CacheEntry{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[pkg]
	if !exists {
		return CacheEntry{}, false
	}
	if c.nowFunc().Sub(entry.Timestamp) >= c.ttl {
		return CacheEntry{}, false
	}
	return entry, true
}

// Set stores a probe result and persists the cache to disk.
func (c *Cache) Set(pkg, version, tag, rev string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[pkg] = CacheEntry{
		Version:   version,
		Tag:       tag,
		Rev:       rev,
		Timestamp: c.nowFunc(),
	}
	return c.saveUnsafe()
}

// saveUnsafe persists the cache without locking. Caller must hold the write
// lock.
func (c *Cache) saveUnsafe() error {
	data, err := json.MarshalIndent(cacheFile{Entries: c.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	// Write to temp file first, then rename for atomicity.
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}
