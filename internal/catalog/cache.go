package catalog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tubemux/tubemux/internal/metrics"
	"github.com/tubemux/tubemux/internal/models"
)

// DefaultTTL is the fixed lifetime applied to every cache entry.
const DefaultTTL = time.Hour

// cacheKey identifies one cached catalog.
type cacheKey struct {
	MediaKey string
	Kind     models.Kind
}

type cacheEntry struct {
	catalog   *models.FormatCatalog
	expiresAt time.Time
}

// Cache is a TTL-bounded in-memory catalog store. It is safe for
// concurrent use. Entries hold shared references; callers must treat
// returned catalogs as read-only.
//
// Expired entries are treated as misses on lookup; Sweep reclaims their
// memory and is expected to run on a schedule. Concurrent misses for the
// same key are not deduplicated.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewCache creates a cache with the given TTL (DefaultTTL when zero).
func NewCache(ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock overrides the time source, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the cached catalog for (mediaKey, kind), or nil on a miss.
func (c *Cache) Get(mediaKey string, kind models.Kind) *models.FormatCatalog {
	key := cacheKey{MediaKey: mediaKey, Kind: kind}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		metrics.CatalogCacheMisses.WithLabelValues(string(kind)).Inc()
		c.logger.Debug("catalog cache miss",
			slog.String("media_key", mediaKey),
			slog.String("kind", string(kind)),
		)
		return nil
	}

	metrics.CatalogCacheHits.WithLabelValues(string(kind)).Inc()
	c.logger.Debug("catalog cache hit",
		slog.String("media_key", mediaKey),
		slog.String("kind", string(kind)),
	)
	return entry.catalog
}

// Put stores a catalog under (mediaKey, kind) with the fixed TTL.
func (c *Cache) Put(mediaKey string, kind models.Kind, catalog *models.FormatCatalog) {
	key := cacheKey{MediaKey: mediaKey, Kind: kind}
	entry := cacheEntry{catalog: catalog, expiresAt: c.now().Add(c.ttl)}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Sweep removes expired entries and returns how many were reclaimed.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("catalog cache sweep", slog.Int("removed", removed))
	}
	return removed
}

// Len returns the number of stored entries, including not-yet-swept
// expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
