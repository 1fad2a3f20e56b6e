package prayer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"salahbot/internal/storage"
	"salahbot/pkg/logx"
)

// CacheConfig controls TTL, size and the stale-fallback window.
type CacheConfig struct {
	TTL         time.Duration // default 24h
	MaxEntries  int           // default 100
	MaxDaysBack int           // stale fallback window, default 7
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 100
	}
	if c.MaxDaysBack <= 0 {
		c.MaxDaysBack = 7
	}
	return c
}

type cacheEntry struct {
	set       TimeSet
	cachedAt  time.Time
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool { return now.After(e.expiresAt) }

// Cache holds validated TimeSets keyed by calendar date, in memory with
// write-through to the durable store. Reads are served from memory; the
// store is only read at startup (Load) and for audit via the cleaner.
type Cache struct {
	cfg   CacheConfig
	loc   *time.Location
	store storage.Store
	log   logx.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry

	// counters for the health snapshot
	hits, misses, staleHits atomic.Uint64
}

// CacheStats is a point-in-time view for /health.
type CacheStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	StaleHits uint64 `json:"stale_hits"`
}

func NewCache(cfg CacheConfig, loc *time.Location, store storage.Store, log logx.Logger) *Cache {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		cfg:     cfg.withDefaults(),
		loc:     loc,
		store:   store,
		log:     log,
		entries: map[string]cacheEntry{},
	}
}

// Load pulls the durable store into memory, discarding entries that have
// already expired. Call once at startup.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	recs, err := c.store.ListCacheEntries(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	loaded, dropped := 0, 0
	c.mu.Lock()
	for _, r := range recs {
		if now.After(r.ExpiresAt) {
			dropped++
			continue
		}
		ts, err := UnmarshalTimes(r.Date, r.Source, r.TimesJSON, c.loc)
		if err != nil {
			c.log.Warn("cache entry unreadable; skipping", logx.String("date", r.Date), logx.Err(err))
			dropped++
			continue
		}
		c.entries[r.Date] = cacheEntry{set: ts, cachedAt: r.CachedAt, expiresAt: r.ExpiresAt}
		loaded++
	}
	c.mu.Unlock()
	c.log.Info("prayer cache loaded", logx.Int("entries", loaded), logx.Int("dropped", dropped))
	return nil
}

// Get returns the unexpired entry for a date.
func (c *Cache) Get(date string) (TimeSet, bool) {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[date]
	if !ok || e.expired(now) {
		c.misses.Add(1)
		return TimeSet{}, false
	}
	c.hits.Add(1)
	return e.set, true
}

// Put stores a validated set for its date, writing through to the durable
// store. The memory entry is kept even if the durable write fails; the
// write is retried implicitly on the next Put for that date.
func (c *Cache) Put(ctx context.Context, ts TimeSet) error {
	now := time.Now()
	e := cacheEntry{set: ts, cachedAt: now, expiresAt: now.Add(c.cfg.TTL)}

	c.mu.Lock()
	c.entries[ts.Date] = e
	c.evictLocked(now)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	raw, err := MarshalTimes(ts)
	if err != nil {
		return err
	}
	err = c.store.PutCacheEntry(ctx, storage.CacheRecord{
		Date:      ts.Date,
		TimesJSON: raw,
		Source:    ts.Source,
		CachedAt:  e.cachedAt,
		ExpiresAt: e.expiresAt,
	})
	if err != nil {
		c.log.Warn("cache write-through failed", logx.String("date", ts.Date), logx.Err(err))
	}
	return err
}

// LastValidBefore walks back day by day from date looking for the most
// recent prior entry, expired or not. A stale day is better than none.
func (c *Cache) LastValidBefore(date string, maxDaysBack int) (TimeSet, bool) {
	if maxDaysBack <= 0 {
		maxDaysBack = c.cfg.MaxDaysBack
	}
	day, err := time.ParseInLocation(dateLayout, date, c.loc)
	if err != nil {
		return TimeSet{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := 1; i <= maxDaysBack; i++ {
		d := day.AddDate(0, 0, -i).Format(dateLayout)
		if e, ok := c.entries[d]; ok {
			c.staleHits.Add(1)
			return e.set, true
		}
	}
	return TimeSet{}, false
}

// Cleanup purges expired entries from memory and the durable store.
// Run periodically under the app supervisor.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	now := time.Now()
	removed := 0
	c.mu.Lock()
	for date, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, date)
			removed++
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		n, err := c.store.DeleteCacheExpiredBefore(ctx, now)
		if err != nil {
			return removed, err
		}
		if n > removed {
			removed = n
		}
	}
	if removed > 0 {
		c.log.Debug("prayer cache cleaned", logx.Int("removed", removed))
	}
	return removed, nil
}

// Stats returns counters for the health snapshot.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Entries:   len(c.entries),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		StaleHits: c.staleHits.Load(),
	}
}

// evictLocked enforces MaxEntries: expired entries go first, then the
// oldest by cachedAt. Call with c.mu held.
func (c *Cache) evictLocked(now time.Time) {
	if len(c.entries) <= c.cfg.MaxEntries {
		return
	}
	for date, e := range c.entries {
		if len(c.entries) <= c.cfg.MaxEntries {
			return
		}
		if e.expired(now) {
			delete(c.entries, date)
		}
	}
	// still over: drop oldest-by-cachedAt (dates sort chronologically
	// only within a TTL generation, so order by cachedAt explicitly)
	for len(c.entries) > c.cfg.MaxEntries {
		oldestDate := ""
		var oldestAt time.Time
		for _, date := range sortedDates(c.entries) {
			e := c.entries[date]
			if oldestDate == "" || e.cachedAt.Before(oldestAt) {
				oldestDate = date
				oldestAt = e.cachedAt
			}
		}
		if oldestDate == "" {
			return
		}
		delete(c.entries, oldestDate)
	}
}
