package prayer

import (
	"context"
	"testing"
	"time"

	"salahbot/internal/storage"
)

func cairoLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Africa/Cairo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func setForDay(t *testing.T, loc *time.Location, day time.Time) TimeSet {
	t.Helper()
	ts, err := BuildTimeSet(goodRaw(), day, loc)
	if err != nil {
		t.Fatalf("BuildTimeSet: %v", err)
	}
	return ts
}

func TestCachePutGet(t *testing.T) {
	loc := cairoLoc(t)
	c := NewCache(CacheConfig{TTL: time.Hour}, loc, storage.NewMemory(), discardLog())

	day := time.Now().In(loc)
	ts := setForDay(t, loc, day)
	if err := c.Put(context.Background(), ts); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := c.Get(ts.Date)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Source != ts.Source || got.Date != ts.Date {
		t.Fatalf("got wrong set: %+v", got)
	}

	if _, ok := c.Get("1999-01-01"); ok {
		t.Fatal("unknown date must miss")
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestCacheExpiredEntryMisses(t *testing.T) {
	loc := cairoLoc(t)
	c := NewCache(CacheConfig{TTL: 10 * time.Millisecond}, loc, nil, discardLog())

	ts := setForDay(t, loc, time.Now().In(loc))
	if err := c.Put(context.Background(), ts); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get(ts.Date); ok {
		t.Fatal("expired entry must not be served by Get")
	}
}

func TestCacheStaleFallbackServesPriorDay(t *testing.T) {
	loc := cairoLoc(t)
	c := NewCache(CacheConfig{TTL: 10 * time.Millisecond, MaxDaysBack: 7}, loc, nil, discardLog())

	now := time.Now().In(loc)
	yesterday := setForDay(t, loc, now.AddDate(0, 0, -1))
	if err := c.Put(context.Background(), yesterday); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(25 * time.Millisecond) // let it expire; stale fallback still applies

	today := DateOf(now, loc)
	if _, ok := c.Get(today); ok {
		t.Fatal("today must miss")
	}
	got, ok := c.LastValidBefore(today, 0)
	if !ok {
		t.Fatal("expected stale fallback to find yesterday")
	}
	if got.Date != yesterday.Date {
		t.Fatalf("expected %s, got %s", yesterday.Date, got.Date)
	}
	if c.Stats().StaleHits != 1 {
		t.Fatalf("stale hit not counted: %+v", c.Stats())
	}
}

func TestCacheStaleFallbackWindowBounded(t *testing.T) {
	loc := cairoLoc(t)
	c := NewCache(CacheConfig{TTL: time.Hour, MaxDaysBack: 3}, loc, nil, discardLog())

	now := time.Now().In(loc)
	old := setForDay(t, loc, now.AddDate(0, 0, -5))
	if err := c.Put(context.Background(), old); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok := c.LastValidBefore(DateOf(now, loc), 0); ok {
		t.Fatal("entry older than the window must not be served")
	}
}

func TestCacheWriteThroughAndReload(t *testing.T) {
	loc := cairoLoc(t)
	store := storage.NewMemory()
	c := NewCache(CacheConfig{TTL: time.Hour}, loc, store, discardLog())

	ts := setForDay(t, loc, time.Now().In(loc))
	if err := c.Put(context.Background(), ts); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec, ok, err := store.GetCacheEntry(context.Background(), ts.Date)
	if err != nil || !ok {
		t.Fatalf("write-through missing: ok=%v err=%v", ok, err)
	}
	if rec.Source != ts.Source {
		t.Fatalf("stored source %q, want %q", rec.Source, ts.Source)
	}

	// a fresh cache over the same store sees the entry after Load
	c2 := NewCache(CacheConfig{TTL: time.Hour}, loc, store, discardLog())
	if err := c2.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := c2.Get(ts.Date); !ok {
		t.Fatal("reloaded cache should hit")
	}
}

func TestCacheEvictsOldestOverCap(t *testing.T) {
	loc := cairoLoc(t)
	c := NewCache(CacheConfig{TTL: time.Hour, MaxEntries: 2}, loc, nil, discardLog())

	now := time.Now().In(loc)
	for i := 3; i >= 1; i-- {
		ts := setForDay(t, loc, now.AddDate(0, 0, -i))
		if err := c.Put(context.Background(), ts); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if got := c.Stats().Entries; got != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", got)
	}
	// the first (oldest cachedAt) insert is the one evicted
	oldest := DateOf(now.AddDate(0, 0, -3), loc)
	if _, ok := c.Get(oldest); ok {
		t.Fatal("oldest entry should have been evicted")
	}
}

func TestCacheCleanupPurgesExpired(t *testing.T) {
	loc := cairoLoc(t)
	store := storage.NewMemory()
	c := NewCache(CacheConfig{TTL: 10 * time.Millisecond}, loc, store, discardLog())

	ts := setForDay(t, loc, time.Now().In(loc))
	if err := c.Put(context.Background(), ts); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	n, err := c.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one purged entry")
	}
	if c.Stats().Entries != 0 {
		t.Fatalf("memory entries remain: %+v", c.Stats())
	}
}
