package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("record not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (or empty): SQLite database file
//   - "none": in-memory only
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// GroupRecord is one registered chat group with its feature toggles.
// Groups are never hard-deleted; Active=false marks an unreachable or
// opted-out group.
type GroupRecord struct {
	ChatID    int64
	Title     string
	Active    bool
	Quran     bool
	Reminders bool
	Dhikr     bool
	PostDhikr bool
	JoinedAt  time.Time
	UpdatedAt time.Time
}

// ProgressRecord is a group's cursor into the mushaf.
type ProgressRecord struct {
	ChatID      int64
	CurrentPage int
	Completions int
	AdvancedAt  time.Time
}

// CacheRecord is a persisted day of prayer times. Times are kept as a
// JSON object {"fajr":"04:23",...} so the schema stays stable if the
// canonical prayer set ever changes.
type CacheRecord struct {
	Date      string // YYYY-MM-DD in the configured timezone
	TimesJSON string
	Source    string
	CachedAt  time.Time
	ExpiresAt time.Time
}

// AuditEntry records an operator action. Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	ChatID  int64
	Action  string
	Target  string
	OK      bool
	Error   string
}

// Store is the persistence API used by the registry, tracker and cache.
type Store interface {
	GetGroup(ctx context.Context, chatID int64) (GroupRecord, bool, error)
	PutGroup(ctx context.Context, g GroupRecord) error
	ListGroups(ctx context.Context) ([]GroupRecord, error)

	GetProgress(ctx context.Context, chatID int64) (ProgressRecord, bool, error)
	PutProgress(ctx context.Context, p ProgressRecord) error

	GetCacheEntry(ctx context.Context, date string) (CacheRecord, bool, error)
	PutCacheEntry(ctx context.Context, r CacheRecord) error
	ListCacheEntries(ctx context.Context) ([]CacheRecord, error)
	DeleteCacheEntry(ctx context.Context, date string) error
	DeleteCacheExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}
