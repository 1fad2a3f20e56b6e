package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Location anchors prayer-time resolution: every provider query and
	// every computed send time is relative to this city and timezone.
	Location LocationConfig `json:"location"`

	PrayerAPI PrayerAPIConfig `json:"prayer_api"`
	Cache     CacheConfig     `json:"cache"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Quran     QuranConfig     `json:"quran"`
	Dhikr     DhikrConfig     `json:"dhikr"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id (as string, optionally "chat:thread") that
	// receives warn+ log lines when logging.telegram is enabled.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type LocationConfig struct {
	City     string `json:"city"`     // default "Cairo"
	Country  string `json:"country"`  // default "Egypt"
	Timezone string `json:"timezone"` // IANA TZ, default "Africa/Cairo"
	// Method selects the calculation authority (Aladhan numbering;
	// 5 = Egyptian General Authority of Survey).
	Method int `json:"method,omitempty"`
	School int `json:"school,omitempty"` // 0 = Shafi
}

// PrayerAPIConfig controls the provider fetch pipeline.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type PrayerAPIConfig struct {
	// Timeout bounds a single provider request. Default "30s".
	Timeout string `json:"timeout,omitempty"`
	// Retries per provider before falling through to the next. Default 3.
	Retries int `json:"retries,omitempty"`
	// RetryBase is the first backoff delay. Default "1s".
	RetryBase string `json:"retry_base,omitempty"`
	// Disabled lists provider names to skip (e.g. ["prayzone"]).
	Disabled []string `json:"disabled,omitempty"`
}

type CacheConfig struct {
	// TTL for a cached day of prayer times. Default "24h".
	TTL string `json:"ttl,omitempty"`
	// MaxEntries caps the in-memory cache. Default 100.
	MaxEntries int `json:"max_entries,omitempty"`
	// CleanupInterval between expired-entry purges. Default "6h".
	CleanupInterval string `json:"cleanup_interval,omitempty"`
	// MaxDaysBack bounds the stale fallback window. Default 7.
	MaxDaysBack int `json:"max_days_back,omitempty"`
}

// ScheduleConfig controls the offset scheduler.
type ScheduleConfig struct {
	// GraceWindow: a send-time further in the past than this at build time
	// is skipped instead of fired late. Default "60m".
	GraceWindow string `json:"grace_window,omitempty"`
	// RefreshAt is the daily HH:MM (location timezone) at which prayer
	// times are force-refreshed and the schedule rebuilt. Default "00:01".
	RefreshAt string `json:"refresh_at,omitempty"`
	// RetryInterval between rebuild attempts after a failed daily refresh.
	// Default "30m".
	RetryInterval string `json:"retry_interval,omitempty"`

	// Offsets, in minutes relative to each prayer time.
	AlertBeforeMin   int `json:"alert_before_min,omitempty"`   // default 5
	DhikrDelayMin    int `json:"dhikr_delay_min,omitempty"`    // default 25
	QuranDelayMin    int `json:"quran_delay_min,omitempty"`    // default 30
}

type QuranConfig struct {
	// PagesPerSend sent after each prayer. Default 3.
	PagesPerSend int `json:"pages_per_send,omitempty"`
	// TotalPages in the mushaf. Default 604.
	TotalPages int `json:"total_pages,omitempty"`
	// PageURLTemplate turns a page number into an image ref;
	// must contain one %d verb.
	PageURLTemplate string `json:"page_url_template,omitempty"`
}

type DhikrConfig struct {
	MorningTime string `json:"morning_time,omitempty"` // HH:MM, default "05:30"
	EveningTime string `json:"evening_time,omitempty"` // HH:MM, default "19:30"
}

type DeliveryConfig struct {
	// RatePerSec caps outbound sends across all fan-outs. Default 10.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// RetryMax transient retries within one fan-out pass. Default 0
	// (transient failures are logged and retried on the next pass).
	RetryMax int `json:"retry_max,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "none":   memory-only; settings, progress and cache do not survive
//     a restart
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}
