package app

import (
	"fmt"
	"strings"
	"time"

	"salahbot/internal/config"
	"salahbot/internal/prayer"
	"salahbot/internal/schedule"
	"salahbot/internal/storage"
)

func mapFetchConfig(cfg *config.Config) (prayer.FetchConfig, error) {
	timeout, err := config.ParseDurationOrDefault("prayer_api.timeout", cfg.PrayerAPI.Timeout, 30*time.Second)
	if err != nil {
		return prayer.FetchConfig{}, err
	}
	retryBase, err := config.ParseDurationOrDefault("prayer_api.retry_base", cfg.PrayerAPI.RetryBase, time.Second)
	if err != nil {
		return prayer.FetchConfig{}, err
	}
	retries := cfg.PrayerAPI.Retries
	if retries <= 0 {
		retries = 3
	}
	return prayer.FetchConfig{
		Timeout:   timeout,
		Retries:   retries,
		RetryBase: retryBase,
		Disabled:  cfg.PrayerAPI.Disabled,
	}, nil
}

func mapCacheConfig(cfg *config.Config) (prayer.CacheConfig, time.Duration, error) {
	ttl, err := config.ParseDurationOrDefault("cache.ttl", cfg.Cache.TTL, 24*time.Hour)
	if err != nil {
		return prayer.CacheConfig{}, 0, err
	}
	cleanup, err := config.ParseDurationOrDefault("cache.cleanup_interval", cfg.Cache.CleanupInterval, 6*time.Hour)
	if err != nil {
		return prayer.CacheConfig{}, 0, err
	}
	cc := prayer.CacheConfig{
		TTL:         ttl,
		MaxEntries:  orDefault(cfg.Cache.MaxEntries, 100),
		MaxDaysBack: orDefault(cfg.Cache.MaxDaysBack, 7),
	}
	return cc, cleanup, nil
}

func mapScheduleOptions(cfg *config.Config) (schedule.Options, error) {
	opts := schedule.DefaultOptions()

	grace, err := config.ParseDurationOrDefault("schedule.grace_window", cfg.Schedule.GraceWindow, opts.GraceWindow)
	if err != nil {
		return schedule.Options{}, err
	}
	retry, err := config.ParseDurationOrDefault("schedule.retry_interval", cfg.Schedule.RetryInterval, opts.RetryInterval)
	if err != nil {
		return schedule.Options{}, err
	}
	opts.GraceWindow = grace
	opts.RetryInterval = retry

	if s := strings.TrimSpace(cfg.Schedule.RefreshAt); s != "" {
		opts.RefreshAt = s
	}
	if cfg.Schedule.AlertBeforeMin > 0 {
		opts.AlertBefore = time.Duration(cfg.Schedule.AlertBeforeMin) * time.Minute
	}
	if cfg.Schedule.DhikrDelayMin > 0 {
		opts.DhikrDelay = time.Duration(cfg.Schedule.DhikrDelayMin) * time.Minute
	}
	if cfg.Schedule.QuranDelayMin > 0 {
		opts.QuranDelay = time.Duration(cfg.Schedule.QuranDelayMin) * time.Minute
	}
	if s := strings.TrimSpace(cfg.Dhikr.MorningTime); s != "" {
		opts.MorningDhikrAt = s
	}
	if s := strings.TrimSpace(cfg.Dhikr.EveningTime); s != "" {
		opts.EveningDhikrAt = s
	}
	return opts, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.TrimSpace(cfg.Storage.Driver)
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" && driver == "sqlite" {
		path = "./salahbot.db"
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

// validateConfig rejects a config before commit, so a bad hot reload
// keeps the previous config live.
func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Location.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("location.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := mapFetchConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapCacheConfig(cfg); err != nil {
		return err
	}
	if _, err := mapScheduleOptions(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if cfg.Quran.PagesPerSend < 0 {
		return fmt.Errorf("quran.pages_per_send must be >= 0")
	}
	if cfg.Quran.TotalPages < 0 {
		return fmt.Errorf("quran.total_pages must be >= 0")
	}
	if cfg.Delivery.RatePerSec < 0 {
		return fmt.Errorf("delivery.rate_per_sec must be >= 0")
	}
	return nil
}
