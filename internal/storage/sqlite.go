package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"salahbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./salahbot.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- groups ----

func (s *sqliteStore) GetGroup(ctx context.Context, chatID int64) (GroupRecord, bool, error) {
	var (
		g                                    GroupRecord
		active, quran, rem, dhikr, postDhikr int
		joined, updated                      string
		title                                sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, title, active, quran, reminders, dhikr, post_dhikr, joined_at, updated_at
		 FROM groups WHERE chat_id = ?`, chatID,
	).Scan(&g.ChatID, &title, &active, &quran, &rem, &dhikr, &postDhikr, &joined, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return GroupRecord{}, false, nil
	}
	if err != nil {
		return GroupRecord{}, false, err
	}
	g.Title = title.String
	g.Active = active != 0
	g.Quran = quran != 0
	g.Reminders = rem != 0
	g.Dhikr = dhikr != 0
	g.PostDhikr = postDhikr != 0
	g.JoinedAt = parseTime(joined)
	g.UpdatedAt = parseTime(updated)
	return g, true, nil
}

func (s *sqliteStore) PutGroup(ctx context.Context, g GroupRecord) error {
	if g.JoinedAt.IsZero() {
		g.JoinedAt = time.Now()
	}
	g.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(chat_id, title, active, quran, reminders, dhikr, post_dhikr, joined_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   title=excluded.title, active=excluded.active, quran=excluded.quran,
		   reminders=excluded.reminders, dhikr=excluded.dhikr,
		   post_dhikr=excluded.post_dhikr, updated_at=excluded.updated_at`,
		g.ChatID, nullStr(g.Title), b2i(g.Active), b2i(g.Quran), b2i(g.Reminders),
		b2i(g.Dhikr), b2i(g.PostDhikr), fmtTime(g.JoinedAt), fmtTime(g.UpdatedAt),
	)
	return err
}

func (s *sqliteStore) ListGroups(ctx context.Context) ([]GroupRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, title, active, quran, reminders, dhikr, post_dhikr, joined_at, updated_at
		 FROM groups ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupRecord
	for rows.Next() {
		var (
			g                                    GroupRecord
			active, quran, rem, dhikr, postDhikr int
			joined, updated                      string
			title                                sql.NullString
		)
		if err := rows.Scan(&g.ChatID, &title, &active, &quran, &rem, &dhikr, &postDhikr, &joined, &updated); err != nil {
			return nil, err
		}
		g.Title = title.String
		g.Active = active != 0
		g.Quran = quran != 0
		g.Reminders = rem != 0
		g.Dhikr = dhikr != 0
		g.PostDhikr = postDhikr != 0
		g.JoinedAt = parseTime(joined)
		g.UpdatedAt = parseTime(updated)
		out = append(out, g)
	}
	return out, rows.Err()
}

// ---- progress ----

func (s *sqliteStore) GetProgress(ctx context.Context, chatID int64) (ProgressRecord, bool, error) {
	var (
		p  ProgressRecord
		at string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, current_page, completions, advanced_at FROM quran_progress WHERE chat_id = ?`,
		chatID,
	).Scan(&p.ChatID, &p.CurrentPage, &p.Completions, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return ProgressRecord{}, false, nil
	}
	if err != nil {
		return ProgressRecord{}, false, err
	}
	p.AdvancedAt = parseTime(at)
	return p, true, nil
}

func (s *sqliteStore) PutProgress(ctx context.Context, p ProgressRecord) error {
	if p.AdvancedAt.IsZero() {
		p.AdvancedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quran_progress(chat_id, current_page, completions, advanced_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   current_page=excluded.current_page, completions=excluded.completions,
		   advanced_at=excluded.advanced_at`,
		p.ChatID, p.CurrentPage, p.Completions, fmtTime(p.AdvancedAt),
	)
	return err
}

// ---- prayer cache ----

func (s *sqliteStore) GetCacheEntry(ctx context.Context, date string) (CacheRecord, bool, error) {
	var (
		r                  CacheRecord
		cachedAt, expiresAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT date, times, source, cached_at, expires_at FROM prayer_cache WHERE date = ?`, date,
	).Scan(&r.Date, &r.TimesJSON, &r.Source, &cachedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheRecord{}, false, nil
	}
	if err != nil {
		return CacheRecord{}, false, err
	}
	r.CachedAt = parseTime(cachedAt)
	r.ExpiresAt = parseTime(expiresAt)
	return r, true, nil
}

func (s *sqliteStore) PutCacheEntry(ctx context.Context, r CacheRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prayer_cache(date, times, source, cached_at, expires_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(date) DO UPDATE SET
		   times=excluded.times, source=excluded.source,
		   cached_at=excluded.cached_at, expires_at=excluded.expires_at`,
		r.Date, r.TimesJSON, r.Source, fmtTime(r.CachedAt), fmtTime(r.ExpiresAt),
	)
	return err
}

func (s *sqliteStore) ListCacheEntries(ctx context.Context) ([]CacheRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, times, source, cached_at, expires_at FROM prayer_cache ORDER BY date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CacheRecord
	for rows.Next() {
		var (
			r                  CacheRecord
			cachedAt, expiresAt string
		)
		if err := rows.Scan(&r.Date, &r.TimesJSON, &r.Source, &cachedAt, &expiresAt); err != nil {
			return nil, err
		}
		r.CachedAt = parseTime(cachedAt)
		r.ExpiresAt = parseTime(expiresAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteCacheEntry(ctx context.Context, date string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM prayer_cache WHERE date = ?`, date)
	return err
}

func (s *sqliteStore) DeleteCacheExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prayer_cache WHERE expires_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- audit ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, chat_id, action, target, ok, err)
		 VALUES(?,?,?,?,?,?,?)`,
		fmtTime(e.At), e.ActorID, e.ChatID, e.Action, nullStr(e.Target), b2i(e.OK), nullStr(e.Error),
	)
	return err
}

// ---- helpers ----

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
