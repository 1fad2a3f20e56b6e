// Package prayer resolves the day's prayer times: multi-provider fetch
// with fallback, validation with scoring, and a TTL cache with stale
// fallback to a prior day.
package prayer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Prayer names one of the five daily prayers.
type Prayer string

const (
	Fajr    Prayer = "fajr"
	Dhuhr   Prayer = "dhuhr"
	Asr     Prayer = "asr"
	Maghrib Prayer = "maghrib"
	Isha    Prayer = "isha"
)

// Canonical is the fixed order of the five prayers within a day.
// Validated time sets are strictly increasing along this order.
var Canonical = [5]Prayer{Fajr, Dhuhr, Asr, Maghrib, Isha}

// aliases maps provider-specific key spellings to canonical names.
var aliases = map[string]Prayer{
	"fajr": Fajr, "fajer": Fajr, "fagr": Fajr,
	"dhuhr": Dhuhr, "duhr": Dhuhr, "zuhr": Dhuhr, "dhuhur": Dhuhr,
	"asr": Asr, "assr": Asr,
	"maghrib": Maghrib, "magrib": Maghrib,
	"isha": Isha, "ishaa": Isha, "isha'a": Isha,
}

// NormalizeKey resolves a provider key to a canonical prayer name.
func NormalizeKey(k string) (Prayer, bool) {
	p, ok := aliases[strings.ToLower(strings.TrimSpace(k))]
	return p, ok
}

// RawTimes is a provider response reduced to HH:MM strings keyed by
// whatever spellings the provider used. It has not been validated.
type RawTimes struct {
	Times  map[string]string
	Source string
}

// Get returns the raw value for a canonical prayer, accepting alternate
// key spellings.
func (r RawTimes) Get(p Prayer) (string, bool) {
	for k, v := range r.Times {
		if cp, ok := NormalizeKey(k); ok && cp == p {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// TimeSet is a validated, immutable day of prayer times. It is superseded,
// never mutated, when the next day resolves.
type TimeSet struct {
	Date       string // YYYY-MM-DD in Loc
	Loc        *time.Location
	Times      map[Prayer]time.Time
	Source     string
	ResolvedAt time.Time
	// Stale marks a set served from a prior day's cache entry because
	// fresh resolution failed.
	Stale bool
}

// At returns the absolute time of a prayer.
func (ts TimeSet) At(p Prayer) (time.Time, bool) {
	t, ok := ts.Times[p]
	return t, ok
}

// Ordered returns the five prayer times in canonical order.
func (ts TimeSet) Ordered() []time.Time {
	out := make([]time.Time, 0, len(Canonical))
	for _, p := range Canonical {
		if t, ok := ts.Times[p]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ParseClock parses an "HH:MM" (24h) value. Seconds and a trailing
// timezone annotation ("04:23 (EET)", as Aladhan emits) are tolerated.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// BuildTimeSet anchors validated raw times onto a calendar day.
// The raw value for each canonical prayer must already have passed
// validation; a missing or unparseable value is an error here.
func BuildTimeSet(raw RawTimes, day time.Time, loc *time.Location) (TimeSet, error) {
	if loc == nil {
		loc = time.Local
	}
	day = day.In(loc)
	ts := TimeSet{
		Date:       day.Format(dateLayout),
		Loc:        loc,
		Times:      make(map[Prayer]time.Time, len(Canonical)),
		Source:     raw.Source,
		ResolvedAt: time.Now().In(loc),
	}
	for _, p := range Canonical {
		v, ok := raw.Get(p)
		if !ok {
			return TimeSet{}, fmt.Errorf("prayer %s missing", p)
		}
		h, m, err := ParseClock(v)
		if err != nil {
			return TimeSet{}, fmt.Errorf("prayer %s: %w", p, err)
		}
		ts.Times[p] = time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
	}
	return ts, nil
}

// Reanchor projects a prior day's clock values onto another calendar
// day. The stale fallback uses it so yesterday's entry yields today's
// absolute times instead of timestamps a full day in the past. The
// result is always marked stale.
func Reanchor(ts TimeSet, date string, loc *time.Location) (TimeSet, error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return TimeSet{}, err
	}
	raw := RawTimes{Times: make(map[string]string, len(ts.Times)), Source: ts.Source}
	for p, t := range ts.Times {
		raw.Times[string(p)] = t.In(loc).Format("15:04")
	}
	out, err := BuildTimeSet(raw, day, loc)
	if err != nil {
		return TimeSet{}, err
	}
	out.Stale = true
	return out, nil
}

const dateLayout = "2006-01-02"

// DateOf formats t's calendar day in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(dateLayout)
}

// timesJSON is the storage shape of a TimeSet's clock values.
type timesJSON map[string]string

// MarshalTimes serializes the clock values for the durable cache store.
func MarshalTimes(ts TimeSet) (string, error) {
	m := make(timesJSON, len(ts.Times))
	for p, t := range ts.Times {
		m[string(p)] = t.Format("15:04")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalTimes rebuilds a TimeSet from its stored shape.
func UnmarshalTimes(date, source, raw string, loc *time.Location) (TimeSet, error) {
	var m timesJSON
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return TimeSet{}, err
	}
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return TimeSet{}, err
	}
	rt := RawTimes{Times: map[string]string(m), Source: source}
	ts, err := BuildTimeSet(rt, day, loc)
	if err != nil {
		return TimeSet{}, err
	}
	return ts, nil
}

// sortedDates returns cache dates in ascending order (helper for eviction).
func sortedDates(m map[string]cacheEntry) []string {
	out := make([]string, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
