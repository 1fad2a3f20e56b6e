package prayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"salahbot/internal/eventbus"
	"salahbot/pkg/logx"
)

// ErrNoValidTimes means cache, every provider, and the stale fallback all
// came up empty. It is the only resolution error callers must treat as
// fatal for the day.
var ErrNoValidTimes = errors.New("no valid prayer times available")

// Refreshed is published on the event bus after every successful
// (re)resolution so the scheduler can rebuild.
type Refreshed struct {
	Set TimeSet
}

// Resolver is the single entry point for "give me today's prayer times":
// cache -> live fetch (fallback + validation) -> prior-day cache, in that
// order. It never returns data that failed validation.
type Resolver struct {
	client *Client
	val    *Validator
	cache  *Cache
	bus    eventbus.Bus
	loc    *time.Location
	log    logx.Logger

	// mu serializes resolution; concurrent callers share one fetch.
	mu sync.Mutex

	lastResolved time.Time
	lastErr      string
}

func NewResolver(client *Client, val *Validator, cache *Cache, bus eventbus.Bus, loc *time.Location, log logx.Logger) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{client: client, val: val, cache: cache, bus: bus, loc: loc, log: log}
}

// ResolveToday resolves the current day's times. With force=false a fresh
// cache hit short-circuits the provider fetch entirely.
func (r *Resolver) ResolveToday(ctx context.Context, force bool) (TimeSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := DateOf(time.Now(), r.loc)

	if !force {
		if ts, ok := r.cache.Get(today); ok && r.val.StillSound(ts) {
			r.log.Debug("prayer times served from cache", logx.String("date", today), logx.String("source", ts.Source))
			return ts, nil
		}
	}

	ts, err := r.fetchAndValidate(ctx, today)
	if err == nil {
		if perr := r.cache.Put(ctx, ts); perr != nil {
			// memory cache holds the set; durable miss is non-fatal
			r.log.Warn("cache persist failed", logx.String("date", today), logx.Err(perr))
		}
		r.lastResolved = time.Now()
		r.lastErr = ""
		r.publish(ts)
		return ts, nil
	}
	r.lastErr = err.Error()
	r.log.Warn("live resolution failed; trying stale fallback", logx.Err(err))

	if prior, ok := r.cache.LastValidBefore(today, 0); ok {
		stale, rerr := Reanchor(prior, today, r.loc)
		if rerr == nil {
			r.log.Warn("serving stale prayer times",
				logx.String("today", today),
				logx.String("stale_date", prior.Date),
				logx.String("source", stale.Source))
			return stale, nil
		}
		r.log.Warn("stale cache entry unusable", logx.String("stale_date", prior.Date), logx.Err(rerr))
	}

	return TimeSet{}, fmt.Errorf("%w: %v", ErrNoValidTimes, err)
}

// fetchAndValidate runs the provider pipeline and builds a validated
// set. Validation runs inside the fallback loop: a provider whose
// response parses but fails validation is discarded and the next
// provider is tried.
func (r *Resolver) fetchAndValidate(ctx context.Context, date string) (TimeSet, error) {
	score := 0
	raw, err := r.client.FetchAccepted(ctx, func(rt RawTimes) error {
		report := r.val.Validate(rt)
		if !report.Passed {
			for _, is := range report.Issues {
				r.log.Warn("validation issue",
					logx.String("provider", rt.Source),
					logx.String("severity", string(is.Severity)),
					logx.String("field", is.Field),
					logx.String("msg", is.Message))
			}
			return fmt.Errorf("response failed validation (score %d)", report.Score)
		}
		score = report.Score
		return nil
	})
	if err != nil {
		return TimeSet{}, err
	}

	day, err := time.ParseInLocation(dateLayout, date, r.loc)
	if err != nil {
		return TimeSet{}, err
	}
	ts, err := BuildTimeSet(raw, day, r.loc)
	if err != nil {
		return TimeSet{}, err
	}
	r.log.Info("prayer times resolved",
		logx.String("date", ts.Date),
		logx.String("source", ts.Source),
		logx.Int("score", score))
	return ts, nil
}

func (r *Resolver) publish(ts TimeSet) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TypePrayerTimesRefreshed,
		Data: Refreshed{Set: ts},
	})
}

// Status is the resolver slice of the health snapshot.
type Status struct {
	LastResolved time.Time       `json:"last_resolved,omitzero"`
	LastError    string          `json:"last_error,omitempty"`
	Providers    []ProviderStats `json:"providers"`
	Cache        CacheStats      `json:"cache"`
}

func (r *Resolver) Status() Status {
	r.mu.Lock()
	last, lastErr := r.lastResolved, r.lastErr
	r.mu.Unlock()
	return Status{
		LastResolved: last,
		LastError:    lastErr,
		Providers:    r.client.Stats(),
		Cache:        r.cache.Stats(),
	}
}
