// Package groups tracks which chats receive which notification kinds.
package groups

import (
	"context"
	"sort"
	"sync"
	"time"

	"salahbot/internal/eventbus"
	"salahbot/internal/storage"
	"salahbot/pkg/logx"
)

// Feature names a toggleable notification stream for a group.
type Feature string

const (
	FeatureQuran     Feature = "quran"
	FeatureReminders Feature = "reminders"
	FeatureDhikr     Feature = "dhikr"
	FeaturePostDhikr Feature = "post_dhikr"
)

// Registry is the authoritative view of registered groups. All reads go
// through an in-memory map loaded at startup; writes go to the store
// first, then the map.
type Registry struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	mu     sync.RWMutex
	groups map[int64]storage.GroupRecord
}

func NewRegistry(store storage.Store, bus eventbus.Bus, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store:  store,
		bus:    bus,
		log:    log,
		groups: make(map[int64]storage.GroupRecord),
	}
}

// Load hydrates the in-memory map. Call once before serving.
func (r *Registry) Load(ctx context.Context) error {
	recs, err := r.store.ListGroups(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for _, g := range recs {
		r.groups[g.ChatID] = g
	}
	n := len(r.groups)
	r.mu.Unlock()
	r.log.Info("group registry loaded", logx.Int("groups", n))
	return nil
}

// defaultRecord is what a chat gets before anyone touches its settings:
// active with every feature on.
func defaultRecord(chatID int64, title string) storage.GroupRecord {
	now := time.Now()
	return storage.GroupRecord{
		ChatID:    chatID,
		Title:     title,
		Active:    true,
		Quran:     true,
		Reminders: true,
		Dhikr:     true,
		PostDhikr: true,
		JoinedAt:  now,
		UpdatedAt: now,
	}
}

// Register creates or reactivates a group. Existing toggles survive
// re-registration; only Active and Title are refreshed.
func (r *Registry) Register(ctx context.Context, chatID int64, title string) (storage.GroupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[chatID]
	if !ok {
		g = defaultRecord(chatID, title)
	} else {
		g.Active = true
		if title != "" {
			g.Title = title
		}
		g.UpdatedAt = time.Now()
	}
	if err := r.store.PutGroup(ctx, g); err != nil {
		return storage.GroupRecord{}, err
	}
	r.groups[chatID] = g
	r.log.Info("group registered", logx.Int64("chat_id", chatID), logx.String("title", g.Title))
	return g, nil
}

// Get returns the group's settings, falling back to the defaults for
// chats that never stored a row. The fallback is not persisted.
func (r *Registry) Get(chatID int64) storage.GroupRecord {
	r.mu.RLock()
	g, ok := r.groups[chatID]
	r.mu.RUnlock()
	if !ok {
		return defaultRecord(chatID, "")
	}
	return g
}

// SetFeature flips one toggle and persists the row, creating it with
// defaults first if needed.
func (r *Registry) SetFeature(ctx context.Context, chatID int64, f Feature, on bool) (storage.GroupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[chatID]
	if !ok {
		g = defaultRecord(chatID, "")
	}
	switch f {
	case FeatureQuran:
		g.Quran = on
	case FeatureReminders:
		g.Reminders = on
	case FeatureDhikr:
		g.Dhikr = on
	case FeaturePostDhikr:
		g.PostDhikr = on
	}
	g.UpdatedAt = time.Now()
	if err := r.store.PutGroup(ctx, g); err != nil {
		return storage.GroupRecord{}, err
	}
	r.groups[chatID] = g
	return g, nil
}

// Deactivate marks a group unreachable. Called by delivery when a send
// fails permanently (kicked, chat deleted). The row is kept.
func (r *Registry) Deactivate(ctx context.Context, chatID int64, reason string) error {
	r.mu.Lock()
	g, ok := r.groups[chatID]
	if !ok {
		g = defaultRecord(chatID, "")
	}
	if !g.Active {
		r.mu.Unlock()
		return nil
	}
	g.Active = false
	g.UpdatedAt = time.Now()
	if err := r.store.PutGroup(ctx, g); err != nil {
		r.mu.Unlock()
		return err
	}
	r.groups[chatID] = g
	r.mu.Unlock()

	r.log.Warn("group deactivated", logx.Int64("chat_id", chatID), logx.String("reason", reason))
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeGroupDeactivated, Data: chatID})
	}
	return nil
}

// ListActive returns active groups with the given feature enabled,
// ordered by chat ID for deterministic fan-out.
func (r *Registry) ListActive(f Feature) []storage.GroupRecord {
	r.mu.RLock()
	out := make([]storage.GroupRecord, 0, len(r.groups))
	for _, g := range r.groups {
		if !g.Active {
			continue
		}
		if !featureOn(g, f) {
			continue
		}
		out = append(out, g)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

func featureOn(g storage.GroupRecord, f Feature) bool {
	switch f {
	case FeatureQuran:
		return g.Quran
	case FeatureReminders:
		return g.Reminders
	case FeatureDhikr:
		return g.Dhikr
	case FeaturePostDhikr:
		return g.PostDhikr
	default:
		return false
	}
}

// Counts summarizes the registry for the health snapshot.
type Counts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := Counts{Total: len(r.groups)}
	for _, g := range r.groups {
		if g.Active {
			c.Active++
		}
	}
	return c
}
