package groups

import (
	"context"
	"testing"
	"time"

	"salahbot/internal/eventbus"
	"salahbot/internal/storage"
	"salahbot/pkg/logx"
)

func newTestRegistry(t *testing.T) (*Registry, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	return NewRegistry(store, nil, logx.Nop()), store
}

func TestUnknownChatGetsDefaults(t *testing.T) {
	r, store := newTestRegistry(t)

	g := r.Get(99)
	if !g.Active || !g.Quran || !g.Reminders || !g.Dhikr || !g.PostDhikr {
		t.Fatalf("defaults = %+v, want everything on", g)
	}

	// the fallback must not create a row
	if _, ok, _ := store.GetGroup(context.Background(), 99); ok {
		t.Fatal("Get must not persist the default record")
	}
}

func TestRegisterPersistsAndReactivationKeepsToggles(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, 10, "masjid chat"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.SetFeature(ctx, 10, FeatureQuran, false); err != nil {
		t.Fatalf("SetFeature: %v", err)
	}
	if err := r.Deactivate(ctx, 10, "kicked"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	g, err := r.Register(ctx, 10, "masjid chat v2")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if !g.Active {
		t.Fatal("re-registration must reactivate")
	}
	if g.Quran {
		t.Fatal("re-registration must not reset toggles")
	}
	if g.Title != "masjid chat v2" {
		t.Fatalf("title = %q", g.Title)
	}

	stored, ok, err := store.GetGroup(ctx, 10)
	if err != nil || !ok {
		t.Fatalf("stored row missing: ok=%v err=%v", ok, err)
	}
	if stored.Quran || !stored.Active {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestDeactivateKeepsRowAndPublishes(t *testing.T) {
	bus := eventbus.New()
	store := storage.NewMemory()
	r := NewRegistry(store, bus, logx.Nop())
	ctx := context.Background()

	ch, unsub := bus.Subscribe(4)
	defer unsub()

	if _, err := r.Register(ctx, 20, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Deactivate(ctx, 20, "chat deleted"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != eventbus.TypeGroupDeactivated {
			t.Fatalf("event type = %v", ev.Type)
		}
		if id, _ := ev.Data.(int64); id != 20 {
			t.Fatalf("event data = %v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no deactivation event published")
	}

	g, ok, _ := store.GetGroup(ctx, 20)
	if !ok {
		t.Fatal("deactivation must keep the row")
	}
	if g.Active {
		t.Fatal("row still active after deactivation")
	}

	// second deactivation is a no-op, not an error
	if err := r.Deactivate(ctx, 20, "again"); err != nil {
		t.Fatalf("repeat Deactivate: %v", err)
	}
}

func TestListActiveFiltersAndSorts(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []int64{30, 10, 20, 40} {
		if _, err := r.Register(ctx, id, ""); err != nil {
			t.Fatalf("Register %d: %v", id, err)
		}
	}
	if _, err := r.SetFeature(ctx, 20, FeatureQuran, false); err != nil {
		t.Fatalf("SetFeature: %v", err)
	}
	if err := r.Deactivate(ctx, 40, "gone"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	got := r.ListActive(FeatureQuran)
	if len(got) != 2 || got[0].ChatID != 10 || got[1].ChatID != 30 {
		ids := make([]int64, 0, len(got))
		for _, g := range got {
			ids = append(ids, g.ChatID)
		}
		t.Fatalf("active quran chats = %v, want [10 30]", ids)
	}

	// the disabled feature does not affect other streams
	if got := r.ListActive(FeatureDhikr); len(got) != 3 {
		t.Fatalf("active dhikr chats = %d, want 3", len(got))
	}
}

func TestLoadHydratesFromStore(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	if err := store.PutGroup(ctx, storage.GroupRecord{ChatID: 7, Active: true, Quran: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := NewRegistry(store, nil, logx.Nop())
	if err := r.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c := r.Counts(); c.Total != 1 || c.Active != 1 {
		t.Fatalf("counts = %+v", c)
	}
	if g := r.Get(7); !g.Quran || g.Reminders {
		t.Fatalf("hydrated record = %+v", g)
	}
}
