package app

import (
	"context"
	"sync"
	"testing"

	"salahbot/internal/delivery"
	"salahbot/internal/dhikr"
	"salahbot/internal/groups"
	"salahbot/internal/quran"
	"salahbot/internal/storage"
	"salahbot/internal/transport"
	"salahbot/pkg/logx"
)

// recordAdapter records which chats received anything.
type recordAdapter struct {
	mu   sync.Mutex
	sent []int64
}

func (a *recordAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *recordAdapter) Stop(context.Context) error                           { return nil }

func (a *recordAdapter) record(chatID int64) transport.MessageRef {
	a.mu.Lock()
	a.sent = append(a.sent, chatID)
	n := len(a.sent)
	a.mu.Unlock()
	return transport.MessageRef{ChatID: chatID, MessageID: n}
}

func (a *recordAdapter) SendText(_ context.Context, to transport.ChatTarget, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	return a.record(to.ChatID), nil
}

func (a *recordAdapter) SendPhoto(_ context.Context, to transport.ChatTarget, _ string, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	return a.record(to.ChatID), nil
}

func (a *recordAdapter) SendAlbum(_ context.Context, to transport.ChatTarget, _ []string, _ string, _ *transport.SendOptions) ([]transport.MessageRef, error) {
	return []transport.MessageRef{a.record(to.ChatID)}, nil
}

func (a *recordAdapter) DeleteMessage(context.Context, transport.MessageRef) error { return nil }
func (a *recordAdapter) AnswerCallback(context.Context, string, string) error      { return nil }

func (a *recordAdapter) chats() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.sent...)
}

func newQuranNotifier(t *testing.T, ad *recordAdapter, chatIDs []int64) (*Notifier, *quran.Tracker) {
	t.Helper()
	store := storage.NewMemory()
	reg := groups.NewRegistry(store, nil, logx.Nop())
	for _, id := range chatIDs {
		if _, err := reg.Register(context.Background(), id, ""); err != nil {
			t.Fatalf("Register %d: %v", id, err)
		}
	}
	tracker := quran.NewTracker(store, 604, logx.Nop())
	n := NewNotifier(NotifierDeps{
		Registry:     reg,
		Tracker:      tracker,
		Pages:        quran.NewPages("https://example.com/%d.png", 604),
		Rotation:     dhikr.NewRotation(),
		Fanout:       delivery.NewFanout(ad, 1000, nil, logx.Nop()),
		PagesPerSend: 3,
		Log:          logx.Nop(),
	})
	return n, tracker
}

func TestSendQuranToTargetsSingleChat(t *testing.T) {
	ad := &recordAdapter{}
	n, tracker := newQuranNotifier(t, ad, []int64{1, 2, 3})

	if err := n.SendQuranTo(context.Background(), 2); err != nil {
		t.Fatalf("SendQuranTo: %v", err)
	}

	for _, id := range ad.chats() {
		if id != 2 {
			t.Fatalf("chat %d received a targeted send", id)
		}
	}
	if len(ad.chats()) == 0 {
		t.Fatal("target chat received nothing")
	}

	// only the target's cursor moved
	if pos := tracker.Position(2); pos.CurrentPage != 4 {
		t.Fatalf("target cursor = %d, want 4", pos.CurrentPage)
	}
	for _, id := range []int64{1, 3} {
		if pos := tracker.Position(id); pos.CurrentPage != 1 {
			t.Fatalf("chat %d cursor moved to %d", id, pos.CurrentPage)
		}
	}
}

func TestSendQuranPagesReachesAllSubscribed(t *testing.T) {
	ad := &recordAdapter{}
	n, tracker := newQuranNotifier(t, ad, []int64{1, 2, 3})

	if err := n.SendQuranPages(context.Background()); err != nil {
		t.Fatalf("SendQuranPages: %v", err)
	}
	got := map[int64]bool{}
	for _, id := range ad.chats() {
		got[id] = true
	}
	for _, id := range []int64{1, 2, 3} {
		if !got[id] {
			t.Fatalf("chat %d missed the broadcast", id)
		}
		if pos := tracker.Position(id); pos.CurrentPage != 4 {
			t.Fatalf("chat %d cursor = %d, want 4", id, pos.CurrentPage)
		}
	}
}
