package quran

import (
	"context"
	"fmt"
	"sync"
	"time"

	"salahbot/internal/storage"
	"salahbot/pkg/logx"
)

// Advance is the outcome of moving a group's cursor forward.
type Advance struct {
	Pages     []int // page numbers just assigned, in reading order
	Wrapped   bool  // this advance crossed the final page
	Completed int   // total completions after this advance
}

// Tracker owns each group's position in the mushaf. A position is the
// NEXT page to read; new groups start at 1. Advancing past the final
// page wraps to 1 and counts one completion, no matter how far past the
// end the step lands.
//
// Advances are serialized per chat, not globally: the store write sits
// inside the advance, and one chat's slow write must not block the rest.
type Tracker struct {
	store storage.Store
	total int
	log   logx.Logger

	mu        sync.Mutex // guards positions and locks, never held across store calls
	positions map[int64]storage.ProgressRecord
	locks     map[int64]*sync.Mutex
}

func NewTracker(store storage.Store, totalPages int, log logx.Logger) *Tracker {
	if totalPages <= 0 {
		totalPages = DefaultTotalPages
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		store:     store,
		total:     totalPages,
		log:       log,
		positions: make(map[int64]storage.ProgressRecord),
		locks:     make(map[int64]*sync.Mutex),
	}
}

// chatLock returns the per-chat advance lock, creating it on first use.
func (t *Tracker) chatLock(chatID int64) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[chatID] = l
	}
	return l
}

// Load hydrates positions from the store. Call once before serving.
func (t *Tracker) Load(ctx context.Context, chatIDs []int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range chatIDs {
		rec, ok, err := t.store.GetProgress(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			t.positions[id] = rec
		}
	}
	return nil
}

// Position returns the group's current record, a fresh page-1 record for
// unknown groups.
func (t *Tracker) Position(chatID int64) storage.ProgressRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordLocked(chatID)
}

func (t *Tracker) recordLocked(chatID int64) storage.ProgressRecord {
	if rec, ok := t.positions[chatID]; ok {
		return rec
	}
	return storage.ProgressRecord{ChatID: chatID, CurrentPage: 1}
}

// AdvanceBy hands out the next n pages and moves the cursor. The store
// write happens before the in-memory update, so a persistence failure
// leaves the cursor where it was and the same pages are handed out on
// retry.
func (t *Tracker) AdvanceBy(ctx context.Context, chatID int64, n int) (Advance, error) {
	if n <= 0 {
		return Advance{}, fmt.Errorf("advance step must be positive, got %d", n)
	}

	l := t.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	t.mu.Lock()
	rec := t.recordLocked(chatID)
	t.mu.Unlock()

	adv := Advance{Pages: make([]int, 0, n)}
	page := rec.CurrentPage
	for i := 0; i < n; i++ {
		adv.Pages = append(adv.Pages, page)
		page++
		if page > t.total {
			page = 1
			adv.Wrapped = true
		}
	}

	next := rec
	next.CurrentPage = page
	if adv.Wrapped {
		next.Completions++
	}
	next.AdvancedAt = time.Now()

	if err := t.store.PutProgress(ctx, next); err != nil {
		return Advance{}, fmt.Errorf("persist progress for chat %d: %w", chatID, err)
	}
	t.mu.Lock()
	t.positions[chatID] = next
	t.mu.Unlock()
	adv.Completed = next.Completions

	if adv.Wrapped {
		t.log.Info("mushaf completed",
			logx.Int64("chat_id", chatID),
			logx.Int("completions", next.Completions))
	}
	return adv, nil
}

// Reset moves a group back to page 1 without touching its completion
// count. Operator command only.
func (t *Tracker) Reset(ctx context.Context, chatID int64) error {
	l := t.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	t.mu.Lock()
	rec := t.recordLocked(chatID)
	t.mu.Unlock()

	rec.CurrentPage = 1
	rec.AdvancedAt = time.Now()
	if err := t.store.PutProgress(ctx, rec); err != nil {
		return err
	}
	t.mu.Lock()
	t.positions[chatID] = rec
	t.mu.Unlock()
	return nil
}
