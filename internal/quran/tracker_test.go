package quran

import (
	"context"
	"errors"
	"testing"
	"time"

	"salahbot/internal/storage"
	"salahbot/pkg/logx"
)

func TestAdvanceHandsOutSequentialPages(t *testing.T) {
	tr := NewTracker(storage.NewMemory(), 5, logx.Nop())
	ctx := context.Background()

	adv, err := tr.AdvanceBy(ctx, 10, 3)
	if err != nil {
		t.Fatalf("AdvanceBy: %v", err)
	}
	if got, want := adv.Pages, []int{1, 2, 3}; !equalPages(got, want) {
		t.Fatalf("pages = %v, want %v", got, want)
	}
	if adv.Wrapped {
		t.Fatal("first advance must not wrap")
	}
	if pos := tr.Position(10); pos.CurrentPage != 4 {
		t.Fatalf("cursor = %d, want 4", pos.CurrentPage)
	}
}

func TestAdvanceWrapsExactlyOnce(t *testing.T) {
	tr := NewTracker(storage.NewMemory(), 5, logx.Nop())
	ctx := context.Background()

	if _, err := tr.AdvanceBy(ctx, 10, 3); err != nil {
		t.Fatalf("AdvanceBy: %v", err)
	}
	adv, err := tr.AdvanceBy(ctx, 10, 3)
	if err != nil {
		t.Fatalf("AdvanceBy: %v", err)
	}
	if got, want := adv.Pages, []int{4, 5, 1}; !equalPages(got, want) {
		t.Fatalf("pages = %v, want %v", got, want)
	}
	if !adv.Wrapped {
		t.Fatal("crossing the final page must report a wrap")
	}
	if adv.Completed != 1 {
		t.Fatalf("completions = %d, want 1", adv.Completed)
	}
	if pos := tr.Position(10); pos.CurrentPage != 2 {
		t.Fatalf("cursor = %d, want 2", pos.CurrentPage)
	}
}

func TestAdvanceLongStepStillOneCompletion(t *testing.T) {
	// a step larger than the whole mushaf crosses the end twice but a
	// single advance only ever counts one completion
	tr := NewTracker(storage.NewMemory(), 5, logx.Nop())
	adv, err := tr.AdvanceBy(context.Background(), 10, 11)
	if err != nil {
		t.Fatalf("AdvanceBy: %v", err)
	}
	if adv.Completed != 1 {
		t.Fatalf("completions = %d, want 1", adv.Completed)
	}
}

func TestAdvanceRejectsNonPositiveStep(t *testing.T) {
	tr := NewTracker(storage.NewMemory(), 5, logx.Nop())
	if _, err := tr.AdvanceBy(context.Background(), 10, 0); err == nil {
		t.Fatal("step 0 must be rejected")
	}
}

// failingStore fails PutProgress on demand and delegates everything
// else to an in-memory store.
type failingStore struct {
	storage.Store
	fail bool
}

func (f *failingStore) PutProgress(ctx context.Context, p storage.ProgressRecord) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.PutProgress(ctx, p)
}

func TestAdvancePersistFailureKeepsCursor(t *testing.T) {
	fs := &failingStore{Store: storage.NewMemory()}
	tr := NewTracker(fs, 5, logx.Nop())
	ctx := context.Background()

	fs.fail = true
	if _, err := tr.AdvanceBy(ctx, 10, 3); err == nil {
		t.Fatal("expected persistence error")
	}
	if pos := tr.Position(10); pos.CurrentPage != 1 {
		t.Fatalf("cursor moved despite failed persist: %d", pos.CurrentPage)
	}

	// retry after the store recovers hands out the same pages
	fs.fail = false
	adv, err := tr.AdvanceBy(ctx, 10, 3)
	if err != nil {
		t.Fatalf("AdvanceBy after recovery: %v", err)
	}
	if got, want := adv.Pages, []int{1, 2, 3}; !equalPages(got, want) {
		t.Fatalf("pages = %v, want %v", got, want)
	}
}

// stallStore parks PutProgress for one chat until released.
type stallStore struct {
	storage.Store
	chatID  int64
	release chan struct{}
	entered chan struct{}
}

func (s *stallStore) PutProgress(ctx context.Context, p storage.ProgressRecord) error {
	if p.ChatID == s.chatID {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.Store.PutProgress(ctx, p)
}

func TestAdvanceDoesNotBlockOtherChats(t *testing.T) {
	ss := &stallStore{
		Store:   storage.NewMemory(),
		chatID:  10,
		release: make(chan struct{}),
		entered: make(chan struct{}),
	}
	tr := NewTracker(ss, 604, logx.Nop())
	ctx := context.Background()

	stalled := make(chan error, 1)
	go func() {
		_, err := tr.AdvanceBy(ctx, 10, 3)
		stalled <- err
	}()
	<-ss.entered // chat 10 now stuck inside its store write

	done := make(chan error, 1)
	go func() {
		_, err := tr.AdvanceBy(ctx, 20, 3)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AdvanceBy(20): %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("one chat's store write blocked another chat's advance")
	}

	close(ss.release)
	if err := <-stalled; err != nil {
		t.Fatalf("AdvanceBy(10): %v", err)
	}
	if pos := tr.Position(10); pos.CurrentPage != 4 {
		t.Fatalf("chat 10 cursor = %d, want 4", pos.CurrentPage)
	}
}

func TestLoadHydratesPositions(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	if err := store.PutProgress(ctx, storage.ProgressRecord{ChatID: 42, CurrentPage: 301, Completions: 2}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tr := NewTracker(store, 604, logx.Nop())
	if err := tr.Load(ctx, []int64{42, 43}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pos := tr.Position(42); pos.CurrentPage != 301 || pos.Completions != 2 {
		t.Fatalf("position = %+v", pos)
	}
	if pos := tr.Position(43); pos.CurrentPage != 1 {
		t.Fatalf("unknown chat must start at page 1, got %d", pos.CurrentPage)
	}
}

func TestResetKeepsCompletions(t *testing.T) {
	tr := NewTracker(storage.NewMemory(), 5, logx.Nop())
	ctx := context.Background()
	if _, err := tr.AdvanceBy(ctx, 10, 6); err != nil {
		t.Fatalf("AdvanceBy: %v", err)
	}
	if err := tr.Reset(ctx, 10); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	pos := tr.Position(10)
	if pos.CurrentPage != 1 {
		t.Fatalf("cursor = %d, want 1", pos.CurrentPage)
	}
	if pos.Completions != 1 {
		t.Fatalf("reset must not clear completions, got %d", pos.Completions)
	}
}

func TestPageURLs(t *testing.T) {
	p := NewPages("https://example.com/page/%d.png", 604)
	u, err := p.URL(604)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if u != "https://example.com/page/604.png" {
		t.Fatalf("url = %q", u)
	}
	if _, err := p.URL(605); err == nil {
		t.Fatal("out-of-range page must error")
	}
	if _, err := p.URL(0); err == nil {
		t.Fatal("page 0 must error")
	}
	urls, err := p.URLs([]int{1, 2})
	if err != nil {
		t.Fatalf("URLs: %v", err)
	}
	if len(urls) != 2 || urls[1] != "https://example.com/page/2.png" {
		t.Fatalf("urls = %v", urls)
	}
}

func equalPages(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
