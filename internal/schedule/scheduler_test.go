package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"salahbot/internal/prayer"
	"salahbot/pkg/logx"
)

type recordRunner struct {
	mu    sync.Mutex
	runs  []*Task
	fired chan *Task
}

func newRecordRunner() *recordRunner {
	return &recordRunner{fired: make(chan *Task, 64)}
}

func (r *recordRunner) RunTask(_ context.Context, t *Task) error {
	r.mu.Lock()
	r.runs = append(r.runs, t)
	r.mu.Unlock()
	r.fired <- t
	return nil
}

func (r *recordRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func testSet(loc *time.Location, offset time.Duration) prayer.TimeSet {
	now := time.Now().In(loc)
	base := now.Add(offset)
	return prayer.TimeSet{
		Date: prayer.DateOf(now, loc),
		Loc:  loc,
		Times: map[prayer.Prayer]time.Time{
			prayer.Fajr:    base,
			prayer.Dhuhr:   base.Add(8 * time.Hour),
			prayer.Asr:     base.Add(11 * time.Hour),
			prayer.Maghrib: base.Add(14 * time.Hour),
			prayer.Isha:    base.Add(16 * time.Hour),
		},
		Source:     "test",
		ResolvedAt: time.Now(),
	}
}

// newTestScheduler builds a scheduler without the fixed-clock dhikr
// tasks, so tests are independent of the wall clock.
func newTestScheduler(t *testing.T, runner Runner) *Scheduler {
	t.Helper()
	opts := DefaultOptions()
	opts.GraceWindow = time.Hour
	opts.MorningDhikrAt = ""
	opts.EveningDhikrAt = ""
	s := New(opts, nil, runner, nil, time.UTC, logx.Nop())
	s.ctx, s.cancel = context.WithCancel(context.Background())
	t.Cleanup(s.cancel)
	return s
}

func taskStates(snap Snapshot) map[string]int {
	out := map[string]int{}
	for _, tv := range snap.Tasks {
		out[tv.State]++
	}
	return out
}

func TestRebuildArmsAllKinds(t *testing.T) {
	opts := DefaultOptions()
	s := New(opts, nil, newRecordRunner(), nil, time.UTC, logx.Nop())
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()
	s.Rebuild(testSet(time.UTC, 2*time.Hour))

	snap := s.Snapshot()
	if snap.Generation != 1 {
		t.Fatalf("generation = %d, want 1", snap.Generation)
	}
	// 5 prayers x 4 kinds + morning + evening dhikr
	if len(snap.Tasks) != 22 {
		t.Fatalf("task count = %d, want 22", len(snap.Tasks))
	}
	kinds := map[Kind]int{}
	for _, tv := range snap.Tasks {
		kinds[tv.Kind]++
	}
	for _, k := range []Kind{KindAlert, KindReminder, KindPostDhikr, KindQuran} {
		if kinds[k] != 5 {
			t.Fatalf("kind %s count = %d, want 5", k, kinds[k])
		}
	}
	if kinds[KindMorningDhikr] != 1 || kinds[KindEveningDhikr] != 1 {
		t.Fatalf("fixed-clock tasks missing: %v", kinds)
	}
}

func TestDoubleRebuildKeepsOnlySecondGeneration(t *testing.T) {
	s := newTestScheduler(t, newRecordRunner())

	s.Rebuild(testSet(time.UTC, 2*time.Hour))
	s.mu.Lock()
	first := s.gen
	s.mu.Unlock()

	second := testSet(time.UTC, 3*time.Hour)
	second.ResolvedAt = time.Now().Add(time.Millisecond) // distinct identity
	s.Rebuild(second)

	snap := s.Snapshot()
	if snap.Generation != 2 {
		t.Fatalf("generation = %d, want 2", snap.Generation)
	}
	for _, tk := range first.tasks {
		st := tk.State()
		if st != StateCancelled && st != StateSkipped {
			t.Fatalf("first-generation task %s still %s", tk.ID, st)
		}
	}
}

func TestRebuildDedupesIdenticalSet(t *testing.T) {
	s := newTestScheduler(t, newRecordRunner())
	set := testSet(time.UTC, 2*time.Hour)
	s.Rebuild(set)
	s.Rebuild(set)
	if snap := s.Snapshot(); snap.Generation != 1 {
		t.Fatalf("identical set must not trigger a second rebuild, generation = %d", snap.Generation)
	}
}

func TestLateTaskBeyondGraceIsSkipped(t *testing.T) {
	runner := newRecordRunner()
	s := newTestScheduler(t, runner) // grace 1h

	// the whole day is far in the past; every task is >1h late
	s.Rebuild(testSet(time.UTC, -30*time.Hour))

	snap := s.Snapshot()
	states := taskStates(snap)
	if states["skipped"] != len(snap.Tasks) || len(snap.Tasks) == 0 {
		t.Fatalf("all tasks should be skipped, got %v", states)
	}

	select {
	case tk := <-runner.fired:
		t.Fatalf("skipped task fired: %s", tk.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLateTaskWithinGraceFiresImmediately(t *testing.T) {
	runner := newRecordRunner()
	opts := DefaultOptions()
	opts.GraceWindow = time.Hour
	s := New(opts, nil, runner, nil, time.UTC, logx.Nop())
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	now := time.Now().UTC()
	set := prayer.TimeSet{
		Date: prayer.DateOf(now, time.UTC),
		Loc:  time.UTC,
		Times: map[prayer.Prayer]time.Time{
			// 30 minutes late: inside the grace window
			prayer.Fajr:    now.Add(-30 * time.Minute),
			prayer.Dhuhr:   now.Add(8 * time.Hour),
			prayer.Asr:     now.Add(11 * time.Hour),
			prayer.Maghrib: now.Add(14 * time.Hour),
			prayer.Isha:    now.Add(16 * time.Hour),
		},
		Source:     "test",
		ResolvedAt: time.Now(),
	}
	s.Rebuild(set)

	deadline := time.After(2 * time.Second)
	seen := map[Kind]bool{}
	// fajr's alert, reminder and post-dhikr are late-but-in-grace; quran
	// (+30m) lands at now and fires too
	for len(seen) < 2 {
		select {
		case tk := <-runner.fired:
			if tk.Prayer == prayer.Fajr {
				seen[tk.Kind] = true
			}
		case <-deadline:
			t.Fatalf("in-grace tasks did not fire, saw %v", seen)
		}
	}
}

func TestRetiredGenerationTimerDoesNotRun(t *testing.T) {
	runner := newRecordRunner()
	opts := DefaultOptions()
	opts.GraceWindow = time.Hour
	opts.AlertBefore = 0
	opts.MorningDhikrAt = ""
	opts.EveningDhikrAt = ""
	s := New(opts, nil, runner, nil, time.UTC, logx.Nop())
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	// earliest timers land 150ms out; the rebuild beats them
	near := testSet(time.UTC, 150*time.Millisecond)
	s.Rebuild(near)

	// swap generations before the first timer lands
	far := testSet(time.UTC, 5*time.Hour)
	far.ResolvedAt = time.Now().Add(time.Millisecond)
	s.Rebuild(far)

	select {
	case tk := <-runner.fired:
		t.Fatalf("timer from retired generation fired: %s", tk.ID)
	case <-time.After(400 * time.Millisecond):
	}
	if runner.count() != 0 {
		t.Fatalf("unexpected runs: %d", runner.count())
	}
}

type stubResolver struct {
	mu  sync.Mutex
	set prayer.TimeSet
	err error
}

func (r *stubResolver) ResolveToday(context.Context, bool) (prayer.TimeSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set, r.err
}

func (r *stubResolver) serve(set prayer.TimeSet) {
	r.mu.Lock()
	r.set = set
	r.mu.Unlock()
}

func TestStaleRefreshArmsTasksAndKeepsRetrying(t *testing.T) {
	stale := testSet(time.UTC, 2*time.Hour)
	stale.Stale = true
	res := &stubResolver{set: stale}

	opts := DefaultOptions()
	opts.GraceWindow = time.Hour
	opts.RetryInterval = time.Hour
	opts.MorningDhikrAt = ""
	opts.EveningDhikrAt = ""
	s := New(opts, res, newRecordRunner(), nil, time.UTC, logx.Nop())
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	s.refresh(s.ctx, true)

	snap := s.Snapshot()
	if !snap.Stale {
		t.Fatal("generation must carry the stale flag")
	}
	if states := taskStates(snap); states["pending"] == 0 {
		t.Fatalf("stale set anchored on today must arm tasks, got %v", states)
	}
	s.mu.Lock()
	armed := s.retry != nil
	s.mu.Unlock()
	if !armed {
		t.Fatal("stale refresh must keep the retry timer armed")
	}

	// a retry that serves the same stale day must not retire and re-fire
	// the generation, and the retry stays armed
	again := testSet(time.UTC, 2*time.Hour)
	again.Stale = true
	res.serve(again)
	s.refresh(s.ctx, true)

	if snap := s.Snapshot(); snap.Generation != 1 {
		t.Fatalf("repeat stale refresh rebuilt: generation = %d", snap.Generation)
	}
	s.mu.Lock()
	armed = s.retry != nil
	s.mu.Unlock()
	if !armed {
		t.Fatal("retry timer must survive a repeat stale refresh")
	}

	// a live resolve finally replaces the stale generation and clears
	// the retry
	res.serve(testSet(time.UTC, 3*time.Hour))
	s.refresh(s.ctx, true)

	snap = s.Snapshot()
	if snap.Generation != 2 || snap.Stale {
		t.Fatalf("live refresh did not replace stale generation: %+v", snap)
	}
	s.mu.Lock()
	armed = s.retry != nil
	s.mu.Unlock()
	if armed {
		t.Fatal("live refresh must clear the retry timer")
	}
}

func TestFailedRefreshKeepsGenerationAndRetries(t *testing.T) {
	res := &stubResolver{set: testSet(time.UTC, 2*time.Hour)}

	opts := DefaultOptions()
	opts.GraceWindow = time.Hour
	opts.RetryInterval = time.Hour
	opts.MorningDhikrAt = ""
	opts.EveningDhikrAt = ""
	s := New(opts, res, newRecordRunner(), nil, time.UTC, logx.Nop())
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	s.refresh(s.ctx, true)
	if snap := s.Snapshot(); snap.Generation != 1 {
		t.Fatalf("initial refresh: generation = %d", snap.Generation)
	}

	res.mu.Lock()
	res.err = context.DeadlineExceeded
	res.mu.Unlock()
	s.refresh(s.ctx, true)

	snap := s.Snapshot()
	if snap.Generation != 1 {
		t.Fatalf("failed refresh must keep the generation, got %d", snap.Generation)
	}
	if states := taskStates(snap); states["pending"] == 0 {
		t.Fatalf("tasks lost after failed refresh: %v", states)
	}
	s.mu.Lock()
	armed := s.retry != nil
	s.mu.Unlock()
	if !armed {
		t.Fatal("failed refresh must arm the retry timer")
	}
}

func TestTaskStateMachine(t *testing.T) {
	tk := newTask(1, KindReminder, prayer.Fajr, time.Now())
	if tk.State() != StatePending {
		t.Fatalf("new task state = %s", tk.State())
	}
	if !tk.beginFire() {
		t.Fatal("first beginFire must win")
	}
	if tk.beginFire() {
		t.Fatal("second beginFire must lose")
	}
	tk.cancel() // no effect while firing
	if tk.State() != StateFiring {
		t.Fatalf("cancel changed a firing task: %s", tk.State())
	}
	tk.finish()
	if tk.State() != StateDone {
		t.Fatalf("state = %s, want done", tk.State())
	}

	tk2 := newTask(1, KindQuran, prayer.Asr, time.Now())
	tk2.skip()
	if tk2.State() != StateSkipped {
		t.Fatalf("state = %s, want skipped", tk2.State())
	}
	if tk2.beginFire() {
		t.Fatal("skipped task must not fire")
	}
}

func TestCronSpec(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"00:01", "1 0 * * *", false},
		{"13:45", "45 13 * * *", false},
		{"24:00", "", true},
		{"7pm", "", true},
	}
	for _, c := range cases {
		got, err := cronSpec(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("cronSpec(%q): expected error", c.in)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("cronSpec(%q) = %q, %v; want %q", c.in, got, err, c.want)
		}
	}
}
