package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"salahbot/internal/eventbus"
	"salahbot/internal/prayer"
	"salahbot/pkg/logx"
)

// Options are the parsed scheduling knobs. Offsets are relative to each
// prayer's wall-clock time.
type Options struct {
	GraceWindow   time.Duration // late tasks older than this are skipped
	RefreshAt     string        // "HH:MM" daily force-refresh, location time
	RetryInterval time.Duration // between refresh retries after a failure

	AlertBefore time.Duration
	DhikrDelay  time.Duration
	QuranDelay  time.Duration

	MorningDhikrAt string // "HH:MM"
	EveningDhikrAt string // "HH:MM"
}

func DefaultOptions() Options {
	return Options{
		GraceWindow:    60 * time.Minute,
		RefreshAt:      "00:01",
		RetryInterval:  30 * time.Minute,
		AlertBefore:    5 * time.Minute,
		DhikrDelay:     25 * time.Minute,
		QuranDelay:     30 * time.Minute,
		MorningDhikrAt: "05:30",
		EveningDhikrAt: "19:30",
	}
}

// Runner executes a fired task. The scheduler does not care what a task
// delivers, only that it ran.
type Runner interface {
	RunTask(ctx context.Context, t *Task) error
}

// Resolver is the slice of the prayer resolver the scheduler needs.
type Resolver interface {
	ResolveToday(ctx context.Context, force bool) (prayer.TimeSet, error)
}

// generation is one immutable day of armed tasks. Rebuilds swap the
// whole value; timers from retired generations check the id and bail.
type generation struct {
	id     uint64
	date   string
	source string
	stale  bool
	tasks  []*Task
	timers []*time.Timer
}

// Scheduler owns the day's one-shot timers and the daily refresh loop.
type Scheduler struct {
	opts     Options
	resolver Resolver
	runner   Runner
	bus      eventbus.Bus
	loc      *time.Location
	log      logx.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex // guards gen, genSeq, lastKey, retry
	gen     *generation
	genSeq  uint64
	lastKey string
	retry   *time.Timer
}

func New(opts Options, resolver Resolver, runner Runner, bus eventbus.Bus, loc *time.Location, log logx.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		opts:     opts,
		resolver: resolver,
		runner:   runner,
		bus:      bus,
		loc:      loc,
		log:      log,
	}
}

// Start performs the initial resolve+rebuild, arms the daily refresh
// cron and begins consuming refresh events. Start does not fail on a
// resolve error; the retry loop takes over.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	spec, err := cronSpec(s.opts.RefreshAt)
	if err != nil {
		return fmt.Errorf("parse refresh_at: %w", err)
	}
	s.cron = cron.New(cron.WithLocation(s.loc))
	if _, err := s.cron.AddFunc(spec, func() { s.refresh(s.ctx, true) }); err != nil {
		return fmt.Errorf("register daily refresh: %w", err)
	}
	s.cron.Start()

	if s.bus != nil {
		ch, unsub := s.bus.Subscribe(8)
		s.wg.Add(1)
		go s.consume(ch, unsub)
	}

	s.refresh(ctx, false)
	return nil
}

// Stop cancels all timers and waits for in-flight task runs.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.retireLocked()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) consume(ch <-chan eventbus.Event, unsub func()) {
	defer s.wg.Done()
	defer unsub()
	for {
		select {
		case <-s.ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Type != eventbus.TypePrayerTimesRefreshed {
				continue
			}
			ref, ok := e.Data.(prayer.Refreshed)
			if !ok {
				continue
			}
			s.Rebuild(ref.Set)
		}
	}
}

// refresh resolves the day and rebuilds. On failure the previous
// generation stays armed and a retry is scheduled. A stale set still
// rebuilds (yesterday's times beat an empty day) but keeps retrying
// until a live resolve lands.
func (s *Scheduler) refresh(ctx context.Context, force bool) {
	set, err := s.resolver.ResolveToday(ctx, force)
	if err != nil {
		s.log.Error("daily refresh failed; keeping current schedule", logx.Err(err))
		s.scheduleRetry()
		return
	}
	// A fresh resolve publishes a refresh event, which also lands here
	// via consume; Rebuild dedupes on the set identity.
	s.Rebuild(set)
	if set.Stale {
		s.log.Warn("refresh served stale times; retrying for a live set",
			logx.String("date", set.Date), logx.String("source", set.Source))
		s.scheduleRetry()
	}
}

func (s *Scheduler) scheduleRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = time.AfterFunc(s.opts.RetryInterval, func() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		s.refresh(s.ctx, true)
	})
	s.log.Info("refresh retry scheduled", logx.Duration("in", s.opts.RetryInterval))
}

// Rebuild atomically replaces the armed generation with one built from
// set. Pending tasks of the old generation are cancelled; their timers
// may still fire but find a retired generation and do nothing.
func (s *Scheduler) Rebuild(set prayer.TimeSet) {
	key := set.Date + "|" + set.Source + "|" + set.ResolvedAt.Format(time.RFC3339Nano)
	if set.Stale {
		// Stale sets are re-derived on every retry with a fresh
		// ResolvedAt; keying by date keeps a retry from retiring and
		// re-firing the same generation.
		key = set.Date + "|" + set.Source + "|stale"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key == s.lastKey {
		return
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.retireLocked()

	s.genSeq++
	gen := &generation{
		id:     s.genSeq,
		date:   set.Date,
		source: set.Source,
		stale:  set.Stale,
	}

	now := time.Now().In(s.loc)
	var armed, skipped int
	for _, t := range s.buildTasks(gen.id, set) {
		gen.tasks = append(gen.tasks, t)
		delay := t.At.Sub(now)
		if delay < -s.opts.GraceWindow {
			t.skip()
			skipped++
			continue
		}
		if delay < 0 {
			delay = 0 // inside the grace window: fire right away
		}
		task := t
		id := gen.id
		gen.timers = append(gen.timers, time.AfterFunc(delay, func() {
			s.fire(id, task)
		}))
		armed++
	}

	s.gen = gen
	s.lastKey = key
	s.log.Info("schedule rebuilt",
		logx.Uint64("generation", gen.id),
		logx.String("date", gen.date),
		logx.String("source", gen.source),
		logx.Bool("stale", gen.stale),
		logx.Int("armed", armed),
		logx.Int("skipped", skipped))
}

// retireLocked stops the current generation's timers and cancels its
// pending tasks. Caller holds s.mu.
func (s *Scheduler) retireLocked() {
	if s.gen == nil {
		return
	}
	for _, tm := range s.gen.timers {
		tm.Stop()
	}
	for _, t := range s.gen.tasks {
		t.cancel()
	}
	s.gen = nil
}

func (s *Scheduler) buildTasks(gen uint64, set prayer.TimeSet) []*Task {
	var out []*Task
	for _, p := range prayer.Canonical {
		at, ok := set.At(p)
		if !ok {
			continue
		}
		out = append(out,
			newTask(gen, KindAlert, p, at.Add(-s.opts.AlertBefore)),
			newTask(gen, KindReminder, p, at),
			newTask(gen, KindPostDhikr, p, at.Add(s.opts.DhikrDelay)),
			newTask(gen, KindQuran, p, at.Add(s.opts.QuranDelay)),
		)
	}
	day, err := time.ParseInLocation("2006-01-02", set.Date, s.loc)
	if err != nil {
		return out
	}
	if at, err := clockOn(day, s.opts.MorningDhikrAt, s.loc); err == nil {
		out = append(out, newTask(gen, KindMorningDhikr, "", at))
	}
	if at, err := clockOn(day, s.opts.EveningDhikrAt, s.loc); err == nil {
		out = append(out, newTask(gen, KindEveningDhikr, "", at))
	}
	return out
}

// fire runs when a timer expires. The generation check is the guard
// against timers outliving a rebuild.
func (s *Scheduler) fire(genID uint64, t *Task) {
	s.mu.Lock()
	current := s.gen != nil && s.gen.id == genID
	s.mu.Unlock()
	if !current {
		t.cancel()
		return
	}
	if !t.beginFire() {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("task panicked", logx.String("task", t.ID), logx.Any("panic", r))
			}
			t.finish()
		}()
		if err := s.runner.RunTask(s.ctx, t); err != nil {
			s.log.Error("task failed", logx.String("task", t.ID), logx.String("kind", string(t.Kind)), logx.Err(err))
			return
		}
		s.log.Debug("task done", logx.String("task", t.ID))
	}()
}

// Snapshot is the scheduler slice of the health report.
type Snapshot struct {
	Generation uint64     `json:"generation"`
	Date       string     `json:"date,omitempty"`
	Source     string     `json:"source,omitempty"`
	Stale      bool       `json:"stale,omitempty"`
	Tasks      []TaskView `json:"tasks"`
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{}
	if s.gen == nil {
		return snap
	}
	snap.Generation = s.gen.id
	snap.Date = s.gen.date
	snap.Source = s.gen.source
	snap.Stale = s.gen.stale
	snap.Tasks = make([]TaskView, 0, len(s.gen.tasks))
	for _, t := range s.gen.tasks {
		snap.Tasks = append(snap.Tasks, t.view())
	}
	return snap
}

// cronSpec converts "HH:MM" into a standard 5-field cron expression.
func cronSpec(hhmm string) (string, error) {
	h, m, err := parseClock(hhmm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

func parseClock(hhmm string) (h, m int, err error) {
	parts := strings.SplitN(strings.TrimSpace(hhmm), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", hhmm)
	}
	h, err = strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", hhmm)
	}
	m, err = strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", hhmm)
	}
	return h, m, nil
}

func clockOn(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	h, m, err := parseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc), nil
}
