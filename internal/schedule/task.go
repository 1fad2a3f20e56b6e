// Package schedule turns a resolved day of prayer times into one-shot
// timers and keeps exactly one generation of them armed at a time.
package schedule

import (
	"fmt"
	"sync/atomic"
	"time"

	"salahbot/internal/prayer"
)

// Kind is what a fired task delivers.
type Kind string

const (
	KindAlert        Kind = "alert"         // pre-prayer heads-up
	KindReminder     Kind = "reminder"      // at the prayer time itself
	KindPostDhikr    Kind = "post_dhikr"    // remembrance after the prayer
	KindQuran        Kind = "quran"         // daily pages after the prayer
	KindMorningDhikr Kind = "morning_dhikr" // fixed clock time
	KindEveningDhikr Kind = "evening_dhikr" // fixed clock time
)

// State is a task's lifecycle position. Transitions only move forward:
// Pending -> Firing -> Done, or Pending -> Cancelled | Skipped.
type State int32

const (
	StatePending State = iota
	StateFiring
	StateDone
	StateCancelled
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFiring:
		return "firing"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Task is one scheduled send. Prayer is empty for the fixed-clock kinds.
type Task struct {
	ID     string
	Kind   Kind
	Prayer prayer.Prayer
	At     time.Time

	state atomic.Int32
}

func newTask(gen uint64, kind Kind, p prayer.Prayer, at time.Time) *Task {
	id := fmt.Sprintf("g%d/%s", gen, kind)
	if p != "" {
		id = fmt.Sprintf("g%d/%s/%s", gen, kind, p)
	}
	return &Task{ID: id, Kind: kind, Prayer: p, At: at}
}

func (t *Task) State() State { return State(t.state.Load()) }

// beginFire claims the task for execution. Only one caller wins, and a
// cancelled or skipped task never fires.
func (t *Task) beginFire() bool {
	return t.state.CompareAndSwap(int32(StatePending), int32(StateFiring))
}

func (t *Task) finish() { t.state.CompareAndSwap(int32(StateFiring), int32(StateDone)) }
func (t *Task) cancel() { t.state.CompareAndSwap(int32(StatePending), int32(StateCancelled)) }
func (t *Task) skip() { t.state.CompareAndSwap(int32(StatePending), int32(StateSkipped)) }

// TaskView is the read-only form used in snapshots.
type TaskView struct {
	ID     string        `json:"id"`
	Kind   Kind          `json:"kind"`
	Prayer prayer.Prayer `json:"prayer,omitempty"`
	At     time.Time     `json:"at"`
	State  string        `json:"state"`
}

func (t *Task) view() TaskView {
	return TaskView{ID: t.ID, Kind: t.Kind, Prayer: t.Prayer, At: t.At, State: t.State().String()}
}
