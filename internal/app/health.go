package app

import (
	"time"

	"salahbot/internal/groups"
	"salahbot/internal/prayer"
	"salahbot/internal/runtime/supervisor"
	"salahbot/internal/schedule"
)

// HealthSnapshot aggregates each component's own snapshot. Everything in
// it is a copy; rendering it never blocks the components.
type HealthSnapshot struct {
	Uptime     string              `json:"uptime"`
	Groups     groups.Counts       `json:"groups"`
	Resolver   prayer.Status       `json:"resolver"`
	Schedule   schedule.Snapshot   `json:"schedule"`
	Supervisor supervisor.Counters `json:"supervisor"`
}

func (a *App) Health() HealthSnapshot {
	snap := HealthSnapshot{
		Uptime:   time.Since(a.startedAt).Round(time.Second).String(),
		Groups:   a.registry.Counts(),
		Resolver: a.resolver.Status(),
		Schedule: a.sched.Snapshot(),
	}
	if a.sup != nil {
		snap.Supervisor = a.sup.Counters()
	}
	return snap
}
