// Package reaper periodically scans a topic registry for stale
// Disconnected slots and logs them for operational visibility. It never
// compacts or removes slots: a topic's slot table only ever grows while the
// topic is running, and compaction would break reconnect-by-name.
package reaper

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mpago/mpago/internal/observability"
	"github.com/mpago/mpago/internal/topic"
)

// Reaper wraps a cron schedule that sweeps every topic in a registry.
type Reaper struct {
	cron        *cron.Cron
	log         *slog.Logger
	registry    *topic.Registry
	gracePeriod time.Duration
}

// New builds a Reaper. schedule is a robfig/cron expression (e.g.
// "@every 30s"); gracePeriod is how long a slot may sit Disconnected before
// it is logged as stale.
func New(registry *topic.Registry, schedule string, gracePeriod time.Duration, log *slog.Logger) (*Reaper, error) {
	r := &Reaper{
		cron:        cron.New(),
		log:         observability.WithComponent(log, "reaper"),
		registry:    registry,
		gracePeriod: gracePeriod,
	}
	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the cron schedule.
func (r *Reaper) Start() { r.cron.Start() }

// Stop cancels the schedule and waits for any in-flight sweep to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// sweep logs every Disconnected slot across every live topic that has sat
// disconnected longer than gracePeriod.
func (r *Reaper) sweep() {
	for _, name := range r.registry.TopicNames() {
		t, err := r.registry.GetByName(name)
		if err != nil {
			continue
		}
		stale := 0
		n := t.NumClients()
		for i := 0; i < n; i++ {
			since, disconnected, err := t.ClientDisconnectedSince(i)
			if err == nil && disconnected && since >= r.gracePeriod {
				stale++
			}
		}
		if stale > 0 {
			r.log.Info("stale disconnected slots", slog.String("topic", name), slog.Int("count", stale), slog.Duration("grace_period", r.gracePeriod))
		}
	}
}
