package runtime

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/triggerkit/triggerkit/internal/logger"
)

// Reaper periodically tears down idle runtimes on a cron schedule.
type Reaper struct {
	cron    *cron.Cron
	manager *Manager
	log     *logger.Logger
}

func NewReaper(manager *Manager, schedule string, log *logger.Logger) (*Reaper, error) {
	r := &Reaper{
		cron:    cron.New(),
		manager: manager,
		log:     log,
	}

	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reaper) run() {
	reaped, err := r.manager.TeardownUnusedRuntimes(context.Background())
	if err != nil {
		r.log.Error("runtime reap pass failed", map[string]any{"error": err.Error()})
		return
	}
	if reaped > 0 {
		r.log.Info("reaped idle runtimes", map[string]any{"count": reaped})
	}
}

func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for a running pass to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
