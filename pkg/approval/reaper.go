package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultReaperSchedule sweeps every ten minutes
const DefaultReaperSchedule = "*/10 * * * *"

// Reaper periodically bulk-expires overdue pending approvals. Correctness
// never depends on it: expiry is evaluated lazily wherever a pending record
// is fetched. The sweep only keeps the table tidy and approval lists honest.
type Reaper struct {
	store    Store
	cron     *cron.Cron
	schedule string
	onExpire func(count int)
	logger   zerolog.Logger
	running  bool
}

// NewReaper creates a reaper with the given cron schedule. onExpire, if
// non-nil, is called with the number of records expired by each sweep.
func NewReaper(store Store, schedule string, onExpire func(count int), logger zerolog.Logger) *Reaper {
	if schedule == "" {
		schedule = DefaultReaperSchedule
	}

	return &Reaper{
		store:    store,
		cron:     cron.New(),
		schedule: schedule,
		onExpire: onExpire,
		logger:   logger,
	}
}

// Start begins the periodic sweep
func (r *Reaper) Start() error {
	if r.running {
		return fmt.Errorf("reaper is already running")
	}

	if _, err := r.cron.AddFunc(r.schedule, r.sweep); err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	r.running = true

	r.logger.Info().Str("schedule", r.schedule).Msg("Approval reaper started")
	return nil
}

// Stop stops the periodic sweep
func (r *Reaper) Stop() error {
	if !r.running {
		return fmt.Errorf("reaper is not running")
	}

	r.cron.Stop()
	r.running = false

	r.logger.Info().Msg("Approval reaper stopped")
	return nil
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := r.store.ExpireOverdue(ctx, time.Now())
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to expire overdue approvals")
		return
	}

	if count > 0 {
		r.logger.Info().Int("expired", count).Msg("Expired overdue approvals")
		if r.onExpire != nil {
			r.onExpire(count)
		}
	}
}
