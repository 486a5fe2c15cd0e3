// Package requeue implements the Requeuer: it periodically scans the
// store for PENDING tasks whose due has passed and re-pushes their
// notification, recovering from any notification the Consumer never saw
// (a crash, a flushed Redis instance, a dropped connection).
package requeue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/ntorque/internal/notifier"
	"github.com/guido-cesarano/ntorque/internal/store"
)

// Config tunes the poll loop.
type Config struct {
	Interval  time.Duration
	Limit     int
	PushDelay time.Duration
	Channel   string
}

// Requeuer periodically re-notifies overdue tasks.
type Requeuer struct {
	store    store.Store
	notifier notifier.Notifier
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
	sleep    func(time.Duration)
}

// New builds a Requeuer backed by s, pushing onto n.
func New(s store.Store, n notifier.Notifier, cfg Config, log zerolog.Logger) *Requeuer {
	return &Requeuer{
		store:    s,
		notifier: n,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Run polls ad infinitum until ctx is cancelled. Each cycle targets a
// fixed wall-clock cadence (cfg.Interval) regardless of how long the scan
// and pushes took, sleeping away only the slack that remains.
func (r *Requeuer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		start := r.now()
		if err := r.poll(ctx); err != nil {
			r.log.Warn().Err(err).Msg("requeue: poll")
		}

		elapsed := r.now().Sub(start)
		if slack := r.cfg.Interval - elapsed; slack > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(slack):
			}
		}
	}
}

func (r *Requeuer) poll(ctx context.Context) error {
	tasks, err := r.store.GetDueTasks(ctx, r.cfg.Limit, 0)
	if err != nil {
		return fmt.Errorf("requeue: get due tasks: %w", err)
	}

	for _, task := range tasks {
		instr := notifier.Instruction{TaskID: task.ID, RetryCount: task.RetryCount}
		if err := r.notifier.PushTail(ctx, r.cfg.Channel, instr); err != nil {
			r.log.Warn().Err(err).Int64("task_id", task.ID).Msg("requeue: push tail")
			continue
		}
		if r.cfg.PushDelay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.cfg.PushDelay):
			}
		}
	}
	return nil
}
