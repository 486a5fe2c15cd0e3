// Package consume implements the Consumer: block-pop instructions off
// the notification list and hand each to a Performer, one goroutine per
// instruction. Cooperative cancellation is a plain context.Context,
// cancelled once by the caller to stop the loop.
package consume

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/ntorque/internal/notifier"
)

// Performer is the subset of internal/perform.Performer the Consumer
// depends on.
type Performer interface {
	Perform(ctx context.Context, instr notifier.Instruction) error
}

// Config tunes the consume loop.
type Config struct {
	Channels []string
	// ConsumeDelay is slept between spawning a handler and blocking for
	// the next instruction, bounding how many goroutines can pile up.
	ConsumeDelay time.Duration
	// ConsumeTimeout bounds each BlockPopHead call so the loop can
	// periodically notice ctx cancellation even with an idle queue.
	ConsumeTimeout time.Duration
}

// Consumer drains notifications and spawns a Performer per instruction.
type Consumer struct {
	notifier  notifier.Notifier
	performer Performer
	cfg       Config
	log       zerolog.Logger
}

// New builds a Consumer that reads from n and dispatches to performer.
func New(n notifier.Notifier, performer Performer, cfg Config, log zerolog.Logger) *Consumer {
	return &Consumer{notifier: n, performer: performer, cfg: cfg, log: log}
}

// Run blocks, consuming notifications until ctx is cancelled. Each
// instruction is handled in its own goroutine so a slow webhook delivery
// never blocks the next pop.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		instr, _, ok, err := c.notifier.BlockPopHead(ctx, c.cfg.Channels, c.cfg.ConsumeTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.log.Warn().Err(err).Msg("consume: block pop head")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ConsumeTimeout):
			}
			continue
		}
		if !ok {
			continue
		}

		go c.spawn(ctx, instr)

		if c.cfg.ConsumeDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ConsumeDelay):
			}
		}
	}
}

func (c *Consumer) spawn(ctx context.Context, instr notifier.Instruction) {
	if err := c.performer.Perform(ctx, instr); err != nil {
		c.log.Warn().Err(err).
			Int64("task_id", instr.TaskID).
			Int("retry_count", instr.RetryCount).
			Msg("consume: perform failed")
	}
}
