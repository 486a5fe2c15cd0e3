// Package due provides the pure functions that map a task's (timeout,
// retry_count) to its next due instant and its next status. These are
// consulted on task creation and on every claim, and must be reproduced
// identically wherever the store recomputes due/status on update (see
// internal/store).
package due

import (
	"os"
	"strconv"
	"time"

	"github.com/guido-cesarano/ntorque/pkg/backoff"
	"github.com/guido-cesarano/ntorque/pkg/model"
)

// Algorithm selects the backoff shape used to grow the due delay between
// retries.
type Algorithm string

const (
	Linear      Algorithm = "linear"
	Exponential Algorithm = "exponential"
)

// Config holds the tunables of the due/status policy. Zero-value Config
// is not usable; use DefaultConfig or LoadConfig.
type Config struct {
	Algorithm  Algorithm
	MinDelay   time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultConfig mirrors original_source's DEFAULT_SETTINGS: exponential
// backoff, a 2s floor, a 2h ceiling, and 36 retries before a task is
// failed.
func DefaultConfig() Config {
	return Config{
		Algorithm:  Exponential,
		MinDelay:   2 * time.Second,
		MaxDelay:   7200 * time.Second,
		MaxRetries: 36,
	}
}

// LoadConfig overlays environment variables onto DefaultConfig, using
// the NTORQUE_* names.
func LoadConfig() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("NTORQUE_BACKOFF"); v == string(Linear) || v == string(Exponential) {
		cfg.Algorithm = Algorithm(v)
	}
	if v, err := strconv.Atoi(os.Getenv("NTORQUE_MIN_DUE_DELAY")); err == nil {
		cfg.MinDelay = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("NTORQUE_MAX_DUE_DELAY")); err == nil {
		cfg.MaxDelay = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("NTORQUE_MAX_RETRIES")); err == nil {
		cfg.MaxRetries = v
	}
	return cfg
}

// Factory computes due instants and statuses from a Config. Now is
// injectable for tests.
type Factory struct {
	Config Config
	Now    func() time.Time
}

// NewFactory builds a Factory from cfg, defaulting Now to time.Now.
func NewFactory(cfg Config) *Factory {
	return &Factory{Config: cfg, Now: time.Now}
}

// Due returns the instant at which a task with the given timeout and
// retry_count is next eligible for execution: min_delay is backed off
// retry_count times, the (non-negative) timeout is added, the result is
// capped at max_delay, and that many seconds are added to now.
func (f *Factory) Due(timeout time.Duration, retryCount int) time.Time {
	if timeout < 0 {
		timeout = 0
	}

	b := backoff.New(f.Config.MinDelay.Seconds())
	for i := 0; i < retryCount; i++ {
		switch f.Config.Algorithm {
		case Linear:
			b.Linear()
		default:
			b.Exponential(2)
		}
	}

	delay := b.Value + timeout.Seconds()
	maxDelay := f.Config.MaxDelay.Seconds()
	if delay > maxDelay {
		delay = maxDelay
	}

	return f.Now().UTC().Add(time.Duration(delay * float64(time.Second)))
}

// Status returns FAILED once retry_count has exceeded MaxRetries,
// otherwise PENDING. It is consulted only on updates where retry_count
// has just advanced.
func (f *Factory) Status(retryCount int) model.Status {
	if retryCount > f.Config.MaxRetries {
		return model.StatusFailed
	}
	return model.StatusPending
}
