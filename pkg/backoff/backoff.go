// Package backoff provides Backoff, a numerical value adapter that
// produces linear and exponential backoff sequences, saturating at a
// configured maximum.
//
//	b := backoff.New(1)
//	b.Linear()       // 2
//	b.Linear()       // 3
//	b.Exponential()  // 6
//	b.Exponential()  // 12
//
// The default linear increment is the start value:
//
//	b := backoff.New(2)
//	b.Linear() // 4
//	b.Linear() // 6
//
// Both Linear and Exponential accept an optional override and can be
// capped with WithMax.
package backoff

import "math"

// Backoff adapts a start value to produce Linear and Exponential backoff
// values. The zero value is not usable; construct with New.
type Backoff struct {
	Value         float64
	defaultIncr   float64
	defaultFactor float64
	max           float64
}

// Option configures a Backoff at construction time.
type Option func(*Backoff)

// WithIncrement overrides the default linear increment (otherwise the
// start value).
func WithIncrement(incr float64) Option {
	return func(b *Backoff) { b.defaultIncr = incr }
}

// WithFactor overrides the default exponential factor (otherwise 2).
func WithFactor(factor float64) Option {
	return func(b *Backoff) { b.defaultFactor = factor }
}

// WithMax caps the value at max; without it the value is unbounded.
func WithMax(max float64) Option {
	return func(b *Backoff) { b.max = max }
}

// New creates a Backoff starting at start, applying any options.
func New(start float64, opts ...Option) *Backoff {
	b := &Backoff{
		Value:         start,
		defaultIncr:   start,
		defaultFactor: 2,
		max:           math.Inf(1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backoff) limit(value float64) float64 {
	if value > b.max {
		return b.max
	}
	return value
}

// Linear adds incr (or the default increment) to the current value,
// saturating at the configured maximum, and returns the updated value.
func (b *Backoff) Linear(incr ...float64) float64 {
	step := b.defaultIncr
	if len(incr) > 0 {
		step = incr[0]
	}
	b.Value = b.limit(b.Value + step)
	return b.Value
}

// Exponential multiplies the current value by factor (or the default
// factor), saturating at the configured maximum, and returns the updated
// value.
func (b *Backoff) Exponential(factor ...float64) float64 {
	f := b.defaultFactor
	if len(factor) > 0 {
		f = factor[0]
	}
	b.Value = b.limit(b.Value * f)
	return b.Value
}
