// Package debounce turns a noisy per-frame state into a stable one by
// requiring a number of consecutive identical observations before a change
// is accepted.
package debounce

import "fmt"

// Debouncer is a consecutive-count hysteresis filter. It holds at most one
// pending candidate at a time. The zero value is not usable; use New.
type Debouncer[T comparable] struct {
	required  int
	stable    T
	candidate T
	count     int
}

// New returns a Debouncer that commits a change after required consecutive
// observations of the same new state.
func New[T comparable](required int, initial T) (*Debouncer[T], error) {
	if required < 1 {
		return nil, fmt.Errorf("required count must be >= 1, got %d", required)
	}
	return &Debouncer[T]{
		required:  required,
		stable:    initial,
		candidate: initial,
	}, nil
}

// Update feeds one observation and returns the stable state.
func (d *Debouncer[T]) Update(candidate T) T {
	if d.required == 1 {
		d.stable = candidate
		d.candidate = candidate
		d.count = 1
		return d.stable
	}

	if candidate == d.stable {
		d.candidate = candidate
		d.count = 0
		return d.stable
	}

	if candidate == d.candidate {
		d.count++
	} else {
		d.candidate = candidate
		d.count = 1
	}

	if d.count >= d.required {
		d.stable = d.candidate
		d.count = 0
	}
	return d.stable
}

// Stable returns the current stable state.
func (d *Debouncer[T]) Stable() T {
	return d.stable
}

// Pending returns the in-progress candidate and its streak length. A zero
// count means no change is pending.
func (d *Debouncer[T]) Pending() (T, int) {
	return d.candidate, d.count
}

// Required returns the configured consecutive count.
func (d *Debouncer[T]) Required() int {
	return d.required
}
