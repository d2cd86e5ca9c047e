// Package pose provides the tracked-position sources the control loop reads
// one sample per frame from.
package pose

import (
	"context"
	"errors"
	"math"
)

// ErrEndOfStream is returned by Acquire when a finite source is exhausted.
// It marks a normal end of session, not a failure.
var ErrEndOfStream = errors.New("end of pose stream")

// Sample is one tracked position with its confidence. X and Y are NaN when
// the tracker reported no position.
type Sample struct {
	X float64
	Y float64
	P float64
}

// Missing returns a sample with no position and zero confidence.
func Missing() Sample {
	return Sample{X: math.NaN(), Y: math.NaN(), P: 0}
}

// Source delivers samples. Acquire blocks until the next sample is ready.
type Source interface {
	Acquire(ctx context.Context) (Sample, error)
	Close() error
	// Info describes the source for session metadata.
	Info() map[string]any
}
