package session

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/cpplab/closedloop/internal/debounce"
	"github.com/cpplab/closedloop/internal/policy"
	"github.com/cpplab/closedloop/internal/pose"
	"github.com/cpplab/closedloop/internal/roi"
)

// frameState is the loop state carried from one frame to the next. step is
// the only method that mutates it and it performs no I/O.
type frameState struct {
	layout    *roi.Layout
	resolver  policy.Resolver
	debouncer *debounce.Debouncer[roi.Label]

	pThresh   float64
	smoothing bool

	lastValid      roi.Point
	window         []roi.Point
	windowSize     int
	lastNonNeutral roi.Label
}

// decision is the outcome of one frame before it reaches the hardware.
type decision struct {
	Point         roi.Point
	LowConfidence bool
	Raw           roi.Label
	Candidate     roi.Label
	Previous      roi.Label
	Stable        roi.Label
	Changed       bool
	Target        bool
}

func newFrameState(layout *roi.Layout, resolver policy.Resolver, debounceFrames int, pThresh float64, smoothing bool, window int) (*frameState, error) {
	d, err := debounce.New(debounceFrames, roi.Unknown)
	if err != nil {
		return nil, err
	}
	return &frameState{
		layout:         layout,
		resolver:       resolver,
		debouncer:      d,
		pThresh:        pThresh,
		smoothing:      smoothing,
		lastValid:      roi.InvalidPoint(),
		windowSize:     max(1, window),
		lastNonNeutral: roi.Unknown,
	}, nil
}

func (fs *frameState) step(s pose.Sample) decision {
	var d decision

	// Confidence gate. A NaN confidence never passes.
	pt := roi.Point{X: s.X, Y: s.Y}
	if s.P >= fs.pThresh {
		fs.lastValid = pt
	} else {
		d.LowConfidence = true
		pt = fs.lastValid
	}

	if pt.Valid() {
		fs.window = append(fs.window, pt)
		if len(fs.window) > fs.windowSize {
			fs.window = fs.window[len(fs.window)-fs.windowSize:]
		}
		if fs.smoothing {
			pt = fs.mean()
		}
	}
	d.Point = pt

	d.Raw = fs.layout.Classify(pt)
	d.Candidate = fs.resolver.Candidate(d.Raw, fs.lastNonNeutral)

	d.Previous = fs.debouncer.Stable()
	d.Stable = fs.debouncer.Update(d.Candidate)
	d.Changed = d.Stable != d.Previous
	fs.lastNonNeutral = policy.TrackLastNonNeutral(fs.lastNonNeutral, d.Stable)

	d.Target = fs.resolver.Target(d.Stable, fs.lastNonNeutral)
	return d
}

func (fs *frameState) mean() roi.Point {
	xs := make([]float64, len(fs.window))
	ys := make([]float64, len(fs.window))
	for i, p := range fs.window {
		xs[i], ys[i] = p.X, p.Y
	}
	return roi.Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}
}

// fpsWindow estimates the frame rate from the most recent frame times.
type fpsWindow struct {
	times []float64
	size  int
}

const fpsWindowSize = 60

func newFPSWindow() *fpsWindow {
	return &fpsWindow{size: fpsWindowSize}
}

// add records a frame time in seconds and returns the current estimate.
func (w *fpsWindow) add(t float64) float64 {
	w.times = append(w.times, t)
	if len(w.times) > w.size {
		w.times = w.times[len(w.times)-w.size:]
	}
	if len(w.times) < 2 {
		return 0
	}
	dt := w.times[len(w.times)-1] - w.times[0]
	if dt <= 0 || math.IsNaN(dt) {
		return 0
	}
	return float64(len(w.times)-1) / dt
}
