package session

import (
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/cpplab/closedloop/internal/monitoring"
)

// counters are the aggregate values reported in heartbeats and metadata.
type counters struct {
	frames             int
	lowConfidence      int
	chamberTransitions int
	laserTransitions   int
	latencyWarnings    int
	fpsWarnings        int
	heartbeats         int
	mirrorFailures     int
	shutdownFailures   int
}

// latencyStats keeps inference latencies for the whole session and for the
// current heartbeat interval.
type latencyStats struct {
	all      []float64
	interval []float64
	// exceeded counts latencies over the warning threshold since the last
	// latency warning.
	exceeded int
}

func (l *latencyStats) add(ms float64) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return
	}
	l.all = append(l.all, ms)
	l.interval = append(l.interval, ms)
}

// resetInterval clears the per-interval samples.
func (l *latencyStats) resetInterval() {
	l.interval = l.interval[:0]
}

// meanP95 returns the mean and 95th percentile of values, or NaN for both
// when values is empty.
func meanP95(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return stat.Mean(sorted, nil), stat.Quantile(0.95, stat.Empirical, sorted, nil)
}

// heartbeat tracks the interval between heartbeat events.
type heartbeat struct {
	interval   time.Duration
	last       time.Time
	lastFrames int
	// lastLatencyWarning is the time of the most recent latency warning.
	lastLatencyWarning time.Time
}

func (s *Session) runtimeStats(elapsed time.Duration) monitoring.RuntimeStats {
	mean, p95 := meanP95(s.latency.all)
	avgFPS := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		avgFPS = float64(s.counts.frames) / secs
	}
	return monitoring.RuntimeStats{
		FramesProcessed:      s.counts.frames,
		LowConfidenceFrames:  s.counts.lowConfidence,
		ChamberTransitions:   s.counts.chamberTransitions,
		LaserTransitions:     s.counts.laserTransitions,
		LatencyWarnings:      s.counts.latencyWarnings,
		FPSWarnings:          s.counts.fpsWarnings,
		Heartbeats:           s.counts.heartbeats,
		AvgFPS:               avgFPS,
		InferenceMeanMS:      mean,
		InferenceP95MS:       p95,
		IssueEventsFile:      s.issues.Path(),
		IssueEventsWritten:   s.issues.Written(),
		IssueWriteFailures:   s.issues.Failures(),
		MirrorWriteFailures:  s.counts.mirrorFailures,
		ShutdownStepFailures: s.counts.shutdownFailures,
	}
}
