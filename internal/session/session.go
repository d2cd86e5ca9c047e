// Package session runs one closed-loop session: it acquires a pose sample per
// frame, classifies and debounces the chamber, drives the laser, records the
// frame and reports issue events. Whatever way the loop ends, the shutdown
// sequence forces the laser off before anything else is released.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cpplab/closedloop/internal/config"
	"github.com/cpplab/closedloop/internal/laser"
	"github.com/cpplab/closedloop/internal/monitoring"
	"github.com/cpplab/closedloop/internal/pose"
	"github.com/cpplab/closedloop/internal/recorder"
	"github.com/cpplab/closedloop/internal/store"
	"github.com/cpplab/closedloop/internal/timeutil"
)

// FramesFileName is the per-frame time series in the session directory.
const FramesFileName = "cpp_realtime_log.csv"

// Only the first few mirror failures are reported on the ops stream.
const maxMirrorFailureReports = 5

// Mirror receives a copy of the session's frames and events. store.Mirror
// implements it.
type Mirror interface {
	BeginSession(info store.SessionInfo) error
	RecordFrame(f recorder.Frame) error
	RecordEvent(at time.Time, event string, level monitoring.Level, fields monitoring.Fields) error
	EndSession(s store.SessionSummary) error
	Close() error
}

// Options configure a Session. Config, SessionDir and Source are required.
type Options struct {
	Config       *config.Config
	SessionDir   string
	SessionID    string
	ConfigCopy   string
	ConfigSHA256 string
	Source       pose.Source
	// Hardware opens the DAQ for gated and startstop modes. It may be nil,
	// in which case those modes fail to initialize.
	Hardware laser.Opener
	Clock    timeutil.Clock
	Log      *monitoring.Logger
	// Mirror is optional.
	Mirror Mirror
}

// State is the orchestrator's lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateCompleting
	StateInterrupted
	StateFailed
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateCompleting:
		return "completing"
	case StateInterrupted:
		return "interrupted"
	case StateFailed:
		return "failed"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Status is how a session ended.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Code returns the process exit status for s.
func (s Status) Code() int {
	if s == StatusFailed {
		return 1
	}
	return 0
}

// Failure kinds recorded as exception_type.
const (
	FailureConfig      = "config_error"
	FailureLaserInit   = "laser_init_error"
	FailureAcquisition = "acquisition_error"
	FailureHardware    = "hardware_write_error"
	FailureRecorder    = "recorder_error"
	FailurePanic       = "panic"
)

// Result summarises a finished session.
type Result struct {
	Status   Status
	Code     int
	Err      error
	Incident string
	Metadata string
	Stats    monitoring.RuntimeStats
	// LaserState is the controller state observed after shutdown.
	LaserState bool
	LaserMode  laser.Mode
}

type failure struct {
	kind string
	err  error
	// context is the last frame context, captured before shutdown changes
	// the laser state.
	context map[string]any
}

// Session is a single run of the control loop. It is not safe for
// concurrent use and Run may be called once.
type Session struct {
	opts  Options
	cfg   *config.Config
	clock timeutil.Clock
	log   *monitoring.Logger
	uuid  string

	state State
	ran   bool

	issues     *monitoring.IssueLog
	mirror     Mirror
	controller laser.Controller
	rec        *recorder.Recorder
	fs         *frameState
	fps        *fpsWindow

	counts    counters
	latency   latencyStats
	beat      heartbeat
	lastFrame *recorder.Frame

	start    time.Time
	loopDone time.Time
	failure  *failure
	incident string
}

// New validates opts and returns a Session ready to Run.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("session config is required")
	}
	if opts.SessionDir == "" {
		return nil, errors.New("session directory is required")
	}
	if opts.Source == nil {
		return nil, errors.New("pose source is required")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Log == nil {
		opts.Log = monitoring.Discard()
	}
	if opts.SessionID == "" {
		opts.SessionID = filepath.Base(opts.SessionDir)
	}
	return &Session{
		opts:   opts,
		cfg:    opts.Config,
		clock:  opts.Clock,
		log:    opts.Log.With("session"),
		uuid:   uuid.NewString(),
		issues: monitoring.DisabledIssueLog(),
		mirror: opts.Mirror,
		fps:    newFPSWindow(),
	}, nil
}

// UUID returns the session's unique identifier.
func (s *Session) UUID() string { return s.uuid }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.log.Diagf("state %s -> %s", s.state, next)
	s.state = next
}

// Run executes the session until the pose stream ends, the duration limit
// is reached, ctx is cancelled or a fatal error occurs, and then runs the
// shutdown sequence. Cancelling ctx is a clean interrupt.
func (s *Session) Run(ctx context.Context) Result {
	if s.ran {
		return Result{Status: StatusFailed, Code: 1, Err: errors.New("session already ran")}
	}
	s.ran = true
	s.start = s.clock.Now()
	s.setState(StateInitializing)

	s.openObservability()
	if s.initialize() {
		s.setState(StateRunning)
		s.loop(ctx)
	}
	s.loopDone = s.clock.Now()

	if s.failure != nil {
		s.setState(StateFailed)
		s.failure.context = s.lastContext()
		s.log.Opsf("session failed (%s): %v", s.failure.kind, s.failure.err)
	}
	status := s.status()
	s.setState(StateShuttingDown)
	res := s.shutdown(status)
	s.setState(StateTerminated)
	return res
}

func (s *Session) status() Status {
	switch {
	case s.failure != nil:
		return StatusFailed
	case s.state == StateInterrupted:
		return StatusInterrupted
	default:
		return StatusCompleted
	}
}

// openObservability opens the issue log and begins the mirror session.
// Neither may stop the session.
func (s *Session) openObservability() {
	path := filepath.Join(s.opts.SessionDir, s.cfg.GetIssueEventsFile())
	issues, err := monitoring.OpenIssueLog(path, s.cfg.GetIssueLogEnabled(), s.clock, s.opts.Log.With("issues"))
	if err != nil {
		s.log.Opsf("issue log unavailable, continuing without it: %v", err)
	} else {
		s.issues = issues
	}

	if s.mirror != nil {
		err := s.mirror.BeginSession(store.SessionInfo{
			UUID:         s.uuid,
			ID:           s.opts.SessionID,
			Dir:          s.opts.SessionDir,
			StartedAt:    s.start,
			ConfigSHA256: s.opts.ConfigSHA256,
			LaserMode:    s.cfg.GetLaserMode(),
		})
		if err != nil {
			s.log.Opsf("session mirror unavailable, continuing without it: %v", err)
			s.counts.mirrorFailures++
			s.closeMirror()
		}
	}

	s.emit(monitoring.EventSessionStart, monitoring.LevelInfo, monitoring.Fields{
		"session_id":    s.opts.SessionID,
		"session_uuid":  s.uuid,
		"session_dir":   s.opts.SessionDir,
		"config_sha256": s.opts.ConfigSHA256,
		"laser_mode":    s.cfg.GetLaserMode(),
		"pose_source":   s.opts.Source.Info(),
	})
}

// initialize builds the loop state, the recorder and the laser controller.
// It returns false after recording a failure.
func (s *Session) initialize() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(FailurePanic, fmt.Errorf("%v", r))
			ok = false
		}
	}()

	layout, err := s.cfg.ROILayout()
	if err != nil {
		s.fail(FailureConfig, fmt.Errorf("roi: %w", err))
		return false
	}
	resolver, err := s.cfg.Resolver()
	if err != nil {
		s.fail(FailureConfig, err)
		return false
	}
	fs, err := newFrameState(layout, resolver, s.cfg.GetDebounceFrames(), s.cfg.GetPThresh(), s.cfg.GetSmoothingEnabled(), s.cfg.GetSmoothingWindow())
	if err != nil {
		s.fail(FailureConfig, err)
		return false
	}
	s.fs = fs

	rec, err := recorder.Create(filepath.Join(s.opts.SessionDir, FramesFileName), s.cfg.GetFlushEvery())
	if err != nil {
		s.fail(FailureRecorder, err)
		return false
	}
	s.rec = rec

	lc, err := s.cfg.LaserSettings()
	if err != nil {
		s.fail(FailureConfig, err)
		return false
	}
	setup := SetupLaser(lc, s.cfg.GetFallbackToDryRun(), s.opts.Hardware, s.clock, s.opts.Log.With("laser"))
	switch setup.Outcome {
	case OutcomeReady:
		s.controller = setup.Controller
		s.emit(monitoring.EventLaserReady, monitoring.LevelInfo, monitoring.Fields{
			"mode":       string(setup.Controller.Mode()),
			"enabled":    lc.Enabled,
			"freq_hz":    lc.FreqHz,
			"duty_cycle": lc.DutyCycle,
		})
	case OutcomeFallback:
		s.controller = setup.Controller
		s.log.Opsf("laser controller %s failed to initialize, falling back to dryrun: %v", lc.Mode, setup.Err)
		s.emit(monitoring.EventLaserFallback, monitoring.LevelError, monitoring.Fields{
			"requested_mode":    string(lc.Mode),
			"exception_type":    FailureLaserInit,
			"exception_message": errText(setup.Err),
		})
	default:
		s.fail(FailureLaserInit, setup.Err)
		return false
	}

	now := s.clock.Now()
	s.beat = heartbeat{interval: s.cfg.GetHeartbeatInterval(), last: now}
	s.log.Opsf("session %s started (laser %s)", s.opts.SessionID, s.controller.Mode())
	return true
}

// loop runs frames until a termination condition. Panics become failures so
// the shutdown sequence still runs.
func (s *Session) loop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(FailurePanic, fmt.Errorf("%v", r))
		}
	}()

	limit, limited := s.cfg.GetDuration()
	frameIdx := 0
	for {
		if ctx.Err() != nil {
			s.interrupt(frameIdx)
			return
		}
		if limited && s.clock.Since(s.start) >= limit {
			s.log.Opsf("duration reached: %.2f s", limit.Seconds())
			s.emit(monitoring.EventDurationReached, monitoring.LevelInfo, monitoring.Fields{
				"duration_s": limit.Seconds(),
				"frames":     s.counts.frames,
			})
			s.setState(StateCompleting)
			return
		}

		done := s.frame(ctx, frameIdx)
		if done {
			return
		}
		frameIdx++
	}
}

func (s *Session) interrupt(frameIdx int) {
	s.log.Opsf("interrupt received, stopping session")
	s.emit(monitoring.EventUserInterrupt, monitoring.LevelWarning, monitoring.Fields{"frame_idx": frameIdx})
	s.setState(StateInterrupted)
}

// frame processes one frame and reports whether the loop should stop.
func (s *Session) frame(ctx context.Context, frameIdx int) bool {
	t0 := s.clock.Now()
	sample, err := s.opts.Source.Acquire(ctx)
	inferenceMS := float64(s.clock.Since(t0)) / float64(time.Millisecond)
	if err != nil {
		switch {
		case errors.Is(err, pose.ErrEndOfStream):
			s.log.Opsf("pose stream reached end-of-stream after %d frames", frameIdx)
			s.emit(monitoring.EventEndOfStream, monitoring.LevelInfo, monitoring.Fields{"frame_idx": frameIdx})
			s.setState(StateCompleting)
		case ctx.Err() != nil:
			s.interrupt(frameIdx)
		default:
			s.fail(FailureAcquisition, err)
		}
		return true
	}
	now := s.clock.Now()

	d := s.fs.step(sample)

	if d.LowConfidence {
		s.counts.lowConfidence++
		if n := max(1, s.cfg.GetLowConfWarnEveryN()); (s.counts.lowConfidence-1)%n == 0 {
			s.emit(monitoring.EventLowConfidence, monitoring.LevelWarning, monitoring.Fields{
				"frame_idx":       frameIdx,
				"p":               sample.P,
				"p_thresh":        s.cfg.GetPThresh(),
				"low_conf_frames": s.counts.lowConfidence,
			})
		}
	}

	if d.Changed {
		s.counts.chamberTransitions++
		s.emit(monitoring.EventChamberTransition, monitoring.LevelInfo, monitoring.Fields{
			"frame_idx":    frameIdx,
			"from_chamber": string(d.Previous),
			"to_chamber":   string(d.Stable),
			"chamber_raw":  string(d.Raw),
		})
	}

	before := s.controller.State()
	if err := s.controller.SetState(d.Target); err != nil {
		s.fail(FailureHardware, fmt.Errorf("set laser state %t at frame %d: %w", d.Target, frameIdx, err))
		return true
	}
	after := s.controller.State()
	if after != before {
		s.counts.laserTransitions++
		s.emit(monitoring.EventLaserTransition, monitoring.LevelInfo, monitoring.Fields{
			"frame_idx":  frameIdx,
			"from_state": boolInt(before),
			"to_state":   boolInt(after),
			"chamber":    string(d.Stable),
		})
	}

	tWall := monitoring.UnixSeconds(now)
	f := recorder.Frame{
		TWall:       tWall,
		Index:       frameIdx,
		X:           d.Point.X,
		Y:           d.Point.Y,
		P:           sample.P,
		ChamberRaw:  string(d.Raw),
		Chamber:     string(d.Stable),
		LaserState:  after,
		InferenceMS: inferenceMS,
		FPS:         s.fps.add(tWall),
	}
	if err := s.rec.Write(f); err != nil {
		s.fail(FailureRecorder, err)
		return true
	}
	s.lastFrame = &f
	s.counts.frames++
	if s.mirror != nil {
		if err := s.mirror.RecordFrame(f); err != nil {
			s.mirrorFailed("frame", err)
		}
	}
	s.opts.Log.Tracef("[Frame] %d x=%.1f y=%.1f p=%.3f raw=%s stable=%s laser=%d infer=%.2fms",
		frameIdx, f.X, f.Y, f.P, f.ChamberRaw, f.Chamber, boolInt(after), inferenceMS)

	s.latency.add(inferenceMS)
	s.checkLatency(now, frameIdx, inferenceMS)
	s.checkHeartbeat(now, d)
	return false
}

// checkLatency emits at most one latency warning per heartbeat interval,
// carrying the number of slow frames since the previous warning.
func (s *Session) checkLatency(now time.Time, frameIdx int, inferenceMS float64) {
	threshold := s.cfg.GetInferenceWarnMS()
	if threshold <= 0 || !(inferenceMS > threshold) {
		return
	}
	s.latency.exceeded++
	if !s.beat.lastLatencyWarning.IsZero() && now.Sub(s.beat.lastLatencyWarning) < s.beat.interval {
		return
	}
	s.counts.latencyWarnings++
	s.emit(monitoring.EventInferenceLatency, monitoring.LevelWarning, monitoring.Fields{
		"frame_idx":         frameIdx,
		"inference_ms":      inferenceMS,
		"inference_warn_ms": threshold,
		"exceeded_count":    s.latency.exceeded,
	})
	s.latency.exceeded = 0
	s.beat.lastLatencyWarning = now
}

func (s *Session) checkHeartbeat(now time.Time, d decision) {
	elapsed := now.Sub(s.beat.last)
	if elapsed < s.beat.interval {
		return
	}
	framesSince := s.counts.frames - s.beat.lastFrames
	avgFPS := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		avgFPS = float64(framesSince) / secs
	}
	mean, p95 := meanP95(s.latency.interval)

	s.counts.heartbeats++
	s.emit(monitoring.EventHeartbeat, monitoring.LevelInfo, monitoring.Fields{
		"frames":              s.counts.frames,
		"frames_since_last":   framesSince,
		"avg_fps":             avgFPS,
		"low_conf_frames":     s.counts.lowConfidence,
		"chamber_transitions": s.counts.chamberTransitions,
		"laser_transitions":   s.counts.laserTransitions,
		"laser_state":         boolInt(s.controller.State()),
		"chamber":             string(d.Stable),
		"inference_mean_ms":   mean,
		"inference_p95_ms":    p95,
	})
	s.log.Diagf("heartbeat: frames=%d fps=%.1f chamber=%s laser=%d", s.counts.frames, avgFPS, d.Stable, boolInt(s.controller.State()))

	if warn := s.cfg.GetFPSWarnBelow(); warn > 0 && avgFPS < warn {
		s.counts.fpsWarnings++
		s.emit(monitoring.EventFPSWarning, monitoring.LevelWarning, monitoring.Fields{
			"avg_fps":        avgFPS,
			"fps_warn_below": warn,
		})
	}

	s.beat.last = now
	s.beat.lastFrames = s.counts.frames
	s.latency.resetInterval()
}

// emit writes an issue event and mirrors it.
func (s *Session) emit(event string, level monitoring.Level, fields monitoring.Fields) {
	s.issues.Log(event, level, fields)
	if s.mirror == nil {
		return
	}
	if err := s.mirror.RecordEvent(s.clock.Now(), event, level, fields); err != nil {
		s.mirrorFailed("event "+event, err)
	}
}

func (s *Session) mirrorFailed(what string, err error) {
	s.counts.mirrorFailures++
	if s.counts.mirrorFailures > maxMirrorFailureReports {
		return
	}
	s.log.Opsf("session mirror write failed (%s): %v", what, err)
	s.issues.Log(monitoring.EventMirrorWriteFailed, monitoring.LevelWarning, monitoring.Fields{
		"what":              what,
		"exception_message": err.Error(),
	})
}

func (s *Session) fail(kind string, err error) {
	if s.failure != nil {
		return
	}
	if err == nil {
		err = errors.New(kind)
	}
	s.failure = &failure{kind: kind, err: err}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
