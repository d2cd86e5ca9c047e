package monitoring

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cpplab/closedloop/internal/timeutil"
)

// Issue event names.
const (
	EventSessionStart       = "session_start"
	EventSessionEnd         = "session_end"
	EventLaserReady         = "laser_controller_ready"
	EventLaserFallback      = "laser_fallback_dryrun"
	EventChamberTransition  = "chamber_transition"
	EventLaserTransition    = "laser_transition"
	EventLowConfidence      = "low_confidence"
	EventInferenceLatency   = "inference_latency_warning"
	EventHeartbeat          = "heartbeat"
	EventFPSWarning         = "fps_warning"
	EventDurationReached    = "duration_reached"
	EventEndOfStream        = "end_of_stream"
	EventUserInterrupt      = "user_interrupt"
	EventRuntimeException   = "runtime_exception"
	EventShutdownStepFailed = "shutdown_step_failed"
	EventMirrorWriteFailed  = "mirror_write_failed"
)

// DefaultIssueEventsFile is the issue log name used when none is configured.
const DefaultIssueEventsFile = "issue_events.jsonl"

const (
	issueLogFilePermissions = 0o644
	issueLogDirPermissions  = 0o755
	// Only the first few write failures are reported on the ops stream.
	maxIssueFailureOpsReport = 5
)

// Level is the severity of an issue event.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Fields are the event-specific values of an issue event.
type Fields map[string]any

// IssueLog appends one JSON object per line to the session's issue events
// file. Write failures never propagate: they are counted and reported on the
// ops stream. A disabled IssueLog accepts and drops every event.
type IssueLog struct {
	path     string
	enabled  bool
	file     *os.File
	clock    timeutil.Clock
	log      *Logger
	written  int
	failures int
}

// OpenIssueLog opens path for appending. When enabled is false no file is
// created.
func OpenIssueLog(path string, enabled bool, clock timeutil.Clock, log *Logger) (*IssueLog, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if log == nil {
		log = Discard()
	}
	l := &IssueLog{path: path, enabled: enabled, clock: clock, log: log}
	if !enabled {
		return l, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), issueLogDirPermissions); err != nil {
		return nil, fmt.Errorf("create issue log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, issueLogFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("open issue log: %w", err)
	}
	l.file = f
	return l, nil
}

// DisabledIssueLog returns an IssueLog that drops every event.
func DisabledIssueLog() *IssueLog {
	return &IssueLog{enabled: false, clock: timeutil.RealClock{}, log: Discard()}
}

// Log writes one event. Field values that are not representable in JSON
// (NaN, infinities) are written as null.
func (l *IssueLog) Log(event string, level Level, fields Fields) {
	if l == nil || !l.enabled || l.file == nil {
		return
	}
	record := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		record[k] = JSONSafe(v)
	}
	record["t_wall"] = UnixSeconds(l.clock.Now())
	record["event"] = event
	record["level"] = strings.ToUpper(string(level))

	line, err := json.Marshal(record)
	if err == nil {
		line = append(line, '\n')
		_, err = l.file.Write(line)
	}
	if err != nil {
		l.failures++
		if l.failures <= maxIssueFailureOpsReport {
			l.log.Opsf("issue log write failed (%s): %v", event, err)
		}
		return
	}
	l.written++
}

// Close closes the file. Later Log calls are dropped.
func (l *IssueLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	return f.Close()
}

// Path returns the file path, or "" for a disabled log.
func (l *IssueLog) Path() string {
	if l == nil || !l.enabled {
		return ""
	}
	return l.path
}

// Enabled reports whether events are being written.
func (l *IssueLog) Enabled() bool { return l != nil && l.enabled }

// Written returns the number of events written.
func (l *IssueLog) Written() int { return l.written }

// Failures returns the number of events that could not be written.
func (l *IssueLog) Failures() int { return l.failures }

// UnixSeconds converts t to fractional seconds since the epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// JSONSafe converts v into a value encoding/json accepts. Non-finite floats
// become nil; errors and durations are rendered as text and seconds.
func JSONSafe(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		return JSONSafe(float64(x))
	case time.Duration:
		return x.Seconds()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case error:
		return x.Error()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = JSONSafe(e)
		}
		return out
	case Fields:
		return JSONSafe(map[string]any(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = JSONSafe(e)
		}
		return out
	case []float64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = JSONSafe(e)
		}
		return out
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}
