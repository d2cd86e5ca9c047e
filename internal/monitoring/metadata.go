package monitoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MetadataFileName is the session metadata file in the session directory.
const MetadataFileName = "metadata.json"

// RuntimeStats are the aggregate counters of a session.
type RuntimeStats struct {
	FramesProcessed      int     `json:"frames_processed"`
	LowConfidenceFrames  int     `json:"low_confidence_frames"`
	ChamberTransitions   int     `json:"chamber_transitions"`
	LaserTransitions     int     `json:"laser_transitions"`
	LatencyWarnings      int     `json:"inference_latency_warnings"`
	FPSWarnings          int     `json:"fps_warnings"`
	Heartbeats           int     `json:"heartbeats"`
	AvgFPS               float64 `json:"avg_fps"`
	InferenceMeanMS      float64 `json:"inference_mean_ms"`
	InferenceP95MS       float64 `json:"inference_p95_ms"`
	IssueEventsFile      string  `json:"issue_events_file"`
	IssueEventsWritten   int     `json:"issue_events_written"`
	IssueWriteFailures   int     `json:"issue_write_failures"`
	MirrorWriteFailures  int     `json:"mirror_write_failures"`
	ShutdownStepFailures int     `json:"shutdown_step_failures"`
}

// RuntimeLogging records the issue logging configuration in effect.
type RuntimeLogging struct {
	Enabled            bool    `json:"enabled"`
	IssueEventsFile    string  `json:"issue_events_file"`
	HeartbeatIntervalS float64 `json:"heartbeat_interval_s"`
	LowConfWarnEveryN  int     `json:"low_conf_warn_every_n"`
	InferenceWarnMS    float64 `json:"inference_warn_ms"`
	FPSWarnBelow       float64 `json:"fps_warn_below"`
}

// SessionMetadata is written once when a session ends.
type SessionMetadata struct {
	SessionID      string         `json:"session_id"`
	SessionUUID    string         `json:"session_uuid"`
	SessionDir     string         `json:"session_dir"`
	Version        string         `json:"version"`
	GitSHA         string         `json:"git_sha"`
	StartTimeUTC   string         `json:"start_time_utc"`
	StartWall      float64        `json:"start_wall"`
	EndTimeUTC     string         `json:"end_time_utc"`
	EndWall        float64        `json:"end_wall"`
	DurationS      float64        `json:"duration_s"`
	Status         string         `json:"status"`
	StatusCode     int            `json:"status_code"`
	Error          string         `json:"error,omitempty"`
	IncidentReport string         `json:"incident_report,omitempty"`
	ConfigCopy     string         `json:"config_copy,omitempty"`
	ConfigSHA256   string         `json:"config_sha256,omitempty"`
	FramesCSV      string         `json:"frames_csv"`
	Camera         map[string]any `json:"camera"`
	DLCModel       map[string]any `json:"dlc_model"`
	PoseSource     map[string]any `json:"pose_source"`
	DAQ            map[string]any `json:"daq"`
	LaserMode      string         `json:"laser_mode"`
	ROI            map[string]any `json:"roi"`
	Analysis       map[string]any `json:"analysis"`
	RuntimeStats   RuntimeStats   `json:"runtime_stats"`
	RuntimeLogging RuntimeLogging `json:"runtime_logging"`
}

// WriteMetadata writes md as indented JSON to path, replacing the file
// atomically through a temporary file in the same directory.
func WriteMetadata(path string, md SessionMetadata) error {
	md.Camera = safeMap(md.Camera)
	md.DLCModel = safeMap(md.DLCModel)
	md.PoseSource = safeMap(md.PoseSource)
	md.DAQ = safeMap(md.DAQ)
	md.ROI = safeMap(md.ROI)
	md.Analysis = safeMap(md.Analysis)
	md.RuntimeStats.AvgFPS = finiteOrZero(md.RuntimeStats.AvgFPS)
	md.RuntimeStats.InferenceMeanMS = finiteOrZero(md.RuntimeStats.InferenceMeanMS)
	md.RuntimeStats.InferenceP95MS = finiteOrZero(md.RuntimeStats.InferenceP95MS)

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".metadata-*.json")
	if err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session metadata: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session metadata: %w", err)
	}
	return nil
}

func safeMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return JSONSafe(m).(map[string]any)
}

func finiteOrZero(v float64) float64 {
	if f, ok := JSONSafe(v).(float64); ok {
		return f
	}
	return 0
}
