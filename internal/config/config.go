package config

import (
	"encoding/json"
	"math"
	"time"

	"github.com/cpplab/closedloop/internal/daq"
	"github.com/cpplab/closedloop/internal/laser"
	"github.com/cpplab/closedloop/internal/monitoring"
	"github.com/cpplab/closedloop/internal/policy"
	"github.com/cpplab/closedloop/internal/recorder"
	"github.com/cpplab/closedloop/internal/roi"
)

// Config is the root session configuration. Every optional leaf is a
// pointer; consumers read through the Get* accessors, which supply the
// defaults for anything the file leaves out. A nil section behaves as an
// empty one.
type Config struct {
	Project        *ProjectConfig        `json:"project,omitempty" yaml:"project,omitempty"`
	Camera         map[string]any        `json:"camera,omitempty" yaml:"camera,omitempty"`
	DLC            *DLCConfig            `json:"dlc,omitempty" yaml:"dlc,omitempty"`
	Pose           *PoseConfig           `json:"pose,omitempty" yaml:"pose,omitempty"`
	ROI            *ROIConfig            `json:"roi,omitempty" yaml:"roi,omitempty"`
	Laser          *LaserConfig          `json:"laser_control,omitempty" yaml:"laser_control,omitempty"`
	RuntimeLogging *RuntimeLoggingConfig `json:"runtime_logging,omitempty" yaml:"runtime_logging,omitempty"`
	Recorder       *RecorderConfig       `json:"recorder,omitempty" yaml:"recorder,omitempty"`
	Storage        *StorageConfig        `json:"storage,omitempty" yaml:"storage,omitempty"`
	Session        *SessionConfig        `json:"session,omitempty" yaml:"session,omitempty"`
	Analysis       map[string]any        `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

type ProjectConfig struct {
	OutDir    *string `json:"out_dir,omitempty" yaml:"out_dir,omitempty"`
	SessionID *string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
}

type DLCConfig struct {
	PThresh   *float64         `json:"p_thresh,omitempty" yaml:"p_thresh,omitempty"`
	Smoothing *SmoothingConfig `json:"smoothing,omitempty" yaml:"smoothing,omitempty"`
	ModelPath *string          `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	Bodypart  *string          `json:"bodypart,omitempty" yaml:"bodypart,omitempty"`
}

type SmoothingConfig struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Window  *int  `json:"window,omitempty" yaml:"window,omitempty"`
}

// Pose source kinds.
const (
	PoseReplay = "replay"
	PoseStdin  = "stdin"
	PoseTCP    = "tcp"
)

type PoseConfig struct {
	Source        *string `json:"source,omitempty" yaml:"source,omitempty"`
	Path          *string `json:"path,omitempty" yaml:"path,omitempty"`
	Address       *string `json:"address,omitempty" yaml:"address,omitempty"`
	DialTimeoutMS *int    `json:"dial_timeout_ms,omitempty" yaml:"dial_timeout_ms,omitempty"`
}

type ROIConfig struct {
	Type              *string `json:"type,omitempty" yaml:"type,omitempty"`
	Chamber1          []any   `json:"chamber1,omitempty" yaml:"chamber1,omitempty"`
	Chamber2          []any   `json:"chamber2,omitempty" yaml:"chamber2,omitempty"`
	Neutral           []any   `json:"neutral,omitempty" yaml:"neutral,omitempty"`
	StrategyOnNeutral *string `json:"strategy_on_neutral,omitempty" yaml:"strategy_on_neutral,omitempty"`
	DebounceFrames    *int    `json:"debounce_frames,omitempty" yaml:"debounce_frames,omitempty"`
}

type LaserConfig struct {
	Enabled          *bool      `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Mode             *string    `json:"mode,omitempty" yaml:"mode,omitempty"`
	FallbackToDryRun *bool      `json:"fallback_to_dryrun,omitempty" yaml:"fallback_to_dryrun,omitempty"`
	FreqHz           *float64   `json:"freq_hz,omitempty" yaml:"freq_hz,omitempty"`
	DutyCycle        *float64   `json:"duty_cycle,omitempty" yaml:"duty_cycle,omitempty"`
	CtrChannel       *string    `json:"ctr_channel,omitempty" yaml:"ctr_channel,omitempty"`
	PulseTerm        *string    `json:"pulse_term,omitempty" yaml:"pulse_term,omitempty"`
	EnableLine       *string    `json:"enable_line,omitempty" yaml:"enable_line,omitempty"`
	MinOnS           *float64   `json:"min_on_s,omitempty" yaml:"min_on_s,omitempty"`
	MinOffS          *float64   `json:"min_off_s,omitempty" yaml:"min_off_s,omitempty"`
	UnknownPolicy    *string    `json:"unknown_policy,omitempty" yaml:"unknown_policy,omitempty"`
	DAQ              *DAQConfig `json:"daq,omitempty" yaml:"daq,omitempty"`
}

type DAQConfig struct {
	Port      *string `json:"port,omitempty" yaml:"port,omitempty"`
	BaudRate  *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits  *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits  *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity    *string `json:"parity,omitempty" yaml:"parity,omitempty"`
	TimeoutMS *int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Simulate  *bool   `json:"simulate,omitempty" yaml:"simulate,omitempty"`
}

type RuntimeLoggingConfig struct {
	Enabled            *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	IssueEventsFile    *string  `json:"issue_events_file,omitempty" yaml:"issue_events_file,omitempty"`
	HeartbeatIntervalS *float64 `json:"heartbeat_interval_s,omitempty" yaml:"heartbeat_interval_s,omitempty"`
	LowConfWarnEveryN  *int     `json:"low_conf_warn_every_n,omitempty" yaml:"low_conf_warn_every_n,omitempty"`
	InferenceWarnMS    *float64 `json:"inference_warn_ms,omitempty" yaml:"inference_warn_ms,omitempty"`
	FPSWarnBelow       *float64 `json:"fps_warn_below,omitempty" yaml:"fps_warn_below,omitempty"`
}

type RecorderConfig struct {
	FlushEvery *int `json:"flush_every,omitempty" yaml:"flush_every,omitempty"`
}

type StorageConfig struct {
	SQLite *SQLiteConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
}

type SQLiteConfig struct {
	Enabled *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path    *string `json:"path,omitempty" yaml:"path,omitempty"`
}

type SessionConfig struct {
	DurationS *float64 `json:"duration_s,omitempty" yaml:"duration_s,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// GetOutDir returns project.out_dir or "./data".
func (c *Config) GetOutDir() string {
	if c.Project == nil {
		return "./data"
	}
	return getString(c.Project.OutDir, "./data")
}

// GetSessionID returns project.session_id or "auto_timestamp".
func (c *Config) GetSessionID() string {
	if c.Project == nil {
		return "auto_timestamp"
	}
	return getString(c.Project.SessionID, "auto_timestamp")
}

// GetPThresh returns dlc.p_thresh or 0.6.
func (c *Config) GetPThresh() float64 {
	if c.DLC == nil {
		return 0.6
	}
	return getFloat(c.DLC.PThresh, 0.6)
}

// GetSmoothingEnabled returns dlc.smoothing.enabled or false.
func (c *Config) GetSmoothingEnabled() bool {
	if c.DLC == nil || c.DLC.Smoothing == nil {
		return false
	}
	return getBool(c.DLC.Smoothing.Enabled, false)
}

// GetSmoothingWindow returns dlc.smoothing.window or 5, never less than 1.
func (c *Config) GetSmoothingWindow() int {
	w := 5
	if c.DLC != nil && c.DLC.Smoothing != nil {
		w = getInt(c.DLC.Smoothing.Window, 5)
	}
	return max(1, w)
}

// GetPoseSource returns pose.source or "replay".
func (c *Config) GetPoseSource() string {
	if c.Pose == nil {
		return PoseReplay
	}
	return getString(c.Pose.Source, PoseReplay)
}

// GetPosePath returns pose.path.
func (c *Config) GetPosePath() string {
	if c.Pose == nil {
		return ""
	}
	return getString(c.Pose.Path, "")
}

// GetPoseAddress returns pose.address.
func (c *Config) GetPoseAddress() string {
	if c.Pose == nil {
		return ""
	}
	return getString(c.Pose.Address, "")
}

// GetPoseDialTimeout returns pose.dial_timeout_ms or 5s.
func (c *Config) GetPoseDialTimeout() time.Duration {
	if c.Pose == nil || c.Pose.DialTimeoutMS == nil || *c.Pose.DialTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(*c.Pose.DialTimeoutMS) * time.Millisecond
}

// GetDebounceFrames returns roi.debounce_frames or 8.
func (c *Config) GetDebounceFrames() int {
	if c.ROI == nil {
		return 8
	}
	return getInt(c.ROI.DebounceFrames, 8)
}

// GetStrategyOnNeutral returns roi.strategy_on_neutral or "off".
func (c *Config) GetStrategyOnNeutral() string {
	if c.ROI == nil {
		return string(roi.NeutralOff)
	}
	return getString(c.ROI.StrategyOnNeutral, string(roi.NeutralOff))
}

func (c *Config) laser() *LaserConfig {
	if c.Laser == nil {
		return &LaserConfig{}
	}
	return c.Laser
}

// GetLaserEnabled returns laser_control.enabled or true.
func (c *Config) GetLaserEnabled() bool { return getBool(c.laser().Enabled, true) }

// GetLaserMode returns laser_control.mode or "dryrun".
func (c *Config) GetLaserMode() string { return getString(c.laser().Mode, string(laser.ModeDryRun)) }

// GetFallbackToDryRun returns laser_control.fallback_to_dryrun or true.
func (c *Config) GetFallbackToDryRun() bool { return getBool(c.laser().FallbackToDryRun, true) }

// GetFreqHz returns laser_control.freq_hz or 20.
func (c *Config) GetFreqHz() float64 { return getFloat(c.laser().FreqHz, 20) }

// GetDutyCycle returns laser_control.duty_cycle or 0.05.
func (c *Config) GetDutyCycle() float64 { return getFloat(c.laser().DutyCycle, 0.05) }

// GetMinOn returns laser_control.min_on_s or 0.2s.
func (c *Config) GetMinOn() time.Duration { return seconds(getFloat(c.laser().MinOnS, 0.2)) }

// GetMinOff returns laser_control.min_off_s or 0.2s.
func (c *Config) GetMinOff() time.Duration { return seconds(getFloat(c.laser().MinOffS, 0.2)) }

// GetUnknownPolicy returns laser_control.unknown_policy or "off".
func (c *Config) GetUnknownPolicy() string {
	return getString(c.laser().UnknownPolicy, string(policy.UnknownOff))
}

func (c *Config) daqConfig() *DAQConfig {
	l := c.laser()
	if l.DAQ == nil {
		return &DAQConfig{}
	}
	return l.DAQ
}

// GetDAQPort returns laser_control.daq.port.
func (c *Config) GetDAQPort() string { return getString(c.daqConfig().Port, "") }

// GetDAQSimulate returns laser_control.daq.simulate or false.
func (c *Config) GetDAQSimulate() bool { return getBool(c.daqConfig().Simulate, false) }

// GetDAQTimeout returns laser_control.daq.timeout_ms or the bridge default.
func (c *Config) GetDAQTimeout() time.Duration {
	d := c.daqConfig()
	if d.TimeoutMS == nil || *d.TimeoutMS <= 0 {
		return daq.DefaultTimeout
	}
	return time.Duration(*d.TimeoutMS) * time.Millisecond
}

// GetDAQPortOptions returns the serial settings of the DAQ bridge.
func (c *Config) GetDAQPortOptions() daq.PortOptions {
	d := c.daqConfig()
	return daq.PortOptions{
		BaudRate: getInt(d.BaudRate, 0),
		DataBits: getInt(d.DataBits, 0),
		StopBits: getInt(d.StopBits, 0),
		Parity:   getString(d.Parity, ""),
	}
}

func (c *Config) logging() *RuntimeLoggingConfig {
	if c.RuntimeLogging == nil {
		return &RuntimeLoggingConfig{}
	}
	return c.RuntimeLogging
}

// GetIssueLogEnabled returns runtime_logging.enabled or true.
func (c *Config) GetIssueLogEnabled() bool { return getBool(c.logging().Enabled, true) }

// GetIssueEventsFile returns runtime_logging.issue_events_file or
// "issue_events.jsonl".
func (c *Config) GetIssueEventsFile() string {
	return getString(c.logging().IssueEventsFile, monitoring.DefaultIssueEventsFile)
}

// GetHeartbeatInterval returns runtime_logging.heartbeat_interval_s or 5s.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return seconds(getFloat(c.logging().HeartbeatIntervalS, 5))
}

// GetLowConfWarnEveryN returns runtime_logging.low_conf_warn_every_n or 30.
func (c *Config) GetLowConfWarnEveryN() int { return getInt(c.logging().LowConfWarnEveryN, 30) }

// GetInferenceWarnMS returns runtime_logging.inference_warn_ms or 50.
func (c *Config) GetInferenceWarnMS() float64 { return getFloat(c.logging().InferenceWarnMS, 50) }

// GetFPSWarnBelow returns runtime_logging.fps_warn_below or 15.
func (c *Config) GetFPSWarnBelow() float64 { return getFloat(c.logging().FPSWarnBelow, 15) }

// GetFlushEvery returns recorder.flush_every or 200.
func (c *Config) GetFlushEvery() int {
	if c.Recorder == nil {
		return recorder.DefaultFlushEvery
	}
	return getInt(c.Recorder.FlushEvery, recorder.DefaultFlushEvery)
}

// GetSQLiteEnabled returns storage.sqlite.enabled or false.
func (c *Config) GetSQLiteEnabled() bool {
	if c.Storage == nil || c.Storage.SQLite == nil {
		return false
	}
	return getBool(c.Storage.SQLite.Enabled, false)
}

// GetSQLitePath returns storage.sqlite.path or "sessions.db" under out_dir.
func (c *Config) GetSQLitePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != nil && *c.Storage.SQLite.Path != "" {
		return *c.Storage.SQLite.Path
	}
	return c.GetOutDir() + "/sessions.db"
}

// GetDuration returns session.duration_s and whether a limit is set. Zero
// and negative values mean no limit.
func (c *Config) GetDuration() (time.Duration, bool) {
	if c.Session == nil || c.Session.DurationS == nil || *c.Session.DurationS <= 0 || math.IsInf(*c.Session.DurationS, 1) {
		return 0, false
	}
	return seconds(*c.Session.DurationS), true
}

// ROILayout builds the chamber layout.
func (c *Config) ROILayout() (*roi.Layout, error) {
	r := c.ROI
	if r == nil {
		r = &ROIConfig{}
	}
	return roi.FromSpec(roi.Spec{
		Kind:     getString(r.Type, roi.KindPolygon),
		Chamber1: r.Chamber1,
		Chamber2: r.Chamber2,
		Neutral:  r.Neutral,
		Strategy: c.GetStrategyOnNeutral(),
	})
}

// Resolver builds the laser policy.
func (c *Config) Resolver() (policy.Resolver, error) {
	neutral, err := roi.ParseNeutralStrategy(c.GetStrategyOnNeutral())
	if err != nil {
		return policy.Resolver{}, err
	}
	unknown, err := policy.ParseUnknownPolicy(c.GetUnknownPolicy())
	if err != nil {
		return policy.Resolver{}, err
	}
	return policy.Resolver{Enabled: c.GetLaserEnabled(), Neutral: neutral, Unknown: unknown}, nil
}

// LaserSettings returns the laser controller configuration.
func (c *Config) LaserSettings() (laser.Config, error) {
	mode, err := laser.ParseMode(c.GetLaserMode())
	if err != nil {
		return laser.Config{}, err
	}
	l := c.laser()
	return laser.Config{
		Enabled:    c.GetLaserEnabled(),
		Mode:       mode,
		FreqHz:     c.GetFreqHz(),
		DutyCycle:  c.GetDutyCycle(),
		CtrChannel: getString(l.CtrChannel, ""),
		PulseTerm:  getString(l.PulseTerm, ""),
		EnableLine: getString(l.EnableLine, ""),
		MinOn:      c.GetMinOn(),
		MinOff:     c.GetMinOff(),
	}, nil
}

// Section returns a top-level section as plain values for session metadata.
func Section(v any) map[string]any {
	var out map[string]any
	if data, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(data, &out)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out
}
