package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cpplab/closedloop/internal/daq"
	"github.com/cpplab/closedloop/internal/security"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Format is the encoding of a configuration file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor returns the format implied by a file extension.
func FormatFor(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}
}

// Load reads and validates a session configuration. Fields omitted from
// the file fall back to the Get* defaults, so partial configs are safe.
func Load(path string) (*Config, Format, error) {
	cleanPath := filepath.Clean(path)
	format, err := FormatFor(cleanPath)
	if err != nil {
		return nil, "", err
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, "", fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, "", err
	}
	return cfg, format, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Encode serialises the configuration in the given format.
func (c *Config) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(c)
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if n := c.GetDebounceFrames(); n < 1 {
		return fmt.Errorf("roi.debounce_frames must be >= 1, got %d", n)
	}
	if _, err := c.ROILayout(); err != nil {
		return fmt.Errorf("roi: %w", err)
	}
	if _, err := c.Resolver(); err != nil {
		return err
	}

	if p := c.GetPThresh(); math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("dlc.p_thresh must be between 0 and 1, got %v", p)
	}
	if c.DLC != nil && c.DLC.Smoothing != nil && c.DLC.Smoothing.Window != nil && *c.DLC.Smoothing.Window < 1 {
		return fmt.Errorf("dlc.smoothing.window must be >= 1, got %d", *c.DLC.Smoothing.Window)
	}

	switch src := c.GetPoseSource(); src {
	case PoseReplay, PoseTCP, PoseStdin:
	default:
		return fmt.Errorf("unsupported pose.source %q: expected replay, stdin or tcp", src)
	}

	if _, err := c.LaserSettings(); err != nil {
		return err
	}
	if f := c.GetFreqHz(); !(f > 0) || math.IsInf(f, 0) {
		return fmt.Errorf("laser_control.freq_hz must be positive, got %v", f)
	}
	if d := c.GetDutyCycle(); !(d > 0 && d < 1) {
		return fmt.Errorf("laser_control.duty_cycle must be between 0 and 1 (exclusive), got %v", d)
	}
	if c.GetMinOn() < 0 || c.GetMinOff() < 0 {
		return fmt.Errorf("laser_control.min_on_s and min_off_s must be non-negative")
	}
	if _, err := c.GetDAQPortOptions().Normalize(); err != nil {
		return fmt.Errorf("laser_control.daq: %w", err)
	}

	if c.GetHeartbeatInterval() <= 0 {
		return fmt.Errorf("runtime_logging.heartbeat_interval_s must be positive")
	}
	if n := c.GetLowConfWarnEveryN(); n < 1 {
		return fmt.Errorf("runtime_logging.low_conf_warn_every_n must be >= 1, got %d", n)
	}
	if v := c.GetInferenceWarnMS(); v < 0 {
		return fmt.Errorf("runtime_logging.inference_warn_ms must be non-negative, got %v", v)
	}
	if v := c.GetFPSWarnBelow(); v < 0 {
		return fmt.Errorf("runtime_logging.fps_warn_below must be non-negative, got %v", v)
	}
	if err := security.ValidateFileName(c.GetIssueEventsFile()); err != nil {
		return fmt.Errorf("runtime_logging.issue_events_file: %w", err)
	}

	if n := c.GetFlushEvery(); n < 1 {
		return fmt.Errorf("recorder.flush_every must be >= 1, got %d", n)
	}
	return nil
}

// ValidatePose checks that the selected pose source has what it needs to
// open. It is separate from Validate because the path and address are
// commonly given on the command line.
func (c *Config) ValidatePose() error {
	switch src := c.GetPoseSource(); src {
	case PoseReplay:
		if c.GetPosePath() == "" {
			return fmt.Errorf("pose.path is required for source %q", src)
		}
	case PoseTCP:
		if c.GetPoseAddress() == "" {
			return fmt.Errorf("pose.address is required for source %q", src)
		}
	}
	return nil
}

// Overrides are command-line values applied on top of the file.
type Overrides struct {
	OutDir      string
	DurationS   *float64
	PoseSource  string
	PosePath    string
	PoseAddress string
	SimulateDAQ bool
}

// Apply sets the overridden fields and re-validates.
func (c *Config) Apply(o Overrides) error {
	if o.OutDir != "" {
		if c.Project == nil {
			c.Project = &ProjectConfig{}
		}
		c.Project.OutDir = ptrString(o.OutDir)
	}
	if o.DurationS != nil {
		if c.Session == nil {
			c.Session = &SessionConfig{}
		}
		c.Session.DurationS = ptrFloat64(*o.DurationS)
	}
	if o.PoseSource != "" || o.PosePath != "" || o.PoseAddress != "" {
		if c.Pose == nil {
			c.Pose = &PoseConfig{}
		}
		if o.PoseSource != "" {
			c.Pose.Source = ptrString(o.PoseSource)
		}
		if o.PosePath != "" {
			c.Pose.Path = ptrString(o.PosePath)
		}
		if o.PoseAddress != "" {
			c.Pose.Address = ptrString(o.PoseAddress)
		}
	}
	if o.SimulateDAQ {
		if c.Laser == nil {
			c.Laser = &LaserConfig{}
		}
		if c.Laser.DAQ == nil {
			c.Laser.DAQ = &DAQConfig{}
		}
		c.Laser.DAQ.Simulate = ptrBool(true)
	}
	return c.Validate()
}

// DAQPortOptions is GetDAQPortOptions with defaults filled in.
func (c *Config) DAQPortOptions() daq.PortOptions {
	opts, err := c.GetDAQPortOptions().Normalize()
	if err != nil {
		return daq.PortOptions{BaudRate: daq.DefaultBaudRate}
	}
	return opts
}
