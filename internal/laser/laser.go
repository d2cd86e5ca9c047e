// Package laser drives the stimulation laser. Three controllers share one
// interface: DryRun (no hardware), Gated (free-running pulse train switched
// by a digital enable line) and StartStop (pulse generator started and
// stopped directly, with minimum dwell times).
package laser

import (
	"fmt"
	"strings"
	"time"

	"github.com/cpplab/closedloop/internal/monitoring"
	"github.com/cpplab/closedloop/internal/timeutil"
)

// Mode selects a controller variant.
type Mode string

const (
	ModeDryRun    Mode = "dryrun"
	ModeGated     Mode = "gated"
	ModeStartStop Mode = "startstop"
)

// ParseMode parses a mode name. An empty string selects ModeDryRun.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeDryRun, nil
	case ModeDryRun, ModeGated, ModeStartStop:
		return m, nil
	default:
		return m, fmt.Errorf("unknown laser control mode %q", s)
	}
}

// Controller is the capability set every laser variant provides.
//
// Stop must leave State() false, must be safe to call more than once, and
// must attempt every cleanup sub-step even when an earlier one fails. The
// error it returns is informational.
type Controller interface {
	Start() error
	SetState(on bool) error
	Stop() error
	State() bool
	Mode() Mode
}

// Config is the laser section of the session configuration, after defaults
// have been applied.
type Config struct {
	Enabled    bool
	Mode       Mode
	FreqHz     float64
	DutyCycle  float64
	CtrChannel string
	PulseTerm  string
	EnableLine string
	MinOn      time.Duration
	MinOff     time.Duration
}

// PulseSpec returns the pulse generator parameters for cfg.
func (c Config) PulseSpec() PulseSpec {
	return PulseSpec{
		Channel:   c.CtrChannel,
		FreqHz:    c.FreqHz,
		DutyCycle: c.DutyCycle,
		Term:      c.PulseTerm,
	}
}

// New builds the controller selected by cfg. Disabled control or dryrun mode
// yields a DryRun controller. Hardware modes validate their identifiers here
// and open the hardware lazily in Start through opener.
//
// Every error returned by New is an *InitError.
func New(cfg Config, opener Opener, clock timeutil.Clock, log *monitoring.Logger) (Controller, error) {
	if log == nil {
		log = monitoring.Discard()
	}
	if !cfg.Enabled || cfg.Mode == ModeDryRun || cfg.Mode == "" {
		return NewDryRun(log), nil
	}

	switch cfg.Mode {
	case ModeGated, ModeStartStop:
	default:
		return nil, &InitError{Mode: cfg.Mode, Err: fmt.Errorf("unknown laser control mode %q", cfg.Mode)}
	}
	if strings.TrimSpace(cfg.CtrChannel) == "" {
		return nil, &InitError{Mode: cfg.Mode, Err: fmt.Errorf("laser_control.ctr_channel is required for hardware modes")}
	}
	if opener == nil {
		return nil, &InitError{Mode: cfg.Mode, Err: fmt.Errorf("no DAQ hardware configured")}
	}

	if cfg.Mode == ModeGated {
		if strings.TrimSpace(cfg.EnableLine) == "" {
			return nil, &InitError{Mode: cfg.Mode, Err: fmt.Errorf("laser_control.enable_line is required for gated mode")}
		}
		return NewGated(cfg, opener, log), nil
	}

	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return NewStartStop(cfg, opener, clock, log), nil
}
