package laser

import (
	"fmt"

	"github.com/cpplab/closedloop/internal/failsafe"
	"github.com/cpplab/closedloop/internal/monitoring"
)

// Gated runs the pulse generator for the whole session and switches the
// laser with a digital enable line.
type Gated struct {
	cfg    Config
	open   Opener
	log    *monitoring.Logger
	pulse  PulseGenerator
	enable DigitalLine
	state  bool
}

// NewGated returns an unstarted Gated controller.
func NewGated(cfg Config, open Opener, log *monitoring.Logger) *Gated {
	if log == nil {
		log = monitoring.Discard()
	}
	return &Gated{cfg: cfg, open: open, log: log}
}

// Start opens both handles, starts them, and drives the enable line low. On
// failure everything already opened is released and an *InitError is
// returned.
func (g *Gated) Start() error {
	if err := g.start(); err != nil {
		if stopErr := g.Stop(); stopErr != nil {
			g.log.Diagf("gated cleanup after failed start: %v", stopErr)
		}
		return &InitError{Mode: ModeGated, Err: err}
	}
	g.state = false
	g.log.Opsf("gated laser controller started: ctr=%s enable=%s freq=%.2fHz duty=%.3f",
		g.cfg.CtrChannel, g.cfg.EnableLine, g.cfg.FreqHz, g.cfg.DutyCycle)
	return nil
}

func (g *Gated) start() error {
	hw, err := g.open()
	if err != nil {
		return fmt.Errorf("open DAQ: %w", err)
	}
	if g.pulse, err = hw.OpenPulseGenerator(g.cfg.PulseSpec()); err != nil {
		return fmt.Errorf("configure pulse generator %s: %w", g.cfg.CtrChannel, err)
	}
	if g.enable, err = hw.OpenDigitalLine(g.cfg.EnableLine); err != nil {
		return fmt.Errorf("configure enable line %s: %w", g.cfg.EnableLine, err)
	}
	if err := g.pulse.Start(); err != nil {
		return fmt.Errorf("start pulse generator: %w", err)
	}
	if err := g.enable.Start(); err != nil {
		return fmt.Errorf("start enable line: %w", err)
	}
	if err := g.enable.Write(false); err != nil {
		return fmt.Errorf("drive enable line low: %w", err)
	}
	return nil
}

// SetState drives the enable line. The state only changes when the write
// succeeds.
func (g *Gated) SetState(on bool) error {
	if g.enable == nil {
		return ErrNotStarted
	}
	if err := g.enable.Write(on); err != nil {
		return fmt.Errorf("set gated laser state %d: %w", boolInt(on), err)
	}
	g.state = on
	return nil
}

// Stop drives the enable line low, then stops and closes the enable line and
// the pulse generator. Every sub-step is attempted.
func (g *Gated) Stop() error {
	enable, pulse := g.enable, g.pulse
	g.enable, g.pulse = nil, nil
	g.state = false

	var steps []failsafe.Step
	if enable != nil {
		steps = append(steps,
			failsafe.Step{Name: "enable write low", Fn: func() error { return enable.Write(false) }},
			failsafe.Step{Name: "enable stop", Fn: enable.Stop},
			failsafe.Step{Name: "enable close", Fn: enable.Close},
		)
	}
	if pulse != nil {
		steps = append(steps,
			failsafe.Step{Name: "counter stop", Fn: pulse.Stop},
			failsafe.Step{Name: "counter close", Fn: pulse.Close},
		)
	}
	if len(steps) == 0 {
		return nil
	}
	err := failsafe.Err(failsafe.Run(steps...))
	if err != nil {
		g.log.Opsf("gated laser stop was incomplete: %v", err)
	} else {
		g.log.Diagf("gated laser controller stopped")
	}
	return err
}

func (g *Gated) State() bool { return g.state }

func (g *Gated) Mode() Mode { return ModeGated }
