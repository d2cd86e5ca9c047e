package laser

import (
	"fmt"
	"time"

	"github.com/cpplab/closedloop/internal/failsafe"
	"github.com/cpplab/closedloop/internal/monitoring"
	"github.com/cpplab/closedloop/internal/timeutil"
)

// StartStop energizes the laser by starting the pulse generator and
// de-energizes it by stopping it. Requests arriving before the minimum dwell
// time since the last applied switch are ignored.
type StartStop struct {
	cfg        Config
	open       Opener
	clock      timeutil.Clock
	log        *monitoring.Logger
	pulse      PulseGenerator
	running    bool
	lastSwitch time.Time
}

// NewStartStop returns an unstarted StartStop controller.
func NewStartStop(cfg Config, open Opener, clock timeutil.Clock, log *monitoring.Logger) *StartStop {
	if log == nil {
		log = monitoring.Discard()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &StartStop{cfg: cfg, open: open, clock: clock, log: log}
}

// Start configures the pulse generator without starting it. The dwell
// timer starts now, so an ON request within MinOff of Start is ignored.
func (s *StartStop) Start() error {
	if err := s.start(); err != nil {
		if stopErr := s.Stop(); stopErr != nil {
			s.log.Diagf("startstop cleanup after failed start: %v", stopErr)
		}
		return &InitError{Mode: ModeStartStop, Err: err}
	}
	s.running = false
	s.lastSwitch = s.clock.Now()
	s.log.Opsf("startstop laser controller started: ctr=%s freq=%.2fHz duty=%.3f min_on=%s min_off=%s",
		s.cfg.CtrChannel, s.cfg.FreqHz, s.cfg.DutyCycle, s.cfg.MinOn, s.cfg.MinOff)
	return nil
}

func (s *StartStop) start() error {
	hw, err := s.open()
	if err != nil {
		return fmt.Errorf("open DAQ: %w", err)
	}
	if s.pulse, err = hw.OpenPulseGenerator(s.cfg.PulseSpec()); err != nil {
		return fmt.Errorf("configure pulse generator %s: %w", s.cfg.CtrChannel, err)
	}
	return nil
}

// SetState applies the request unless it is within the dwell window or
// already in effect.
func (s *StartStop) SetState(on bool) error {
	if s.pulse == nil {
		return ErrNotStarted
	}

	now := s.clock.Now()
	elapsed := now.Sub(s.lastSwitch)

	switch {
	case on && !s.running:
		if elapsed < s.cfg.MinOff {
			return nil
		}
		if err := s.pulse.Start(); err != nil {
			return fmt.Errorf("start pulse generator: %w", err)
		}
		s.running = true
		s.lastSwitch = now
	case !on && s.running:
		if elapsed < s.cfg.MinOn {
			return nil
		}
		if err := s.pulse.Stop(); err != nil {
			return fmt.Errorf("stop pulse generator: %w", err)
		}
		s.running = false
		s.lastSwitch = now
	}
	return nil
}

// Stop stops the pulse generator if it is running and releases it,
// regardless of dwell times.
func (s *StartStop) Stop() error {
	pulse, running := s.pulse, s.running
	s.pulse = nil
	s.running = false
	if pulse == nil {
		return nil
	}

	var steps []failsafe.Step
	if running {
		steps = append(steps, failsafe.Step{Name: "counter stop", Fn: pulse.Stop})
	}
	steps = append(steps, failsafe.Step{Name: "counter close", Fn: pulse.Close})

	err := failsafe.Err(failsafe.Run(steps...))
	if err != nil {
		s.log.Opsf("startstop laser stop was incomplete: %v", err)
	} else {
		s.log.Diagf("startstop laser controller stopped")
	}
	return err
}

func (s *StartStop) State() bool { return s.running }

func (s *StartStop) Mode() Mode { return ModeStartStop }
