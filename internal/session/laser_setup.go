package session

import (
	"github.com/cpplab/closedloop/internal/laser"
	"github.com/cpplab/closedloop/internal/monitoring"
	"github.com/cpplab/closedloop/internal/timeutil"
)

// Outcome tags how laser setup ended.
type Outcome int

const (
	// OutcomeReady means the configured controller started.
	OutcomeReady Outcome = iota
	// OutcomeFallback means the configured controller could not start and a
	// dry-run controller was started in its place.
	OutcomeFallback
	// OutcomeFatal means no controller is available.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeFallback:
		return "fallback"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// LaserSetup is the result of SetupLaser. Controller is started for Ready
// and Fallback and nil for Fatal. Err carries the initialization failure for
// Fallback and Fatal.
type LaserSetup struct {
	Outcome    Outcome
	Controller laser.Controller
	Err        error
}

// SetupLaser builds and starts the controller described by cfg. When that
// fails and fallback is set, a dry-run controller is started instead.
func SetupLaser(cfg laser.Config, fallback bool, opener laser.Opener, clock timeutil.Clock, log *monitoring.Logger) LaserSetup {
	c, err := laser.New(cfg, opener, clock, log)
	if err == nil {
		if err = c.Start(); err == nil {
			return LaserSetup{Outcome: OutcomeReady, Controller: c}
		}
	}
	if !fallback {
		return LaserSetup{Outcome: OutcomeFatal, Err: err}
	}

	dry := laser.NewDryRun(log)
	if startErr := dry.Start(); startErr != nil {
		return LaserSetup{Outcome: OutcomeFatal, Err: startErr}
	}
	return LaserSetup{Outcome: OutcomeFallback, Controller: dry, Err: err}
}
