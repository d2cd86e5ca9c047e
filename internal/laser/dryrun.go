package laser

import "github.com/cpplab/closedloop/internal/monitoring"

// DryRun is a controller with no hardware. It records the requested state.
type DryRun struct {
	log   *monitoring.Logger
	state bool
}

// NewDryRun returns a DryRun controller.
func NewDryRun(log *monitoring.Logger) *DryRun {
	if log == nil {
		log = monitoring.Discard()
	}
	return &DryRun{log: log}
}

func (d *DryRun) Start() error {
	d.state = false
	d.log.Opsf("dryrun laser controller started (no hardware output)")
	return nil
}

func (d *DryRun) SetState(on bool) error {
	if on != d.state {
		d.log.Tracef("dryrun laser state -> %d", boolInt(on))
	}
	d.state = on
	return nil
}

func (d *DryRun) Stop() error {
	d.state = false
	d.log.Diagf("dryrun laser controller stopped")
	return nil
}

func (d *DryRun) State() bool { return d.state }

func (d *DryRun) Mode() Mode { return ModeDryRun }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
