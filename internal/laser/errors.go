package laser

import (
	"errors"
	"fmt"
)

// ErrHardwareInit is matched by every *InitError.
var ErrHardwareInit = errors.New("laser hardware init failed")

// ErrNotStarted is returned by SetState on a hardware controller that has
// not been started (or has already been stopped).
var ErrNotStarted = errors.New("laser controller is not started")

// InitError reports a configuration or hardware initialization failure of a
// hardware-backed controller. The caller decides whether to fall back to
// DryRun.
type InitError struct {
	Mode Mode
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s laser controller: %v", e.Mode, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrHardwareInit) true for any InitError.
func (e *InitError) Is(target error) bool {
	return target == ErrHardwareInit
}
