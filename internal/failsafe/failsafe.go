// Package failsafe runs ordered cleanup actions where no failure may prevent
// a later action from being attempted.
package failsafe

import (
	"errors"
	"fmt"
)

// Step is one named cleanup action.
type Step struct {
	Name string
	Fn   func() error
}

// Outcome records what happened when a Step ran.
type Outcome struct {
	Name string
	Err  error
}

// Run executes every step in order. A step that returns an error or panics is
// recorded and the next step still runs. The returned slice has one entry per
// step, in order.
func Run(steps ...Step) []Outcome {
	out := make([]Outcome, 0, len(steps))
	for _, s := range steps {
		out = append(out, Outcome{Name: s.Name, Err: attempt(s)})
	}
	return out
}

func attempt(s Step) (err error) {
	if s.Fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", s.Name, r)
		}
	}()
	return s.Fn()
}

// Err joins the failed outcomes into a single error, prefixing each with the
// step name. It returns nil when every step succeeded.
func Err(outcomes []Outcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Name, o.Err))
		}
	}
	return errors.Join(errs...)
}
