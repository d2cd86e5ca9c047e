// Package policy decides whether the laser should be energized for a stable
// chamber classification.
package policy

import (
	"fmt"
	"strings"

	"github.com/cpplab/closedloop/internal/roi"
)

// UnknownPolicy controls the laser when the animal's chamber is unknown.
type UnknownPolicy string

const (
	UnknownOff      UnknownPolicy = "off"
	UnknownHoldLast UnknownPolicy = "hold_last"
)

// ParseUnknownPolicy parses a policy name. An empty string selects UnknownOff.
func ParseUnknownPolicy(s string) (UnknownPolicy, error) {
	switch v := UnknownPolicy(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return UnknownOff, nil
	case UnknownOff, UnknownHoldLast:
		return v, nil
	default:
		return UnknownOff, fmt.Errorf("unsupported unknown_policy %q: expected off or hold_last", s)
	}
}

// Resolver maps a stable chamber label to the desired laser state. It holds
// configuration only; every method is a pure function of its arguments.
type Resolver struct {
	Enabled bool
	Neutral roi.NeutralStrategy
	Unknown UnknownPolicy
}

// Target returns the desired laser state for the stable label, given the
// last stable label that was chamber1 or chamber2.
func (r Resolver) Target(stable, lastNonNeutral roi.Label) bool {
	if !r.Enabled {
		return false
	}
	switch stable {
	case roi.Chamber1:
		return true
	case roi.Chamber2:
		return false
	case roi.Neutral:
		switch r.Neutral {
		case roi.NeutralHoldLast:
			return lastNonNeutral == roi.Chamber1
		case roi.NeutralUnknown:
			return r.unknown(lastNonNeutral)
		default:
			return false
		}
	default:
		return r.unknown(lastNonNeutral)
	}
}

func (r Resolver) unknown(lastNonNeutral roi.Label) bool {
	if r.Unknown == UnknownHoldLast {
		return lastNonNeutral == roi.Chamber1
	}
	return false
}

// Candidate remaps a raw geometry label before it is debounced. Only the
// neutral label is affected: hold_last substitutes the last chamber (or
// unknown when there is none), unknown maps it to unknown, and off keeps it.
func (r Resolver) Candidate(raw, lastNonNeutral roi.Label) roi.Label {
	if raw != roi.Neutral {
		return raw
	}
	switch r.Neutral {
	case roi.NeutralHoldLast:
		if lastNonNeutral.IsChamber() {
			return lastNonNeutral
		}
		return roi.Unknown
	case roi.NeutralUnknown:
		return roi.Unknown
	default:
		return roi.Neutral
	}
}

// TrackLastNonNeutral returns the updated "last chamber" given a new stable
// label. Neutral and unknown never replace it.
func TrackLastNonNeutral(prev, stable roi.Label) roi.Label {
	if stable.IsChamber() {
		return stable
	}
	return prev
}
