// Package roi classifies tracked positions against the configured chamber
// regions of the arena.
package roi

import (
	"fmt"
	"math"
	"strings"
)

// Label is the chamber classification of one position.
type Label string

const (
	Unknown  Label = "unknown"
	Neutral  Label = "neutral"
	Chamber1 Label = "chamber1"
	Chamber2 Label = "chamber2"
)

// IsChamber reports whether l is one of the two primary chambers.
func (l Label) IsChamber() bool {
	return l == Chamber1 || l == Chamber2
}

// NeutralStrategy controls how a position in the neutral region is treated.
type NeutralStrategy string

const (
	NeutralOff      NeutralStrategy = "off"
	NeutralHoldLast NeutralStrategy = "hold_last"
	NeutralUnknown  NeutralStrategy = "unknown"
)

// ParseNeutralStrategy parses a strategy name. An empty string selects
// NeutralOff.
func ParseNeutralStrategy(s string) (NeutralStrategy, error) {
	switch v := NeutralStrategy(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return NeutralOff, nil
	case NeutralOff, NeutralHoldLast, NeutralUnknown:
		return v, nil
	default:
		return NeutralOff, fmt.Errorf("unsupported strategy_on_neutral %q: expected off, hold_last or unknown", s)
	}
}

// Point is a pixel position. Either coordinate may be NaN when no position
// is known.
type Point struct {
	X float64
	Y float64
}

// InvalidPoint returns the "no position" marker.
func InvalidPoint() Point {
	return Point{X: math.NaN(), Y: math.NaN()}
}

// Valid reports whether both coordinates are finite.
func (p Point) Valid() bool {
	return isFinite(p.X) && isFinite(p.Y)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Region is a closed area of the image plane. Boundaries are inclusive.
type Region interface {
	Contains(p Point) bool
	Points() []Point
}

// Layout holds the chamber regions of one arena.
type Layout struct {
	Chamber1 Region
	Chamber2 Region
	// Neutral is optional.
	Neutral  Region
	Strategy NeutralStrategy
	// Kind is the configured region type ("rect" or "polygon"), kept for
	// session metadata.
	Kind string
}

// NewLayout validates and returns a Layout.
func NewLayout(chamber1, chamber2, neutral Region, strategy NeutralStrategy, kind string) (*Layout, error) {
	if chamber1 == nil || chamber2 == nil {
		return nil, fmt.Errorf("chamber1 and chamber2 regions are required")
	}
	if strategy == "" {
		strategy = NeutralOff
	}
	return &Layout{
		Chamber1: chamber1,
		Chamber2: chamber2,
		Neutral:  neutral,
		Strategy: strategy,
		Kind:     kind,
	}, nil
}

// Classify returns the label of p. The neutral region is tested first, then
// chamber1, then chamber2; when chamber regions overlap chamber1 wins.
// Positions with non-finite coordinates are Unknown.
func (l *Layout) Classify(p Point) Label {
	if !p.Valid() {
		return Unknown
	}
	if l.Neutral != nil && l.Neutral.Contains(p) {
		return Neutral
	}
	if l.Chamber1.Contains(p) {
		return Chamber1
	}
	if l.Chamber2.Contains(p) {
		return Chamber2
	}
	return Unknown
}

// Describe returns the layout as plain values for session metadata.
func (l *Layout) Describe() map[string]any {
	out := map[string]any{
		"type":                l.Kind,
		"chamber1":            pointPairs(l.Chamber1.Points()),
		"chamber2":            pointPairs(l.Chamber2.Points()),
		"strategy_on_neutral": string(l.Strategy),
	}
	if l.Neutral != nil {
		out["neutral"] = pointPairs(l.Neutral.Points())
	}
	return out
}

func pointPairs(pts []Point) [][2]float64 {
	out := make([][2]float64, len(pts))
	for i, p := range pts {
		out[i] = [2]float64{p.X, p.Y}
	}
	return out
}
