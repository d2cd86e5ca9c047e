package roi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Region kinds accepted in configuration.
const (
	KindRect    = "rect"
	KindPolygon = "polygon"
)

// Spec is the configuration view of a layout: region point lists as decoded
// from JSON or YAML, plus the region type and neutral strategy.
type Spec struct {
	Kind     string
	Chamber1 []any
	Chamber2 []any
	Neutral  []any
	Strategy string
}

// FromSpec builds a Layout from configuration values.
func FromSpec(s Spec) (*Layout, error) {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if kind == "" {
		kind = KindPolygon
	}
	if kind != KindRect && kind != KindPolygon {
		return nil, fmt.Errorf("unsupported roi type %q: expected rect or polygon", s.Kind)
	}

	chamber1, err := Build(kind, s.Chamber1)
	if err != nil {
		return nil, fmt.Errorf("chamber1: %w", err)
	}
	chamber2, err := Build(kind, s.Chamber2)
	if err != nil {
		return nil, fmt.Errorf("chamber2: %w", err)
	}

	var neutral Region
	if len(s.Neutral) > 0 {
		if neutral, err = Build(kind, s.Neutral); err != nil {
			return nil, fmt.Errorf("neutral: %w", err)
		}
	}

	strategy, err := ParseNeutralStrategy(s.Strategy)
	if err != nil {
		return nil, err
	}
	return NewLayout(chamber1, chamber2, neutral, strategy, kind)
}

// Build converts a raw point list into a Region of the given kind.
//
// Polygons take a list of [x, y] pairs. Rectangles accept a flat
// [x1, y1, x2, y2], two corner points, or four corner points (whose bounding
// box is used).
func Build(kind string, raw []any) (Region, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("region points are required")
	}
	if kind == KindRect {
		return buildRect(raw)
	}
	pts, err := asPoints(raw)
	if err != nil {
		return nil, err
	}
	return NewPolygon(pts)
}

func buildRect(raw []any) (Region, error) {
	if len(raw) == 4 && !isSequence(raw[0]) {
		var v [4]float64
		for i, item := range raw {
			f, err := toFloat(item)
			if err != nil {
				return nil, fmt.Errorf("rect value %d: %w", i, err)
			}
			v[i] = f
		}
		return NewRect(v[0], v[1], v[2], v[3]), nil
	}

	pts, err := asPoints(raw)
	if err != nil {
		return nil, err
	}
	switch len(pts) {
	case 2:
		return NewRect(pts[0].X, pts[0].Y, pts[1].X, pts[1].Y), nil
	case 4:
		r := NewRect(pts[0].X, pts[0].Y, pts[0].X, pts[0].Y)
		for _, p := range pts[1:] {
			r = NewRect(min(r.X1, p.X), min(r.Y1, p.Y), max(r.X2, p.X), max(r.Y2, p.Y))
		}
		return r, nil
	default:
		return nil, fmt.Errorf("rect expects 2 points, 4 corner points, or [x1,y1,x2,y2], got %d points", len(pts))
	}
}

func asPoints(raw []any) ([]Point, error) {
	pts := make([]Point, 0, len(raw))
	for i, item := range raw {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("point %d must be [x, y]", i)
		}
		x, err := toFloat(pair[0])
		if err != nil {
			return nil, fmt.Errorf("point %d x: %w", i, err)
		}
		y, err := toFloat(pair[1])
		if err != nil {
			return nil, fmt.Errorf("point %d y: %w", i, err)
		}
		pts = append(pts, Point{X: x, Y: y})
	}
	return pts, nil
}

func isSequence(v any) bool {
	_, ok := v.([]any)
	return ok
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
