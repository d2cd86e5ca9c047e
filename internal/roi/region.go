package roi

import (
	"fmt"
	"math"
)

// edgeEpsilon is the tolerance used to decide that a point lies on a
// polygon edge.
const edgeEpsilon = 1e-9

// Rect is an axis-aligned rectangle with X1 <= X2 and Y1 <= Y2.
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// NewRect returns the rectangle spanned by two opposite corners in any order.
func NewRect(x1, y1, x2, y2 float64) Rect {
	return Rect{
		X1: math.Min(x1, x2),
		Y1: math.Min(y1, y2),
		X2: math.Max(x1, x2),
		Y2: math.Max(y1, y2),
	}
}

// Contains reports whether p lies inside r or on its boundary.
func (r Rect) Contains(p Point) bool {
	return r.X1 <= p.X && p.X <= r.X2 && r.Y1 <= p.Y && p.Y <= r.Y2
}

// Points returns the four corners, clockwise from (X1, Y1).
func (r Rect) Points() []Point {
	return []Point{
		{r.X1, r.Y1},
		{r.X2, r.Y1},
		{r.X2, r.Y2},
		{r.X1, r.Y2},
	}
}

// Polygon is a simple polygon given by its vertices in order. The closing
// edge from the last vertex back to the first is implicit.
type Polygon struct {
	vertices []Point
}

// NewPolygon returns a polygon over the given vertices.
func NewPolygon(vertices []Point) (*Polygon, error) {
	if len(vertices) < 3 {
		return nil, fmt.Errorf("polygon requires at least 3 points, got %d", len(vertices))
	}
	for i, v := range vertices {
		if !v.Valid() {
			return nil, fmt.Errorf("polygon vertex %d is not finite: (%v, %v)", i, v.X, v.Y)
		}
	}
	pts := make([]Point, len(vertices))
	copy(pts, vertices)
	return &Polygon{vertices: pts}, nil
}

// Contains reports whether p lies inside the polygon or on one of its edges.
// Interior points are found by ray casting towards +X.
func (g *Polygon) Contains(p Point) bool {
	n := len(g.vertices)
	for i := 0; i < n; i++ {
		if onSegment(p, g.vertices[i], g.vertices[(i+1)%n]) {
			return true
		}
	}

	inside := false
	for i := 0; i < n; i++ {
		a := g.vertices[i]
		b := g.vertices[(i+1)%n]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xCross := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// Points returns a copy of the vertices.
func (g *Polygon) Points() []Point {
	out := make([]Point, len(g.vertices))
	copy(out, g.vertices)
	return out
}

// onSegment reports whether p lies on the closed segment ab.
func onSegment(p, a, b Point) bool {
	cross := (p.X-a.X)*(b.Y-a.Y) - (p.Y-a.Y)*(b.X-a.X)
	if math.Abs(cross) > edgeEpsilon {
		return false
	}
	dot := (p.X-a.X)*(p.X-b.X) + (p.Y-a.Y)*(p.Y-b.Y)
	return dot <= edgeEpsilon
}
