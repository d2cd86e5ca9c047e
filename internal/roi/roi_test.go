package roi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(t *testing.T, x0, y0, size float64) *Polygon {
	t.Helper()
	g, err := NewPolygon([]Point{{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}})
	require.NoError(t, err)
	return g
}

func TestRect_Contains(t *testing.T) {
	r := NewRect(5, 6, 1, 2)

	assert.Equal(t, Rect{X1: 1, Y1: 2, X2: 5, Y2: 6}, r, "corners should be normalised")
	assert.True(t, r.Contains(Point{1, 2}))
	assert.True(t, r.Contains(Point{3, 4}))
	assert.True(t, r.Contains(Point{5, 6}))
	assert.False(t, r.Contains(Point{0, 0}))
}

func TestPolygon_ContainsInsideOutsideBoundary(t *testing.T) {
	g := square(t, 0, 0, 10)

	tests := []struct {
		name string
		p    Point
		want bool
	}{
		{"interior", Point{5, 5}, true},
		{"outside", Point{20, 20}, false},
		{"left edge", Point{0, 5}, true},
		{"vertex", Point{10, 10}, true},
		{"bottom edge", Point{4, 0}, true},
		{"just outside right edge", Point{10.001, 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Contains(tt.p))
		})
	}
}

func TestPolygon_Concave(t *testing.T) {
	// L-shaped region with the notch at the upper right.
	g, err := NewPolygon([]Point{{0, 0}, {10, 0}, {10, 5}, {5, 5}, {5, 10}, {0, 10}})
	require.NoError(t, err)

	assert.True(t, g.Contains(Point{2, 8}))
	assert.True(t, g.Contains(Point{8, 2}))
	assert.False(t, g.Contains(Point{8, 8}))
	assert.True(t, g.Contains(Point{7, 5}), "point on the inner edge")
}

func TestNewPolygon_Rejects(t *testing.T) {
	_, err := NewPolygon([]Point{{0, 0}, {1, 1}})
	assert.Error(t, err)

	_, err = NewPolygon([]Point{{0, 0}, {1, 1}, {math.NaN(), 2}})
	assert.Error(t, err)
}

func TestLayout_NeutralHasPriority(t *testing.T) {
	ch1 := square(t, 0, 0, 10)
	ch2, err := NewPolygon([]Point{{20, 0}, {30, 0}, {30, 10}, {20, 10}})
	require.NoError(t, err)
	neutral, err := NewPolygon([]Point{{5, 0}, {25, 0}, {25, 10}, {5, 10}})
	require.NoError(t, err)

	layout, err := NewLayout(ch1, ch2, neutral, NeutralOff, KindPolygon)
	require.NoError(t, err)

	assert.Equal(t, Neutral, layout.Classify(Point{7, 5}))
	assert.Equal(t, Chamber1, layout.Classify(Point{2, 5}))
	assert.Equal(t, Chamber2, layout.Classify(Point{27, 5}))
	assert.Equal(t, Unknown, layout.Classify(Point{50, 50}))
}

func TestLayout_OverlapPrefersChamber1(t *testing.T) {
	layout, err := NewLayout(NewRect(0, 0, 10, 10), NewRect(5, 0, 15, 10), nil, NeutralOff, KindRect)
	require.NoError(t, err)

	assert.Equal(t, Chamber1, layout.Classify(Point{7, 5}))
	assert.Equal(t, Chamber2, layout.Classify(Point{12, 5}))
}

// countingRegion records how often it was asked about a point.
type countingRegion struct {
	Rect
	calls int
}

func (c *countingRegion) Contains(p Point) bool {
	c.calls++
	return c.Rect.Contains(p)
}

func TestLayout_InvalidPointSkipsGeometry(t *testing.T) {
	ch1 := &countingRegion{Rect: NewRect(0, 0, 10, 10)}
	ch2 := &countingRegion{Rect: NewRect(20, 0, 30, 10)}
	layout, err := NewLayout(ch1, ch2, nil, NeutralOff, KindRect)
	require.NoError(t, err)

	for _, p := range []Point{InvalidPoint(), {math.Inf(1), 2}, {3, math.NaN()}} {
		assert.Equal(t, Unknown, layout.Classify(p))
	}
	assert.Zero(t, ch1.calls)
	assert.Zero(t, ch2.calls)
}

func TestNewLayout_RequiresChambers(t *testing.T) {
	_, err := NewLayout(nil, NewRect(0, 0, 1, 1), nil, NeutralOff, KindRect)
	assert.Error(t, err)
}

func TestParseNeutralStrategy(t *testing.T) {
	for in, want := range map[string]NeutralStrategy{
		"":           NeutralOff,
		"off":        NeutralOff,
		" HOLD_LAST": NeutralHoldLast,
		"unknown":    NeutralUnknown,
	} {
		got, err := ParseNeutralStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseNeutralStrategy("sometimes")
	assert.Error(t, err)
}

func TestLabel_IsChamber(t *testing.T) {
	assert.True(t, Chamber1.IsChamber())
	assert.True(t, Chamber2.IsChamber())
	assert.False(t, Neutral.IsChamber())
	assert.False(t, Unknown.IsChamber())
}
