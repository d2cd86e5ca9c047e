package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestMockClock_AdvanceAndSince(t *testing.T) {
	start := time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if got := clock.Since(start); got != 0 {
		t.Fatalf("Since(start) = %v, want 0", got)
	}

	clock.Advance(150 * time.Millisecond)
	if got := clock.Since(start); got != 150*time.Millisecond {
		t.Errorf("Since(start) after Advance = %v, want 150ms", got)
	}

	clock.Advance(time.Hour)
	if want := start.Add(time.Hour + 150*time.Millisecond); !clock.Now().Equal(want) {
		t.Errorf("Now() after second Advance = %v, want %v", clock.Now(), want)
	}
}

func TestMockClock_Reads(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	clock.Now()
	clock.Since(time.Unix(0, 0))

	if got := clock.Reads(); got != 2 {
		t.Errorf("Reads() = %d, want 2", got)
	}
}
