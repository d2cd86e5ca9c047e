package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpplab/closedloop/internal/roi"
)

func TestResolver_Target(t *testing.T) {
	tests := []struct {
		name    string
		r       Resolver
		stable  roi.Label
		last    roi.Label
		desired bool
	}{
		{"disabled overrides chamber1", Resolver{Enabled: false}, roi.Chamber1, roi.Chamber1, false},
		{"chamber1 on", Resolver{Enabled: true}, roi.Chamber1, roi.Unknown, true},
		{"chamber2 off", Resolver{Enabled: true, Unknown: UnknownHoldLast}, roi.Chamber2, roi.Chamber1, false},

		{"neutral off", Resolver{Enabled: true, Neutral: roi.NeutralOff}, roi.Neutral, roi.Chamber1, false},
		{"neutral default is off", Resolver{Enabled: true}, roi.Neutral, roi.Chamber1, false},
		{"neutral hold_last after ch1", Resolver{Enabled: true, Neutral: roi.NeutralHoldLast}, roi.Neutral, roi.Chamber1, true},
		{"neutral hold_last after ch2", Resolver{Enabled: true, Neutral: roi.NeutralHoldLast}, roi.Neutral, roi.Chamber2, false},
		{"neutral defers to unknown off", Resolver{Enabled: true, Neutral: roi.NeutralUnknown, Unknown: UnknownOff}, roi.Neutral, roi.Chamber1, false},
		{"neutral defers to unknown hold_last", Resolver{Enabled: true, Neutral: roi.NeutralUnknown, Unknown: UnknownHoldLast}, roi.Neutral, roi.Chamber1, true},

		{"unknown off", Resolver{Enabled: true}, roi.Unknown, roi.Chamber1, false},
		{"unknown hold_last ch1", Resolver{Enabled: true, Unknown: UnknownHoldLast}, roi.Unknown, roi.Chamber1, true},
		{"unknown hold_last never seen", Resolver{Enabled: true, Unknown: UnknownHoldLast}, roi.Unknown, roi.Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.desired, tt.r.Target(tt.stable, tt.last))
		})
	}
}

func TestResolver_Candidate(t *testing.T) {
	hold := Resolver{Neutral: roi.NeutralHoldLast}
	assert.Equal(t, roi.Chamber2, hold.Candidate(roi.Neutral, roi.Chamber2))
	assert.Equal(t, roi.Unknown, hold.Candidate(roi.Neutral, roi.Unknown))
	assert.Equal(t, roi.Chamber1, hold.Candidate(roi.Chamber1, roi.Chamber2), "non-neutral labels pass through")

	asUnknown := Resolver{Neutral: roi.NeutralUnknown}
	assert.Equal(t, roi.Unknown, asUnknown.Candidate(roi.Neutral, roi.Chamber1))

	off := Resolver{Neutral: roi.NeutralOff}
	assert.Equal(t, roi.Neutral, off.Candidate(roi.Neutral, roi.Chamber1))
}

func TestTrackLastNonNeutral(t *testing.T) {
	assert.Equal(t, roi.Chamber1, TrackLastNonNeutral(roi.Unknown, roi.Chamber1))
	assert.Equal(t, roi.Chamber1, TrackLastNonNeutral(roi.Chamber1, roi.Neutral))
	assert.Equal(t, roi.Chamber1, TrackLastNonNeutral(roi.Chamber1, roi.Unknown))
	assert.Equal(t, roi.Chamber2, TrackLastNonNeutral(roi.Chamber1, roi.Chamber2))
}

func TestParseUnknownPolicy(t *testing.T) {
	p, err := ParseUnknownPolicy(" Hold_Last ")
	require.NoError(t, err)
	assert.Equal(t, UnknownHoldLast, p)

	p, err = ParseUnknownPolicy("")
	require.NoError(t, err)
	assert.Equal(t, UnknownOff, p)

	_, err = ParseUnknownPolicy("random")
	assert.Error(t, err)
}
