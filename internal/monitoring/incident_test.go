package monitoring

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentFileName(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	assert.Equal(t, "incident_report_20260314_092653_589793.json", IncidentFileName(at))
}

func TestWriteIncident_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	report := IncidentReport{
		SessionID:        "session_20260314_092600",
		ExceptionType:    "hardware_write",
		ExceptionMessage: "set gated laser state 1: device unplugged",
		State:            "Running",
		LastContext:      map[string]any{"frame_idx": 41, "chamber": "chamber1", "laser_state": 1, "x": math.NaN()},
	}

	first, err := WriteIncident(dir, at, report)
	require.NoError(t, err)
	second, err := WriteIncident(dir, at, report)
	require.NoError(t, err)
	third, err := WriteIncident(dir, at, report)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "incident_report_20260314_092653_000000.json"), first)
	assert.Equal(t, filepath.Join(dir, "incident_report_20260314_092653_000000_1.json"), second)
	assert.Equal(t, filepath.Join(dir, "incident_report_20260314_092653_000000_2.json"), third)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, "hardware_write", got["exception_type"])
	assert.Equal(t, "set gated laser state 1: device unplugged", got["exception_message"])
	assert.Equal(t, "2026-03-14T09:26:53Z", got["time_utc"])
	ctx, ok := got["last_context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(41), ctx["frame_idx"])
	assert.Nil(t, ctx["x"])
}

func TestWriteIncident_EmptyContext(t *testing.T) {
	path, err := WriteIncident(t.TempDir(), time.Now(), IncidentReport{ExceptionType: "acquisition"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_context": {}`)
}

func TestWriteIncident_MissingDir(t *testing.T) {
	_, err := WriteIncident(filepath.Join(t.TempDir(), "gone"), time.Now(), IncidentReport{})
	assert.Error(t, err)
}
