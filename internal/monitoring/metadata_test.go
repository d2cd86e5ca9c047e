package monitoring

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, MetadataFileName)

	md := SessionMetadata{
		SessionID:  "session_1",
		Status:     "completed",
		StatusCode: 0,
		ROI:        map[string]any{"type": "rect"},
		DAQ:        map[string]any{"freq_hz": math.NaN()},
		RuntimeStats: RuntimeStats{
			FramesProcessed: 50,
			AvgFPS:          math.Inf(1),
			IssueEventsFile: "/tmp/s/issue_events.jsonl",
		},
		RuntimeLogging: RuntimeLogging{Enabled: true, IssueEventsFile: "/tmp/s/issue_events.jsonl"},
	}
	require.NoError(t, WriteMetadata(path, md))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	stats := got["runtime_stats"].(map[string]any)
	assert.Equal(t, float64(50), stats["frames_processed"])
	assert.Equal(t, float64(0), stats["avg_fps"])
	assert.Equal(t, "/tmp/s/issue_events.jsonl", stats["issue_events_file"])

	logging := got["runtime_logging"].(map[string]any)
	assert.Equal(t, "/tmp/s/issue_events.jsonl", logging["issue_events_file"])

	assert.Equal(t, map[string]any{"freq_hz": nil}, got["daq"])
	assert.Equal(t, map[string]any{}, got["camera"], "nil sections are written as empty objects")

	// Rewriting replaces the file and leaves no temporary files behind.
	md.Status = "failed"
	require.NoError(t, WriteMetadata(path, md))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
