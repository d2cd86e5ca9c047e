package monitoring

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpplab/closedloop/internal/timeutil"
)

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line %q", sc.Text())
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestIssueLog_WritesOneObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", DefaultIssueEventsFile)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 500000000))
	l, err := OpenIssueLog(path, true, clock, nil)
	require.NoError(t, err)

	l.Log(EventChamberTransition, LevelInfo, Fields{"frame_idx": 4, "from_chamber": "unknown", "to_chamber": "chamber1"})
	l.Log(EventLowConfidence, "warning", Fields{"p": math.NaN(), "x": math.Inf(1), "window": []float64{1, math.NaN()}})

	// Each line is on disk before Close.
	events := readEvents(t, path)
	require.Len(t, events, 2)

	assert.Equal(t, "chamber_transition", events[0]["event"])
	assert.Equal(t, "INFO", events[0]["level"])
	assert.Equal(t, 1700000000.5, events[0]["t_wall"])
	assert.Equal(t, float64(4), events[0]["frame_idx"])
	assert.Equal(t, "chamber1", events[0]["to_chamber"])

	assert.Equal(t, "WARNING", events[1]["level"])
	assert.Nil(t, events[1]["p"])
	assert.Contains(t, events[1], "p")
	assert.Nil(t, events[1]["x"])
	assert.Equal(t, []any{float64(1), nil}, events[1]["window"])

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	l.Log(EventHeartbeat, LevelInfo, nil)
	assert.Len(t, readEvents(t, path), 2, "events after close are dropped")
	assert.Equal(t, 2, l.Written())
	assert.Equal(t, path, l.Path())
}

func TestIssueLog_AppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultIssueEventsFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"event":"earlier","level":"INFO","t_wall":1}`+"\n"), 0o644))

	l, err := OpenIssueLog(path, true, nil, nil)
	require.NoError(t, err)
	l.Log(EventSessionStart, LevelInfo, nil)
	require.NoError(t, l.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, "earlier", events[0]["event"])
	assert.Equal(t, "session_start", events[1]["event"])
}

func TestIssueLog_Disabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultIssueEventsFile)
	l, err := OpenIssueLog(path, false, nil, nil)
	require.NoError(t, err)
	l.Log(EventSessionStart, LevelInfo, nil)
	require.NoError(t, l.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, l.Enabled())
	assert.Empty(t, l.Path())

	var nilLog *IssueLog
	assert.NotPanics(t, func() { nilLog.Log(EventSessionEnd, LevelInfo, nil) })
	assert.NotPanics(t, func() { DisabledIssueLog().Log(EventSessionEnd, LevelInfo, nil) })
}

func TestIssueLog_WriteFailureIsCountedNotReturned(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultIssueEventsFile)
	var ops bytes.Buffer
	l, err := OpenIssueLog(path, true, nil, NewLogger("issues", LogWriters{Ops: &ops}))
	require.NoError(t, err)

	// Closing the file underneath the log makes every write fail.
	require.NoError(t, l.file.Close())
	for i := 0; i < 8; i++ {
		l.Log(EventHeartbeat, LevelInfo, Fields{"frames": i})
	}
	assert.Equal(t, 8, l.Failures())
	assert.Equal(t, 0, l.Written())
	assert.Equal(t, maxIssueFailureOpsReport, bytes.Count(ops.Bytes(), []byte("issue log write failed")))
}

func TestJSONSafe(t *testing.T) {
	assert.Nil(t, JSONSafe(math.NaN()))
	assert.Nil(t, JSONSafe(float32(math.Inf(-1))))
	assert.Equal(t, 1.5, JSONSafe(1.5))
	assert.Equal(t, 0.25, JSONSafe(250*time.Millisecond))
	assert.Equal(t, "boom", JSONSafe(errors.New("boom")))
	assert.Equal(t, map[string]any{"a": nil, "b": []any{"x"}}, JSONSafe(Fields{"a": math.NaN(), "b": []any{"x"}}))
	assert.Equal(t, "chamber1", JSONSafe("chamber1"))
}
