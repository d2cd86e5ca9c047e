package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpplab/closedloop/internal/config"
	"github.com/cpplab/closedloop/internal/monitoring"
	"github.com/cpplab/closedloop/internal/session"
)

const gatedConfig = `
project:
  session_id: cli_test
roi:
  type: rect
  chamber1: [0, 0, 100, 100]
  chamber2: [200, 0, 300, 100]
  debounce_frames: 3
laser_control:
  mode: gated
  ctr_channel: Dev1/ctr0
  enable_line: Dev1/port0/line0
  min_on_s: 0
  min_off_s: 0
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// replayFile writes n pose lines alternating chambers every 10 frames.
func replayFile(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("x,y,p\n")
	for i := 0; i < n; i++ {
		x := 50
		if (i/10)%2 == 1 {
			x = 250
		}
		fmt.Fprintf(&b, "%d,50,0.95\n", x)
	}
	return writeFile(t, dir, "poses.csv", b.String())
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cpp-live dev")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "session.yaml", gatedConfig+"  daq:\n    simulate: true\n")

	out, _, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "mode=gated")
	assert.Contains(t, out, "port=simulated")
	assert.Contains(t, out, "debounce_frames=3")
	assert.Contains(t, out, "pose.path is required")

	// The first line names the temporary config path.
	_, summary, ok := strings.Cut(out, "\n")
	require.True(t, ok)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "validate_gated", []byte(summary))
}

func TestValidateCommand_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero debounce", strings.Replace(gatedConfig, "debounce_frames: 3", "debounce_frames: 0", 1)},
		{"missing enable line", strings.Replace(gatedConfig, "  enable_line: Dev1/port0/line0\n", "", 1)},
		{"unknown key", gatedConfig + "bogus: 1\n"},
		{"unknown pose source", gatedConfig + "pose:\n  source: serial\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "session.yaml", tt.content)
			_, _, err := execute(t, "validate", "--config", path)
			assert.Error(t, err)
		})
	}
}

func TestRunCommand_ReplayWithSimulatedDAQ(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "session.yaml", gatedConfig)
	poses := replayFile(t, dir, 40)
	outDir := filepath.Join(dir, "out")

	_, stderr, err := execute(t, "run",
		"--config", cfgPath,
		"--out-dir", outDir,
		"--pose-source", "replay",
		"--pose-path", poses,
		"--simulate-daq",
	)
	require.NoError(t, err)
	assert.Contains(t, stderr, "finished: status=completed code=0 frames=40")

	sessionDir := filepath.Join(outDir, "cli_test")
	for _, name := range []string{
		runLogFileName,
		session.FramesFileName,
		monitoring.MetadataFileName,
		monitoring.DefaultIssueEventsFile,
		"config_used.yaml",
	} {
		assert.FileExists(t, filepath.Join(sessionDir, name))
	}

	data, err := os.ReadFile(filepath.Join(sessionDir, monitoring.MetadataFileName))
	require.NoError(t, err)
	var md monitoring.SessionMetadata
	require.NoError(t, json.Unmarshal(data, &md))
	assert.Equal(t, "completed", md.Status)
	assert.Equal(t, "gated", md.LaserMode)
	assert.Equal(t, 40, md.RuntimeStats.FramesProcessed)
	assert.Equal(t, 4, md.RuntimeStats.ChamberTransitions)

	// The effective config records the overrides.
	used, _, err := config.Load(filepath.Join(sessionDir, "config_used.yaml"))
	require.NoError(t, err)
	assert.Equal(t, poses, used.GetPosePath())
	assert.True(t, used.GetDAQSimulate())

	runLog, err := os.ReadFile(filepath.Join(sessionDir, runLogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(runLog), "[session]")
	assert.Contains(t, string(runLog), "daq bridge connected on simulated")
}

func TestRunCommand_FallbackWithoutPort(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "session.yaml", gatedConfig)
	poses := replayFile(t, dir, 5)

	_, stderr, err := execute(t, "run",
		"--config", cfgPath,
		"--out-dir", filepath.Join(dir, "out"),
		"--pose-source", "replay",
		"--pose-path", poses,
	)
	require.NoError(t, err)
	assert.Contains(t, stderr, "status=completed")

	data, err := os.ReadFile(filepath.Join(dir, "out", "cli_test", monitoring.MetadataFileName))
	require.NoError(t, err)
	var md monitoring.SessionMetadata
	require.NoError(t, json.Unmarshal(data, &md))
	assert.Equal(t, "dryrun", md.LaserMode)
}

func TestRunCommand_FailedSessionExitsOne(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "session.yaml", gatedConfig)
	poses := writeFile(t, dir, "poses.csv", "50,50,0.9\n50,50\n")

	_, _, err := execute(t, "run",
		"--config", cfgPath,
		"--out-dir", filepath.Join(dir, "out"),
		"--pose-source", "replay",
		"--pose-path", poses,
		"--simulate-daq",
	)
	var exit exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.code)

	matches, err := filepath.Glob(filepath.Join(dir, "out", "cli_test", "incident_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRunCommand_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "session.yaml", gatedConfig)

	_, _, err := execute(t, "run", "--config", cfgPath, "--pose-source", "replay")
	assert.ErrorContains(t, err, "pose.path is required")

	_, _, err = execute(t, "run", "--config", cfgPath, "--pose-source", "carrier-pigeon")
	assert.Error(t, err)

	_, _, err = execute(t, "run")
	assert.Error(t, err, "--config is required")
}

func TestRunCommand_DurationOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "session.yaml", gatedConfig+"session:\n  duration_s: 30\n")
	poses := replayFile(t, dir, 3)

	_, _, err := execute(t, "run",
		"--config", cfgPath,
		"--out-dir", filepath.Join(dir, "out"),
		"--pose-path", poses,
		"--pose-source", "replay",
		"--duration-s", "0",
		"--simulate-daq",
	)
	require.NoError(t, err)

	used, _, err := config.Load(filepath.Join(dir, "out", "cli_test", "config_used.yaml"))
	require.NoError(t, err)
	_, limited := used.GetDuration()
	assert.False(t, limited)
}

func TestLogWriters(t *testing.T) {
	var console, file bytes.Buffer

	w := logWriters(&console, &file, false, false)
	log := monitoring.NewLogger("t", w)
	log.Opsf("ops")
	log.Diagf("diag")
	log.Tracef("trace")
	assert.Contains(t, console.String(), "ops")
	assert.NotContains(t, console.String(), "diag")
	assert.Contains(t, file.String(), "diag")
	assert.NotContains(t, file.String(), "trace")

	console.Reset()
	file.Reset()
	log = monitoring.NewLogger("t", logWriters(&console, &file, true, true))
	log.Diagf("diag")
	log.Tracef("trace")
	assert.Contains(t, console.String(), "diag")
	assert.NotContains(t, console.String(), "trace")
	assert.Contains(t, file.String(), "trace")
}
