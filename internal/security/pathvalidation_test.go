package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateFileName(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{"plain", "issue_events.jsonl", false},
		{"session id", "session_20240501_120000", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dot dot", "..", true},
		{"nested", "logs/issues.jsonl", true},
		{"traversal", "../escape", true},
		{"backslash", `logs\issues.jsonl`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileName(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateFileName(%q) error = %v, wantError %v", tt.input, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	outDir := filepath.Join(tmpDir, "data")
	elsewhere := filepath.Join(tmpDir, "elsewhere")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		t.Fatalf("Failed to create out directory: %v", err)
	}
	if err := os.MkdirAll(elsewhere, 0755); err != nil {
		t.Fatalf("Failed to create other directory: %v", err)
	}

	// A session directory that is a symlink out of the output directory.
	linked := filepath.Join(outDir, "session_linked")
	if err := os.Symlink(elsewhere, linked); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		path      string
		dir       string
		wantError bool
	}{
		{
			name: "session directory",
			path: filepath.Join(outDir, "session_1"),
			dir:  outDir,
		},
		{
			name: "file in a session that does not exist yet",
			path: filepath.Join(outDir, "session_2", "metadata.json"),
			dir:  outDir,
		},
		{
			name: "directory itself",
			path: outDir,
			dir:  outDir,
		},
		{
			name:      "traversal with ..",
			path:      filepath.Join(outDir, "..", "elsewhere"),
			dir:       outDir,
			wantError: true,
		},
		{
			name:      "absolute path outside",
			path:      "/etc/passwd",
			dir:       outDir,
			wantError: true,
		},
		{
			name:      "symlinked session directory",
			path:      linked,
			dir:       outDir,
			wantError: true,
		},
		{
			name:      "file below a symlinked session directory",
			path:      filepath.Join(linked, "run.log"),
			dir:       outDir,
			wantError: true,
		},
		{
			name:      "missing directory",
			path:      filepath.Join(tmpDir, "nope", "x"),
			dir:       filepath.Join(tmpDir, "nope"),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, tt.dir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q, %q) error = %v, wantError %v", tt.path, tt.dir, err, tt.wantError)
			}
		})
	}
}
