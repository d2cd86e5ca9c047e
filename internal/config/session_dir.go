package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cpplab/closedloop/internal/security"
)

// SessionDir describes a prepared session output directory.
type SessionDir struct {
	ID           string
	Path         string
	ConfigCopy   string
	ConfigSHA256 string
}

// ResolveSessionID expands the automatic session id forms ("", "auto",
// "auto_timestamp") into session_YYYYMMDD_HHMMSS using local time.
func ResolveSessionID(raw string, now time.Time) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto", "auto_timestamp":
		return "session_" + now.Local().Format("20060102_150405")
	default:
		return strings.TrimSpace(raw)
	}
}

// PrepareSessionDir creates <out_dir>/<session_id> and writes the effective
// configuration into it as config_used.<ext>. The returned digest is the
// SHA-256 of the written copy.
func PrepareSessionDir(cfg *Config, format Format, now time.Time) (SessionDir, error) {
	id := ResolveSessionID(cfg.GetSessionID(), now)
	if err := security.ValidateFileName(id); err != nil {
		return SessionDir{}, fmt.Errorf("invalid session id: %w", err)
	}

	outDir := cfg.GetOutDir()
	dir := filepath.Join(outDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SessionDir{}, fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := security.ValidatePathWithinDirectory(dir, outDir); err != nil {
		return SessionDir{}, err
	}

	data, err := cfg.Encode(format)
	if err != nil {
		return SessionDir{}, fmt.Errorf("failed to encode config copy: %w", err)
	}
	copyPath := filepath.Join(dir, "config_used."+string(format))
	if err := os.WriteFile(copyPath, data, 0o644); err != nil {
		return SessionDir{}, fmt.Errorf("failed to write config copy: %w", err)
	}

	sum := sha256.Sum256(data)
	return SessionDir{
		ID:           id,
		Path:         dir,
		ConfigCopy:   copyPath,
		ConfigSHA256: hex.EncodeToString(sum[:]),
	}, nil
}
