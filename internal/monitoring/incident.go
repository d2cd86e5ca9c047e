package monitoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const maxIncidentSuffix = 1000

// ErrIncidentExists is returned when every candidate incident filename is
// already taken.
var ErrIncidentExists = errors.New("incident report filename exhausted")

// IncidentReport is the one-shot snapshot written when a session fails.
type IncidentReport struct {
	IncidentID       string         `json:"incident_id"`
	TimeUTC          string         `json:"time_utc"`
	SessionID        string         `json:"session_id"`
	SessionUUID      string         `json:"session_uuid"`
	ExceptionType    string         `json:"exception_type"`
	ExceptionMessage string         `json:"exception_message"`
	State            string         `json:"state"`
	LastContext      map[string]any `json:"last_context"`
}

// IncidentFileName returns the base name for an incident at t.
func IncidentFileName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("incident_report_%s_%06d.json", t.Format("20060102_150405"), t.Nanosecond()/1000)
}

// WriteIncident writes report into dir and returns the file path. The file
// is created exclusively: if the timestamped name is taken, a numeric suffix
// is appended, so an existing report is never overwritten.
func WriteIncident(dir string, at time.Time, report IncidentReport) (string, error) {
	if report.TimeUTC == "" {
		report.TimeUTC = at.UTC().Format(time.RFC3339Nano)
	}
	if report.LastContext == nil {
		report.LastContext = map[string]any{}
	}
	report.LastContext = JSONSafe(report.LastContext).(map[string]any)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode incident report: %w", err)
	}
	data = append(data, '\n')

	base := IncidentFileName(at)
	stem := base[:len(base)-len(".json")]
	for n := 0; n < maxIncidentSuffix; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s_%d.json", stem, n)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create incident report: %w", err)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return path, fmt.Errorf("write incident report: %w", err)
		}
		return path, nil
	}
	return "", ErrIncidentExists
}
