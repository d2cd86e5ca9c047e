package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cpplab/closedloop/internal/monitoring"
	"github.com/cpplab/closedloop/internal/recorder"
)

// DefaultBatchSize is the number of frames inserted per transaction.
const DefaultBatchSize = 200

// SessionInfo identifies a session when it starts.
type SessionInfo struct {
	UUID         string
	ID           string
	Dir          string
	StartedAt    time.Time
	ConfigSHA256 string
	LaserMode    string
}

// SessionSummary is recorded when a session ends.
type SessionSummary struct {
	EndedAt            time.Time
	Status             string
	StatusCode         int
	Frames             int
	ChamberTransitions int
	LaserTransitions   int
	IncidentReport     string
}

// Mirror writes one session's frames and issue events to the database.
// Frames are buffered and inserted in batches; events are inserted as they
// arrive. It is owned by the control loop and not safe for concurrent use.
type Mirror struct {
	db        *DB
	owned     bool
	uuid      string
	batch     []recorder.Frame
	batchSize int
}

// NewMirror returns a Mirror on db. When owned is set, Close also closes db.
func NewMirror(db *DB, batchSize int, owned bool) *Mirror {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Mirror{db: db, owned: owned, batchSize: batchSize}
}

// OpenMirror opens the database at path and returns a Mirror that owns it.
func OpenMirror(path string, log *monitoring.Logger) (*Mirror, error) {
	db, err := Open(path, log)
	if err != nil {
		return nil, err
	}
	return NewMirror(db, DefaultBatchSize, true), nil
}

// BeginSession inserts the session row. It must be called before any other
// Record call.
func (m *Mirror) BeginSession(info SessionInfo) error {
	if info.UUID == "" {
		return errors.New("session uuid is required")
	}
	_, err := m.db.Exec(
		`INSERT INTO sessions (session_uuid, session_id, session_dir, started_at, config_sha256, laser_mode)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		info.UUID, info.ID, info.Dir, monitoring.UnixSeconds(info.StartedAt), info.ConfigSHA256, info.LaserMode,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	m.uuid = info.UUID
	return nil
}

// RecordFrame buffers a frame, inserting the batch when it is full.
func (m *Mirror) RecordFrame(f recorder.Frame) error {
	if m.uuid == "" {
		return errors.New("mirror session not started")
	}
	m.batch = append(m.batch, f)
	if len(m.batch) >= m.batchSize {
		return m.Flush()
	}
	return nil
}

// Flush inserts all buffered frames in one transaction. The buffer is
// cleared even when the insert fails, so a broken database cannot grow it
// without bound.
func (m *Mirror) Flush() error {
	if len(m.batch) == 0 {
		return nil
	}
	batch := m.batch
	m.batch = m.batch[:0]

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin frame batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO frames (session_uuid, frame_idx, t_wall, x, y, p, chamber_raw, chamber, laser_state, inference_ms, fps_est)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare frame insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range batch {
		laser := 0
		if f.LaserState {
			laser = 1
		}
		if _, err := stmt.Exec(
			m.uuid, f.Index, f.TWall, nullFloat(f.X), nullFloat(f.Y), nullFloat(f.P),
			f.ChamberRaw, f.Chamber, laser, nullFloat(f.InferenceMS), nullFloat(f.FPS),
		); err != nil {
			return fmt.Errorf("insert frame %d: %w", f.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit frame batch: %w", err)
	}
	return nil
}

// RecordEvent inserts one issue event.
func (m *Mirror) RecordEvent(at time.Time, event string, level monitoring.Level, fields monitoring.Fields) error {
	if m.uuid == "" {
		return errors.New("mirror session not started")
	}
	encoded, err := json.Marshal(monitoring.JSONSafe(fields))
	if err != nil {
		return fmt.Errorf("encode event fields: %w", err)
	}
	if fields == nil {
		encoded = []byte("{}")
	}
	_, err = m.db.Exec(
		`INSERT INTO issue_events (session_uuid, t_wall, event, level, fields_json) VALUES (?, ?, ?, ?, ?)`,
		m.uuid, monitoring.UnixSeconds(at), event, string(level), string(encoded),
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", event, err)
	}
	return nil
}

// EndSession flushes buffered frames and records the summary.
func (m *Mirror) EndSession(s SessionSummary) error {
	if m.uuid == "" {
		return errors.New("mirror session not started")
	}
	flushErr := m.Flush()
	_, err := m.db.Exec(
		`UPDATE sessions SET ended_at = ?, status = ?, status_code = ?, frames = ?,
		        chamber_transitions = ?, laser_transitions = ?, incident_report = ?
		 WHERE session_uuid = ?`,
		monitoring.UnixSeconds(s.EndedAt), s.Status, s.StatusCode, s.Frames,
		s.ChamberTransitions, s.LaserTransitions, nullString(s.IncidentReport), m.uuid,
	)
	if err != nil {
		err = fmt.Errorf("update session: %w", err)
	}
	return errors.Join(flushErr, err)
}

// Close releases the database if the Mirror owns it. Buffered frames are
// not written; call EndSession first.
func (m *Mirror) Close() error {
	if !m.owned || m.db == nil {
		return nil
	}
	db := m.db
	m.db = nil
	return db.Close()
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
