package session

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/cpplab/closedloop/internal/config"
	"github.com/cpplab/closedloop/internal/failsafe"
	"github.com/cpplab/closedloop/internal/monitoring"
	"github.com/cpplab/closedloop/internal/store"
	"github.com/cpplab/closedloop/internal/version"
)

// reportFailure emits the runtime exception and writes the incident report.
// Failing to write the report is logged and otherwise ignored.
func (s *Session) reportFailure() {
	f := s.failure
	ctx := f.context
	if ctx == nil {
		ctx = s.lastContext()
	}
	s.emit(monitoring.EventRuntimeException, monitoring.LevelError, monitoring.Fields{
		"exception_type":    f.kind,
		"exception_message": f.err.Error(),
		"frame_idx":         ctx["frame_idx"],
	})

	at := s.clock.Now()
	path, err := monitoring.WriteIncident(s.opts.SessionDir, at, monitoring.IncidentReport{
		IncidentID:       s.uuid + "-" + at.UTC().Format("20060102T150405.000000"),
		SessionID:        s.opts.SessionID,
		SessionUUID:      s.uuid,
		ExceptionType:    f.kind,
		ExceptionMessage: f.err.Error(),
		State:            StateFailed.String(),
		LastContext:      ctx,
	})
	if err != nil {
		s.log.Opsf("failed to write incident report: %v", err)
		return
	}
	s.incident = path
	s.log.Opsf("incident report written to %s", path)
}

// lastContext describes the last recorded frame, or only the laser state
// when no frame was recorded.
func (s *Session) lastContext() map[string]any {
	ctx := map[string]any{
		"frames_processed": s.counts.frames,
	}
	if s.controller != nil {
		ctx["laser_mode"] = string(s.controller.Mode())
		ctx["laser_state"] = boolInt(s.controller.State())
	}
	if f := s.lastFrame; f != nil {
		ctx["t_wall"] = f.TWall
		ctx["frame_idx"] = f.Index
		ctx["x"] = f.X
		ctx["y"] = f.Y
		ctx["p"] = f.P
		ctx["chamber_raw"] = f.ChamberRaw
		ctx["chamber"] = f.Chamber
		ctx["laser_state"] = boolInt(f.LaserState)
		ctx["inference_ms"] = f.InferenceMS
		ctx["fps_est"] = f.FPS
	}
	return ctx
}

// shutdown runs every cleanup step in order. No step's failure skips a
// later one; the laser is forced off and stopped first, and a failed
// session's incident report is written right after.
func (s *Session) shutdown(status Status) Result {
	res := Result{Status: status, Code: status.Code()}
	if s.failure != nil {
		res.Err = s.failure.err
	}
	metadataPath := filepath.Join(s.opts.SessionDir, monitoring.MetadataFileName)

	failsafe.Run(
		s.step("laser off", func() error {
			if s.controller == nil {
				return nil
			}
			return s.controller.SetState(false)
		}),
		s.step("laser stop", func() error {
			if s.controller == nil {
				return nil
			}
			return s.controller.Stop()
		}),
		s.step("incident report", func() error {
			if s.failure != nil {
				s.reportFailure()
			}
			return nil
		}),
		s.step("pose source close", s.opts.Source.Close),
		s.step("recorder close", func() error {
			if s.rec == nil {
				return nil
			}
			if err := s.rec.Close(); err != nil {
				return err
			}
			s.log.Diagf("frame log closed with %d rows", s.rec.Rows())
			return nil
		}),
		s.step("mirror end", func() error {
			if s.mirror == nil {
				return nil
			}
			err := s.mirror.EndSession(store.SessionSummary{
				EndedAt:            s.clock.Now(),
				Status:             string(status),
				StatusCode:         status.Code(),
				Frames:             s.counts.frames,
				ChamberTransitions: s.counts.chamberTransitions,
				LaserTransitions:   s.counts.laserTransitions,
				IncidentReport:     s.incident,
			})
			return errors.Join(err, s.closeMirror())
		}),
		s.step("metadata", func() error {
			md := s.metadata(status, res.Err)
			res.Stats = md.RuntimeStats
			if err := monitoring.WriteMetadata(metadataPath, md); err != nil {
				return err
			}
			res.Metadata = metadataPath
			return nil
		}),
		s.step("issue log close", func() error {
			s.emit(monitoring.EventSessionEnd, monitoring.LevelInfo, monitoring.Fields{
				"status":      string(status),
				"status_code": status.Code(),
				"frames":      s.counts.frames,
				"duration_s":  s.clock.Since(s.start).Seconds(),
			})
			return s.issues.Close()
		}),
	)

	res.Incident = s.incident
	if s.controller != nil {
		res.LaserState = s.controller.State()
		res.LaserMode = s.controller.Mode()
	}
	if status == StatusFailed {
		s.log.Opsf("session %s FAILED: %v", s.opts.SessionID, res.Err)
	} else {
		s.log.Opsf("session %s %s: %d frames", s.opts.SessionID, status, s.counts.frames)
	}
	return res
}

// step wraps fn so its failure is reported as soon as it happens.
func (s *Session) step(name string, fn func() error) failsafe.Step {
	return failsafe.Step{Name: name, Fn: func() error {
		out := failsafe.Run(failsafe.Step{Name: name, Fn: fn})[0]
		if out.Err != nil {
			s.counts.shutdownFailures++
			s.log.Opsf("shutdown step %q failed: %v", name, out.Err)
			s.issues.Log(monitoring.EventShutdownStepFailed, monitoring.LevelError, monitoring.Fields{
				"step":              name,
				"exception_message": out.Err.Error(),
			})
		}
		return out.Err
	}}
}

func (s *Session) closeMirror() error {
	if s.mirror == nil {
		return nil
	}
	m := s.mirror
	s.mirror = nil
	return m.Close()
}

func (s *Session) metadata(status Status, runErr error) monitoring.SessionMetadata {
	end := s.clock.Now()
	md := monitoring.SessionMetadata{
		SessionID:      s.opts.SessionID,
		SessionUUID:    s.uuid,
		SessionDir:     s.opts.SessionDir,
		Version:        version.Version,
		GitSHA:         version.GitSHA,
		StartTimeUTC:   s.start.UTC().Format(time.RFC3339Nano),
		StartWall:      monitoring.UnixSeconds(s.start),
		EndTimeUTC:     end.UTC().Format(time.RFC3339Nano),
		EndWall:        monitoring.UnixSeconds(end),
		DurationS:      s.clock.Since(s.start).Seconds(),
		Status:         string(status),
		StatusCode:     status.Code(),
		IncidentReport: s.incident,
		ConfigCopy:     s.opts.ConfigCopy,
		ConfigSHA256:   s.opts.ConfigSHA256,
		Camera:         s.cfg.Camera,
		DLCModel:       config.Section(s.cfg.DLC),
		PoseSource:     s.opts.Source.Info(),
		DAQ:            config.Section(s.cfg.Laser),
		LaserMode:      s.cfg.GetLaserMode(),
		Analysis:       s.cfg.Analysis,
		RuntimeStats:   s.runtimeStats(s.loopDone.Sub(s.start)),
		RuntimeLogging: monitoring.RuntimeLogging{
			Enabled:            s.issues.Enabled(),
			IssueEventsFile:    s.issues.Path(),
			HeartbeatIntervalS: s.cfg.GetHeartbeatInterval().Seconds(),
			LowConfWarnEveryN:  s.cfg.GetLowConfWarnEveryN(),
			InferenceWarnMS:    s.cfg.GetInferenceWarnMS(),
			FPSWarnBelow:       s.cfg.GetFPSWarnBelow(),
		},
	}
	if s.rec != nil {
		md.FramesCSV = s.rec.Path()
	}
	if s.controller != nil {
		md.LaserMode = string(s.controller.Mode())
	}
	if s.fs != nil {
		md.ROI = s.fs.layout.Describe()
	}
	if runErr != nil {
		md.Error = runErr.Error()
	}
	return md
}
