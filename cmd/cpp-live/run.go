package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cpplab/closedloop/internal/config"
	"github.com/cpplab/closedloop/internal/monitoring"
	"github.com/cpplab/closedloop/internal/pose"
	"github.com/cpplab/closedloop/internal/session"
	"github.com/cpplab/closedloop/internal/store"
)

// runLogFileName is the operator log written into every session directory.
const runLogFileName = "run.log"

type runOptions struct {
	configPath  string
	outDir      string
	durationS   float64
	poseSource  string
	posePath    string
	poseAddress string
	simulateDAQ bool
	verbose     bool
	trace       bool

	stdin  io.Reader
	stderr io.Writer
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one closed-loop session",
		Long: `Run one closed-loop session.

The session directory <out_dir>/<session_id> receives a copy of the effective
configuration, the frame time series, the issue event log, run.log and the
session metadata. The process exits 0 when the session completes or is
interrupted and 1 when it fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("duration-s") {
				opts.durationS = -1
			}
			opts.stdin = cmd.InOrStdin()
			opts.stderr = cmd.ErrOrStderr()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			code, err := runSession(ctx, opts)
			if err != nil {
				return err
			}
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "session config file (.json, .yaml or .yml)")
	f.StringVar(&opts.outDir, "out-dir", "", "override project.out_dir")
	f.Float64Var(&opts.durationS, "duration-s", 0, "stop the session after this many seconds (0 runs until the stream ends)")
	f.StringVar(&opts.poseSource, "pose-source", "", "override pose.source (replay|stdin|tcp)")
	f.StringVar(&opts.posePath, "pose-path", "", "override pose.path for replay sources")
	f.StringVar(&opts.poseAddress, "pose-address", "", "override pose.address for tcp sources")
	f.BoolVar(&opts.simulateDAQ, "simulate-daq", false, "drive an in-memory DAQ bridge instead of the serial port")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "also print diagnostics to stderr")
	f.BoolVar(&opts.trace, "trace", false, "write per-frame trace lines to run.log")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// runSession prepares the session directory, wires the session's
// collaborators and runs it. Errors are returned only for failures that
// happen before the session exists.
func runSession(ctx context.Context, opts *runOptions) (int, error) {
	cfg, format, err := config.Load(opts.configPath)
	if err != nil {
		return 1, err
	}
	overrides := config.Overrides{
		OutDir:      opts.outDir,
		PoseSource:  opts.poseSource,
		PosePath:    opts.posePath,
		PoseAddress: opts.poseAddress,
		SimulateDAQ: opts.simulateDAQ,
	}
	if opts.durationS >= 0 {
		d := opts.durationS
		overrides.DurationS = &d
	}
	if err := cfg.Apply(overrides); err != nil {
		return 1, err
	}
	if err := cfg.ValidatePose(); err != nil {
		return 1, err
	}

	dir, err := config.PrepareSessionDir(cfg, format, time.Now())
	if err != nil {
		return 1, err
	}

	logFile, err := os.OpenFile(filepath.Join(dir.Path, runLogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 1, fmt.Errorf("open run log: %w", err)
	}
	defer logFile.Close()

	log := monitoring.NewLogger("cpp-live", logWriters(opts.stderr, logFile, opts.verbose, opts.trace))
	log.Opsf("session %s starting in %s", dir.ID, dir.Path)

	source, err := openPoseSource(ctx, cfg, opts.stdin)
	if err != nil {
		log.Opsf("failed to open pose source: %v", err)
		return 1, err
	}

	hw := newHardware(cfg, log.With("daq"))
	defer func() {
		if err := hw.Close(); err != nil {
			log.Opsf("failed to close DAQ bridge: %v", err)
		}
	}()

	sessOpts := session.Options{
		Config:       cfg,
		SessionDir:   dir.Path,
		SessionID:    dir.ID,
		ConfigCopy:   dir.ConfigCopy,
		ConfigSHA256: dir.ConfigSHA256,
		Source:       source,
		Hardware:     hw.Open,
		Log:          log.With("session"),
	}
	if cfg.GetSQLiteEnabled() {
		m, err := store.OpenMirror(cfg.GetSQLitePath(), log.With("store"))
		if err != nil {
			log.Opsf("sqlite mirror disabled: %v", err)
		} else {
			sessOpts.Mirror = m
		}
	}

	s, err := session.New(sessOpts)
	if err != nil {
		source.Close()
		if sessOpts.Mirror != nil {
			sessOpts.Mirror.Close()
		}
		return 1, err
	}

	res := s.Run(ctx)
	log.Opsf("session %s finished: status=%s code=%d frames=%d metadata=%s", dir.ID, res.Status, res.Code, res.Stats.FramesProcessed, res.Metadata)
	if res.Incident != "" {
		log.Opsf("incident report: %s", res.Incident)
	}
	return res.Code, nil
}

// logWriters routes ops to the console and run.log, diag to run.log (and the
// console when verbose) and trace to run.log only when enabled.
func logWriters(console, file io.Writer, verbose, trace bool) monitoring.LogWriters {
	w := monitoring.LogWriters{
		Ops:  io.MultiWriter(console, file),
		Diag: file,
	}
	if verbose {
		w.Diag = io.MultiWriter(console, file)
	}
	if trace {
		w.Trace = file
	}
	return w
}

func openPoseSource(ctx context.Context, cfg *config.Config, stdin io.Reader) (pose.Source, error) {
	switch src := cfg.GetPoseSource(); src {
	case config.PoseReplay:
		s, err := pose.OpenReplay(cfg.GetPosePath())
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.PoseStdin:
		return pose.NewStream(stdin, "stdin", false), nil
	case config.PoseTCP:
		s, err := pose.DialTCP(ctx, cfg.GetPoseAddress(), cfg.GetPoseDialTimeout())
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown pose source %q", src)
	}
}
