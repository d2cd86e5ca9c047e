package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cpplab/closedloop/internal/config"
	"github.com/cpplab/closedloop/internal/laser"
)

func newValidateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a session config without running it",
		Long: `Load and validate a session config, build the chamber layout and laser
settings it describes and print a summary. Nothing is written to disk.
The pose path or address may be left for the run command line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "session config file (.json, .yaml or .yml)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runValidate(out io.Writer, path string) error {
	cfg, format, err := config.Load(path)
	if err != nil {
		return err
	}
	layout, err := cfg.ROILayout()
	if err != nil {
		return err
	}
	lc, err := cfg.LaserSettings()
	if err != nil {
		return err
	}
	// New checks the hardware identifiers without opening the device.
	unopened := func() (laser.Hardware, error) { return nil, errors.New("not opened by validate") }
	if _, err := laser.New(lc, unopened, nil, nil); err != nil {
		return err
	}

	fmt.Fprintf(out, "config %s (%s) is valid\n", path, format)
	fmt.Fprintf(out, "  output:    %s/%s\n", cfg.GetOutDir(), cfg.GetSessionID())
	fmt.Fprintf(out, "  pose:      source=%s p_thresh=%.2f smoothing=%t window=%d\n",
		cfg.GetPoseSource(), cfg.GetPThresh(), cfg.GetSmoothingEnabled(), cfg.GetSmoothingWindow())
	fmt.Fprintf(out, "  roi:       type=%s neutral=%t strategy_on_neutral=%s debounce_frames=%d\n",
		layout.Kind, layout.Neutral != nil, layout.Strategy, cfg.GetDebounceFrames())
	fmt.Fprintf(out, "  laser:     enabled=%t mode=%s fallback_to_dryrun=%t unknown_policy=%s\n",
		lc.Enabled, lc.Mode, cfg.GetFallbackToDryRun(), cfg.GetUnknownPolicy())
	fmt.Fprintf(out, "  pulse:     freq_hz=%g duty_cycle=%g min_on=%s min_off=%s\n",
		lc.FreqHz, lc.DutyCycle, lc.MinOn, lc.MinOff)
	if lc.Enabled && lc.Mode != laser.ModeDryRun {
		daqPort := cfg.GetDAQPort()
		if cfg.GetDAQSimulate() {
			daqPort = simulatedPort
		}
		fmt.Fprintf(out, "  daq:       port=%s ctr_channel=%s enable_line=%s\n", daqPort, lc.CtrChannel, lc.EnableLine)
	}
	if err := cfg.ValidatePose(); err != nil {
		fmt.Fprintf(out, "  note:      %v; pass it with run --pose-path or --pose-address\n", err)
	}
	if d, ok := cfg.GetDuration(); ok {
		fmt.Fprintf(out, "  duration:  %s\n", d)
	}
	if cfg.GetSQLiteEnabled() {
		fmt.Fprintf(out, "  sqlite:    %s\n", cfg.GetSQLitePath())
	}
	return nil
}
