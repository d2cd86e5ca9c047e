// Command cpp-live runs one closed-loop conditioned place preference session:
// it reads pose samples, classifies the animal's chamber and drives the laser
// through the DAQ bridge until the stream ends, the duration elapses or the
// operator interrupts it.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cpp-live",
		Short: "Closed-loop CPP session runner",
		Long: `cpp-live runs a closed-loop conditioned place preference session.

Pose samples are classified into chambers, debounced and turned into laser
commands. Every session writes a frame time series, an issue event log and
session metadata into its own directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}
	var exit exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
