package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/loadtest/internal/loadtest/config"
)

var version = "0.1.0"

// errTestFailed is returned when the run completed but did not pass.
// The summary already explains why, so Execute does not print it again.
var errTestFailed = errors.New("load test failed")

type options struct {
	configFile string
	url        string
	stages     string
	sleep      time.Duration
	timeout    time.Duration
	jsonOutput bool
	outputPath string
	quiet      bool
	verbose    bool
}

// NewRootCmd builds the loadtest command. Without flags it runs the
// built-in profile against the hello service on localhost.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "loadtest",
		Short:   "Drive a staged virtual-user ramp against an HTTP endpoint",
		Version: version,
		Long: `loadtest ramps virtual users up and down through a list of stages.
Each virtual user repeatedly requests the target, runs its checks and
sleeps before the next iteration.

Default profile (no flags):
  loadtest

Quick mode:
  loadtest --url http://localhost:8000/say/hello \
    --stages "10s:50,30s:100,10s:0" \
    --sleep 500ms

Profile file:
  loadtest --config profile.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML or JSON profile file")
	flags.StringVar(&opts.url, "url", config.DefaultTargetURL, "Target URL")
	flags.StringVar(&opts.stages, "stages", "", "Stages as 'duration:target,...' (default \"10s:5000,30s:10000,10s:0\")")
	flags.DurationVar(&opts.sleep, "sleep", config.DefaultSleep, "Pause between iterations of a virtual user")
	flags.DurationVar(&opts.timeout, "timeout", config.DefaultTimeout, "Per-request timeout")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Write the result as JSON to stdout")
	flags.StringVarP(&opts.outputPath, "output", "o", "", "Write the result as JSON to a file")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Disable live progress output, print only the verdict")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log lifecycle events to stderr")

	return cmd
}

// Execute runs the root command until it finishes or the process is
// interrupted. An interrupt stops the ramp and drains in-flight
// iterations before the summary is printed.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errTestFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
