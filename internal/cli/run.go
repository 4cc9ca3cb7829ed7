package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/loadtest/internal/loadtest/config"
	"github.com/wesleyorama2/loadtest/internal/loadtest/engine"
	"github.com/wesleyorama2/loadtest/internal/loadtest/executor"
	"github.com/wesleyorama2/loadtest/internal/loadtest/output"
)

const updateInterval = time.Second

func runLoadTest(cmd *cobra.Command, opts *options) error {
	testConfig, err := buildConfig(cmd, opts)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	if opts.verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer func() { _ = log.Sync() }()
	}

	eng, err := engine.NewEngine(testConfig, engine.WithLogger(log))
	if err != nil {
		return err
	}

	// With --json the document owns stdout.
	var consoleWriter io.Writer = cmd.OutOrStdout()
	if opts.jsonOutput {
		consoleWriter = cmd.ErrOrStderr()
	}

	console := output.NewConsole(output.ConsoleConfig{
		TestName:      testConfig.Name,
		ExecutorType:  executorLabel(testConfig),
		TotalDuration: eng.TotalDuration(),
		Writer:        consoleWriter,
		Quiet:         opts.quiet,
	})
	console.PrintHeader()

	result, runErr := runWithProgress(cmd.Context(), eng, console)
	console.PrintSummary(result)

	if opts.jsonOutput {
		if err := output.WriteJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	}
	if opts.outputPath != "" {
		if err := output.WriteJSONFile(opts.outputPath, result); err != nil {
			return err
		}
		if !opts.quiet {
			fmt.Fprintf(consoleWriter, "Results written to: %s\n", opts.outputPath)
		}
	}

	if runErr != nil {
		return runErr
	}
	if !result.Passed {
		return errTestFailed
	}
	return nil
}

// buildConfig resolves the profile from --config or from the quick-mode
// flags, which fall back to the built-in profile.
func buildConfig(cmd *cobra.Command, opts *options) (*config.TestConfig, error) {
	flags := cmd.Flags()

	var cfg *config.TestConfig
	if opts.configFile != "" {
		for _, name := range []string{"url", "stages", "sleep"} {
			if flags.Changed(name) {
				return nil, fmt.Errorf("--%s cannot be combined with --config", name)
			}
		}

		var err error
		if cfg, err = config.LoadConfig(opts.configFile); err != nil {
			return nil, err
		}
	} else {
		stages := config.DefaultStages()
		if opts.stages != "" {
			var err error
			if stages, err = config.ParseStages(opts.stages); err != nil {
				return nil, fmt.Errorf("invalid --stages: %w", err)
			}
		}
		if opts.sleep < 0 {
			return nil, fmt.Errorf("invalid --sleep: must not be negative")
		}
		cfg = config.Quick(opts.url, stages, opts.sleep)
	}

	if flags.Changed("timeout") || opts.configFile == "" {
		if opts.timeout <= 0 {
			return nil, fmt.Errorf("invalid --timeout: must be positive")
		}
		cfg.Settings.Timeout = config.Duration(opts.timeout)
	}
	return cfg, nil
}

// runWithProgress runs the engine and refreshes the console once per
// second until it finishes.
func runWithProgress(ctx context.Context, eng *engine.Engine, console *output.Console) (*engine.TestResult, error) {
	type outcome struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := eng.Run(ctx)
		done <- outcome{result, err}
	}()

	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case o := <-done:
			return o.result, o.err
		case <-ticker.C:
			if !eng.IsRunning() {
				continue
			}
			stats := liveStats(eng)
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

func liveStats(eng *engine.Engine) *output.LiveStats {
	targetVUs, currentStage, totalStages := aggregateStats(eng.GetScenarioStats())
	return output.StatsFromMetrics(
		eng.GetMetrics(),
		eng.GetProgress(),
		eng.TotalDuration(),
		targetVUs,
		currentStage,
		totalStages,
	)
}

// aggregateStats sums target VUs across scenarios and reports the most
// advanced stage, 1-indexed.
func aggregateStats(stats map[string]*executor.Stats) (targetVUs, currentStage, totalStages int) {
	for _, s := range stats {
		if s == nil {
			continue
		}
		targetVUs += s.TargetVUs
		if s.TotalStages > totalStages {
			totalStages = s.TotalStages
		}
		stage := s.CurrentStage + 1
		if stage > s.TotalStages {
			stage = s.TotalStages
		}
		if stage > currentStage {
			currentStage = stage
		}
	}
	return targetVUs, currentStage, totalStages
}

// executorLabel names the executor for the header, or "mixed" when
// scenarios use different ones.
func executorLabel(cfg *config.TestConfig) string {
	label := ""
	for _, sc := range cfg.Scenarios {
		switch {
		case label == "":
			label = sc.Executor
		case label != sc.Executor:
			return "mixed"
		}
	}
	return label
}
