// Package output renders load test progress and results for humans and
// machines: a live console display, a final summary and a JSON document.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/loadtest/internal/loadtest/engine"
	"github.com/wesleyorama2/loadtest/internal/loadtest/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	checkMark = "✓"
	crossMark = "✗"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64       // 0.0 to 1.0
	Elapsed   time.Duration // Time elapsed since test start
	Remaining time.Duration // Estimated time remaining

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64 // 0.0 to 1.0

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// palette holds the colors used by the console. Every color is forced on
// or off so output does not depend on fatih/color's global detection.
type palette struct {
	header  *color.Color
	bold    *color.Color
	dim     *color.Color
	value   *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	latency *color.Color
	phase   *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		header:  color.New(color.FgCyan),
		bold:    color.New(color.Bold),
		dim:     color.New(color.Faint),
		value:   color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
		latency: color.New(color.FgBlue),
		phase:   color.New(color.FgMagenta),
	}
	for _, c := range []*color.Color{p.header, p.bold, p.dim, p.value, p.good, p.warn, p.bad, p.latency, p.phase} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// rateColor picks green, yellow or red for an error rate.
func (p *palette) rateColor(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return p.bad
	case errorRate > 0.01:
		return p.warn
	default:
		return p.good
	}
}

// Console manages console output during and after a test run.
type Console struct {
	testName      string
	executorType  string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	quiet         bool
	colors        *palette

	mu          sync.Mutex
	linesOutput int // lines drawn by the last live update
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	TestName      string
	ExecutorType  string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	ForceColors   bool
	ForceTTY      bool
}

// NewConsole creates a console output handler. Colors and the live display
// are enabled only when the writer is a terminal, unless forced.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := config.ForceColors || (isTTY && supportsColors())

	return &Console{
		testName:      config.TestName,
		executorType:  config.ExecutorType,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		quiet:         config.Quiet,
		colors:        newPalette(useColors),
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return checkIsTerminal(f)
	}
	return false
}

// supportsColors honours NO_COLOR, FORCE_COLOR and dumb terminals.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test header.
func (c *Console) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	executorInfo := ""
	if c.executorType != "" {
		executorInfo = fmt.Sprintf(" [%s]", c.executorType)
	}

	c.writeln(c.colors.header.Sprint(line))
	c.writeln(c.colors.bold.Sprintf("%s - Running%s", c.testName, executorInfo))
	if c.totalDuration > 0 {
		c.writeln(c.colors.dim.Sprintf("Planned duration: %s", formatDuration(c.totalDuration)))
	}
	c.writeln(c.colors.header.Sprint(line))
	c.writeln("")
}

// Update redraws the live display. It does nothing unless the output is
// an interactive terminal.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the lines drawn by the previous Update.
func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderLiveStats(stats *LiveStats) []string {
	var lines []string
	p := c.colors

	progressBar := renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		p.good.Sprint(progressBar),
		p.bold.Sprintf("%.0f%%", stats.Progress*100),
		p.dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", p.phase.Sprint(phaseInfo)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, p.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vusStr := fmt.Sprintf("VUs:     %s / %d", p.value.Sprintf("%d", stats.ActiveVUs), stats.TargetVUs)
	reqsStr := fmt.Sprintf("Requests:    %s", p.value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vusStr, reqsStr, boxWidth))

	rpsStr := fmt.Sprintf("RPS:     %s", p.good.Sprintf("%.1f", stats.CurrentRPS))
	errColor := p.rateColor(stats.ErrorRate)
	errStr := fmt.Sprintf("Errors:      %s (%s)",
		errColor.Sprintf("%d", stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rpsStr, errStr, boxWidth))

	p95Str := fmt.Sprintf("P95:     %s", p.latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avgStr := fmt.Sprintf("Avg:         %s", p.latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95Str, avgStr, boxWidth))

	lines = append(lines, p.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow formats a two-column row inside the stats box.
func (c *Console) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := colWidth - visibleLen(left)
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := colWidth - visibleLen(right)
	if rightPadding < 0 {
		rightPadding = 0
	}

	border := c.colors.dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border, left, strings.Repeat(" ", leftPadding),
		border, right, strings.Repeat(" ", rightPadding),
		border)
}

// PrintNonInteractiveUpdate prints a one-line status update. Used when
// output is not a TTY, e.g. piped to a file or in CI.
func (c *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s | Progress: %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.CurrentPhase,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final test summary. In quiet mode only the
// verdict is printed.
func (c *Console) PrintSummary(result *engine.TestResult) {
	p := c.colors

	c.mu.Lock()
	defer c.mu.Unlock()

	if result == nil {
		c.writeln(p.bad.Sprint("FAILED: no results"))
		return
	}

	if c.quiet {
		if result.Passed {
			c.writeln(p.good.Sprint("PASSED"))
		} else {
			c.writeln(p.bad.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, 56)
	status := p.good.Sprint("Completed " + checkMark)
	if !result.Passed {
		status = p.bad.Sprint("Failed " + crossMark)
	}

	c.writeln("")
	c.writeln(p.header.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", p.bold.Sprint(result.Name), status))
	c.writeln(p.header.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", p.dim.Sprint(result.RunID)))
	c.writeln(fmt.Sprintf("Duration:      %s", p.value.Sprint(formatDuration(result.Duration))))
	if m := result.Metrics; m != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s", p.value.Sprint(formatNumber(m.TotalRequests))))
		c.writeln(fmt.Sprintf("Failed Reqs:   %s", p.rateColor(m.ErrorRate).Sprint(formatNumber(m.FailedRequests))))
		c.writeln(fmt.Sprintf("RPS:           %s", p.value.Sprintf("%.1f", m.RPS)))
		if m.SteadyStateRPS > 0 {
			c.writeln(fmt.Sprintf("Steady RPS:    %s", p.value.Sprintf("%.1f", m.SteadyStateRPS)))
		}
		c.writeln(fmt.Sprintf("Data Received: %s", p.value.Sprint(formatBytes(m.TotalBytes))))
	}
	c.writeln("")

	if len(result.Checks) > 0 {
		c.writeln(p.bold.Sprint("Checks:"))
		for _, chk := range result.Checks {
			mark := p.good.Sprint(checkMark)
			if chk.Fails > 0 {
				mark = p.bad.Sprint(crossMark)
			}
			c.writeln(fmt.Sprintf("  %s %s", mark, chk.Name))
			c.writeln(p.dim.Sprintf("      %.2f%% - %s %s / %s %s",
				chk.Rate()*100,
				checkMark, formatNumber(chk.Passes),
				crossMark, formatNumber(chk.Fails)))
		}
		c.writeln("")
	}

	if m := result.Metrics; m != nil && m.TotalRequests > 0 {
		c.writeln(p.bold.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  Avg:       %s", formatDurationShort(m.Latency.Mean)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
		c.writeln("")
	}

	if len(result.Scenarios) > 1 {
		c.writeln(p.bold.Sprint("Scenarios:"))
		names := make([]string, 0, len(result.Scenarios))
		for name := range result.Scenarios {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := result.Scenarios[name]
			c.writeln(fmt.Sprintf("  %s [%s] %s iterations, %d VUs max, %s",
				name, s.Executor, formatNumber(s.Iterations), s.MaxVUs, formatDuration(s.Duration)))
		}
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(p.bold.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := p.good.Sprint(checkMark)
			if !t.Passed {
				mark = p.bad.Sprint(crossMark)
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Value))
		}
		c.writeln("")
	}

	if result.Error != "" {
		c.writeln(p.bad.Sprintf("Error: %s", result.Error))
		c.writeln("")
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromMetrics creates LiveStats from an engine snapshot.
func StatsFromMetrics(
	snapshot *metrics.Snapshot,
	progress float64,
	totalDuration time.Duration,
	targetVUs int,
	currentStage, totalStages int,
) *LiveStats {
	if snapshot == nil {
		return &LiveStats{
			Progress:     progress,
			TargetVUs:    targetVUs,
			CurrentStage: currentStage,
			TotalStages:  totalStages,
			CurrentPhase: string(metrics.PhaseInit),
		}
	}

	elapsed := snapshot.Elapsed
	remaining := totalDuration - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return &LiveStats{
		Progress:      progress,
		Elapsed:       elapsed,
		Remaining:     remaining,
		ActiveVUs:     snapshot.ActiveVUs,
		TargetVUs:     targetVUs,
		CurrentRPS:    snapshot.RPS,
		TotalRequests: snapshot.TotalRequests,
		Errors:        snapshot.FailedRequests,
		ErrorRate:     snapshot.ErrorRate,
		LatencyP95:    snapshot.Latency.P95,
		LatencyAvg:    snapshot.Latency.Mean,
		CurrentPhase:  string(snapshot.CurrentPhase),
		CurrentStage:  currentStage,
		TotalStages:   totalStages,
	}
}
