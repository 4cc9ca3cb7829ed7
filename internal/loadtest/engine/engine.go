// Package engine orchestrates a load test run: it builds one executor and
// VU scheduler per scenario, drives them against a shared metrics engine
// and evaluates thresholds once they finish.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/loadtest/internal/loadtest"
	"github.com/wesleyorama2/loadtest/internal/loadtest/check"
	"github.com/wesleyorama2/loadtest/internal/loadtest/config"
	"github.com/wesleyorama2/loadtest/internal/loadtest/executor"
	"github.com/wesleyorama2/loadtest/internal/loadtest/metrics"
)

// Engine is the main orchestrator for a load test.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("profile.yaml")
//	eng, _ := engine.NewEngine(cfg)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config        *config.TestConfig
	httpConfig    loadtest.HTTPClientConfig
	metricsConfig metrics.EngineConfig
	log           *zap.Logger

	metricsEngine *metrics.Engine
	scenarios     map[string]*ScenarioRunner
	order         []string
	mu            sync.RWMutex

	runID     string
	startTime time.Time
	running   bool
	cancelRun context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for lifecycle events. The default discards
// everything.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetricsConfig overrides the metrics engine configuration, e.g. to
// use a shorter bucket interval.
func WithMetricsConfig(cfg metrics.EngineConfig) Option {
	return func(e *Engine) {
		e.metricsConfig = cfg
	}
}

// ScenarioRunner manages the execution of a single scenario.
type ScenarioRunner struct {
	Name         string
	Config       *config.ScenarioConfig
	Executor     executor.Executor
	ExecConfig   *executor.Config
	Scheduler    *loadtest.VUScheduler
	Scenario     *loadtest.Scenario
	httpConfig   loadtest.HTTPClientConfig
	gracefulStop time.Duration
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name         string                  `json:"name"`
	Executor     string                  `json:"executor"`
	Duration     time.Duration           `json:"duration"`
	Iterations   int64                   `json:"iterations"`
	MaxVUs       int                     `json:"maxVUs"`
	SpawnedVUs   int                     `json:"spawnedVUs"`
	RequestStats map[string]RequestStats `json:"requestStats,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

// RequestStats contains statistics for a specific request.
type RequestStats struct {
	Name    string               `json:"name"`
	Count   int64                `json:"count"`
	Latency metrics.LatencyStats `json:"latency"`
}

// TestResult contains the complete test results.
type TestResult struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	// Aggregated metrics across all scenarios
	Metrics      *metrics.Snapshot     `json:"metrics"`
	Checks       []metrics.CheckStats  `json:"checks,omitempty"`
	TimeSeries   []*metrics.TimeBucket `json:"timeSeries,omitempty"`
	PhaseHistory []metrics.PhaseChange `json:"phaseHistory,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewEngine validates cfg, applies defaults and prepares every scenario.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.ApplyDefaults(cfg)

	httpConfig := loadtest.DefaultHTTPClientConfig()
	httpConfig.Timeout = cfg.Settings.Timeout.GetDuration(loadtest.DefaultRequestTimeout)
	httpConfig.MaxConnsPerHost = cfg.Settings.MaxConnectionsPerHost
	if cfg.Settings.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
	}
	if cfg.Options != nil && cfg.Options.NoConnectionReuse {
		httpConfig.UseSharedClient = false
	}

	e := &Engine{
		config:        cfg,
		httpConfig:    httpConfig,
		metricsConfig: metrics.DefaultEngineConfig(),
		log:           zap.NewNop(),
		scenarios:     make(map[string]*ScenarioRunner),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.initializeScenarios(); err != nil {
		return nil, fmt.Errorf("failed to initialize scenarios: %w", err)
	}
	return e, nil
}

// initializeScenarios creates executors and compiles requests. Schedulers
// are created per run since they need the run's metrics engine.
func (e *Engine) initializeScenarios() error {
	for name := range e.config.Scenarios {
		e.order = append(e.order, name)
	}
	sort.Strings(e.order)

	for _, name := range e.order {
		sc := e.config.Scenarios[name]

		scenario, err := e.createScenario(name, sc)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}

		exec, execConfig, err := executor.CreateExecutorFromScenarioConfig(context.Background(), name, sc)
		if err != nil {
			return fmt.Errorf("failed to create executor for scenario %s: %w", name, err)
		}

		// One idle connection per VU, so a full ramp never churns
		// through fresh TCP connections.
		httpConfig := e.httpConfig.SizedFor(executor.MaxVUs(execConfig))

		graceful := execConfig.GracefulStop
		if graceful <= 0 {
			graceful = executor.DefaultGracefulStop
		}

		e.scenarios[name] = &ScenarioRunner{
			Name:         name,
			Config:       sc,
			Executor:     exec,
			ExecConfig:   execConfig,
			Scenario:     scenario,
			httpConfig:   httpConfig,
			gracefulStop: graceful,
		}
	}
	return nil
}

// createScenario resolves variables and compiles checks for one scenario.
func (e *Engine) createScenario(name string, sc *config.ScenarioConfig) (*loadtest.Scenario, error) {
	scenario := &loadtest.Scenario{
		Name:      name,
		Variables: make(map[string]string),
		Headers:   e.config.Settings.Headers,
		UserAgent: e.config.Settings.UserAgent,
	}

	for k, v := range e.config.Variables {
		scenario.Variables[k] = v
	}
	if e.config.Settings.BaseURL != "" {
		scenario.Variables["baseUrl"] = e.config.Settings.BaseURL
		scenario.Variables["baseURL"] = e.config.Settings.BaseURL
	}

	for i, req := range sc.Requests {
		r := &loadtest.Request{
			Name:    req.Name,
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    req.Body,
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("%s_request_%d", name, i+1)
		}

		for _, cc := range req.Checks {
			c, err := check.Compile(cc)
			if err != nil {
				return nil, fmt.Errorf("request %s: %w", r.Name, err)
			}
			r.Checks = append(r.Checks, c)
		}

		scenario.Requests = append(scenario.Requests, r)
	}

	return scenario, nil
}

// Run executes all scenarios and returns the test results.
//
// By default, all scenarios run concurrently. If Options.Sequential is true,
// scenarios run one at a time in name order. Cancelling ctx or calling Stop
// ends every scenario and skips those not yet started; in-flight iterations
// still drain within their graceful stop. An Engine runs once.
func (e *Engine) Run(parent context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	if e.metricsEngine != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already run")
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	e.running = true
	e.cancelRun = cancel
	e.runID = uuid.NewString()
	e.startTime = time.Now()
	e.metricsEngine = metrics.NewEngineWithConfig(e.metricsConfig)
	for _, runner := range e.scenarios {
		runner.Scheduler = loadtest.NewVUScheduler(runner.Scenario, e.metricsEngine, runner.httpConfig)
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	log := e.log.With(zap.String("run_id", e.runID))
	log.Info("load test started",
		zap.String("name", e.config.Name),
		zap.Strings("scenarios", e.order),
	)

	var scenarioResults map[string]*ScenarioResult
	var runErr error
	if e.config.Options != nil && e.config.Options.Sequential {
		scenarioResults, runErr = e.runScenariosSequentially(ctx, log)
	} else {
		scenarioResults, runErr = e.runScenariosConcurrently(ctx, log)
	}

	// Stop flushes the last partial bucket into the time series.
	e.metricsEngine.Stop()

	finalMetrics := e.metricsEngine.GetSnapshot()
	thresholdResults := evaluateThresholds(e.config.Thresholds, finalMetrics)
	passed := runErr == nil
	for _, tr := range thresholdResults {
		if !tr.Passed {
			passed = false
			log.Warn("threshold failed",
				zap.String("metric", tr.Metric),
				zap.String("expression", tr.Expression),
				zap.String("value", tr.Value),
			)
		}
	}

	endTime := time.Now()
	result := &TestResult{
		RunID:        e.runID,
		Name:         e.config.Name,
		Description:  e.config.Description,
		StartTime:    e.startTime,
		EndTime:      endTime,
		Duration:     endTime.Sub(e.startTime),
		Scenarios:    scenarioResults,
		Metrics:      finalMetrics,
		Checks:       e.metricsEngine.GetCheckStats(),
		TimeSeries:   e.metricsEngine.GetTimeSeries(),
		PhaseHistory: e.metricsEngine.GetPhaseHistory(),
		Passed:       passed,
		Thresholds:   thresholdResults,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	log.Info("load test finished",
		zap.Duration("duration", result.Duration),
		zap.Int64("requests", finalMetrics.TotalRequests),
		zap.Int64("failed", finalMetrics.FailedRequests),
		zap.Bool("passed", passed),
	)

	return result, runErr
}

func (e *Engine) runScenariosConcurrently(ctx context.Context, log *zap.Logger) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult)
	var resultsMu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, name := range e.order {
		runner := e.scenarios[name]
		wg.Add(1)
		go func() {
			defer wg.Done()

			result, err := e.runScenario(ctx, runner, log)

			resultsMu.Lock()
			defer resultsMu.Unlock()
			results[runner.Name] = result
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("scenario %s failed: %w", runner.Name, err)
			}
		}()
	}

	wg.Wait()
	return results, firstErr
}

func (e *Engine) runScenariosSequentially(ctx context.Context, log *zap.Logger) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult)

	for i, name := range e.order {
		if ctx.Err() != nil {
			log.Info("run stopped, skipping remaining scenarios", zap.Strings("skipped", e.order[i:]))
			break
		}

		runner := e.scenarios[name]
		result, err := e.runScenario(ctx, runner, log)
		results[name] = result
		if err != nil {
			return results, fmt.Errorf("scenario %s failed: %w", name, err)
		}
	}

	return results, nil
}

func (e *Engine) runScenario(ctx context.Context, runner *ScenarioRunner, log *zap.Logger) (*ScenarioResult, error) {
	log = log.With(zap.String("scenario", runner.Name), zap.String("executor", string(runner.Executor.Type())))
	log.Debug("scenario started", zap.Duration("duration", runner.ExecConfig.TotalDuration()))

	startTime := time.Now()
	err := runner.Executor.Run(ctx, runner.Scheduler, e.metricsEngine)
	duration := time.Since(startTime)

	if left := runner.Scheduler.Shutdown(runner.gracefulStop); left > 0 {
		log.Warn("virtual users still running after graceful stop", zap.Int("vus", left))
	}

	stats := runner.Executor.GetStats()
	requestStats := make(map[string]RequestStats)
	for reqName, latencyStats := range e.metricsEngine.GetRequestStats() {
		if !runner.hasRequest(reqName) {
			continue
		}
		requestStats[reqName] = RequestStats{
			Name:    reqName,
			Count:   latencyStats.Count,
			Latency: latencyStats,
		}
	}

	result := &ScenarioResult{
		Name:         runner.Name,
		Executor:     string(runner.Executor.Type()),
		Duration:     duration,
		Iterations:   stats.Iterations,
		MaxVUs:       executor.MaxVUs(runner.ExecConfig),
		SpawnedVUs:   runner.Scheduler.TotalSpawned(),
		RequestStats: requestStats,
	}
	if err != nil {
		result.Error = err.Error()
		log.Error("scenario failed", zap.Error(err))
	}

	log.Debug("scenario finished",
		zap.Duration("duration", duration),
		zap.Int64("iterations", stats.Iterations),
	)

	return result, err
}

func (r *ScenarioRunner) hasRequest(name string) bool {
	for _, req := range r.Scenario.Requests {
		if req.Name == name {
			return true
		}
	}
	return false
}

// RunID returns the identifier of the current or last run, or "" before Run.
func (e *Engine) RunID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runID
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	m := e.metricsEngine
	e.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetSnapshot()
}

// GetCheckStats returns per-check counters, or nil before Run.
func (e *Engine) GetCheckStats() []metrics.CheckStats {
	e.mu.RLock()
	m := e.metricsEngine
	e.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetCheckStats()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends the run early. Running scenarios drain their in-flight
// iterations and scenarios that have not started yet are skipped. Stop
// returns once the running ones have drained, or when ctx expires.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return nil
	}
	e.cancelRun()
	runners := make([]*ScenarioRunner, 0, len(e.scenarios))
	for _, runner := range e.scenarios {
		runners = append(runners, runner)
	}
	e.mu.RUnlock()

	e.log.Info("stop requested", zap.String("run_id", e.RunID()))

	var lastErr error
	for _, runner := range runners {
		if err := runner.Executor.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// GetProgress returns the overall test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.scenarios) == 0 {
		return 0.0
	}

	var totalProgress float64
	for _, runner := range e.scenarios {
		totalProgress += runner.Executor.GetProgress()
	}
	return totalProgress / float64(len(e.scenarios))
}

// GetScenarioStats returns current stats for all scenarios.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := make(map[string]*executor.Stats)
	for name, runner := range e.scenarios {
		stats[name] = runner.Executor.GetStats()
	}
	return stats
}

// TotalDuration returns the longest planned scenario duration, or the sum
// when scenarios run sequentially.
func (e *Engine) TotalDuration() time.Duration {
	var total time.Duration
	sequential := e.config.Options != nil && e.config.Options.Sequential
	for _, runner := range e.scenarios {
		d := runner.ExecConfig.TotalDuration()
		switch {
		case sequential:
			total += d
		case d > total:
			total = d
		}
	}
	return total
}
