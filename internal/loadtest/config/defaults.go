package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/loadtest/internal/loadtest/check"
)

const (
	// DefaultTargetURL is the hello route of a locally running target service.
	DefaultTargetURL = "http://localhost:8000/say/hello"

	// DefaultSleep is the pause every VU takes after each iteration.
	DefaultSleep = 500 * time.Millisecond

	// DefaultScenario is the scenario name used by Default and Quick.
	DefaultScenario = "default"

	// DefaultTimeout is the request timeout when a profile sets none.
	DefaultTimeout = 60 * time.Second

	// DefaultGracefulStop bounds how long in-flight iterations may drain.
	DefaultGracefulStop = 30 * time.Second
)

// DefaultStages is the built-in ramp: up to 5000 VUs over 10s, on to
// 10000 over 30s, and back to 0 over 10s.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{Duration: "10s", Target: 5000},
		{Duration: "30s", Target: 10000},
		{Duration: "10s", Target: 0},
	}
}

// Default returns the built-in profile run when no flags or files are given.
func Default() *TestConfig {
	return Quick(DefaultTargetURL, DefaultStages(), DefaultSleep)
}

// Quick builds a single ramping-vus scenario that GETs url, checks for a
// 200 and sleeps between iterations.
func Quick(url string, stages []StageConfig, sleep time.Duration) *TestConfig {
	scenario := &ScenarioConfig{
		Executor: "ramping-vus",
		Stages:   stages,
		Requests: []RequestConfig{
			{
				Name:   "hello",
				Method: "GET",
				URL:    url,
				Checks: []check.Config{check.StatusIs(200)},
			},
		},
	}
	if sleep > 0 {
		scenario.Pacing = &PacingConfig{Type: "constant", Duration: sleep.String()}
	}

	return &TestConfig{
		Name:        "say hello",
		Description: fmt.Sprintf("Staged ramp against %s", url),
		Scenarios: map[string]*ScenarioConfig{
			DefaultScenario: scenario,
		},
	}
}

// ApplyDefaults fills unset optional fields in place.
func ApplyDefaults(cfg *TestConfig) {
	if cfg.Name == "" {
		cfg.Name = "load test"
	}
	if cfg.Settings.Timeout == 0 {
		cfg.Settings.Timeout = Duration(DefaultTimeout)
	}

	for name, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		if sc.GracefulStop == "" {
			sc.GracefulStop = DefaultGracefulStop.String()
		}
		for i := range sc.Requests {
			req := &sc.Requests[i]
			if req.Method == "" {
				req.Method = "GET"
			}
			req.Method = strings.ToUpper(req.Method)
			if req.Name == "" {
				req.Name = fmt.Sprintf("%s_request_%d", name, i+1)
			}
		}
	}
}
