// Package config defines load test profiles: the stage sequence, the
// requests each virtual user issues, the checks run on every response and
// the thresholds a run must meet.
package config

import (
	"time"

	"github.com/wesleyorama2/loadtest/internal/loadtest/check"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "say hello"
//	scenarios:
//	  default:
//	    executor: ramping-vus
//	    stages:
//	      - duration: 10s
//	        target: 5000
//	      - duration: 30s
//	        target: 10000
//	      - duration: 10s
//	        target: 0
//	    pacing:
//	      type: constant
//	      duration: 500ms
//	    requests:
//	      - name: hello
//	        url: "http://localhost:8000/say/hello"
//	        checks:
//	          - name: "status was 200"
//	            type: status
//	            value: "200"
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are substituted into request URLs, headers and bodies as {{name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Scenarios defines the load profiles to run, each with its own executor
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds define pass/fail criteria for the run
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Options for test execution
	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains global HTTP settings.
type GlobalSettings struct {
	// BaseURL is exposed to requests as {{baseUrl}}
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the HTTP request timeout (default 60s)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost is the minimum idle pool per host. Each scenario
	// keeps at least one idle connection per VU.
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig defines a single load scenario.
type ScenarioConfig struct {
	// Executor is "ramping-vus" or "constant-vus"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the fixed VU count for constant-vus
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long constant-vus runs (e.g., "30s")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages defines the ramp for ramping-vus
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Requests are issued in order once per iteration
	Requests []RequestConfig `json:"requests" yaml:"requests"`

	// GracefulStop is how long to wait for in-flight iterations at the end
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing is the pause between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// StageConfig defines a single ramp stage.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target is the VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional label for reporting
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method defaults to GET
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL supports {{variable}} substitution
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Checks run against every response to this request
	Checks []check.Config `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// PacingConfig controls the pause between iterations.
type PacingConfig struct {
	// Type is "none", "constant" or "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the pause for constant pacing
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min and Max bound the pause for random pacing
	Min string `json:"min,omitempty" yaml:"min,omitempty"`
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the test.
type ThresholdsConfig struct {
	// HTTPReqDuration, e.g. ["p95 < 500ms", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed, e.g. ["rate < 0.01"]
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs, e.g. ["count > 1000", "rate > 100"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// Checks, e.g. ["rate > 0.99"]
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// Sequential runs scenarios one-by-one instead of in parallel
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`

	// NoConnectionReuse gives each VU its own HTTP client
	NoConnectionReuse bool `json:"noConnectionReuse,omitempty" yaml:"noConnectionReuse,omitempty"`
}

// Duration is a time.Duration that unmarshals from "30s"-style strings.
type Duration time.Duration

// GetDuration returns the duration or defaultValue if unset.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
