package engine

import (
	"testing"

	"github.com/wesleyorama2/loadtest/internal/loadtest/config"
)

func TestNewEngine_IdlePoolSizedPerScenario(t *testing.T) {
	hello := []config.RequestConfig{{URL: "http://localhost:8000/say/hello"}}

	tests := []struct {
		name     string
		settings config.GlobalSettings
		scenario *config.ScenarioConfig
		want     int
	}{
		{
			name: "ramp to ten thousand",
			scenario: &config.ScenarioConfig{
				Executor: "ramping-vus",
				Stages:   []config.StageConfig{{Duration: "10s", Target: 5000}, {Duration: "30s", Target: 10000}, {Duration: "10s", Target: 0}},
				Requests: hello,
			},
			want: 10000,
		},
		{
			name:     "constant vus",
			scenario: &config.ScenarioConfig{Executor: "constant-vus", VUs: 250, Duration: "1m", Requests: hello},
			want:     250,
		},
		{
			name:     "configured floor above vus",
			settings: config.GlobalSettings{MaxIdleConnsPerHost: 400},
			scenario: &config.ScenarioConfig{Executor: "constant-vus", VUs: 10, Duration: "1m", Requests: hello},
			want:     400,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.TestConfig{
				Name:      tt.name,
				Settings:  tt.settings,
				Scenarios: map[string]*config.ScenarioConfig{"s": tt.scenario},
			}
			eng, err := NewEngine(cfg)
			if err != nil {
				t.Fatalf("NewEngine() error = %v", err)
			}

			httpConfig := eng.scenarios["s"].httpConfig
			if httpConfig.MaxIdleConnsPerHost != tt.want {
				t.Errorf("MaxIdleConnsPerHost = %d, want %d", httpConfig.MaxIdleConnsPerHost, tt.want)
			}
			if httpConfig.MaxIdleConns < httpConfig.MaxIdleConnsPerHost {
				t.Errorf("MaxIdleConns = %d, below per-host %d", httpConfig.MaxIdleConns, httpConfig.MaxIdleConnsPerHost)
			}
		})
	}
}
