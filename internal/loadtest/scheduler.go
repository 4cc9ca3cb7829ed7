package loadtest

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/loadtest/internal/loadtest/metrics"
)

// DefaultRequestTimeout applies when a profile sets no timeout.
const DefaultRequestTimeout = 60 * time.Second

// HTTPClientConfig describes the transport the VUs of one scenario share.
type HTTPClientConfig struct {
	Timeout time.Duration

	// MaxIdleConns caps idle connections across all hosts.
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections kept per host. Zero means
	// net/http's default of 2; SizedFor raises it to the scenario's VU count.
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps dialed plus active connections per host. Zero
	// means unlimited.
	MaxConnsPerHost int

	IdleConnTimeout   time.Duration
	DisableKeepAlives bool

	// UseSharedClient gives every VU the same *http.Client. When false
	// each VU dials its own connections.
	UseSharedClient bool
}

// DefaultHTTPClientConfig returns the transport settings used when a
// profile leaves them unset.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:         DefaultRequestTimeout,
		MaxIdleConns:    10000,
		IdleConnTimeout: 90 * time.Second,
		UseSharedClient: true,
	}
}

// SizedFor returns a copy of c whose idle pool can hold one keep-alive
// connection per VU, so a scenario at its peak does not keep closing and
// redialing. Limits already above vus are left alone.
func (c HTTPClientConfig) SizedFor(vus int) HTTPClientConfig {
	if c.MaxIdleConnsPerHost < vus {
		c.MaxIdleConnsPerHost = vus
	}
	if c.MaxIdleConns != 0 && c.MaxIdleConns < c.MaxIdleConnsPerHost {
		c.MaxIdleConns = c.MaxIdleConnsPerHost
	}
	return c
}

func (c HTTPClientConfig) newClient() *http.Client {
	return &http.Client{
		Timeout: c.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        c.MaxIdleConns,
			MaxIdleConnsPerHost: c.MaxIdleConnsPerHost,
			MaxConnsPerHost:     c.MaxConnsPerHost,
			IdleConnTimeout:     c.IdleConnTimeout,
			DisableKeepAlives:   c.DisableKeepAlives,
		},
	}
}

// VUScheduler owns the VUs of one scenario. Executors spawn VUs through
// it and report back when a VU's goroutine exits; the engine shuts it
// down once the executor returns.
type VUScheduler struct {
	scenario   *Scenario
	metrics    *metrics.Engine
	httpConfig HTTPClientConfig
	shared     *http.Client // nil unless UseSharedClient

	mu  sync.RWMutex
	vus map[int]*VirtualUser

	spawned      atomic.Int32
	shutdownOnce sync.Once
}

// NewVUScheduler creates a scheduler for scenario. VUs record into
// metricsEngine and issue requests through clients built from httpConfig.
func NewVUScheduler(scenario *Scenario, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig) *VUScheduler {
	s := &VUScheduler{
		scenario:   scenario,
		metrics:    metricsEngine,
		httpConfig: httpConfig,
		vus:        make(map[int]*VirtualUser),
	}
	if httpConfig.UseSharedClient {
		s.shared = httpConfig.newClient()
	}
	return s
}

// SpawnVU creates and registers a new Virtual User.
//
// The VU is not started; the caller drives it and calls RemoveVU once
// its goroutine exits.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.spawned.Add(1))

	client := s.shared
	if client == nil {
		client = s.httpConfig.newClient()
	}
	vu := NewVirtualUser(id, s.scenario, client, s.metrics)

	s.mu.Lock()
	s.vus[id] = vu
	s.mu.Unlock()
	return vu
}

// RemoveVU marks a VU stopped and forgets it.
func (s *VUScheduler) RemoveVU(id int) {
	s.mu.Lock()
	vu, ok := s.vus[id]
	delete(s.vus, id)
	s.mu.Unlock()

	if ok {
		vu.MarkStopped()
	}
}

// GetActiveVUCount returns the count of registered, non-stopped VUs.
func (s *VUScheduler) GetActiveVUCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			n++
		}
	}
	return n
}

// TotalSpawned returns how many VUs have been spawned over the
// scheduler's lifetime.
func (s *VUScheduler) TotalSpawned() int {
	return int(s.spawned.Load())
}

// StopAllVUs asks every registered VU to stop after its current iteration.
func (s *VUScheduler) StopAllVUs() {
	for _, vu := range s.snapshot() {
		vu.RequestStop()
	}
}

// Shutdown stops every VU, waits up to timeout for them to finish and
// releases idle connections. It returns the number of VUs still running.
// Calls after the first return 0 immediately.
func (s *VUScheduler) Shutdown(timeout time.Duration) int {
	left := 0
	s.shutdownOnce.Do(func() {
		if s.GetActiveVUCount() > 0 {
			s.StopAllVUs()
			left = s.waitForVUs(timeout)
		}
		if s.shared != nil {
			s.shared.CloseIdleConnections()
		}
	})
	return left
}

func (s *VUScheduler) snapshot() []*VirtualUser {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vus = append(vus, vu)
	}
	return vus
}

// waitForVUs returns how many VUs had not stopped by the deadline.
func (s *VUScheduler) waitForVUs(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	left := 0
	for _, vu := range s.snapshot() {
		if !vu.WaitForStop(time.Until(deadline)) {
			left++
		}
	}
	return left
}
