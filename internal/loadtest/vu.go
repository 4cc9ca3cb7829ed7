// Package loadtest runs virtual users against an HTTP target.
//
// A VirtualUser loops over its scenario's requests, evaluates the checks
// attached to each response and records the outcome in a metrics engine.
// The VUScheduler owns the VU pool and the HTTP client they share.
// Executors (see the executor package) decide how many VUs run when.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/loadtest/internal/loadtest/check"
	"github.com/wesleyorama2/loadtest/internal/loadtest/metrics"
)

// ErrVUStopped is returned by RunIteration once a stop has been requested.
var ErrVUStopped = errors.New("virtual user stopped")

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser represents a single simulated user executing iterations.
//
// VUs share nothing with each other except the HTTP client and the
// metrics engine, both of which are safe for concurrent use.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	// Scenario defines what requests to execute
	Scenario *Scenario

	// HTTP client for this VU (may be shared or per-VU)
	HTTPClient *http.Client

	// Metrics engine for recording results
	Metrics *metrics.Engine

	state  atomic.Int32
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, scenario *Scenario, httpClient *http.Client, metricsEngine *metrics.Engine) *VirtualUser {
	return &VirtualUser{
		ID:         id,
		Scenario:   scenario,
		HTTPClient: httpClient,
		Metrics:    metricsEngine,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// RunIteration executes every request of the scenario once, in order.
//
// A stop requested while the iteration is in flight does not interrupt it;
// the next call returns ErrVUStopped. Cancelling ctx aborts the iteration
// and returns ctx.Err(). Failed requests and failed checks are recorded,
// never returned.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return ErrVUStopped
	}

	for _, req := range vu.Scenario.Requests {
		if err := ctx.Err(); err != nil {
			vu.finishIteration()
			return err
		}
		vu.execute(ctx, req)
	}

	vu.finishIteration()
	return nil
}

// finishIteration returns a running VU to idle. A VU that was asked to
// stop mid-iteration stays in the stopping state.
func (vu *VirtualUser) finishIteration() {
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
}

func (vu *VirtualUser) execute(ctx context.Context, req *Request) {
	resp := vu.do(ctx, req)

	success := resp.Err == nil && resp.StatusCode < 400
	vu.Metrics.RecordLatency(resp.Duration, req.Name, success, int64(len(resp.Body)))

	for _, c := range req.Checks {
		vu.Metrics.RecordCheck(c.Name(), c.Evaluate(resp))
	}
}

// do performs a single HTTP request. Transport errors end up in
// Response.Err with a zero status code.
func (vu *VirtualUser) do(ctx context.Context, req *Request) *check.Response {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp := &check.Response{}

	httpReq, err := vu.buildRequest(ctx, req)
	if err != nil {
		resp.Duration = time.Since(start)
		resp.Err = fmt.Errorf("failed to build request: %w", err)
		return resp
	}

	httpResp, err := vu.HTTPClient.Do(httpReq)
	if err != nil {
		resp.Duration = time.Since(start)
		resp.Err = err
		return resp
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	resp.Duration = time.Since(start)
	resp.StatusCode = httpResp.StatusCode
	resp.Body = body
	if err != nil {
		resp.Err = fmt.Errorf("failed to read response body: %w", err)
	}
	return resp
}

func (vu *VirtualUser) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(vu.resolveVariables(req.Body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, vu.resolveVariables(req.URL), body)
	if err != nil {
		return nil, err
	}

	if vu.Scenario.UserAgent != "" {
		httpReq.Header.Set("User-Agent", vu.Scenario.UserAgent)
	}
	for key, value := range vu.Scenario.Headers {
		httpReq.Header.Set(key, vu.resolveVariables(value))
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, vu.resolveVariables(value))
	}

	return httpReq, nil
}

// resolveVariables replaces {{name}} placeholders with scenario variables.
func (vu *VirtualUser) resolveVariables(input string) string {
	if len(vu.Scenario.Variables) == 0 || !strings.Contains(input, "{{") {
		return input
	}
	for key, value := range vu.Scenario.Variables {
		input = strings.ReplaceAll(input, "{{"+key+"}}", value)
	}
	return input
}

// Sleep pauses the VU for d. It returns false if the pause was cut short
// by a stop request or by ctx.
func (vu *VirtualUser) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// RequestStop signals the VU to stop after completing the current
// iteration. A pending Sleep returns immediately.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	select {
	case <-vu.doneCh:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
// Should be called when the goroutine driving the VU exits.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	switch prev {
	case VUStateStopped:
		return
	case VUStateIdle, VUStateRunning:
		close(vu.stopCh)
	}
	close(vu.doneCh)
}

// Scenario defines what a VU executes during each iteration.
type Scenario struct {
	// Name of the scenario
	Name string

	// Variables substituted into URLs, headers and bodies as {{name}}
	Variables map[string]string

	// Headers applied to every request before request-specific headers
	Headers map[string]string

	// UserAgent overrides Go's default User-Agent when set
	UserAgent string

	// Requests to execute in order
	Requests []*Request
}

// Request is a single HTTP request with its compiled checks.
type Request struct {
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Body    string

	// Timeout bounds this request in addition to the client timeout
	Timeout time.Duration

	Checks []*check.Check
}
