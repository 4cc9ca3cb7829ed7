package loadtest_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/loadtest/internal/loadtest"
	"github.com/wesleyorama2/loadtest/internal/loadtest/check"
	"github.com/wesleyorama2/loadtest/internal/loadtest/metrics"
	"github.com/wesleyorama2/loadtest/internal/server"
)

func helloServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(server.New(server.DefaultAddr, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// Helper function to create a test scenario
func createTestScenario(url string) *loadtest.Scenario {
	return &loadtest.Scenario{
		Name: "test-scenario",
		Requests: []*loadtest.Request{
			{
				Name:   "hello",
				Method: "GET",
				URL:    url,
				Checks: []*check.Check{check.MustCompile(check.StatusIs(200))},
			},
		},
	}
}

func createTestVU(scenario *loadtest.Scenario, metricsEngine *metrics.Engine) *loadtest.VirtualUser {
	client := &http.Client{Timeout: 5 * time.Second}
	return loadtest.NewVirtualUser(1, scenario, client, metricsEngine)
}

func TestNewVirtualUser(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario("http://localhost"), metricsEngine)

	if vu.ID != 1 {
		t.Errorf("VU ID = %d, want 1", vu.ID)
	}
	if vu.GetState() != loadtest.VUStateIdle {
		t.Errorf("Initial VU state = %v, want %v", vu.GetState(), loadtest.VUStateIdle)
	}
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state loadtest.VUState
		want  string
	}{
		{loadtest.VUStateIdle, "idle"},
		{loadtest.VUStateRunning, "running"},
		{loadtest.VUStateStopping, "stopping"},
		{loadtest.VUStateStopped, "stopped"},
		{loadtest.VUState(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("VUState.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVirtualUser_RunIteration(t *testing.T) {
	srv := helloServer(t)

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario(srv.URL+server.HelloPath), metricsEngine)

	for i := 0; i < 3; i++ {
		if err := vu.RunIteration(context.Background()); err != nil {
			t.Fatalf("RunIteration() error = %v", err)
		}
	}

	if got := metricsEngine.GetSnapshot().TotalRequests; got != 3 {
		t.Errorf("TotalRequests = %d, want 3", got)
	}
	if vu.GetState() != loadtest.VUStateIdle {
		t.Errorf("state after iteration = %v, want idle", vu.GetState())
	}

	snap := metricsEngine.GetSnapshot()
	if snap.TotalRequests != 3 || snap.SuccessRequests != 3 {
		t.Errorf("requests = %d (success %d), want 3/3", snap.TotalRequests, snap.SuccessRequests)
	}
	if snap.TotalBytes != int64(3*len(`{"message":"Hello!"}`)) {
		t.Errorf("TotalBytes = %d", snap.TotalBytes)
	}

	checks := metricsEngine.GetCheckStats()
	if len(checks) != 1 || checks[0].Name != "status was 200" || checks[0].Passes != 3 || checks[0].Fails != 0 {
		t.Errorf("checks = %+v", checks)
	}
}

func TestVirtualUser_FailedCheckIsRecorded(t *testing.T) {
	srv := helloServer(t)

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	// Undefined route: 404 fails the request and the check, but not the iteration.
	vu := createTestVU(createTestScenario(srv.URL+"/nope"), metricsEngine)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}

	snap := metricsEngine.GetSnapshot()
	if snap.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snap.FailedRequests)
	}
	checks := metricsEngine.GetCheckStats()
	if len(checks) != 1 || checks[0].Fails != 1 {
		t.Errorf("checks = %+v", checks)
	}
}

func TestVirtualUser_HTTPRequestFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario(url), metricsEngine)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("transport errors must not abort the iteration: %v", err)
	}

	snap := metricsEngine.GetSnapshot()
	if snap.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snap.FailedRequests)
	}
	if checks := metricsEngine.GetCheckStats(); checks[0].Fails != 1 {
		t.Errorf("checks = %+v", checks)
	}
}

func TestVirtualUser_HTTPRequestWithHeadersAndBody(t *testing.T) {
	var gotHeader, gotUA, gotBody, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Greeting")
		gotUA = r.Header.Get("User-Agent")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scenario := &loadtest.Scenario{
		Variables: map[string]string{"host": srv.URL, "who": "world"},
		UserAgent: "loadtest/test",
		Headers:   map[string]string{"X-Greeting": "default"},
		Requests: []*loadtest.Request{{
			Name:    "post",
			Method:  "POST",
			URL:     "{{host}}/greet",
			Headers: map[string]string{"X-Greeting": "hi {{who}}"},
			Body:    `{"to":"{{who}}"}`,
		}},
	}

	vu := createTestVU(scenario, metricsEngine)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}

	if gotMethod != "POST" {
		t.Errorf("method = %q", gotMethod)
	}
	if gotHeader != "hi world" {
		t.Errorf("X-Greeting = %q, want request header to win", gotHeader)
	}
	if gotUA != "loadtest/test" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotBody != `{"to":"world"}` {
		t.Errorf("body = %q", gotBody)
	}
}

func TestVirtualUser_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scenario := createTestScenario(srv.URL)
	scenario.Requests[0].Timeout = 50 * time.Millisecond

	vu := createTestVU(scenario, metricsEngine)
	start := time.Now()
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request took %v, timeout not applied", elapsed)
	}
	if metricsEngine.GetSnapshot().FailedRequests != 1 {
		t.Error("timed out request should count as failed")
	}
}

func TestVirtualUser_RunIteration_ContextCancelled(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario("http://localhost"), metricsEngine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := vu.RunIteration(ctx); err != context.Canceled {
		t.Errorf("RunIteration() error = %v, want context.Canceled", err)
	}
	if metricsEngine.GetSnapshot().TotalRequests != 0 {
		t.Error("no request should be sent after cancellation")
	}
}

func TestVirtualUser_RunIteration_StoppedVU(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario("http://localhost"), metricsEngine)
	vu.RequestStop()

	if err := vu.RunIteration(context.Background()); err != loadtest.ErrVUStopped {
		t.Errorf("RunIteration() error = %v, want ErrVUStopped", err)
	}
	if got := metricsEngine.GetSnapshot().TotalRequests; got != 0 {
		t.Errorf("TotalRequests = %d, want 0", got)
	}
}

func TestVirtualUser_StopDuringIterationDrains(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var served atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		served.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario(srv.URL), metricsEngine)

	errCh := make(chan error, 1)
	go func() { errCh <- vu.RunIteration(context.Background()) }()

	<-started
	vu.RequestStop()
	if vu.GetState() != loadtest.VUStateStopping {
		t.Errorf("state = %v, want stopping", vu.GetState())
	}
	close(release)

	if err := <-errCh; err != nil {
		t.Fatalf("in-flight iteration should complete, got %v", err)
	}
	if served.Load() != 1 {
		t.Error("in-flight request was not completed")
	}
	if metricsEngine.GetCheckStats()[0].Passes != 1 {
		t.Error("drained iteration should still record its check")
	}
	if vu.GetState() != loadtest.VUStateStopping {
		t.Errorf("state after drain = %v, want stopping", vu.GetState())
	}
}

func TestVirtualUser_SleepInterruptedByStop(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario("http://localhost"), metricsEngine)

	go func() {
		time.Sleep(20 * time.Millisecond)
		vu.RequestStop()
	}()

	start := time.Now()
	if vu.Sleep(context.Background(), 5*time.Second) {
		t.Error("Sleep() = true, want false after stop")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep() returned after %v", elapsed)
	}
}

func TestVirtualUser_SleepCompletes(t *testing.T) {
	vu := createTestVU(createTestScenario("http://localhost"), nil)

	if !vu.Sleep(context.Background(), 10*time.Millisecond) {
		t.Error("Sleep() = false, want true")
	}
	if !vu.Sleep(context.Background(), 0) {
		t.Error("Sleep(0) = false, want true")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if vu.Sleep(ctx, time.Second) {
		t.Error("Sleep() with cancelled ctx = true, want false")
	}
}

func TestVirtualUser_RequestStop(t *testing.T) {
	vu := createTestVU(createTestScenario("http://localhost"), nil)

	vu.RequestStop()
	vu.RequestStop() // must not panic on double close

	if vu.GetState() != loadtest.VUStateStopping {
		t.Errorf("state = %v after RequestStop, want stopping", vu.GetState())
	}
}

func TestVirtualUser_MarkStopped(t *testing.T) {
	vu := createTestVU(createTestScenario("http://localhost"), nil)

	if vu.WaitForStop(10 * time.Millisecond) {
		t.Error("WaitForStop() = true before MarkStopped")
	}

	vu.MarkStopped()
	vu.MarkStopped()
	vu.RequestStop()

	if vu.GetState() != loadtest.VUStateStopped {
		t.Errorf("state = %v, want stopped", vu.GetState())
	}
	if !vu.WaitForStop(10 * time.Millisecond) {
		t.Error("WaitForStop() = false after MarkStopped")
	}
}
