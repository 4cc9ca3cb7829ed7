package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("NewEngine() returned nil")
	}
	defer engine.Stop()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if snapshot.CurrentPhase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.CurrentPhase, PhaseInit)
	}
	if snapshot.CheckRate != 1.0 {
		t.Errorf("Initial CheckRate = %v, want 1.0", snapshot.CheckRate)
	}
}

func TestEngine_RecordLatency(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordLatency(10*time.Millisecond, "hello", true, 1000)
	engine.RecordLatency(20*time.Millisecond, "hello", true, 2000)
	engine.RecordLatency(30*time.Millisecond, "hello", false, 500)

	snapshot := engine.GetSnapshot()

	if snapshot.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", snapshot.TotalRequests)
	}
	if snapshot.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want 2", snapshot.SuccessRequests)
	}
	if snapshot.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snapshot.FailedRequests)
	}
	if snapshot.TotalBytes != 3500 {
		t.Errorf("TotalBytes = %d, want 3500", snapshot.TotalBytes)
	}

	stats := engine.GetRequestStats()
	if stats["hello"].Count != 3 {
		t.Errorf("hello count = %d, want 3", stats["hello"].Count)
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 1; i <= 10; i++ {
		engine.RecordLatency(time.Duration(i*10)*time.Millisecond, "", true, 100)
	}

	percentiles := engine.GetLatencyPercentiles()

	// HDR binning makes these approximate
	if percentiles.P50 < 40*time.Millisecond || percentiles.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms", percentiles.P50)
	}
	if percentiles.P99 < 90*time.Millisecond || percentiles.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms", percentiles.P99)
	}
	if percentiles.Min > 11*time.Millisecond {
		t.Errorf("Min = %v, want ~10ms", percentiles.Min)
	}
}

func TestEngine_RecordCheck(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordCheck("status was 200", true)
	engine.RecordCheck("status was 200", true)
	engine.RecordCheck("status was 200", false)
	engine.RecordCheck("message is Hello!", true)

	stats := engine.GetCheckStats()
	if len(stats) != 2 {
		t.Fatalf("len(GetCheckStats()) = %d, want 2", len(stats))
	}
	if stats[0].Name != "status was 200" || stats[0].Passes != 2 || stats[0].Fails != 1 {
		t.Errorf("stats[0] = %+v, want status was 200 2/1", stats[0])
	}
	if stats[1].Name != "message is Hello!" || stats[1].Passes != 1 {
		t.Errorf("stats[1] = %+v, want message is Hello! 1/0", stats[1])
	}

	snapshot := engine.GetSnapshot()
	if snapshot.ChecksPassed != 3 || snapshot.ChecksFailed != 1 {
		t.Errorf("checks = %d/%d, want 3/1", snapshot.ChecksPassed, snapshot.ChecksFailed)
	}
	if snapshot.CheckRate != 0.75 {
		t.Errorf("CheckRate = %v, want 0.75", snapshot.CheckRate)
	}
}

func TestEngine_RecordCheck_Concurrent(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				engine.RecordCheck("status was 200", j%10 != 0)
			}
		}(i)
	}
	wg.Wait()

	stats := engine.GetCheckStats()
	if len(stats) != 1 {
		t.Fatalf("len(GetCheckStats()) = %d, want 1", len(stats))
	}
	if stats[0].Passes != 4500 || stats[0].Fails != 500 {
		t.Errorf("counts = %d/%d, want 4500/500", stats[0].Passes, stats[0].Fails)
	}
}

func TestEngine_PhaseHistory(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.SetPhase(PhaseRampingUp)
	engine.SetPhase(PhaseRampingUp)
	engine.SetPhase(PhaseHolding)
	engine.SetPhase(PhaseRampingDown)
	engine.SetPhase(PhaseStopped)

	history := engine.GetPhaseHistory()
	want := []Phase{PhaseRampingUp, PhaseHolding, PhaseRampingDown, PhaseStopped}
	if len(history) != len(want) {
		t.Fatalf("len(history) = %d, want %d", len(history), len(want))
	}
	for i, p := range want {
		if history[i].Phase != p {
			t.Errorf("history[%d] = %v, want %v", i, history[i].Phase, p)
		}
	}
	if engine.GetPhase() != PhaseStopped {
		t.Errorf("GetPhase() = %v, want %v", engine.GetPhase(), PhaseStopped)
	}
}

func TestEngine_TimeSeriesRecordsVUs(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.BucketInterval = 20 * time.Millisecond
	engine := NewEngineWithConfig(cfg)

	engine.SetActiveVUs(7)
	engine.SetPhase(PhaseHolding)
	engine.RecordLatency(time.Millisecond, "", true, 10)

	time.Sleep(100 * time.Millisecond)
	engine.Stop()

	buckets := engine.GetTimeSeries()
	if len(buckets) < 2 {
		t.Fatalf("len(buckets) = %d, want >= 2", len(buckets))
	}

	last := buckets[len(buckets)-1]
	if last.ActiveVUs != 7 {
		t.Errorf("last.ActiveVUs = %d, want 7", last.ActiveVUs)
	}
	if last.Phase != PhaseHolding {
		t.Errorf("last.Phase = %v, want %v", last.Phase, PhaseHolding)
	}
	if last.TotalRequests != 1 {
		t.Errorf("last.TotalRequests = %d, want 1", last.TotalRequests)
	}
}

func TestEngine_StopIdempotent(t *testing.T) {
	engine := NewEngine()
	engine.Stop()
	engine.Stop()

	if engine.bucketStore.Count() != 1 {
		t.Errorf("buckets after double Stop() = %d, want 1", engine.bucketStore.Count())
	}
}

func TestTimeBucketStore_RingBuffer(t *testing.T) {
	store := NewTimeBucketStore(3)

	for i := 0; i < 5; i++ {
		store.RecordRequest(true)
		store.CreateBucket(int64(i+1), int64(i+1), 0, 0, LatencyPercentiles{}, i, PhaseRampingUp)
	}

	buckets := store.GetBuckets()
	if len(buckets) != 3 {
		t.Fatalf("len(buckets) = %d, want 3", len(buckets))
	}
	for i, b := range buckets {
		if b.ActiveVUs != i+2 {
			t.Errorf("buckets[%d].ActiveVUs = %d, want %d", i, b.ActiveVUs, i+2)
		}
	}
	if store.Count() != 3 {
		t.Errorf("Count() = %d, want 3", store.Count())
	}
}

func TestTimeBucketStore_SteadyStateRPS(t *testing.T) {
	store := NewTimeBucketStore(10)

	store.CreateBucket(0, 0, 0, 0, LatencyPercentiles{}, 1, PhaseRampingUp)
	if _, n := store.CalculateSteadyStateRPS(); n != 0 {
		t.Errorf("holding buckets = %d, want 0", n)
	}

	store.RecordRequest(true)
	store.RecordRequest(false)
	b := store.CreateBucket(2, 1, 1, 0, LatencyPercentiles{}, 1, PhaseHolding)
	if b.IntervalRequests != 2 {
		t.Errorf("IntervalRequests = %d, want 2", b.IntervalRequests)
	}
	if b.IntervalErrorRate != 0.5 {
		t.Errorf("IntervalErrorRate = %v, want 0.5", b.IntervalErrorRate)
	}

	if _, n := store.CalculateSteadyStateRPS(); n != 1 {
		t.Errorf("holding buckets = %d, want 1", n)
	}
}
