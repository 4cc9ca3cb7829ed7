package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/loadtest/internal/loadtest"
	"github.com/wesleyorama2/loadtest/internal/loadtest/metrics"
)

// controllerInterval is how often the VU count is recomputed.
const controllerInterval = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// Every controllerInterval the target is linearly interpolated between the
// previous stage's target and the current one, and the pool is resized to
// match.
//
// Example stages:
//
//	stages:
//	  - duration: 10s
//	    target: 5000   # Ramp from 0 to 5000 VUs over 10s
//	  - duration: 30s
//	    target: 10000  # Continue to 10000 VUs over 30s
//	  - duration: 10s
//	    target: 0      # Ramp down to 0 VUs over 10s
type RampingVUs struct {
	config  *Config
	metrics *metrics.Engine
	pool    *vuPool

	startTime    time.Time
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool

	cancelFunc context.CancelFunc
	done       chan struct{}

	mu sync.RWMutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run walks the stages and blocks until the ramp is over and every VU has
// drained or the graceful stop period has expired.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	defer close(e.done)

	// VUs get a context that outlives both the last stage and ctx, so
	// in-flight iterations drain on every kind of stop. It is cancelled
	// only once the graceful stop period is over.
	iterCtx, cancelIter := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIter()

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	defer cancel()

	e.mu.Lock()
	e.metrics = metricsEngine
	e.pool = newVUPool(scheduler, e.config.Pacing)
	e.startTime = time.Now()
	e.cancelFunc = cancel
	e.mu.Unlock()
	e.running.Store(true)

	e.vuController(runCtx, iterCtx)

	e.targetVUs.Store(0)
	e.currentStage.Store(int32(len(e.config.Stages)))
	metricsEngine.SetPhase(metrics.PhaseStopped)

	e.pool.drain(e.config.gracefulStop())
	cancelIter()
	e.pool.wait()

	metricsEngine.SetActiveVUs(0)
	e.running.Store(false)
	return nil
}

// vuController adjusts the VU count until runCtx ends.
func (e *RampingVUs) vuController(runCtx, iterCtx context.Context) {
	ticker := time.NewTicker(controllerInterval)
	defer ticker.Stop()

	e.adjust(iterCtx)
	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			e.adjust(iterCtx)
		}
	}
}

func (e *RampingVUs) adjust(iterCtx context.Context) {
	elapsed := time.Since(e.startTime)

	target := TargetAt(e.config.Stages, elapsed)
	e.targetVUs.Store(int32(target))
	e.currentStage.Store(int32(StageAt(e.config.Stages, elapsed)))

	e.metrics.SetActiveVUs(e.pool.scale(iterCtx, target))
	e.metrics.SetPhase(PhaseAt(e.config.Stages, elapsed))
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if !e.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}

	totalDuration := e.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of VU goroutines currently running.
func (e *RampingVUs) GetActiveVUs() int {
	e.mu.RLock()
	pool := e.pool
	e.mu.RUnlock()

	if pool == nil {
		return 0
	}
	return int(pool.active.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	pool := e.pool
	e.mu.RUnlock()

	stats := &Stats{
		StartTime:     start,
		CurrentTime:   time.Now(),
		TotalDuration: e.config.TotalDuration(),
		TargetVUs:     int(e.targetVUs.Load()),
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   len(e.config.Stages),
		Phase:         metrics.PhaseInit,
	}

	if !start.IsZero() {
		stats.Elapsed = time.Since(start)
		stats.Phase = PhaseAt(e.config.Stages, stats.Elapsed)
	}
	if pool != nil {
		stats.ActiveVUs = int(pool.active.Load())
		stats.Iterations = pool.iterations.Load()
	}
	if stats.CurrentStage < len(e.config.Stages) {
		stats.CurrentStageName = e.config.Stages[stats.CurrentStage].Name
	}

	return stats
}

// Stop ends the ramp early and waits for Run to finish draining, or for
// ctx to expire.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.mu.RLock()
	cancel := e.cancelFunc
	e.mu.RUnlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Executor = (*RampingVUs)(nil)
