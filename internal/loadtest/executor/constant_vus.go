package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wesleyorama2/loadtest/internal/loadtest"
	"github.com/wesleyorama2/loadtest/internal/loadtest/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// It behaves like a ramp with a single holding stage: all VUs start at
// once, loop until the duration expires and then drain.
type ConstantVUs struct {
	config  *Config
	metrics *metrics.Engine
	pool    *vuPool

	startTime time.Time
	running   bool

	cancelFunc context.CancelFunc
	done       chan struct{}

	mu sync.RWMutex
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	defer close(e.done)

	iterCtx, cancelIter := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIter()

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	defer cancel()

	e.mu.Lock()
	e.metrics = metricsEngine
	e.pool = newVUPool(scheduler, e.config.Pacing)
	e.startTime = time.Now()
	e.cancelFunc = cancel
	e.running = true
	e.mu.Unlock()

	metricsEngine.SetPhase(metrics.PhaseHolding)
	metricsEngine.SetActiveVUs(e.pool.scale(iterCtx, e.config.VUs))

	<-runCtx.Done()

	metricsEngine.SetPhase(metrics.PhaseStopped)
	e.pool.drain(e.config.gracefulStop())
	cancelIter()
	e.pool.wait()
	metricsEngine.SetActiveVUs(0)

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.running {
		if e.startTime.IsZero() {
			return 0.0
		}
		return 1.0
	}

	progress := float64(time.Since(e.startTime)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of VU goroutines currently running.
func (e *ConstantVUs) GetActiveVUs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.pool == nil {
		return 0
	}
	return int(e.pool.active.Load())
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := &Stats{
		StartTime:     e.startTime,
		CurrentTime:   time.Now(),
		TotalDuration: e.config.Duration,
		TargetVUs:     e.config.VUs,
		TotalStages:   1,
		Phase:         metrics.PhaseInit,
	}

	if !e.startTime.IsZero() {
		stats.Elapsed = time.Since(e.startTime)
		stats.Phase = metrics.PhaseHolding
		if !e.running || stats.Elapsed >= e.config.Duration {
			stats.Phase = metrics.PhaseStopped
			stats.CurrentStage = 1
		}
	}
	if e.pool != nil {
		stats.ActiveVUs = int(e.pool.active.Load())
		stats.Iterations = e.pool.iterations.Load()
	}

	return stats
}

// Stop ends the run early and waits for Run to finish draining, or for
// ctx to expire.
func (e *ConstantVUs) Stop(ctx context.Context) error {
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

var _ Executor = (*ConstantVUs)(nil)
