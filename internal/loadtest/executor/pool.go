package executor

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/loadtest/internal/loadtest"
)

// vuPool runs VUs on behalf of an executor. Each VU loops
// iteration, pacing, iteration until it is asked to stop.
type vuPool struct {
	scheduler *loadtest.VUScheduler
	pacing    *PacingConfig

	active     atomic.Int32
	iterations atomic.Int64
	wg         sync.WaitGroup

	mu  sync.Mutex
	vus []*loadtest.VirtualUser
}

func newVUPool(scheduler *loadtest.VUScheduler, pacing *PacingConfig) *vuPool {
	return &vuPool{
		scheduler: scheduler,
		pacing:    pacing,
	}
}

// scale spawns or stops VUs until target are running. Excess VUs are
// stopped newest first; each finishes its in-flight iteration.
func (p *vuPool) scale(ctx context.Context, target int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := len(p.vus)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			vu := p.scheduler.SpawnVU()
			p.vus = append(p.vus, vu)
			p.wg.Add(1)
			go p.run(ctx, vu)
		}
	case target < current:
		for i := current - 1; i >= target; i-- {
			p.vus[i].RequestStop()
			p.vus[i] = nil
		}
		p.vus = p.vus[:target]
	}
	return len(p.vus)
}

func (p *vuPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.vus)
}

func (p *vuPool) run(ctx context.Context, vu *loadtest.VirtualUser) {
	defer p.wg.Done()
	defer p.scheduler.RemoveVU(vu.ID)

	p.active.Add(1)
	defer p.active.Add(-1)

	for {
		if err := vu.RunIteration(ctx); err != nil {
			return
		}
		p.iterations.Add(1)

		if !vu.Sleep(ctx, p.pacing.next()) {
			return
		}
	}
}

// drain asks every VU to stop and waits up to timeout for in-flight
// iterations. It reports whether all VUs stopped in time.
func (p *vuPool) drain(timeout time.Duration) bool {
	p.mu.Lock()
	for _, vu := range p.vus {
		vu.RequestStop()
	}
	p.vus = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// wait blocks until every VU goroutine has exited.
func (p *vuPool) wait() {
	p.wg.Wait()
}

// next returns the pause before the following iteration.
func (pc *PacingConfig) next() time.Duration {
	if pc == nil {
		return 0
	}

	switch pc.Type {
	case PacingConstant:
		return pc.Duration
	case PacingRandom:
		if diff := pc.Max - pc.Min; diff > 0 {
			return pc.Min + time.Duration(rand.Int63n(int64(diff)))
		}
		return pc.Min
	default:
		return 0
	}
}
