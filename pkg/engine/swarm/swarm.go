// Package swarm runs a self-sizing pool of queue pull loops.
package swarm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Step receives and processes one batch, returning how many messages it
// took. Zero means the queue was idle.
type Step func(ctx context.Context) (int, error)

// Stats holds runtime statistics for the pool.
type Stats struct {
	ActiveWorkers int
	Concurrency   int
	Busy          int
	Steps         int64
	Processed     int64
	Errors        int64
	Throttled     int64
}

// Pool keeps AIMD-many workers calling Step until stopped.
type Pool struct {
	aimd      *AIMD
	step      Step
	throttled func(error) bool
	onScale   func(int)
	logger    *slog.Logger
	idleDelay time.Duration
	target    time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
	quit   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	active int
	busy   atomic.Int64
	stats  Stats
}

// Option configures a Pool.
type Option func(*Pool)

// WithLimits sets the initial and maximum number of workers.
func WithLimits(start, max int) Option {
	return func(p *Pool) {
		p.aimd = NewAIMD(start, 1, max)
	}
}

// WithTargetLatency sets the per-message latency below which the pool grows.
// It is applied after WithLimits.
func WithTargetLatency(d time.Duration) Option {
	return func(p *Pool) {
		p.target = d
	}
}

// WithThrottle classifies errors that should halve concurrency.
func WithThrottle(fn func(error) bool) Option {
	return func(p *Pool) {
		p.throttled = fn
	}
}

// WithScaleHook is called with the target concurrency whenever it is read.
func WithScaleHook(fn func(int)) Option {
	return func(p *Pool) {
		p.onScale = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// WithIdleDelay sets the pause after an error before the next step.
func WithIdleDelay(d time.Duration) Option {
	return func(p *Pool) {
		p.idleDelay = d
	}
}

func New(step Step, opts ...Option) *Pool {
	p := &Pool{
		aimd:      NewAIMD(4, 1, 64),
		step:      step,
		throttled: func(error) bool { return false },
		onScale:   func(int) {},
		logger:    slog.Default(),
		idleDelay: 100 * time.Millisecond,
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.aimd.SetTarget(p.target)
	return p
}

// Start begins the scaling loop. Workers run until Stop or ctx ends.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop cancels in-flight steps and waits for every worker to exit.
func (p *Pool) Stop() {
	p.once.Do(func() {
		close(p.quit)
		if p.cancel != nil {
			p.cancel()
		}
	})
	p.wg.Wait()
}

// Busy is the number of workers currently inside Step.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// GetStats returns current pool stats.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.ActiveWorkers = p.active
	s.Concurrency = p.aimd.Limit()
	s.Busy = p.Busy()
	return s
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	p.scale(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-ticker.C:
			p.scale(ctx)
		}
	}
}

// scale spawns workers up to the AIMD target. Surplus workers exit on
// their own after their current step.
func (p *Pool) scale(ctx context.Context) {
	target := p.aimd.Limit()
	p.onScale(target)

	p.mu.Lock()
	spawn := target - p.active
	p.active += max(spawn, 0)
	p.mu.Unlock()

	for i := 0; i < spawn; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// retire claims an exit slot when the pool is above target.
func (p *Pool) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active > p.aimd.Limit() {
		p.active--
		return true
	}
	return false
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		if p.retire() {
			return
		}
		select {
		case <-ctx.Done():
			p.exit()
			return
		case <-p.quit:
			p.exit()
			return
		default:
		}

		p.busy.Add(1)
		start := time.Now()
		n, err := p.step(ctx)
		latency := time.Since(start)
		p.busy.Add(-1)

		throttled := err != nil && p.throttled(err)
		if n > 0 || throttled {
			p.aimd.Observe(latency/time.Duration(max(n, 1)), throttled)
		}

		p.mu.Lock()
		p.stats.Steps++
		p.stats.Processed += int64(n)
		if err != nil {
			p.stats.Errors++
		}
		if throttled {
			p.stats.Throttled++
		}
		p.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			p.logger.Warn("Worker step failed", "error", err, "throttled", throttled)
			select {
			case <-ctx.Done():
			case <-time.After(p.idleDelay):
			}
		}
	}
}

func (p *Pool) exit() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}
