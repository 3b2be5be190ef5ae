package service

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/infra/metrics"
	"github.com/webitel/im-mailbox-service/internal/domain/limiter"
	"github.com/webitel/im-mailbox-service/internal/domain/registry"
)

// jitterFactor spreads sweeps of concurrently started instances.
const jitterFactor = 0.1

// SweepReport summarizes one Collect pass.
type SweepReport struct {
	Mailboxes int
	Limiters  int
	Duration  time.Duration
}

// [GARBAGE_COLLECTOR] Periodically reclaims idle mailboxes and rate-limit
// buckets. The config snapshot is re-read on every tick, so period and
// enablement follow hot reloads.
type GarbageCollector struct {
	hub     registry.Hubber
	limiter limiter.Limiter
	src     config.Source
	rec     *metrics.Recorder
	logger  *slog.Logger
	jitter  func(time.Duration) time.Duration

	// reset is the side channel used by Clear while the loop runs.
	reset chan chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewGarbageCollector(hub registry.Hubber, lim limiter.Limiter, src config.Source, rec *metrics.Recorder, logger *slog.Logger) *GarbageCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &GarbageCollector{
		hub:     hub,
		limiter: lim,
		src:     src,
		rec:     rec,
		logger:  logger,
		jitter:  jitter,
		reset:   make(chan chan struct{}),
	}
}

// Start launches the sweep loop. The loop outlives ctx; use Stop to end it.
func (g *GarbageCollector) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.run(loopCtx, g.done)

	g.logger.Info("[GC] started", slog.Duration("period", g.src.Current().GC.Period))
	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (g *GarbageCollector) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel == nil {
		return
	}
	g.cancel()
	<-g.done
	g.cancel, g.done = nil, nil

	g.logger.Info("[GC] stopped")
}

// Clear empties the mailbox registry and the limiter. While the loop runs
// the reset is executed by the loop itself, so it never interleaves with a
// sweep.
func (g *GarbageCollector) Clear() {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()

	if done != nil {
		ack := make(chan struct{})
		select {
		case g.reset <- ack:
			<-ack
			return
		case <-done:
		}
	}
	g.clear()
}

// Collect runs one synchronous sweep regardless of gc.enabled.
func (g *GarbageCollector) Collect(ctx context.Context) SweepReport {
	cfg := g.src.Current().GC
	start := time.Now()

	report := SweepReport{
		Mailboxes: g.hub.TraverseRegistry(cfg.InterShardPause),
		Limiters:  g.limiter.TraverseLimiters(),
	}
	report.Duration = time.Since(start)

	g.rec.SweepDone(ctx, report.Duration)
	g.logger.Debug("[GC] sweep completed",
		slog.Int("mailboxes_evicted", report.Mailboxes),
		slog.Int("limiters_evicted", report.Limiters),
		slog.Int64("online", g.hub.GetOnlineAmount()),
		slog.Duration("duration", report.Duration),
	)
	return report
}

func (g *GarbageCollector) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	period := g.src.Current().GC.Period
	timer := time.NewTimer(g.jitter(period))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ack := <-g.reset:
			g.clear()
			close(ack)

		case <-timer.C:
			cfg := g.src.Current().GC
			if cfg.Period != period {
				g.logger.Info("[GC] period changed",
					slog.Duration("old", period),
					slog.Duration("new", cfg.Period),
				)
				period = cfg.Period
			}

			// [DISABLED] No eviction and no metrics, but keep ticking so a
			// reload can turn the sweep back on.
			if cfg.Enabled {
				g.Collect(ctx)
			}
			timer.Reset(g.jitter(period))
		}
	}
}

func (g *GarbageCollector) clear() {
	g.hub.Clear()
	g.limiter.Clear()
	g.logger.Info("[GC] registry and limiter cleared")
}

// jitter returns d shifted by a random amount within ±10%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	delta := (rand.Float64()*2 - 1) * jitterFactor * float64(d)
	return d + time.Duration(delta)
}
