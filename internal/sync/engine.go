package sync

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	otelScope     = "fuelrelay/sync"
	spanRetention = "sync.retention"
	spanSweep     = "sync.sweep"
	metricPruned  = "fuelrelay.sync.notifications.pruned"
	metricEvicted = "fuelrelay.sync.cache.evicted"
	metricErrors  = "fuelrelay.sync.errors"
)

// Defaults applied by [NewEngine] when the corresponding option is zero.
const (
	DefaultNotificationMaxAge = 30 * 24 * time.Hour
	DefaultRetentionInterval  = time.Hour
	DefaultSweepInterval      = time.Minute
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	NotificationMaxAge time.Duration
	RetentionInterval  time.Duration
	SweepInterval      time.Duration
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Stats summarises one maintenance pass.
type Stats struct {
	Pruned  int64
	Evicted int
}

// Engine runs the daemon's background work. Create one with [NewEngine] and
// start it with [Engine.Run].
type Engine struct {
	bridge  Bridge
	pruner  Pruner
	sweeper Sweeper
	opts    EngineOptions
	log     *slog.Logger

	// OTel instruments; no-ops when telemetry is disabled.
	tracer     trace.Tracer
	cntPruned  metric.Int64Counter
	cntEvicted metric.Int64Counter
	cntErrors  metric.Int64Counter
}

// NewEngine creates an Engine. A nil bridge runs maintenance only; a nil
// pruner or sweeper skips that job.
func NewEngine(bridge Bridge, pruner Pruner, sweeper Sweeper, opts EngineOptions, logger *slog.Logger) *Engine {
	if opts.NotificationMaxAge <= 0 {
		opts.NotificationMaxAge = DefaultNotificationMaxAge
	}
	if opts.RetentionInterval <= 0 {
		opts.RetentionInterval = DefaultRetentionInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		bridge:  bridge,
		pruner:  pruner,
		sweeper: sweeper,
		opts:    opts,
		log:     logger,

		tracer:     tracer,
		cntPruned:  mustCounter(metricPruned, "Number of notifications deleted by retention"),
		cntEvicted: mustCounter(metricEvicted, "Number of expired cache entries evicted"),
		cntErrors:  mustCounter(metricErrors, "Number of failed maintenance jobs"),
	}
}

// prune deletes notifications older than NotificationMaxAge, recording a
// trace span and metrics.
func (e *Engine) prune(ctx context.Context) (int64, error) {
	if e.pruner == nil {
		return 0, nil
	}
	ctx, span := e.tracer.Start(ctx, spanRetention)
	defer span.End()

	cutoff := e.opts.Now().Add(-e.opts.NotificationMaxAge)
	n, err := e.pruner.PruneNotifications(ctx, cutoff)
	if n > 0 {
		e.cntPruned.Add(ctx, n)
	}
	span.SetAttributes(
		attribute.Int64("retention.pruned", n),
		attribute.String("retention.cutoff", cutoff.UTC().Format(time.RFC3339)),
	)
	if err != nil {
		e.cntErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("job", "retention")))
		span.RecordError(err)
	}
	return n, err
}

// sweep evicts expired cache entries.
func (e *Engine) sweep(ctx context.Context) int {
	if e.sweeper == nil {
		return 0
	}
	ctx, span := e.tracer.Start(ctx, spanSweep)
	defer span.End()

	n := e.sweeper.Sweep()
	if n > 0 {
		e.cntEvicted.Add(ctx, int64(n))
		e.log.Debug("cache sweep", "evicted", n)
	}
	span.SetAttributes(attribute.Int("cache.evicted", n))
	return n
}

// RunOnce performs a single retention and sweep pass and returns.
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	pruned, err := e.prune(ctx)
	return Stats{Pruned: pruned, Evicted: e.sweep(ctx)}, err
}

// Run starts the realtime bridge and the maintenance loops. It blocks until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if e.bridge != nil {
		g.Go(func() error { return e.bridge.Run(ctx) })
	}

	g.Go(func() error {
		// Run an immediate first pass.
		if _, err := e.prune(ctx); err != nil {
			e.log.Error("initial retention failed", "error", err)
		}
		return e.every(ctx, e.opts.RetentionInterval, func() {
			if n, err := e.prune(ctx); err != nil {
				e.log.Error("retention failed", "error", err)
			} else if n > 0 {
				e.log.Info("retention pruned notifications", "count", n)
			}
		})
	})

	g.Go(func() error {
		return e.every(ctx, e.opts.SweepInterval, func() { e.sweep(ctx) })
	})

	err := g.Wait()
	e.log.Info("sync engine shutting down")
	return err
}

func (e *Engine) every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}
