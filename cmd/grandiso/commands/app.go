package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/DrSkyle/grandiso/pkg/backends"
	"github.com/DrSkyle/grandiso/pkg/cloud"
	"github.com/DrSkyle/grandiso/pkg/config"
	"github.com/DrSkyle/grandiso/pkg/engine"
	"github.com/DrSkyle/grandiso/pkg/graph"
	"github.com/DrSkyle/grandiso/pkg/metrics"
	"github.com/DrSkyle/grandiso/pkg/telemetry"
)

// app bundles the engine with the resolver that owns its backends.
type app struct {
	resolver *backends.Resolver
	engine   *engine.Engine
	metrics  *metrics.Registry
}

func (a *app) Close() error {
	if a.engine != nil {
		a.engine.Close()
	}
	return a.resolver.Close()
}

func newResolver(c config.Config) *backends.Resolver {
	return backends.NewResolver(cloud.Options{
		Region:   c.Region,
		Profile:  c.Profile,
		Endpoint: c.Endpoint,
		Verbose:  verbose,
		Logger:   logger,
	}, c.Cache, logger)
}

// sqsDrainWindow covers the lag of SQS's approximate queue counters.
const sqsDrainWindow = time.Minute

func engineConfig(c config.Config) engine.Config {
	w := c.Worker
	drain := w.DrainWindow
	if drain == 0 {
		if p, err := backends.Parse(c.Queue, backends.SQS); err == nil && p.Scheme == backends.SQS {
			drain = max(sqsDrainWindow, w.Lease)
		}
	}
	return engine.Config{
		BatchSize:        w.BatchSize,
		Lease:            w.Lease,
		Wait:             w.Wait,
		MaxDeliveries:    w.MaxDeliveries,
		Concurrency:      w.Concurrency,
		MaxConcurrency:   w.MaxConcurrency,
		BatchParallelism: w.BatchParallelism,
		SeedConcurrency:  w.SeedConcurrency,
		Inline:           w.Inline,
		PollInterval:     w.PollInterval,
		DrainWindow:      drain,
		JobCacheTTL:      c.Cache.JobTTL,
	}
}

// openEngine wires the configured backends. With no host reference the
// job's recorded host is used when jobID is set; otherwise the host is an
// empty graph, enough for status, results and cancel.
func openEngine(ctx context.Context, c config.Config, hostRef, jobID string) (*app, error) {
	a := &app{resolver: newResolver(c), metrics: metrics.New()}

	fail := func(err error) (*app, error) {
		a.resolver.Close()
		return nil, err
	}

	q, err := a.resolver.Queue(ctx, c.Queue)
	if err != nil {
		return fail(fmt.Errorf("open queue %q: %w", c.Queue, err))
	}
	store, err := a.resolver.Results(ctx, c.Results)
	if err != nil {
		return fail(fmt.Errorf("open results %q: %w", c.Results, err))
	}
	registry, err := a.resolver.Jobs(ctx, c.Jobs)
	if err != nil {
		return fail(fmt.Errorf("open jobs %q: %w", c.Jobs, err))
	}

	if hostRef == "" && jobID != "" {
		job, err := registry.Get(ctx, jobID)
		if err != nil {
			return fail(err)
		}
		hostRef = job.Host
	}
	var host graph.HostGraph = graph.NewMemoryStore()
	if hostRef != "" {
		h, err := a.resolver.Host(ctx, hostRef)
		if err != nil {
			return fail(fmt.Errorf("open host %q: %w", hostRef, err))
		}
		host = h
	}

	e, err := engine.New(host, q, store, registry,
		engine.WithConfig(engineConfig(c)),
		engine.WithLogger(logger),
		engine.WithMetrics(a.metrics),
		engine.WithTracer(telemetry.Tracer("grandiso/engine")),
	)
	if err != nil {
		return fail(err)
	}
	a.engine = e
	return a, nil
}
