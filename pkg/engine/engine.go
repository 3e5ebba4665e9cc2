package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DrSkyle/grandiso/pkg/graph"
	"github.com/DrSkyle/grandiso/pkg/jobs"
	"github.com/DrSkyle/grandiso/pkg/metrics"
	"github.com/DrSkyle/grandiso/pkg/motif"
	"github.com/DrSkyle/grandiso/pkg/queue"
	"github.com/DrSkyle/grandiso/pkg/results"
)

// ErrJobCancelled is returned by Run for a job that no longer accepts work.
var ErrJobCancelled = errors.New("job cancelled")

// Config holds engine settings.
type Config struct {
	// BatchSize is the number of messages taken per queue receive.
	BatchSize int
	// Lease is the visibility timeout requested for each message.
	Lease time.Duration
	// Wait bounds how long an empty receive blocks.
	Wait time.Duration
	// MaxDeliveries abandons messages delivered more often. Zero disables.
	MaxDeliveries int

	// Concurrency is the initial number of pull loops; MaxConcurrency caps
	// the AIMD scaler.
	Concurrency    int
	MaxConcurrency int
	// BatchParallelism bounds concurrent processing inside one batch.
	BatchParallelism int
	// SeedConcurrency bounds the preprocessor's candidate fan-out.
	SeedConcurrency int

	// Inline continues single-candidate expansions in-process instead of
	// re-queueing them.
	Inline bool

	// PollInterval is how often Run checks the job record and queue depth.
	PollInterval time.Duration
	// DrainWindow is how long the queue must look empty, with no batch in
	// hand, before Run reports the job drained. Zero means two polls.
	DrainWindow time.Duration
	// JobCacheTTL bounds how late a worker observes a cancellation.
	JobCacheTTL time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the settings used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		BatchSize:        10,
		Lease:            30 * time.Second,
		Wait:             time.Second,
		MaxDeliveries:    5,
		Concurrency:      4,
		MaxConcurrency:   64,
		BatchParallelism: 4,
		SeedConcurrency:  8,
		Inline:           true,
		PollInterval:     250 * time.Millisecond,
		JobCacheTTL:      2 * time.Second,
	}
}

// Engine runs seeding, expansion and the job lifecycle against the three
// infrastructure ports.
type Engine struct {
	Host  graph.HostGraph
	Queue queue.Queue
	Store results.Store
	Jobs  jobs.Registry

	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *metrics.Registry

	config Config
	// cached serves worker reads of job records.
	cached *jobs.Cached
	// motifs caches built motifs by digest.
	motifs sync.Map
	now    func() time.Time
	// active counts received batches still being processed.
	active atomic.Int64
}

// Option defines a functional configuration override.
type Option func(*Engine)

// New wires an Engine. Host lookups are counted on the metrics registry.
func New(host graph.HostGraph, q queue.Queue, store results.Store, registry jobs.Registry, opts ...Option) (*Engine, error) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: RedactSensitiveData,
	})
	e := &Engine{
		Queue:  q,
		Store:  store,
		Jobs:   registry,
		Logger: slog.New(handler),
		Tracer: otel.Tracer("grandiso/engine"),
		config: DefaultConfig(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.Metrics == nil {
		e.Metrics = metrics.New()
	}
	e.Host = graph.Observed(host, e.Metrics.Lookup)

	cached, err := jobs.NewCached(registry, e.config.JobCacheTTL)
	if err != nil {
		return nil, err
	}
	e.cached = cached
	return e, nil
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.Logger = l
		}
	}
}

// WithConfig sets raw config. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		def := DefaultConfig()
		if cfg.BatchSize <= 0 {
			cfg.BatchSize = def.BatchSize
		}
		if cfg.Lease <= 0 {
			cfg.Lease = def.Lease
		}
		if cfg.Wait < 0 {
			cfg.Wait = 0
		}
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = def.Concurrency
		}
		if cfg.MaxConcurrency < cfg.Concurrency {
			cfg.MaxConcurrency = cfg.Concurrency
		}
		if cfg.BatchParallelism <= 0 {
			cfg.BatchParallelism = def.BatchParallelism
		}
		if cfg.SeedConcurrency <= 0 {
			cfg.SeedConcurrency = def.SeedConcurrency
		}
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.DrainWindow < 0 {
			cfg.DrainWindow = 0
		}
		if cfg.JobCacheTTL <= 0 {
			cfg.JobCacheTTL = def.JobCacheTTL
		}
		e.config = cfg
		if cfg.Logger != nil {
			e.Logger = cfg.Logger
		}
	}
}

// WithMetrics shares a metrics registry, e.g. one served over HTTP.
func WithMetrics(r *metrics.Registry) Option {
	return func(e *Engine) {
		e.Metrics = r
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.Tracer = t
	}
}

// WithClock replaces time.Now for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// Close releases the job cache. The ports are owned by the caller.
func (e *Engine) Close() error {
	e.cached.Close()
	return nil
}

// motifFor builds the job's motif once per digest.
func (e *Engine) motifFor(job jobs.Job) (*motif.Motif, error) {
	if m, ok := e.motifs.Load(job.MotifDigest); ok {
		return m.(*motif.Motif), nil
	}
	m, err := job.BuildMotif()
	if err != nil {
		return nil, err
	}
	e.motifs.Store(job.MotifDigest, m)
	return m, nil
}

// recoverPanic logs a panic in a unit of work as a span error.
func (e *Engine) recoverPanic(ctx context.Context) {
	if r := recover(); r != nil {
		_ = e.crashed(ctx, r)
	}
}

// crashed records a recovered panic and returns it as an error. A message
// whose processing panicked is not acknowledged, so once its lease lapses
// the queue redelivers it.
func (e *Engine) crashed(ctx context.Context, r any) error {
	_, span := e.Tracer.Start(ctx, "CriticalPanic")
	defer span.End()

	stack := debug.Stack()
	err := fmt.Errorf("panic: %v", r)
	span.RecordError(err, trace.WithStackTrace(true))
	span.SetStatus(codes.Error, "CRITICAL FAILURE")
	span.SetAttributes(
		attribute.String("crash.stack", string(stack)),
		attribute.String("crash.reason", fmt.Sprintf("%v", r)),
	)

	e.Logger.Error("CRITICAL FAILURE", "error", r, "stack", string(stack))
	return err
}

// RedactSensitiveData scrubs credential-like keys from logs.
func RedactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	sensitiveKeys := map[string]bool{
		"password": true, "access_key": true, "token": true,
		"secret": true, "secret_key": true, "session_token": true,
		"api_key": true, "private_key": true, "credential": true,
		"connection_string": true, "dsn": true,
	}

	if sensitiveKeys[a.Key] {
		return slog.Attr{
			Key:   a.Key,
			Value: slog.StringValue("[REDACTED]"),
		}
	}
	return a
}
