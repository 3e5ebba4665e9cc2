package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DrSkyle/grandiso/pkg/backbone"
	"github.com/DrSkyle/grandiso/pkg/jobs"
	"github.com/DrSkyle/grandiso/pkg/metrics"
	"github.com/DrSkyle/grandiso/pkg/queue"
)

// Step receives one batch and processes it. It returns the number of
// messages received; zero means the queue had nothing visible within the
// configured wait. Messages that failed are left for redelivery and their
// errors are joined into the returned error.
func (e *Engine) Step(ctx context.Context) (int, error) {
	msgs, err := e.Queue.Pop(ctx, e.config.BatchSize, e.config.Lease, e.config.Wait)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil
		}
		return 0, fmt.Errorf("receive backbones: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	e.active.Add(1)
	defer e.active.Add(-1)

	p := pool.New().WithErrors().WithMaxGoroutines(e.config.BatchParallelism)
	for _, msg := range msgs {
		p.Go(func() error {
			return e.Process(ctx, msg)
		})
	}
	return len(msgs), p.Wait()
}

// Process runs one delivery to completion. A nil return means the message
// was acknowledged (processed, dropped or abandoned); an error leaves it
// leased so the queue redelivers it after the lease.
func (e *Engine) Process(ctx context.Context, msg queue.Message) (err error) {
	ctx, span := e.Tracer.Start(ctx, "Worker.Process")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "left for redelivery")
			e.Metrics.BackbonesProcessed.WithLabelValues(metrics.OutcomeRetry).Inc()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = e.crashed(ctx, r)
		}
	}()

	if ctx.Err() != nil {
		e.release(msg)
		return nil
	}

	if e.config.MaxDeliveries > 0 && msg.Deliveries > e.config.MaxDeliveries {
		e.Logger.Warn("Abandoning backbone after repeated deliveries",
			"message", msg.ID, "deliveries", msg.Deliveries)
		return e.finish(ctx, msg, metrics.OutcomeAbandoned)
	}

	b, err := backbone.Decode(msg.Body)
	if err != nil {
		e.Logger.Warn("Dropping malformed message", "message", msg.ID, "error", err)
		return e.finish(ctx, msg, metrics.OutcomeMalformed)
	}
	log := e.Logger.With("job", b.JobID, "backbone", b.Key())
	span.SetAttributes(attribute.String("job", b.JobID), attribute.Int("mapped", len(b.Mapping)))

	job, err := e.cached.Get(ctx, b.JobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		log.Warn("Dropping backbone of unknown job")
		return e.finish(ctx, msg, metrics.OutcomeDropped)
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", b.JobID, err)
	}
	if !job.Accepting(e.now()) {
		log.Debug("Dropping backbone of stopped job", "status", job.Status)
		return e.finish(ctx, msg, metrics.OutcomeDropped)
	}
	if b.MotifDigest != job.MotifDigest {
		log.Warn("Dropping backbone of a different motif", "motif", b.MotifDigest)
		return e.finish(ctx, msg, metrics.OutcomeDropped)
	}

	m, err := e.motifFor(job)
	if err != nil {
		log.Error("Job motif no longer builds", "error", err)
		return e.finish(ctx, msg, metrics.OutcomeDropped)
	}

	stop := e.keepLeased(ctx, msg)
	defer stop()
	start := time.Now()
	x, err := e.expander(m, job.Induced).Expand(ctx, b, e.config.Inline)
	e.Metrics.ExpansionDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		err = e.putResults(ctx, x.Results)
	}
	if err == nil {
		err = e.push(ctx, x.Successors)
	}
	stop()
	if errors.Is(err, backbone.ErrMalformedMessage) {
		log.Warn("Dropping malformed backbone", "error", err)
		return e.finish(ctx, msg, metrics.OutcomeMalformed)
	}
	if err != nil {
		if ctx.Err() != nil {
			e.release(msg)
			return nil
		}
		return err
	}

	outcome := metrics.OutcomeExpanded
	switch {
	case x.Dead():
		outcome = metrics.OutcomeDead
	case len(x.Successors) == 0:
		outcome = metrics.OutcomeResult
	}
	log.Debug("Backbone processed", "mapped", len(b.Mapping), "successors", len(x.Successors),
		"results", len(x.Results), "steps", x.Steps)
	return e.finish(ctx, msg, outcome)
}

// finish acknowledges msg. A lease lost meanwhile is not an error: the
// redelivered copy yields the same successors and results.
func (e *Engine) finish(ctx context.Context, msg queue.Message, outcome string) error {
	err := e.Queue.Ack(ctx, msg.Receipt)
	if errors.Is(err, queue.ErrLeaseNotFound) {
		e.Logger.Warn("Lease expired before ack", "message", msg.ID)
		err = nil
	}
	if err != nil {
		return fmt.Errorf("ack %s: %w", msg.ID, err)
	}
	e.Metrics.BackbonesProcessed.WithLabelValues(outcome).Inc()
	return nil
}

// release makes msg visible again right away.
func (e *Engine) release(msg queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Queue.Extend(ctx, msg.Receipt, 0); err != nil && !errors.Is(err, queue.ErrLeaseNotFound) {
		e.Logger.Warn("Failed to release message", "message", msg.ID, "error", err)
	}
}

// keepLeased extends msg's lease every half lease until stop is called.
// stop may be called more than once.
func (e *Engine) keepLeased(ctx context.Context, msg queue.Message) (stop func()) {
	var once sync.Once
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(e.config.Lease / 2)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := e.Queue.Extend(ctx, msg.Receipt, e.config.Lease); err != nil {
					e.Logger.Warn("Failed to extend lease", "message", msg.ID, "error", err)
					return
				}
			}
		}
	}()
	return func() {
		once.Do(func() { close(done) })
		<-finished
	}
}
