package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DrSkyle/grandiso/pkg/backbone"
	"github.com/DrSkyle/grandiso/pkg/cloud"
	"github.com/DrSkyle/grandiso/pkg/engine/swarm"
	"github.com/DrSkyle/grandiso/pkg/jobs"
	"github.com/DrSkyle/grandiso/pkg/motif"
	"github.com/DrSkyle/grandiso/pkg/queue"
)

// InitRequest describes a job to create.
type InitRequest struct {
	// JobID is generated when empty.
	JobID   string
	Motif   *motif.Motif
	Induced bool
	// Timeout sets the job deadline relative to init.
	Timeout time.Duration
	// References recorded on the job for operators and other processes.
	Queue   string
	Results string
	Host    string
}

// Init records the job and seeds the queue. It blocks until seeding is
// done; seeding may scan the whole host graph.
func (e *Engine) Init(ctx context.Context, req InitRequest) (jobs.Job, error) {
	ctx, span := e.Tracer.Start(ctx, "Controller.Init")
	defer span.End()

	if req.Motif == nil {
		return jobs.Job{}, fmt.Errorf("%w: no motif given", motif.ErrInvalidMotif)
	}
	if req.JobID == "" {
		req.JobID = strings.ToLower(ulid.Make().String())
	}
	span.SetAttributes(attribute.String("job", req.JobID))

	now := e.now().UTC()
	job := jobs.Job{
		ID:          req.JobID,
		Motif:       req.Motif.Describe(),
		MotifDigest: req.Motif.Digest(),
		Induced:     req.Induced,
		Status:      jobs.StatusInitializing,
		Queue:       req.Queue,
		Results:     req.Results,
		Host:        req.Host,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Timeout > 0 {
		job.Deadline = now.Add(req.Timeout)
	}
	if err := job.Validate(); err != nil {
		return jobs.Job{}, err
	}
	if err := e.Jobs.Create(ctx, job); err != nil {
		return jobs.Job{}, fmt.Errorf("create job %s: %w", job.ID, err)
	}

	stats, err := e.Seed(ctx, job, req.Motif)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "seeding failed")
		e.Logger.Error("Seeding failed", "job", job.ID, "error", err)
		return job, fmt.Errorf("seed job %s: %w", job.ID, err)
	}

	job, err = e.Jobs.Update(ctx, job.ID, func(j *jobs.Job) error {
		j.Seeds = stats.Backbones
		j.SeedResults = stats.Results
		if j.Status == jobs.StatusInitializing {
			j.Status = jobs.StatusRunning
		}
		return nil
	})
	if err != nil {
		return jobs.Job{}, fmt.Errorf("start job: %w", err)
	}
	e.Logger.Info("Job initialized", "job", job.ID, "seeds", stats.Backbones, "results", stats.Results)
	return job, nil
}

// RunStats summarizes one Run.
type RunStats struct {
	// Status is drained or cancelled.
	Status    jobs.Status
	Processed int64
	Errors    int64
	Throttled int64
	Elapsed   time.Duration
}

// Run attaches a worker pool to the queue until it drains or the job
// stops accepting work. A job that is already stopped returns
// ErrJobCancelled.
func (e *Engine) Run(ctx context.Context, jobID string) (RunStats, error) {
	ctx, span := e.Tracer.Start(ctx, "Controller.Run")
	defer span.End()
	defer e.recoverPanic(ctx)

	job, err := e.Jobs.Get(ctx, jobID)
	if err != nil {
		return RunStats{}, err
	}
	if !job.Accepting(e.now()) {
		return RunStats{Status: jobs.StatusCancelled}, fmt.Errorf("%w: %s", ErrJobCancelled, jobID)
	}

	start := time.Now()
	e.Logger.Info("Starting workers", "job", jobID, "concurrency", e.config.Concurrency)
	p := swarm.New(e.Step,
		swarm.WithLimits(e.config.Concurrency, e.config.MaxConcurrency),
		swarm.WithTargetLatency(e.config.Lease/10),
		swarm.WithThrottle(cloud.IsThrottle),
		swarm.WithScaleHook(func(n int) { e.Metrics.WorkerConcurrency.Set(float64(n)) }),
		swarm.WithLogger(e.Logger),
	)
	p.Start(ctx)
	status, err := e.supervise(ctx, jobID)
	p.Stop()

	st := p.GetStats()
	out := RunStats{
		Status:    status,
		Processed: st.Processed,
		Errors:    st.Errors,
		Throttled: st.Throttled,
		Elapsed:   time.Since(start),
	}
	span.SetAttributes(
		attribute.String("status", string(status)),
		attribute.Int64("processed", st.Processed),
	)
	e.Logger.Info("Workers stopped", "job", jobID, "status", status, "processed", st.Processed, "errors", st.Errors)
	return out, err
}

// supervise polls the job record and queue depth. The queue counts as
// drained once it has looked empty, with no batch being processed, for two
// consecutive polls spanning at least the drain window. Workers blocked in
// a receive do not count.
func (e *Engine) supervise(ctx context.Context, jobID string) (jobs.Status, error) {
	t := time.NewTicker(e.config.PollInterval)
	defer t.Stop()

	idle := 0
	var idleSince time.Time
	for {
		select {
		case <-ctx.Done():
			return jobs.StatusRunning, ctx.Err()
		case <-t.C:
		}

		job, err := e.Jobs.Get(ctx, jobID)
		if errors.Is(err, jobs.ErrJobNotFound) {
			return jobs.StatusCancelled, err
		}
		if err != nil {
			e.Logger.Warn("Job lookup failed", "job", jobID, "error", err)
			continue
		}
		if !job.Accepting(e.now()) {
			if job.Expired(e.now()) {
				e.Logger.Info("Job deadline reached", "job", jobID, "deadline", job.Deadline)
			}
			return jobs.StatusCancelled, nil
		}
		if job.Status != jobs.StatusRunning {
			idle = 0
			continue
		}

		st, err := e.Queue.Stats(ctx)
		if err != nil {
			e.Logger.Warn("Queue stats failed", "job", jobID, "error", err)
			continue
		}
		if st.Empty() && e.active.Load() == 0 {
			if idle == 0 {
				idleSince = time.Now()
			}
			idle++
			if idle >= 2 && time.Since(idleSince) >= e.config.DrainWindow {
				return jobs.StatusDrained, nil
			}
			continue
		}
		idle = 0
	}
}

// Cancel marks the job cancelled. Workers drop its backbones from then on;
// in-flight units may still finish. With purge set the queue is emptied.
func (e *Engine) Cancel(ctx context.Context, jobID string, purge bool) error {
	_, err := e.Jobs.Update(ctx, jobID, func(j *jobs.Job) error {
		j.Status = jobs.StatusCancelled
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	e.Logger.Info("Job cancelled", "job", jobID, "purge", purge)
	if purge {
		if err := e.Queue.Purge(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Results scans the result store for the job, collapsing duplicates. The
// set may be partial while the job is running.
func (e *Engine) Results(ctx context.Context, jobID string) ([]backbone.Result, error) {
	seen := make(map[string]bool)
	var out []backbone.Result
	err := e.Store.Scan(ctx, jobID, func(r backbone.Result) error {
		c := r.Canonical()
		if seen[c] {
			return nil
		}
		seen[c] = true
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan results of %s: %w", jobID, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Canonical() < out[j].Canonical() })
	return out, nil
}

// Report is a point-in-time view of a job.
type Report struct {
	Job jobs.Job
	// Status is the effective state: drained when running with an empty
	// queue, cancelled once past the deadline.
	Status  jobs.Status
	Queue   queue.Stats
	Results int
}

// Status reports the job's effective state.
func (e *Engine) Status(ctx context.Context, jobID string) (Report, error) {
	job, err := e.Jobs.Get(ctx, jobID)
	if err != nil {
		return Report{}, err
	}
	qs, err := e.Queue.Stats(ctx)
	if err != nil {
		return Report{}, err
	}
	rs, err := e.Results(ctx, jobID)
	if err != nil {
		return Report{}, err
	}

	r := Report{Job: job, Status: job.Status, Queue: qs, Results: len(rs)}
	switch {
	case job.Status == jobs.StatusCancelled, job.Expired(e.now()):
		r.Status = jobs.StatusCancelled
	case job.Status == jobs.StatusRunning && qs.Empty():
		r.Status = jobs.StatusDrained
	}
	return r, nil
}

// Forget deletes the job's results and record.
func (e *Engine) Forget(ctx context.Context, jobID string) error {
	if err := e.Store.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("delete results of %s: %w", jobID, err)
	}
	if err := e.Jobs.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}
