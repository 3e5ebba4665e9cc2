package engine

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DrSkyle/grandiso/pkg/backbone"
	"github.com/DrSkyle/grandiso/pkg/jobs"
	"github.com/DrSkyle/grandiso/pkg/motif"
)

// SeedStats counts what seeding produced.
type SeedStats struct {
	Backbones int64
	Results   int64
}

// SelectAnchors picks the motif nodes seeds are built from. The first is
// the highest-ranked node and the second its highest-ranked neighbor. When
// no node has degree above one, two constrained nodes are preferred, then
// any adjacent pair. A single-node motif yields one anchor.
func SelectAnchors(m *motif.Motif) []string {
	ranked := m.NodeIDs()
	if len(ranked) == 1 {
		return ranked
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return rankBefore(m, ranked[i], ranked[j])
	})

	if m.Degree(ranked[0]) > 1 {
		for _, m1 := range ranked {
			nbrs := m.Neighbors(m1)
			if len(nbrs) == 0 {
				continue
			}
			m2 := nbrs[0]
			for _, n := range nbrs[1:] {
				if rankBefore(m, n, m2) {
					m2 = n
				}
			}
			return []string{m1, m2}
		}
	}

	var constrained []string
	for _, id := range ranked {
		if m.Constrained(id) {
			constrained = append(constrained, id)
		}
	}
	if len(constrained) >= 2 {
		return constrained[:2]
	}
	for _, id := range ranked {
		if nbrs := m.Neighbors(id); len(nbrs) > 0 {
			return []string{id, nbrs[0]}
		}
	}
	return ranked[:2]
}

// rankBefore orders by degree, then constraint count, then id.
func rankBefore(m *motif.Motif, a, b string) bool {
	if da, db := m.Degree(a), m.Degree(b); da != db {
		return da > db
	}
	na, _ := m.Node(a)
	nb, _ := m.Node(b)
	if len(na.Attributes) != len(nb.Attributes) {
		return len(na.Attributes) > len(nb.Attributes)
	}
	return a < b
}

func (e *Engine) expander(m *motif.Motif, induced bool) *Expander {
	x := NewExpander(m, e.Host, induced)
	x.tracer = e.Tracer
	return x
}

// Seed enumerates host candidates for the anchors and pushes every valid
// seed backbone. Seeds that already cover the motif are written as results
// without a queue round-trip. No candidates is a valid, empty outcome.
func (e *Engine) Seed(ctx context.Context, job jobs.Job, m *motif.Motif) (SeedStats, error) {
	ctx, span := e.Tracer.Start(ctx, "Preprocessor.Seed")
	defer span.End()

	x := e.expander(m, job.Induced)
	anchors := SelectAnchors(m)
	first, _ := m.Node(anchors[0])
	span.SetAttributes(attribute.StringSlice("anchors", anchors))
	e.Logger.Info("Seeding job", "job", job.ID, "anchors", anchors)

	// The scan stops as soon as any seed fails.
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var seeds, direct atomic.Int64
	p := pool.New().
		WithContext(scanCtx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(e.config.SeedConcurrency)

	scanErr := e.Host.ScanNodes(scanCtx, first.Attributes, func(h1 string, _ map[string]string) error {
		p.Go(func(ctx context.Context) error {
			b, r, err := e.seedFrom(ctx, job, x, anchors, h1)
			seeds.Add(b)
			direct.Add(r)
			if err != nil {
				cancel()
			}
			return err
		})
		return scanCtx.Err()
	})
	err := p.Wait()
	if scanErr != nil && err == nil {
		err = fmt.Errorf("scan anchor candidates: %w", scanErr)
	}

	stats := SeedStats{Backbones: seeds.Load(), Results: direct.Load()}
	span.SetAttributes(
		attribute.Int64("seeds", stats.Backbones),
		attribute.Int64("results", stats.Results),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "seeding failed")
		return stats, err
	}
	return stats, nil
}

// seedFrom builds every seed whose first anchor maps to h1.
func (e *Engine) seedFrom(ctx context.Context, job jobs.Job, x *Expander, anchors []string, h1 string) (int64, int64, error) {
	ok, err := x.Consistent(ctx, nil, anchors[0], h1)
	if err != nil || !ok {
		return 0, 0, err
	}
	mp := backbone.Mapping{{Motif: anchors[0], Host: h1}}
	if len(anchors) == 1 {
		if err := e.putResults(ctx, []backbone.Result{backbone.NewResult(job.ID, mp)}); err != nil {
			return 0, 0, err
		}
		return 0, 1, nil
	}

	cands, err := x.Candidates(ctx, mp, anchors[1])
	if err != nil {
		return 0, 0, err
	}
	var done []backbone.Result
	var seeds []backbone.Backbone
	for _, h2 := range cands {
		next := mp.With(anchors[1], h2)
		if len(next) == x.motif.Len() {
			done = append(done, backbone.NewResult(job.ID, next))
			continue
		}
		seeds = append(seeds, backbone.Backbone{
			JobID:       job.ID,
			MotifDigest: job.MotifDigest,
			Mapping:     next,
			Frontier:    x.Frontier(next),
		})
	}
	if err := e.putResults(ctx, done); err != nil {
		return 0, 0, err
	}
	if err := e.push(ctx, seeds); err != nil {
		return 0, int64(len(done)), err
	}
	e.Metrics.Seeds.Add(float64(len(seeds)))
	return int64(len(seeds)), int64(len(done)), nil
}

// retry runs op up to three times with exponential backoff.
func retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx))
}

func (e *Engine) push(ctx context.Context, bs []backbone.Backbone) error {
	if len(bs) == 0 {
		return nil
	}
	bodies := make([][]byte, 0, len(bs))
	for _, b := range bs {
		body, err := backbone.Encode(b)
		if err != nil {
			return err
		}
		bodies = append(bodies, body)
	}
	if err := retry(ctx, func() error { return e.Queue.Push(ctx, bodies...) }); err != nil {
		return fmt.Errorf("push %d backbones: %w", len(bodies), err)
	}
	return nil
}

func (e *Engine) putResults(ctx context.Context, rs []backbone.Result) error {
	for _, r := range rs {
		if err := retry(ctx, func() error { return e.Store.Put(ctx, r) }); err != nil {
			return fmt.Errorf("put result: %w", err)
		}
		e.Metrics.ResultsWritten.Inc()
	}
	return nil
}
