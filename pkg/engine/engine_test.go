package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/grandiso/pkg/backbone"
	"github.com/DrSkyle/grandiso/pkg/graph"
	"github.com/DrSkyle/grandiso/pkg/jobs"
	"github.com/DrSkyle/grandiso/pkg/metrics"
	"github.com/DrSkyle/grandiso/pkg/motif"
	"github.com/DrSkyle/grandiso/pkg/queue"
	"github.com/DrSkyle/grandiso/pkg/results"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig() Config {
	return Config{
		BatchSize:     5,
		Lease:         time.Minute,
		Wait:          5 * time.Millisecond,
		MaxDeliveries: 5,
		Concurrency:   2,
		Inline:        true,
		PollInterval:  10 * time.Millisecond,
		JobCacheTTL:   10 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, host graph.HostGraph, q queue.Queue, opts ...Option) *Engine {
	t.Helper()
	if q == nil {
		q = queue.NewMemory()
	}
	opts = append([]Option{WithConfig(testConfig()), WithLogger(quiet)}, opts...)
	e, err := New(host, q, results.NewMemory(), jobs.NewMemory(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// drain steps the engine until the queue is empty.
func drain(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100000; i++ {
		n, err := e.Step(ctx)
		require.NoError(t, err)
		if n > 0 {
			continue
		}
		st, err := e.Queue.Stats(ctx)
		require.NoError(t, err)
		if st.Empty() {
			return
		}
	}
	t.Fatal("queue did not drain")
}

type edge struct {
	s, t  string
	attrs map[string]string
}

func hostOf(t *testing.T, nodes map[string]map[string]string, edges ...edge) *graph.MemoryStore {
	t.Helper()
	ctx := context.Background()
	g := graph.NewMemoryStore()
	for id, attrs := range nodes {
		require.NoError(t, g.AddNode(ctx, id, attrs))
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(ctx, e.s, e.t, e.attrs))
	}
	return g
}

func motifOf(t *testing.T, directed bool, nodes []motif.Node, edges ...motif.Edge) *motif.Motif {
	t.Helper()
	m, err := motif.New(directed, nodes, edges)
	require.NoError(t, err)
	return m
}

func plainNodes(ids ...string) []motif.Node {
	out := make([]motif.Node, len(ids))
	for i, id := range ids {
		out[i] = motif.Node{ID: id}
	}
	return out
}

func canonical(rs []backbone.Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Canonical()
	}
	sort.Strings(out)
	return out
}

func triangle(t *testing.T) (*graph.MemoryStore, *motif.Motif) {
	host := hostOf(t, nil,
		edge{s: "A", t: "B"}, edge{s: "B", t: "C"}, edge{s: "C", t: "A"}, edge{s: "A", t: "D"})
	m := motifOf(t, false, plainNodes("a", "b", "c"),
		motif.Edge{Source: "a", Target: "b"},
		motif.Edge{Source: "b", Target: "c"},
		motif.Edge{Source: "c", Target: "a"})
	return host, m
}

func TestTriangleScenario(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	e := newTestEngine(t, host, nil)

	job, err := e.Init(ctx, InitRequest{JobID: "tri", Motif: m})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRunning, job.Status)
	assert.EqualValues(t, 6, job.Seeds, "ordered pairs of adjacent triangle nodes")
	assert.Zero(t, job.SeedResults)

	stats, err := e.Run(ctx, "tri")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDrained, stats.Status)
	assert.EqualValues(t, 6, stats.Processed)

	rs, err := e.Results(ctx, "tri")
	require.NoError(t, err)
	require.Len(t, rs, 6, "automorphic mappings are all reported")
	seen := map[string]bool{}
	for _, r := range rs {
		seen[r.Mapping["a"]+r.Mapping["b"]+r.Mapping["c"]] = true
		for _, h := range r.Mapping {
			assert.NotEqual(t, "D", h)
		}
	}
	assert.Len(t, seen, 6)

	rep, err := e.Status(ctx, "tri")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDrained, rep.Status)
	assert.Equal(t, 6, rep.Results)
}

func TestUnsatisfiableAttribute(t *testing.T) {
	ctx := context.Background()
	host, _ := triangle(t)
	m := motifOf(t, false,
		[]motif.Node{{ID: "a", Attributes: motif.Attributes{"kind": "missing"}}, {ID: "b"}},
		motif.Edge{Source: "a", Target: "b"})
	e := newTestEngine(t, host, nil)

	job, err := e.Init(ctx, InitRequest{JobID: "none", Motif: m})
	require.NoError(t, err)
	assert.Zero(t, job.Seeds)
	assert.Zero(t, job.SeedResults)

	stats, err := e.Run(ctx, "none")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDrained, stats.Status)

	rs, err := e.Results(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestSingleNodeMotif(t *testing.T) {
	ctx := context.Background()
	host := hostOf(t, map[string]map[string]string{
		"A": {"kind": "x"},
		"B": {"kind": "x"},
		"C": {"kind": "y"},
	})
	m := motifOf(t, false, []motif.Node{{ID: "n", Attributes: motif.Attributes{"kind": "x"}}})
	q := queue.NewMemory()
	e := newTestEngine(t, host, q)

	job, err := e.Init(ctx, InitRequest{JobID: "one", Motif: m})
	require.NoError(t, err)
	assert.EqualValues(t, 2, job.SeedResults)
	assert.Zero(t, job.Seeds)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, st.Empty(), "single-node results never touch the queue")

	rs, err := e.Results(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, []string{`"n"="A"`, `"n"="B"`}, canonical(rs))
}

// duplicating delivers every push twice.
type duplicating struct {
	queue.Queue
}

func (d duplicating) Push(ctx context.Context, bodies ...[]byte) error {
	if err := d.Queue.Push(ctx, bodies...); err != nil {
		return err
	}
	return d.Queue.Push(ctx, bodies...)
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)

	e := newTestEngine(t, host, duplicating{queue.NewMemory()}, WithConfig(func() Config {
		c := testConfig()
		c.Inline = false
		return c
	}()))
	_, err := e.Init(ctx, InitRequest{JobID: "dup", Motif: m})
	require.NoError(t, err)
	drain(t, e)

	rs, err := e.Results(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, rs, 6)
	assert.Greater(t, e.Store.(*results.Memory).Puts(), 6, "duplicates reach the store and collapse there")
}

func TestExpandIsDeterministic(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	x := NewExpander(m, host, false)
	b := backbone.Backbone{JobID: "j", MotifDigest: m.Digest(), Mapping: backbone.Mapping{{Motif: "a", Host: "A"}}}

	first, err := x.Expand(ctx, b, false)
	require.NoError(t, err)
	second, err := x.Expand(ctx, b, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first.Successors, 2)
	for _, s := range first.Successors {
		assert.Len(t, s.Mapping, 2)
		assert.Equal(t, []string{"c"}, s.Frontier)
	}
}

func TestDirectedMotif(t *testing.T) {
	ctx := context.Background()
	host := hostOf(t, nil, edge{s: "X", t: "Y"}, edge{s: "Y", t: "Z"}, edge{s: "Z", t: "X"})
	m := motifOf(t, true, plainNodes("a", "b", "c"),
		motif.Edge{Source: "a", Target: "b"},
		motif.Edge{Source: "b", Target: "c"})
	e := newTestEngine(t, host, nil)

	_, err := e.Init(ctx, InitRequest{JobID: "dir", Motif: m})
	require.NoError(t, err)
	drain(t, e)

	rs, err := e.Results(ctx, "dir")
	require.NoError(t, err)
	assert.Equal(t, []string{
		`"a"="X";"b"="Y";"c"="Z"`,
		`"a"="Y";"b"="Z";"c"="X"`,
		`"a"="Z";"b"="X";"c"="Y"`,
	}, canonical(rs))
}

func TestInducedRejectsExtraEdges(t *testing.T) {
	ctx := context.Background()
	host, _ := triangle(t)
	path := motifOf(t, false, plainNodes("a", "b", "c"),
		motif.Edge{Source: "a", Target: "b"},
		motif.Edge{Source: "b", Target: "c"})

	for _, tt := range []struct {
		name    string
		induced bool
		want    int
	}{
		// Paths through the triangle plus the paths B-A-D and C-A-D, each
		// in both orientations.
		{"monomorphism", false, 10},
		{"induced", true, 4},
	} {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, host, nil)
			_, err := e.Init(ctx, InitRequest{JobID: tt.name, Motif: path, Induced: tt.induced})
			require.NoError(t, err)
			drain(t, e)
			rs, err := e.Results(ctx, tt.name)
			require.NoError(t, err)
			assert.Len(t, rs, tt.want)
		})
	}
}

func TestInducedDirectedRejectsReverseEdge(t *testing.T) {
	ctx := context.Background()
	host := hostOf(t, nil, edge{s: "X", t: "Y"}, edge{s: "Y", t: "X"}, edge{s: "Y", t: "Z"})
	m := motifOf(t, true, plainNodes("a", "b"), motif.Edge{Source: "a", Target: "b"})

	for _, tt := range []struct {
		name    string
		induced bool
		want    []string
	}{
		{"monomorphism", false, []string{`"a"="X";"b"="Y"`, `"a"="Y";"b"="X"`, `"a"="Y";"b"="Z"`}},
		{"induced", true, []string{`"a"="Y";"b"="Z"`}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, host, nil)
			_, err := e.Init(ctx, InitRequest{JobID: tt.name, Motif: m, Induced: tt.induced})
			require.NoError(t, err)
			drain(t, e)
			rs, err := e.Results(ctx, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, canonical(rs))
		})
	}
}

func TestEdgeAttributes(t *testing.T) {
	ctx := context.Background()
	host := hostOf(t, nil,
		edge{s: "A", t: "B", attrs: map[string]string{"rel": "knows"}},
		edge{s: "A", t: "C", attrs: map[string]string{"rel": "hates"}})
	m := motifOf(t, false, plainNodes("a", "b"),
		motif.Edge{Source: "a", Target: "b", Attributes: motif.Attributes{"rel": "knows"}})
	e := newTestEngine(t, host, nil)

	_, err := e.Init(ctx, InitRequest{JobID: "rel", Motif: m})
	require.NoError(t, err)
	rs, err := e.Results(ctx, "rel")
	require.NoError(t, err)
	assert.Equal(t, []string{`"a"="A";"b"="B"`, `"a"="B";"b"="A"`}, canonical(rs))
}

func TestDisconnectedMotif(t *testing.T) {
	ctx := context.Background()
	host := hostOf(t,
		map[string]map[string]string{"Y": {"kind": "z"}, "Z": {"kind": "z"}},
		edge{s: "A", t: "B"})
	m := motifOf(t, false,
		[]motif.Node{{ID: "a"}, {ID: "b"}, {ID: "c", Attributes: motif.Attributes{"kind": "z"}}},
		motif.Edge{Source: "a", Target: "b"})
	e := newTestEngine(t, host, nil)

	_, err := e.Init(ctx, InitRequest{JobID: "split", Motif: m})
	require.NoError(t, err)
	drain(t, e)

	rs, err := e.Results(ctx, "split")
	require.NoError(t, err)
	assert.Len(t, rs, 4)
}

func TestCancelledJobDropsWork(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	e := newTestEngine(t, host, nil)

	_, err := e.Init(ctx, InitRequest{JobID: "stop", Motif: m})
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, "stop", false))

	_, err = e.Run(ctx, "stop")
	assert.True(t, errors.Is(err, ErrJobCancelled))

	drain(t, e)
	rs, err := e.Results(ctx, "stop")
	require.NoError(t, err)
	assert.Empty(t, rs)
	assert.EqualValues(t, 6, testutil.ToFloat64(e.Metrics.BackbonesProcessed.WithLabelValues(metrics.OutcomeDropped)))

	rep, err := e.Status(ctx, "stop")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, rep.Status)
}

func TestCancelWithPurge(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	q := queue.NewMemory()
	e := newTestEngine(t, host, q)

	_, err := e.Init(ctx, InitRequest{JobID: "purge", Motif: m})
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, "purge", true))
	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, st.Empty())
}

func TestDeadlineStopsWork(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	e := newTestEngine(t, host, nil, WithClock(clock))

	_, err := e.Init(ctx, InitRequest{JobID: "late", Motif: m, Timeout: time.Minute})
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	drain(t, e)
	rs, err := e.Results(ctx, "late")
	require.NoError(t, err)
	assert.Empty(t, rs)

	rep, err := e.Status(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, rep.Status)

	_, err = e.Run(ctx, "late")
	assert.True(t, errors.Is(err, ErrJobCancelled))
}

func TestMalformedMessageIsDropped(t *testing.T) {
	ctx := context.Background()
	host, _ := triangle(t)
	q := queue.NewMemory()
	e := newTestEngine(t, host, q)

	require.NoError(t, q.Push(ctx, []byte("not a backbone")))
	n, err := e.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, st.Empty())
	assert.EqualValues(t, 1, testutil.ToFloat64(e.Metrics.BackbonesProcessed.WithLabelValues(metrics.OutcomeMalformed)))
}

func TestOrphanMessageIsDropped(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	q := queue.NewMemory()
	e := newTestEngine(t, host, q)

	body, err := backbone.Encode(backbone.Backbone{
		JobID:       "ghost",
		MotifDigest: m.Digest(),
		Mapping:     backbone.Mapping{{Motif: "a", Host: "A"}, {Motif: "b", Host: "B"}},
	})
	require.NoError(t, err)
	require.NoError(t, q.Push(ctx, body))
	drain(t, e)
	assert.EqualValues(t, 1, testutil.ToFloat64(e.Metrics.BackbonesProcessed.WithLabelValues(metrics.OutcomeDropped)))
}

func TestMaxDeliveriesAbandons(t *testing.T) {
	ctx := context.Background()
	host, _ := triangle(t)
	q := queue.NewMemory()
	cfg := testConfig()
	cfg.MaxDeliveries = 1
	e := newTestEngine(t, host, q, WithConfig(cfg))

	require.NoError(t, q.Push(ctx, []byte("poison")))
	_, err := q.Pop(ctx, 1, time.Millisecond, 0)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	n, err := e.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, testutil.ToFloat64(e.Metrics.BackbonesProcessed.WithLabelValues(metrics.OutcomeAbandoned)))
}

// failing errors on every neighbor lookup.
type failing struct {
	graph.HostGraph
}

func (failing) Neighbors(context.Context, string, graph.Direction) ([]graph.Neighbor, error) {
	return nil, errors.New("host graph unreachable")
}

func TestHostFailureLeavesMessageLeased(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	q := queue.NewMemory()
	e := newTestEngine(t, host, q)
	_, err := e.Init(ctx, InitRequest{JobID: "flaky", Motif: m})
	require.NoError(t, err)

	broken, err := New(failing{host}, q, results.NewMemory(), e.Jobs,
		WithConfig(testConfig()), WithLogger(quiet))
	require.NoError(t, err)
	defer broken.Close()

	n, err := broken.Step(ctx)
	assert.Error(t, err)
	assert.Equal(t, 5, n)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, st.InFlight, "failed units stay leased for redelivery")
}

// panicking panics on every neighbor lookup.
type panicking struct {
	graph.HostGraph
}

func (panicking) Neighbors(context.Context, string, graph.Direction) ([]graph.Neighbor, error) {
	panic("neighbor index corrupted")
}

func TestPanicReleasesLeaseForRedelivery(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	q := queue.NewMemory()
	e := newTestEngine(t, host, q)
	_, err := e.Init(ctx, InitRequest{JobID: "crashy", Motif: m})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Lease = 100 * time.Millisecond
	broken, err := New(panicking{host}, q, results.NewMemory(), e.Jobs,
		WithConfig(cfg), WithLogger(quiet))
	require.NoError(t, err)
	defer broken.Close()

	n, err := broken.Step(ctx)
	assert.ErrorContains(t, err, "neighbor index corrupted")
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 5, testutil.ToFloat64(broken.Metrics.BackbonesProcessed.WithLabelValues(metrics.OutcomeRetry)))

	assert.Eventually(t, func() bool {
		st, err := q.Stats(ctx)
		return err == nil && st.InFlight == 0
	}, 2*time.Second, 20*time.Millisecond, "lease lapses once the panicking unit returns")
}

// rejecting fails every push.
type rejecting struct {
	queue.Queue
}

func (rejecting) Push(context.Context, ...[]byte) error {
	return errors.New("queue unavailable")
}

// counting records how many nodes a scan hands out.
type counting struct {
	graph.HostGraph
	visited *atomic.Int64
}

func (c counting) ScanNodes(ctx context.Context, match map[string]string, fn graph.NodeFunc) error {
	return c.HostGraph.ScanNodes(ctx, match, func(id string, attrs map[string]string) error {
		c.visited.Add(1)
		return fn(id, attrs)
	})
}

func TestSeedFailureStopsScan(t *testing.T) {
	ctx := context.Background()
	var edges []edge
	for i := 0; i < 100; i++ {
		edges = append(edges, edge{s: fmt.Sprintf("n%03d", i), t: fmt.Sprintf("n%03d", i+1)})
	}
	host := hostOf(t, nil, edges...)
	path := motifOf(t, false, plainNodes("a", "b", "c"),
		motif.Edge{Source: "a", Target: "b"},
		motif.Edge{Source: "b", Target: "c"})

	var visited atomic.Int64
	cfg := testConfig()
	cfg.SeedConcurrency = 1
	e := newTestEngine(t, counting{host, &visited}, rejecting{queue.NewMemory()}, WithConfig(cfg))

	_, err := e.Init(ctx, InitRequest{JobID: "stuck", Motif: path})
	assert.ErrorContains(t, err, "queue unavailable")
	assert.Less(t, visited.Load(), int64(10), "scan stops after the first failed seed")
}

func TestRunWaitsOutDrainWindow(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	cfg := testConfig()
	cfg.DrainWindow = 300 * time.Millisecond
	e := newTestEngine(t, host, nil, WithConfig(cfg))
	_, err := e.Init(ctx, InitRequest{JobID: "settle", Motif: m})
	require.NoError(t, err)
	drain(t, e)

	start := time.Now()
	stats, err := e.Run(ctx, "settle")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDrained, stats.Status)
	assert.GreaterOrEqual(t, time.Since(start), cfg.DrainWindow)
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	host, m := triangle(t)
	e := newTestEngine(t, host, nil)
	_, err := e.Init(context.Background(), InitRequest{JobID: "ctx", Motif: m})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, "ctx")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestInitRejectsDuplicateJob(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	e := newTestEngine(t, host, nil)
	_, err := e.Init(ctx, InitRequest{JobID: "same", Motif: m})
	require.NoError(t, err)
	_, err = e.Init(ctx, InitRequest{JobID: "same", Motif: m})
	assert.True(t, errors.Is(err, jobs.ErrJobExists))

	_, err = e.Init(ctx, InitRequest{JobID: "nil"})
	assert.True(t, errors.Is(err, motif.ErrInvalidMotif))
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	host, m := triangle(t)
	e := newTestEngine(t, host, nil)
	_, err := e.Init(ctx, InitRequest{JobID: "gone", Motif: m})
	require.NoError(t, err)
	drain(t, e)

	require.NoError(t, e.Forget(ctx, "gone"))
	_, err = e.Jobs.Get(ctx, "gone")
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))
	rs, err := e.Results(ctx, "gone")
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestRedactSensitiveData(t *testing.T) {
	a := RedactSensitiveData(nil, slog.String("secret_key", "abc"))
	assert.Equal(t, "[REDACTED]", a.Value.String())
	b := RedactSensitiveData(nil, slog.String("job", "abc"))
	assert.Equal(t, "abc", b.Value.String())
}
