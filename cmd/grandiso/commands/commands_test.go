package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/grandiso/pkg/config"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level=error"))
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestSearch_Triangle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	m := writeFile(t, dir, "triangle.yaml", "nodes: [{id: a}, {id: b}, {id: c}]\nedges:\n  - {source: a, target: b}\n  - {source: b, target: c}\n  - {source: c, target: a}\n")
	host := writeFile(t, dir, "host.txt", "A B\nB C\nC A\nA D\n")

	out := execute(t, "search", m, host, "--format", "csv")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "a,b,c", lines[0])
	assert.Contains(t, lines, "A,B,C")
	assert.NotContains(t, out, "D")
}

func TestSearch_WhereFilter(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	m := writeFile(t, dir, "edge.txt", "a b\n")
	host := writeFile(t, dir, "host.txt", "A B\nB C\n")

	out := execute(t, "search", m, host, "--format", "csv", "--where", `m["a"] == "B"`)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{"a,b", "B,A", "B,C"}, lines)
}

func TestGraphLoad_SQLite(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	// A single id on a line adds an isolated node.
	host := writeFile(t, dir, "host.txt", "A B\nB C\nlonely\n")
	db := filepath.Join(dir, "g.db")

	out := execute(t, "graph", "load", host, "--into", "sqlite://"+db)
	assert.Contains(t, out, "4 nodes, 2 edges")
}

func TestHelp_ListsCommands(t *testing.T) {
	out := execute(t, "--help")
	for _, name := range []string{"COMMANDS", "search", "provision", "results"} {
		assert.Contains(t, out, name)
	}
}

func TestAWSResources_SkipsLocalBackends(t *testing.T) {
	c := config.Default()
	c.Worker.Lease = time.Minute
	r := awsResources(c)
	assert.Equal(t, config.DefaultQueue, r.Queue)
	assert.Equal(t, config.DefaultResultsTable, r.ResultsTable)
	assert.Equal(t, config.DefaultJobsTable, r.JobsTable)
	assert.Equal(t, time.Minute, r.Lease)

	c.Queue, c.Results, c.Jobs = "leveldb:///tmp/q", "file:///tmp/r", "sqs://wrong-kind"
	r = awsResources(c)
	assert.Empty(t, r.Queue)
	assert.Empty(t, r.ResultsTable)
	assert.Empty(t, r.JobsTable)
}

func TestVersion_RunsThroughSetup(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	out := execute(t, "version")
	assert.NotEmpty(t, strings.TrimSpace(out))
	assert.NotNil(t, shutdownTracing, "setup installs tracing")
}

func TestEngineConfig_DrainWindow(t *testing.T) {
	c := config.Default()
	c.Worker.Lease = 30 * time.Second
	assert.Equal(t, sqsDrainWindow, engineConfig(c).DrainWindow, "SQS counters need time to settle")

	c.Worker.Lease = 5 * time.Minute
	assert.Equal(t, 5*time.Minute, engineConfig(c).DrainWindow)

	c.Queue = "memory://local"
	assert.Zero(t, engineConfig(c).DrainWindow)

	c.Worker.DrainWindow = time.Second
	assert.Equal(t, time.Second, engineConfig(c).DrainWindow)
}
