package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/cvstore/internal/cache"
	"github.com/spigell/cvstore/internal/fallback"
	"github.com/spigell/cvstore/internal/metrics"
	"github.com/spigell/cvstore/internal/remote"
	"github.com/spigell/cvstore/internal/remote/memory"
	"github.com/spigell/cvstore/internal/schema"
)

const header = "Candidate Name,Candidate Email,Job Position,Match Score\n"

func seedResults(mem *memory.Store) {
	mem.Seed("results/results_QA.csv", []byte(header+"Ann,ann@x.io,QA,10\n"))
	mem.Seed("results/results_Backend_Engineer.csv", []byte(header+"Bob,bob@x.io,Backend Engineer,20\nJane,jane@x.io,Backend Engineer,30\n"))
	mem.Seed("results/results_Design.csv", []byte(header+"Cid,cid@x.io,Design,40\n"))
}

func names(rows schema.Rows) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row[schema.ColCandidateName])
	}
	return out
}

func TestLoadAllMergesShards(t *testing.T) {
	mem := memory.New()
	seedResults(mem)
	mem.Seed("results/notes.md", []byte("not a shard"))
	mem.Seed("results/archive/results_Old.csv", []byte(header+"Old,old@x.io,Old,1\n"))

	l := New(mem, nil, nil, nil, nil, Options{})
	res, err := l.LoadAll(context.Background(), schema.Results)
	require.NoError(t, err)
	require.True(t, res.Complete())
	require.Equal(t, metrics.SourceRemote, res.Source)
	require.Equal(t, 3, res.Shards)
	require.ElementsMatch(t, []string{"Ann", "Bob", "Jane", "Cid"}, names(res.Rows))
	require.Equal(t, "False", res.Rows[0][schema.ColShortlisted])
}

func TestLoadAllSkipsCorruptShards(t *testing.T) {
	mem := memory.New()
	seedResults(mem)
	mem.Seed("results/results_Broken.csv", []byte("\"unterminated,field\n"))
	mem.FailNext(memory.OpStat, "results/results_Design.csv",
		&remote.Error{Op: memory.OpStat, Path: "results/results_Design.csv", Status: 503, Kind: remote.ErrTransient})

	core, logs := observer.New(zap.WarnLevel)
	m := metrics.New()
	l := New(mem, cache.NewTTL[*Result](time.Minute, m), nil, zap.New(core), m, Options{})

	res, err := l.LoadAll(context.Background(), schema.Results)
	require.NoError(t, err)
	require.False(t, res.Complete())
	require.ElementsMatch(t, []string{"Ann", "Bob", "Jane"}, names(res.Rows))

	kinds := map[string]string{}
	for _, f := range res.Failures {
		kinds[f.Shard] = f.Kind
	}
	require.Equal(t, map[string]string{
		"results/results_Broken.csv": KindParse,
		"results/results_Design.csv": KindTransient,
	}, kinds)
	require.Equal(t, 2, logs.FilterMessage("skipping unreadable shard").Len())
	series, err := testutil.GatherAndCount(m.Registry, "cvstore_loader_shard_failures_total")
	require.NoError(t, err)
	require.Equal(t, 2, series)

	// Incomplete results are not cached: the next load sees the recovered shard.
	res, err = l.LoadAll(context.Background(), schema.Results)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Ann", "Bob", "Jane", "Cid"}, names(res.Rows))
	require.Len(t, res.Failures, 1)
}

func TestLoadAllFirstShardWins(t *testing.T) {
	mem := memory.New()
	mem.Seed("results/results.csv", []byte(header+"Ann,ann@x.io,QA,99\nLegacy,legacy@x.io,QA,5\n"))
	mem.Seed("results/results_QA.csv", []byte(header+"Ann,ann@x.io,QA,10\n"))

	res, err := New(mem, nil, nil, nil, nil, Options{}).LoadAll(context.Background(), schema.Results)
	require.NoError(t, err)
	require.Equal(t, 2, res.Shards)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "Ann", res.Rows[0][schema.ColCandidateName])
	require.Equal(t, "99", res.Rows[0][schema.ColMatchScore])
}

func TestLoadAllReadsTrailingUnderscoreShards(t *testing.T) {
	mem := memory.New()
	mem.Seed("results/results_QA.csv", []byte(header+"Ann,ann@x.io,QA,10\n"))
	mem.Seed("results/results_QA_.csv", []byte(header+"Zed,zed@x.io,QA ,3\n"))

	res, err := New(mem, nil, nil, nil, nil, Options{}).LoadAll(context.Background(), schema.Results)
	require.NoError(t, err)
	require.Equal(t, 2, res.Shards)
	require.ElementsMatch(t, []string{"Ann", "Zed"}, names(res.Rows))
}

func TestLoadAllEmptyCollection(t *testing.T) {
	res, err := New(memory.New(), nil, nil, nil, nil, Options{}).LoadAll(context.Background(), schema.Results)
	require.NoError(t, err)
	require.Empty(t, res.Rows)
	require.True(t, res.Complete())
}

func TestLoadAllSingleShardCollection(t *testing.T) {
	mem := memory.New()
	mem.Seed("job_positions.csv", []byte("Job Position,Job ID,Pooling Status\nQA,12.0,\nDev,13,Pooled\n"))
	mem.Seed("results/results_QA.csv", []byte(header+"Ann,ann@x.io,QA,10\n"))

	res, err := New(mem, nil, nil, nil, nil, Options{}).LoadAll(context.Background(), schema.Positions)
	require.NoError(t, err)
	require.Equal(t, 1, res.Shards)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "12", res.Rows[0][schema.ColJobID])
	require.Equal(t, "Active", res.Rows[0][schema.ColPoolingStatus])
}

func TestLoadAllBoundsConcurrency(t *testing.T) {
	mem := memory.New()
	for i := 0; i < 20; i++ {
		mem.Seed(fmt.Sprintf("results/results_P%02d.csv", i), []byte(fmt.Sprintf("%sC%d,c%d@x.io,P%02d,1\n", header, i, i, i)))
	}

	var inflight, peak atomic.Int32
	client := &gatedClient{Client: mem, enter: func() {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inflight.Add(-1)
	}}

	res, err := New(client, nil, nil, nil, nil, Options{Workers: 3}).LoadAll(context.Background(), schema.Results)
	require.NoError(t, err)
	require.Len(t, res.Rows, 20)
	require.LessOrEqual(t, peak.Load(), int32(3))
}

func TestLoadAllListFailureUsesMirror(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "results"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results", "results_QA.csv"), []byte(header+"Mirrored,m@x.io,QA,1\n"), 0o644))

	mem := memory.New()
	seedResults(mem)
	mem.FailNext(memory.OpList, "results", &remote.Error{Op: memory.OpList, Path: "results", Status: 401, Kind: remote.ErrAuth})

	m := metrics.New()
	c := cache.NewTTL[*Result](time.Minute, m)
	l := New(mem, c, fallback.New(dir, nil), nil, m, Options{})

	res, err := l.LoadAll(context.Background(), schema.Results)
	require.NoError(t, err)
	require.Equal(t, metrics.SourceMirror, res.Source)
	require.Equal(t, []string{"Mirrored"}, names(res.Rows))
	require.Len(t, res.Failures, 1)
	require.Equal(t, KindAuth, res.Failures[0].Kind)
	require.Equal(t, 0, c.Len())
}

func TestLoadAllCancelled(t *testing.T) {
	mem := memory.New()
	seedResults(mem)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(mem, nil, nil, nil, nil, Options{}).LoadAll(ctx, schema.Results)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadAllCacheAndInvalidate(t *testing.T) {
	mem := memory.New()
	seedResults(mem)

	m := metrics.New()
	l := New(mem, cache.NewTTL[*Result](time.Minute, m), nil, nil, m, Options{})
	ctx := context.Background()

	first, err := l.LoadAll(ctx, schema.Results)
	require.NoError(t, err)
	require.Equal(t, 1, mem.Calls(memory.OpList, ""))

	// Callers may modify what they get back without touching the cache.
	first.Rows[0][schema.ColCandidateName] = "changed"

	second, err := l.LoadAll(ctx, schema.Results)
	require.NoError(t, err)
	require.Equal(t, metrics.SourceCache, second.Source)
	require.Equal(t, 1, mem.Calls(memory.OpList, ""))
	require.NotContains(t, names(second.Rows), "changed")

	mem.Seed("results/results_QA.csv", []byte(header+"Ann,ann@x.io,QA,10\nZed,zed@x.io,QA,2\n"))
	stale, err := l.LoadAll(ctx, schema.Results)
	require.NoError(t, err)
	require.NotContains(t, names(stale.Rows), "Zed")

	require.Equal(t, 1, l.Invalidate(schema.Results))
	fresh, err := l.LoadAll(ctx, schema.Results)
	require.NoError(t, err)
	require.Contains(t, names(fresh.Rows), "Zed")
	require.Equal(t, metrics.SourceRemote, fresh.Source)
}

func TestLoadOne(t *testing.T) {
	mem := memory.New()
	seedResults(mem)
	l := New(mem, nil, nil, nil, nil, Options{})
	ctx := context.Background()

	rows, err := l.LoadOne(ctx, schema.Results, "Backend Engineer")
	require.NoError(t, err)
	require.Equal(t, []string{"Bob", "Jane"}, names(rows))

	rows, err = l.LoadOne(ctx, schema.Results, "Unknown Role")
	require.NoError(t, err)
	require.Empty(t, rows)

	_, err = l.LoadOne(ctx, schema.Results, "!!!")
	require.Error(t, err)
}

func TestLoadOneFallsBackToMirror(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results_QA.csv"), []byte(header+"Mirrored,m@x.io,QA,1\n"), 0o644))

	mem := memory.New()
	seedResults(mem)
	mem.FailNext(memory.OpStat, "results/results_QA.csv",
		&remote.Error{Op: memory.OpStat, Path: "results/results_QA.csv", Status: 502, Kind: remote.ErrTransient})

	c := cache.NewTTL[*Result](time.Minute, nil)
	l := New(mem, c, fallback.New(dir, nil), nil, nil, Options{})

	rows, err := l.LoadOne(context.Background(), schema.Results, "QA")
	require.NoError(t, err)
	require.Equal(t, []string{"Mirrored"}, names(rows))
	require.Equal(t, 0, c.Len())

	rows, err = l.LoadOne(context.Background(), schema.Results, "QA")
	require.NoError(t, err)
	require.Equal(t, []string{"Ann"}, names(rows))
	require.Equal(t, 1, c.Len())
}

func TestLoadOneWithoutMirrorIsEmpty(t *testing.T) {
	mem := memory.New()
	seedResults(mem)
	mem.FailNext(memory.OpStat, "", &remote.Error{Op: memory.OpStat, Status: 403, Kind: remote.ErrAuth})

	rows, err := New(mem, nil, nil, nil, nil, Options{}).LoadOne(context.Background(), schema.Results, "QA")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestInvalidateKey(t *testing.T) {
	mem := memory.New()
	seedResults(mem)
	c := cache.NewTTL[*Result](time.Minute, nil)
	l := New(mem, c, nil, nil, nil, Options{})
	ctx := context.Background()

	_, err := l.LoadOne(ctx, schema.Results, "QA")
	require.NoError(t, err)
	_, err = l.LoadOne(ctx, schema.Results, "Design")
	require.NoError(t, err)
	_, err = l.LoadAll(ctx, schema.Results)
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	require.Equal(t, 2, l.InvalidateKey(schema.Results, "QA"))
	require.Equal(t, 1, c.Len())
}

func TestLargeShardMatchesSmallOne(t *testing.T) {
	summary := strings.Repeat("x", 800)
	var rows schema.Rows
	for i := 0; i < 1500; i++ {
		row := schema.Row{
			schema.ColCandidateName:  fmt.Sprintf("Candidate %d", i),
			schema.ColCandidateEmail: fmt.Sprintf("c%d@x.io", i),
			schema.ColJobPosition:    "Backend Engineer",
			schema.ColAISummary:      summary,
		}
		rows = append(rows, schema.Results.Normalize(row))
	}
	encoded, err := schema.Results.Encode(rows)
	require.NoError(t, err)
	require.Greater(t, len(encoded), remote.InlineLimit)

	big := memory.New()
	big.Seed("results/results_Backend_Engineer.csv", encoded)
	small := memory.New()
	small.InlineLimit = len(encoded) + 1
	small.Seed("results/results_Backend_Engineer.csv", encoded)

	ctx := context.Background()
	fromRaw, err := New(big, nil, nil, nil, nil, Options{}).LoadOne(ctx, schema.Results, "Backend Engineer")
	require.NoError(t, err)
	inline, err := New(small, nil, nil, nil, nil, Options{}).LoadOne(ctx, schema.Results, "Backend Engineer")
	require.NoError(t, err)

	require.Equal(t, 1, big.Calls(memory.OpRaw, ""))
	require.Equal(t, 0, small.Calls(memory.OpRaw, ""))
	require.Len(t, fromRaw, 1500)
	require.Equal(t, inline, fromRaw)
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "parse", err: fmt.Errorf("reading x: %w", schema.ErrParse), want: KindParse},
		{name: "auth", err: &remote.Error{Kind: remote.ErrAuth}, want: KindAuth},
		{name: "transient", err: &remote.Error{Kind: remote.ErrTransient}, want: KindTransient},
		{name: "conflict", err: &remote.Error{Kind: remote.ErrConflict}, want: KindConflict},
		{name: "not found", err: &remote.Error{Kind: remote.ErrNotFound}, want: KindNotFound},
		{name: "other", err: fmt.Errorf("boom"), want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureKind(tt.err); got != tt.want {
				t.Fatalf("FailureKind() = %q, want %q", got, tt.want)
			}
		})
	}
}

// gatedClient runs enter before every Stat.
type gatedClient struct {
	remote.Client
	enter func()
}

func (g *gatedClient) Stat(ctx context.Context, path string) (*remote.Object, error) {
	g.enter()
	return g.Client.Stat(ctx, path)
}
