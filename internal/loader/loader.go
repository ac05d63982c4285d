// Package loader reads collections from the remote backend. Whole
// collections are fetched shard by shard in parallel; shards that cannot be
// read are skipped and reported instead of failing the load.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/cvstore/internal/cache"
	"github.com/spigell/cvstore/internal/fallback"
	"github.com/spigell/cvstore/internal/logger"
	"github.com/spigell/cvstore/internal/merge"
	"github.com/spigell/cvstore/internal/metrics"
	"github.com/spigell/cvstore/internal/remote"
	"github.com/spigell/cvstore/internal/schema"
	"github.com/spigell/cvstore/internal/shardname"
)

// DefaultWorkers bounds concurrent shard fetches in LoadAll.
const DefaultWorkers = 8

// Failure kinds reported in ShardFailure.
const (
	KindParse     = "parse"
	KindAuth      = "auth"
	KindTransient = "transient"
	KindConflict  = "conflict"
	KindNotFound  = "not_found"
	KindUnknown   = "unknown"
)

// ShardFailure describes a shard LoadAll had to skip.
type ShardFailure struct {
	Shard string
	Kind  string
	Err   error
}

// Result is a merged dataset and where it came from.
type Result struct {
	Rows     schema.Rows
	Source   string
	Shards   int
	Failures []ShardFailure
}

// Complete reports whether every listed shard was read.
func (r *Result) Complete() bool {
	return len(r.Failures) == 0
}

func (r *Result) clone() *Result {
	out := *r
	out.Rows = r.Rows.Clone()
	out.Failures = append([]ShardFailure(nil), r.Failures...)
	return &out
}

type Options struct {
	Workers int
}

type Loader struct {
	client  remote.Client
	cache   cache.Cache[*Result]
	mirror  *fallback.Mirror
	metrics *metrics.Metrics
	logger  *zap.Logger
	workers int
}

// New creates a Loader. A nil cache disables caching and a nil mirror
// disables the local fallback.
func New(client remote.Client, c cache.Cache[*Result], mirror *fallback.Mirror, log *zap.Logger, m *metrics.Metrics, opts Options) *Loader {
	if c == nil {
		c = cache.Nop[*Result]{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Loader{
		client:  client,
		cache:   c,
		mirror:  mirror,
		metrics: m,
		logger:  log,
		workers: opts.Workers,
	}
}

// LoadOne returns the normalized rows of the shard holding key. A missing
// shard is an empty dataset. When the backend fails the mirrored copy is
// returned instead and nothing is cached.
func (l *Loader) LoadOne(ctx context.Context, coll *schema.Collection, key string) (schema.Rows, error) {
	path, err := shardname.ForCollection(coll, key)
	if err != nil {
		return nil, err
	}

	cacheKey := cache.Key(coll.Name, coll.Prefix, "one", path)
	if cached, ok := l.cache.Get(cacheKey); ok {
		l.metrics.Load(coll.Name, metrics.SourceCache)
		return cached.Rows.Clone(), nil
	}

	log := logger.WithShard(l.logger, coll.Name, path)

	rows, err := l.fetch(ctx, coll, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("remote read failed, using local mirror",
			zap.String("kind", FailureKind(err)), zap.Error(err))
		l.metrics.Load(coll.Name, metrics.SourceMirror)
		return l.mirror.Read(coll, path), nil
	}

	log.Debug("loaded shard", zap.Int("rows", len(rows)))
	l.metrics.Load(coll.Name, metrics.SourceRemote)
	l.cache.Set(cacheKey, &Result{Rows: rows.Clone(), Source: metrics.SourceRemote, Shards: 1})
	return rows, nil
}

// LoadAll merges every shard of the collection. Rows of earlier shards, in
// lexical path order, win over duplicates in later ones. Only complete
// remote results are cached.
func (l *Loader) LoadAll(ctx context.Context, coll *schema.Collection) (*Result, error) {
	cacheKey := cache.Key(coll.Name, coll.Prefix, "all")
	if cached, ok := l.cache.Get(cacheKey); ok {
		l.metrics.Load(coll.Name, metrics.SourceCache)
		out := cached.clone()
		out.Source = metrics.SourceCache
		return out, nil
	}

	log := logger.WithShard(l.logger, coll.Name, coll.Prefix)

	entries, err := l.client.List(ctx, coll.Prefix)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		log.Debug("collection has no shards yet")
		l.metrics.Load(coll.Name, metrics.SourceRemote)
		return &Result{Rows: coll.Empty(), Source: metrics.SourceRemote}, nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("listing shards failed, using local mirror",
			zap.String("kind", FailureKind(err)), zap.Error(err))
		l.metrics.Load(coll.Name, metrics.SourceMirror)
		return &Result{
			Rows:     l.mirror.ReadAll(coll),
			Source:   metrics.SourceMirror,
			Failures: []ShardFailure{{Shard: coll.Prefix, Kind: FailureKind(err), Err: err}},
		}, nil
	}

	paths := shardPaths(coll, entries)
	lists := make([]schema.Rows, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, path := range paths {
		g.Go(func() error {
			rows, err := l.fetch(gctx, coll, path)
			if err != nil {
				// Per-shard failures must not cancel the siblings.
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				errs[i] = err
				return nil
			}
			lists[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Source: metrics.SourceRemote, Shards: len(paths)}
	for i, err := range errs {
		if err == nil {
			continue
		}
		kind := FailureKind(err)
		log.Warn("skipping unreadable shard",
			zap.String("path", paths[i]), zap.String("kind", kind), zap.Error(err))
		l.metrics.ShardFailure(coll.Name, kind)
		result.Failures = append(result.Failures, ShardFailure{Shard: paths[i], Kind: kind, Err: err})
	}

	merged := merge.AcrossShards(lists, coll.Identity)
	result.Rows = merged.Rows
	if merged.Dropped > 0 {
		log.Debug("dropped duplicates across shards", zap.Int("dropped", merged.Dropped))
	}

	log.Info("loaded collection",
		zap.Int("shards", len(paths)),
		zap.Int("rows", len(result.Rows)),
		zap.Int("failed", len(result.Failures)))
	l.metrics.Load(coll.Name, metrics.SourceRemote)

	if result.Complete() {
		l.cache.Set(cacheKey, result.clone())
	}
	return result, nil
}

// Invalidate drops every cached dataset of the collection.
func (l *Loader) Invalidate(coll *schema.Collection) int {
	return l.cache.Invalidate(cache.Key(coll.Name, coll.Prefix))
}

// InvalidateKey drops the cached shard of key and the merged collection.
func (l *Loader) InvalidateKey(coll *schema.Collection, key string) int {
	removed := l.cache.Invalidate(cache.Key(coll.Name, coll.Prefix, "all"))
	if path, err := shardname.ForCollection(coll, key); err == nil {
		removed += l.cache.Invalidate(cache.Key(coll.Name, coll.Prefix, "one", path))
	}
	return removed
}

func (l *Loader) fetch(ctx context.Context, coll *schema.Collection, path string) (schema.Rows, error) {
	obj, err := l.client.Stat(ctx, path)
	if errors.Is(err, remote.ErrNotFound) {
		return coll.Empty(), nil
	}
	if err != nil {
		return nil, err
	}

	content := obj.Content
	if !obj.Inline {
		content, err = l.client.Raw(ctx, path)
		if errors.Is(err, remote.ErrNotFound) {
			return coll.Empty(), nil
		}
		if err != nil {
			return nil, err
		}
	}

	rows, err := coll.Decode(content)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return coll.NormalizeAll(rows), nil
}

func shardPaths(coll *schema.Collection, entries []remote.Entry) []string {
	var paths []string
	for _, entry := range entries {
		if entry.Dir || !shardname.Matches(coll, entry.Name) {
			continue
		}
		paths = append(paths, entry.Path)
	}
	sort.Strings(paths)
	return paths
}

// FailureKind names the class of a load error for logs and metrics.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, schema.ErrParse):
		return KindParse
	case errors.Is(err, remote.ErrAuth):
		return KindAuth
	case errors.Is(err, remote.ErrTransient):
		return KindTransient
	case errors.Is(err, remote.ErrConflict):
		return KindConflict
	case errors.Is(err, remote.ErrNotFound):
		return KindNotFound
	default:
		return KindUnknown
	}
}
