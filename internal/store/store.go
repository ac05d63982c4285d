// Package store persists collections as sharded CSV files on a remote.Client.
//
// Every write is a read-modify-write cycle guarded by the version token of the
// shard: the shard is read, the change applied, and the result written only if
// nobody else wrote in between. Lost races are retried from a fresh read.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/logger"
	"github.com/spigell/cvstore/internal/merge"
	"github.com/spigell/cvstore/internal/metrics"
	"github.com/spigell/cvstore/internal/remote"
	"github.com/spigell/cvstore/internal/schema"
	"github.com/spigell/cvstore/internal/shardname"
	"github.com/spigell/cvstore/internal/utils"
)

// DefaultMaxAttempts is how many read-modify-write cycles one operation may run.
const DefaultMaxAttempts = 3

const (
	opAppend  = "append"
	opReplace = "replace"
	opRemove  = "remove"
	opMutate  = "mutate"
)

var (
	// ErrValidation reports input rejected before any backend call.
	ErrValidation = errors.New("validation failed")
	// ErrDataLossRisk reports a shard whose current content could not be
	// read. Writing would overwrite rows nobody has seen, so nothing is written.
	ErrDataLossRisk = errors.New("current shard content unavailable, refusing to write")
	// ErrRetriesExhausted reports an operation that kept losing races or
	// hitting transient failures.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrNoChange may be returned by a MutateFunc to finish without writing.
	ErrNoChange = errors.New("no change")
)

// MutateFunc derives the new content of a shard from its current rows. The
// rows are normalized and may be modified in place.
type MutateFunc func(current schema.Rows) (schema.Rows, error)

// Options tune the retry policy.
type Options struct {
	MaxAttempts int
	Backoff     utils.Backoff
	// Author prefixes commit messages.
	Author string
}

// Outcome describes a finished operation.
type Outcome struct {
	Path    string
	Version string
	// Attempts is the number of read-modify-write cycles run.
	Attempts int
	Before   int
	After    int
	// Unchanged is true when the shard already had the resulting content and
	// no write was made.
	Unchanged bool
}

// Added returns how many rows the operation added.
func (o *Outcome) Added() int {
	if o == nil || o.After < o.Before {
		return 0
	}
	return o.After - o.Before
}

type Store struct {
	client  remote.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options

	wait  func(ctx context.Context, d time.Duration) error
	newID func() string
}

func New(client remote.Client, log *zap.Logger, m *metrics.Metrics, opts Options) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff.Base <= 0 && opts.Backoff.Max <= 0 {
		opts.Backoff = utils.DefaultBackoff()
	}
	if opts.Author == "" {
		opts.Author = "cvstore"
	}

	return &Store{
		client:  client,
		logger:  log,
		metrics: m,
		opts:    opts,
		wait:    utils.WaitFor,
		newID:   func() string { return uuid.NewString() },
	}
}

// Append adds rows to the shard of partitionKey. Rows whose identity is already
// stored, or repeated within rows, are dropped: the first written row wins.
func (s *Store) Append(ctx context.Context, coll *schema.Collection, partitionKey string, rows schema.Rows) (*Outcome, error) {
	if err := coll.Check(rows); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := checkPartition(coll, partitionKey, rows); err != nil {
		return nil, err
	}

	incoming := coll.NormalizeAll(rows)
	return s.run(ctx, opAppend, coll, partitionKey, true, func(current schema.Rows) (schema.Rows, error) {
		return merge.Merge(current, incoming, coll.Identity).Rows, nil
	})
}

// Replace overwrites the shard of partitionKey with rows. The current content
// is not downloaded; only the version is read to guard the write. rows must
// not be empty.
func (s *Store) Replace(ctx context.Context, coll *schema.Collection, partitionKey string, rows schema.Rows) (*Outcome, error) {
	if err := coll.Check(rows); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := checkPartition(coll, partitionKey, rows); err != nil {
		return nil, err
	}

	replacement := coll.NormalizeAll(rows)
	return s.run(ctx, opReplace, coll, partitionKey, false, func(schema.Rows) (schema.Rows, error) {
		return replacement, nil
	})
}

// RemoveByIdentity deletes the rows of a single-shard collection whose
// identity equals identity. It returns how many rows were removed.
func (s *Store) RemoveByIdentity(ctx context.Context, coll *schema.Collection, identity string) (int, error) {
	if !coll.SingleShard() {
		return 0, fmt.Errorf("%w: %s is partitioned, remove needs a shard", ErrValidation, coll.Name)
	}
	if strings.TrimSpace(identity) == "" {
		return 0, fmt.Errorf("%w: empty identity", ErrValidation)
	}

	removed := 0
	_, err := s.run(ctx, opRemove, coll, "", true, func(current schema.Rows) (schema.Rows, error) {
		var rows schema.Rows
		rows, removed = merge.Remove(current, identity, coll.Identity)
		if removed == 0 {
			return nil, ErrNoChange
		}
		return rows, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Mutate runs fn inside the conflict-retry loop. fn sees the current rows of
// the shard and may run more than once, so it must not have side effects.
func (s *Store) Mutate(ctx context.Context, coll *schema.Collection, partitionKey string, fn MutateFunc) (*Outcome, error) {
	return s.run(ctx, opMutate, coll, partitionKey, true, fn)
}

func (s *Store) run(ctx context.Context, op string, coll *schema.Collection, partitionKey string, needContent bool, fn MutateFunc) (*Outcome, error) {
	path, err := shardname.ForCollection(coll, partitionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	opID := s.newID()
	log := logger.WithShard(s.logger, coll.Name, path).With(zap.String("op", op), zap.String("op_id", opID))
	started := time.Now()
	defer func() {
		s.metrics.ObserveWrite(coll.Name, op, time.Since(started).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := s.opts.Backoff.Delay(attempt - 1)
			log.Debug("waiting before retry", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			if err := s.wait(ctx, delay); err != nil {
				return nil, err
			}
		}

		out, err := s.attempt(ctx, log, op, opID, coll, path, needContent, fn)
		if err == nil {
			out.Attempts = attempt
			if out.Unchanged {
				s.metrics.Attempt(coll.Name, metrics.OutcomeUnchanged)
			} else {
				s.metrics.Attempt(coll.Name, metrics.OutcomeCommitted)
			}
			log.Info("shard saved",
				zap.Int("attempt", attempt),
				zap.Int("rows_before", out.Before),
				zap.Int("rows_after", out.After),
				zap.Bool("unchanged", out.Unchanged),
			)
			return out, nil
		}

		switch {
		case errors.Is(err, remote.ErrConflict):
			s.metrics.Attempt(coll.Name, metrics.OutcomeConflict)
			log.Warn("version conflict", zap.Int("attempt", attempt), zap.Error(err))
		case errors.Is(err, remote.ErrTransient):
			s.metrics.Attempt(coll.Name, metrics.OutcomeTransient)
			log.Warn("transient failure", zap.Int("attempt", attempt), zap.Error(err))
		default:
			s.metrics.Attempt(coll.Name, metrics.OutcomeFailed)
			if !errors.Is(err, ErrValidation) && !errors.Is(err, context.Canceled) {
				log.Error("shard not saved", zap.Int("attempt", attempt), zap.Error(err))
			}
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %s %s after %d attempts: %w", ErrRetriesExhausted, op, path, s.opts.MaxAttempts, lastErr)
}

func (s *Store) attempt(ctx context.Context, log *zap.Logger, op, opID string, coll *schema.Collection, path string, needContent bool, fn MutateFunc) (*Outcome, error) {
	snap, err := s.read(ctx, log, coll, path, needContent)
	if err != nil {
		return nil, err
	}

	next, err := fn(snap.rows.Clone())
	if errors.Is(err, ErrNoChange) {
		return &Outcome{Path: path, Version: snap.version, Before: len(snap.rows), After: len(snap.rows), Unchanged: true}, nil
	}
	if err != nil {
		return nil, err
	}

	next = merge.AcrossShards([]schema.Rows{coll.NormalizeAll(next)}, coll.Identity).Rows
	for i, row := range next {
		for _, col := range coll.Required {
			if strings.TrimSpace(row[col]) == "" {
				return nil, fmt.Errorf("%w: %s row %d is missing %q", ErrValidation, coll.Name, i, col)
			}
		}
	}

	encoded, err := coll.Encode(next)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Path: path, Version: snap.version, Before: len(snap.rows), After: len(next)}
	if snap.raw != nil && bytes.Equal(snap.raw, encoded) {
		out.Unchanged = true
		return out, nil
	}

	message := fmt.Sprintf("%s: %s %s (%d rows) [%s]", s.opts.Author, op, path, len(next), opID)
	version, err := s.client.Put(ctx, path, encoded, snap.version, message)
	if err != nil {
		return nil, err
	}

	if version == "" {
		log.Warn("backend returned no version for the write, the next write will stat again")
	}
	log.Debug("shard written", zap.String("version", version), zap.Int("bytes", len(encoded)))
	out.Version = version
	return out, nil
}

type snapshot struct {
	rows    schema.Rows
	version string
	// raw is the stored content when it was seen, nil otherwise.
	raw []byte
}

// read fetches the current rows and version of path. A missing shard is an
// empty snapshot with no version. When needContent is false, content withheld
// by the backend is not downloaded.
func (s *Store) read(ctx context.Context, log *zap.Logger, coll *schema.Collection, path string, needContent bool) (*snapshot, error) {
	obj, err := s.client.Stat(ctx, path)
	if errors.Is(err, remote.ErrNotFound) {
		log.Debug("shard does not exist yet")
		return &snapshot{rows: coll.Empty()}, nil
	}
	if err != nil {
		return nil, err
	}

	content := obj.Content
	if !obj.Inline {
		if !needContent {
			return &snapshot{rows: coll.Empty(), version: obj.Version}, nil
		}

		log.Debug("shard content withheld, fetching raw", zap.Int64("size", obj.Size))
		content, err = s.client.Raw(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s (%d bytes): %v", ErrDataLossRisk, path, obj.Size, err)
		}
	}

	rows, err := coll.Decode(content)
	if err != nil {
		if !needContent {
			log.Warn("overwriting unparsable shard", zap.Error(err))
			return &snapshot{rows: coll.Empty(), version: obj.Version, raw: content}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return &snapshot{rows: coll.NormalizeAll(rows), version: obj.Version, raw: content}, nil
}

func checkPartition(coll *schema.Collection, partitionKey string, rows schema.Rows) error {
	if coll.SingleShard() {
		return nil
	}
	key := strings.TrimSpace(partitionKey)
	if shardname.Slug(key) == "" {
		return fmt.Errorf("%w: partition key %q has no usable characters", ErrValidation, partitionKey)
	}
	for i, row := range rows {
		if strings.TrimSpace(row[coll.PartitionColumn]) != key {
			return fmt.Errorf("%w: %s row %d belongs to %q, not %q", ErrValidation, coll.Name, i, row[coll.PartitionColumn], key)
		}
	}
	return nil
}
