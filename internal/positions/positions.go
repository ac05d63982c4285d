// Package positions manages the job positions catalogue. At most one Active
// position may carry a given name; Pooled positions may share it.
package positions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/loader"
	"github.com/spigell/cvstore/internal/schema"
	"github.com/spigell/cvstore/internal/store"
)

var (
	ErrNotFound        = fmt.Errorf("%w: position not found", store.ErrValidation)
	ErrAmbiguous       = fmt.Errorf("%w: reference matches several positions", store.ErrValidation)
	ErrDuplicateActive = fmt.Errorf("%w: an active position with this name already exists", store.ErrValidation)
	ErrExists          = fmt.Errorf("%w: position already exists", store.ErrValidation)
)

// Conflict is an active and a pooled position sharing a name under different
// Job IDs. Such pairs are reported, never merged.
type Conflict struct {
	Name   string
	Active schema.JobPosition
	Pooled schema.JobPosition
}

type Service struct {
	store  *store.Store
	loader *loader.Loader
	coll   *schema.Collection
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Service for coll, usually schema.Positions with the
// configured prefix.
func New(st *store.Store, ld *loader.Loader, coll *schema.Collection, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, loader: ld, coll: coll, logger: logger, now: time.Now}
}

// List returns every position in stored order.
func (s *Service) List(ctx context.Context) ([]schema.JobPosition, error) {
	rows, err := s.loader.LoadOne(ctx, s.coll, "")
	if err != nil {
		return nil, err
	}
	return decodeAll(rows)
}

// Active returns the open positions.
func (s *Service) Active(ctx context.Context) ([]schema.JobPosition, error) {
	return s.filter(ctx, true)
}

// Pooled returns the positions kept for later.
func (s *Service) Pooled(ctx context.Context) ([]schema.JobPosition, error) {
	return s.filter(ctx, false)
}

func (s *Service) filter(ctx context.Context, active bool) ([]schema.JobPosition, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []schema.JobPosition
	for _, p := range all {
		if p.Active() == active {
			out = append(out, p)
		}
	}
	return out, nil
}

// Get resolves ref, a Job ID or a name. A name shared by several positions
// resolves to the active one.
func (s *Service) Get(ctx context.Context, ref string) (schema.JobPosition, error) {
	all, err := s.List(ctx)
	if err != nil {
		return schema.JobPosition{}, err
	}
	i, err := resolve(all, ref, true)
	if err != nil {
		return schema.JobPosition{}, err
	}
	return all[i], nil
}

// Add stores a new position. Creation and modification times are set to now
// and an unset pooling status means Active.
func (s *Service) Add(ctx context.Context, pos schema.JobPosition) (*store.Outcome, error) {
	pos.Name = strings.TrimSpace(pos.Name)
	pos.JobID = strings.TrimSpace(pos.JobID)
	if pos.Pooling == "" {
		pos.Pooling = schema.PoolingActive
	}
	now := s.now()
	pos.DateCreated, pos.LastModified = now, now
	if err := pos.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrValidation, err)
	}

	out, err := s.store.Mutate(ctx, s.coll, "", func(current schema.Rows) (schema.Rows, error) {
		existing, err := decodeAll(current)
		if err != nil {
			return nil, err
		}
		for _, p := range existing {
			if p.Identity() == pos.Identity() {
				return nil, fmt.Errorf("%w: %s", ErrExists, pos.Identity())
			}
		}
		if pos.Active() {
			if other := activeNamed(existing, pos.Name, -1); other >= 0 {
				return nil, fmt.Errorf("%w: %q (job id %q)", ErrDuplicateActive, pos.Name, existing[other].JobID)
			}
		}
		return append(current, pos.ToRow()), nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("position added", zap.String("position", pos.Name), zap.String("job_id", pos.JobID))
	s.loader.Invalidate(s.coll)
	return out, nil
}

// Update renames the position and replaces its description. Empty arguments
// keep the current value.
func (s *Service) Update(ctx context.Context, ref, name, description string) (*store.Outcome, error) {
	name, description = strings.TrimSpace(name), strings.TrimSpace(description)
	return s.edit(ctx, ref, func(all []schema.JobPosition, i int) error {
		if name != "" {
			if all[i].Active() && !strings.EqualFold(name, all[i].Name) {
				if other := activeNamed(all, name, i); other >= 0 {
					return fmt.Errorf("%w: %q", ErrDuplicateActive, name)
				}
			}
			all[i].Name = name
		}
		if description != "" {
			all[i].Description = description
		}
		return nil
	})
}

// SetPooling moves a position between Active and Pooled.
func (s *Service) SetPooling(ctx context.Context, ref string, status schema.PoolingStatus) (*store.Outcome, error) {
	if status != schema.PoolingActive && status != schema.PoolingPooled {
		return nil, fmt.Errorf("%w: unknown pooling status %q", store.ErrValidation, status)
	}
	return s.edit(ctx, ref, func(all []schema.JobPosition, i int) error {
		if all[i].Pooling == status {
			return store.ErrNoChange
		}
		if status == schema.PoolingActive {
			if other := activeNamed(all, all[i].Name, i); other >= 0 {
				return fmt.Errorf("%w: %q (job id %q)", ErrDuplicateActive, all[i].Name, all[other].JobID)
			}
		}
		all[i].Pooling = status
		return nil
	})
}

// Remove deletes the position ref resolves to.
func (s *Service) Remove(ctx context.Context, ref string) (int, error) {
	s.loader.Invalidate(s.coll)
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	i, err := resolve(all, ref, false)
	if err != nil {
		return 0, err
	}

	removed, err := s.store.RemoveByIdentity(ctx, s.coll, all[i].Identity())
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, fmt.Errorf("%w: %s was removed concurrently", ErrNotFound, all[i].Identity())
	}

	s.logger.Info("position removed", zap.String("position", all[i].Name), zap.String("job_id", all[i].JobID))
	s.loader.Invalidate(s.coll)
	return removed, nil
}

// Conflicts reports active and pooled positions sharing a name under
// different Job IDs.
func (s *Service) Conflicts(ctx context.Context) ([]Conflict, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []Conflict
	for _, active := range all {
		if !active.Active() {
			continue
		}
		for _, pooled := range all {
			if pooled.Active() || !sameName(active.Name, pooled.Name) {
				continue
			}
			if active.JobID == "" || pooled.JobID == "" || active.JobID == pooled.JobID {
				continue
			}
			s.logger.Warn("active and pooled positions share a name",
				zap.String("position", active.Name),
				zap.String("active_job_id", active.JobID),
				zap.String("pooled_job_id", pooled.JobID))
			out = append(out, Conflict{Name: active.Name, Active: active, Pooled: pooled})
		}
	}
	return out, nil
}

func (s *Service) edit(ctx context.Context, ref string, fn func(all []schema.JobPosition, i int) error) (*store.Outcome, error) {
	out, err := s.store.Mutate(ctx, s.coll, "", func(current schema.Rows) (schema.Rows, error) {
		all, err := decodeAll(current)
		if err != nil {
			return nil, err
		}
		i, err := resolve(all, ref, false)
		if err != nil {
			return nil, err
		}
		if err := fn(all, i); err != nil {
			return nil, err
		}
		all[i].LastModified = s.now()
		if err := all[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrValidation, err)
		}
		current[i] = all[i].ToRow()
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	if !out.Unchanged {
		s.loader.Invalidate(s.coll)
	}
	return out, nil
}

// resolve finds ref among positions: a Job ID first, then a name. With
// preferActive a shared name resolves to its single active holder.
func resolve(all []schema.JobPosition, ref string, preferActive bool) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1, fmt.Errorf("%w: empty reference", ErrNotFound)
	}

	for i, p := range all {
		if p.JobID != "" && p.JobID == ref {
			return i, nil
		}
	}

	var matches []int
	for i, p := range all {
		if sameName(p.Name, ref) {
			matches = append(matches, i)
		}
	}

	switch {
	case len(matches) == 0:
		return -1, fmt.Errorf("%w: %q", ErrNotFound, ref)
	case len(matches) == 1:
		return matches[0], nil
	}

	if preferActive {
		if i := activeNamed(all, ref, -1); i >= 0 {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q matches %d positions, use the job id", ErrAmbiguous, ref, len(matches))
}

// activeNamed returns the index of an active position named name, skipping
// index skip, or -1.
func activeNamed(all []schema.JobPosition, name string, skip int) int {
	for i, p := range all {
		if i != skip && p.Active() && sameName(p.Name, name) {
			return i
		}
	}
	return -1
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func decodeAll(rows schema.Rows) ([]schema.JobPosition, error) {
	out := make([]schema.JobPosition, 0, len(rows))
	for _, row := range rows {
		p, err := schema.PositionFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// IsUserError reports whether err was caused by the caller's input rather
// than the backend.
func IsUserError(err error) bool {
	return errors.Is(err, store.ErrValidation)
}
