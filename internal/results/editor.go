// Package results edits stored screening results of single candidates.
package results

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/loader"
	"github.com/spigell/cvstore/internal/schema"
	"github.com/spigell/cvstore/internal/store"
)

var (
	ErrNotFound  = fmt.Errorf("%w: candidate not found", store.ErrValidation)
	ErrAmbiguous = fmt.Errorf("%w: reference matches several candidates", store.ErrValidation)
	// ErrStatusConflict is returned for an interview outcome on a candidate
	// rejected at screening.
	ErrStatusConflict = fmt.Errorf("%w: rejected candidates have no interview status", store.ErrValidation)
)

// StatusChange lists the status fields to set. Nil fields are left as they are.
type StatusChange struct {
	Candidate *schema.CandidateStatus
	Interview *schema.InterviewStatus
	Reason    *string
}

type Editor struct {
	store  *store.Store
	loader *loader.Loader
	coll   *schema.Collection
	logger *zap.Logger
}

func NewEditor(st *store.Store, ld *loader.Loader, coll *schema.Collection, logger *zap.Logger) *Editor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Editor{store: st, loader: ld, coll: coll, logger: logger}
}

// SetStatus updates the screening and interview status of a candidate. An
// interview status on a candidate without a screening status implies OK. A
// change leaving a rejected candidate with an interview status is refused.
func (e *Editor) SetStatus(ctx context.Context, position, ref string, change StatusChange) (*store.Outcome, error) {
	if change.Candidate != nil && *change.Candidate != schema.ParseCandidateStatus(string(*change.Candidate)) {
		return nil, fmt.Errorf("%w: unknown candidate status %q", store.ErrValidation, *change.Candidate)
	}
	if change.Interview != nil && *change.Interview != schema.ParseInterviewStatus(string(*change.Interview)) {
		return nil, fmt.Errorf("%w: unknown interview status %q", store.ErrValidation, *change.Interview)
	}

	return e.Edit(ctx, position, ref, func(row schema.Row) error {
		if change.Candidate != nil {
			row[schema.ColCandidateStatus] = string(*change.Candidate)
		}
		if change.Interview != nil {
			row[schema.ColInterviewStatus] = string(*change.Interview)
		}
		if change.Reason != nil {
			row[schema.ColRejectionReason] = strings.TrimSpace(*change.Reason)
		}
		if schema.ParseCandidateStatus(row[schema.ColCandidateStatus]) == schema.CandidateRejected &&
			schema.ParseInterviewStatus(row[schema.ColInterviewStatus]) != schema.InterviewUnset {
			return fmt.Errorf("%w: %q", ErrStatusConflict, ref)
		}
		return nil
	})
}

// SetFeedback replaces the recruiter feedback of a candidate.
func (e *Editor) SetFeedback(ctx context.Context, position, ref, feedback string) (*store.Outcome, error) {
	return e.Edit(ctx, position, ref, func(row schema.Row) error {
		row[schema.ColFeedback] = strings.TrimSpace(feedback)
		return nil
	})
}

// SetShortlist marks or unmarks a candidate as shortlisted.
func (e *Editor) SetShortlist(ctx context.Context, position, ref string, shortlisted bool) (*store.Outcome, error) {
	return e.Edit(ctx, position, ref, func(row schema.Row) error {
		row[schema.ColShortlisted] = schema.FormatBool(shortlisted)
		return nil
	})
}

// Edit applies fn to the row of the candidate ref points to in the shard of
// position. ref is an email, a candidate name or a full identity key. fn may
// run more than once when writers race. Columns fn does not touch are kept
// exactly as stored.
func (e *Editor) Edit(ctx context.Context, position, ref string, fn func(schema.Row) error) (*store.Outcome, error) {
	out, err := e.store.Mutate(ctx, e.coll, position, func(current schema.Rows) (schema.Rows, error) {
		i, err := find(current, ref)
		if err != nil {
			return nil, err
		}

		before := schema.CandidateKey(current[i])
		row := current[i].Clone()
		if err := fn(row); err != nil {
			return nil, err
		}
		row = e.coll.Normalize(row)
		if schema.CandidateKey(row) != before {
			return nil, fmt.Errorf("%w: editing %q would change its identity", store.ErrValidation, ref)
		}
		current[i] = row
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	if !out.Unchanged {
		e.loader.InvalidateKey(e.coll, position)
	}
	e.logger.Info("candidate updated",
		zap.String("position", position),
		zap.String("candidate", ref),
		zap.Bool("unchanged", out.Unchanged))
	return out, nil
}

// find locates ref in rows. An identity key or an email wins over a name.
func find(rows schema.Rows, ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1, fmt.Errorf("%w: empty reference", ErrNotFound)
	}

	for _, match := range []func(schema.Row) bool{
		func(r schema.Row) bool { return schema.CandidateKey(r) == ref },
		func(r schema.Row) bool {
			return strings.EqualFold(strings.TrimSpace(r[schema.ColCandidateEmail]), ref)
		},
		func(r schema.Row) bool {
			return strings.EqualFold(strings.TrimSpace(r[schema.ColCandidateName]), ref)
		},
	} {
		var hits []int
		for i, row := range rows {
			if match(row) {
				hits = append(hits, i)
			}
		}
		switch len(hits) {
		case 0:
			continue
		case 1:
			return hits[0], nil
		default:
			return -1, fmt.Errorf("%w: %q matches %d rows", ErrAmbiguous, ref, len(hits))
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrNotFound, ref)
}
