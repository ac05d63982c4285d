// Package screening scores new candidates for a position and appends them to
// its results shard.
package screening

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/loader"
	"github.com/spigell/cvstore/internal/schema"
	"github.com/spigell/cvstore/internal/scoring"
	"github.com/spigell/cvstore/internal/store"
)

// Candidate is an application waiting to be screened.
type Candidate struct {
	Name            string
	Email           string
	Phone           string
	Text            string
	LatestJobTitle  string
	LatestCompany   string
	Education       string
	University      string
	Major           string
	ProfileLink     string
	ApplicationLink string
	ResumeLink      string
}

// Failure is a candidate that could not be screened.
type Failure struct {
	Candidate string
	Err       error
}

// Report summarises one run.
type Report struct {
	Position string
	Scored   int
	Skipped  int
	Failures []Failure
	Outcome  *store.Outcome
}

type Pipeline struct {
	store  *store.Store
	loader *loader.Loader
	coll   *schema.Collection
	scorer scoring.Scorer
	logger *zap.Logger
	now    func() time.Time
}

func New(st *store.Store, ld *loader.Loader, coll *schema.Collection, scorer scoring.Scorer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: st, loader: ld, coll: coll, scorer: scorer, logger: logger, now: time.Now}
}

// Run scores every candidate not yet stored for position and appends the
// new records in one write. A candidate that fails scoring is reported and
// skipped; the rest are still saved.
func (p *Pipeline) Run(ctx context.Context, position schema.JobPosition, candidates []Candidate) (*Report, error) {
	log := p.logger.With(zap.String("position", position.Name), zap.String("job_id", position.JobID))
	report := &Report{Position: position.Name}

	p.loader.InvalidateKey(p.coll, position.Name)
	existing, err := p.loader.LoadOne(ctx, p.coll, position.Name)
	if err != nil {
		return nil, fmt.Errorf("loading existing results: %w", err)
	}

	seen := make(map[string]bool, len(existing)+len(candidates))
	for _, row := range existing {
		if key := schema.CandidateKey(row); key != "" {
			seen[key] = true
		}
	}

	var batch schema.Rows
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := p.screen(ctx, log, position, c, seen)
		switch {
		case errors.Is(err, errAlreadyScreened):
			report.Skipped++
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			label := c.Email
			if label == "" {
				label = c.Name
			}
			log.Warn("candidate not screened", zap.String("candidate", label), zap.Error(err))
			report.Failures = append(report.Failures, Failure{Candidate: label, Err: err})
			continue
		}

		batch = append(batch, rec.ToRow())
		report.Scored++
	}

	log.Info("screening finished",
		zap.Int("scored", report.Scored),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)))

	if len(batch) == 0 {
		return report, nil
	}

	out, err := p.store.Append(ctx, p.coll, position.Name, batch)
	if err != nil {
		return report, fmt.Errorf("saving %d screened candidates: %w", len(batch), err)
	}
	report.Outcome = out
	p.loader.InvalidateKey(p.coll, position.Name)
	return report, nil
}

var errAlreadyScreened = errors.New("already screened")

func (p *Pipeline) screen(ctx context.Context, log *zap.Logger, position schema.JobPosition, c Candidate, seen map[string]bool) (*schema.CandidateRecord, error) {
	rec := schema.CandidateRecord{
		Name:            strings.TrimSpace(c.Name),
		Email:           strings.TrimSpace(c.Email),
		Phone:           strings.TrimSpace(c.Phone),
		JobPosition:     position.Name,
		LatestJobTitle:  c.LatestJobTitle,
		LatestCompany:   c.LatestCompany,
		Education:       c.Education,
		University:      c.University,
		Major:           c.Major,
		ProfileLink:     c.ProfileLink,
		ApplicationLink: c.ApplicationLink,
		ResumeLink:      c.ResumeLink,
	}

	// Known identities are skipped before paying for a model call.
	if rec.Name != "" || rec.Email != "" {
		if key := schema.CandidateKey(rec.ToRow()); seen[key] {
			return nil, errAlreadyScreened
		}
	}

	if strings.TrimSpace(c.Text) == "" {
		return nil, errors.New("candidate has no resume text")
	}

	if rec.Name == "" {
		rec.Name = scoring.UnknownCandidate
		if extractor, ok := p.scorer.(scoring.NameExtractor); ok {
			name, err := extractor.ExtractName(ctx, c.Text)
			if err != nil {
				return nil, fmt.Errorf("extracting name: %w", err)
			}
			rec.Name = name
		}
		if key := schema.CandidateKey(rec.ToRow()); seen[key] {
			return nil, errAlreadyScreened
		}
	}

	result, err := p.scorer.Score(ctx, c.Text, position.Name, position.Description)
	if err != nil {
		return nil, fmt.Errorf("scoring: %w", err)
	}
	result.Apply(&rec)
	rec.DateProcessed = p.now()

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	seen[rec.Identity()] = true
	log.Debug("candidate scored", zap.String("candidate", rec.Name), zap.Int("score", rec.MatchScore))
	return &rec, nil
}
