// Package scoring defines the candidate evaluation contract used by the
// screening pipeline.
package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/cvstore/internal/schema"
)

// Result is the evaluation of one candidate against one job position.
type Result struct {
	Score      int
	Summary    string
	Strengths  []string
	Weaknesses []string
	Gaps       []string
}

// Scorer rates candidate text against a position.
type Scorer interface {
	Score(ctx context.Context, candidateText, jobTitle, jobDescription string) (*Result, error)
}

// NameExtractor finds the candidate's full name in resume text.
type NameExtractor interface {
	ExtractName(ctx context.Context, candidateText string) (string, error)
}

// UnknownCandidate is used when no name can be found.
const UnknownCandidate = "Unknown Candidate"

// Complete reports whether every descriptive field is filled.
func (r *Result) Complete() bool {
	return strings.TrimSpace(r.Summary) != "" && len(r.Strengths) > 0 && len(r.Weaknesses) > 0 && len(r.Gaps) > 0
}

// FillDefaults clamps the score and puts placeholders into empty fields.
func (r *Result) FillDefaults(jobTitle string) {
	r.Score = clamp(r.Score)
	if strings.TrimSpace(r.Summary) == "" {
		r.Summary = fmt.Sprintf("Candidate evaluation for %s position. Score: %d", jobTitle, r.Score)
	}
	if len(r.Strengths) == 0 {
		r.Strengths = []string{"No strengths could be derived from the resume."}
	}
	if len(r.Weaknesses) == 0 {
		r.Weaknesses = []string{"No weaknesses could be derived from the resume."}
	}
	if len(r.Gaps) == 0 {
		r.Gaps = []string{"No gaps could be derived from the resume."}
	}
}

// Apply copies the evaluation into a candidate record.
func (r *Result) Apply(rec *schema.CandidateRecord) {
	rec.MatchScore = clamp(r.Score)
	rec.Summary = r.Summary
	rec.Strengths = append([]string(nil), r.Strengths...)
	rec.Weaknesses = append([]string(nil), r.Weaknesses...)
	rec.Gaps = append([]string(nil), r.Gaps...)
}

// Static always returns the same result. It backs dry runs.
type Static struct {
	Result Result
	Name   string
}

func (s Static) Score(context.Context, string, string, string) (*Result, error) {
	out := s.Result
	out.Strengths = append([]string(nil), s.Result.Strengths...)
	out.Weaknesses = append([]string(nil), s.Result.Weaknesses...)
	out.Gaps = append([]string(nil), s.Result.Gaps...)
	return &out, nil
}

func (s Static) ExtractName(context.Context, string) (string, error) {
	if s.Name == "" {
		return UnknownCandidate, nil
	}
	return s.Name, nil
}

func clamp(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	default:
		return n
	}
}
