package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/cvstore/internal/scoring"
)

type stubGenerator struct {
	responses []string
	err       error
	prompts   []string
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string, _ *genai.GenerateContentConfig) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", errors.New("no response queued")
	}
	next := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return next, nil
}

const completeResponse = `{"score": 82, "summary": "Solid Go background.", "strengths": ["Go", "Kubernetes"], "weaknesses": ["No Rust"], "gaps": ["No on-call"]}`

func TestScorerScore(t *testing.T) {
	stub := &stubGenerator{responses: []string{completeResponse}}
	scorer := NewScorer(stub, zap.NewNop(), "English", 0)

	res, err := scorer.Score(context.Background(), "Jane Doe, 7 years of Go", "Backend Engineer", "Build APIs in Go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Score != 82 || res.Summary != "Solid Go background." {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Strengths) != 2 || res.Weaknesses[0] != "No Rust" || res.Gaps[0] != "No on-call" {
		t.Fatalf("unexpected lists %+v", res)
	}

	prompt := stub.prompts[0]
	for _, want := range []string{"Backend Engineer", "Build APIs in Go", "Jane Doe, 7 years of Go", "- Write summary, strengths, weaknesses and gaps in English."} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt does not contain %q: %s", want, prompt)
		}
	}
	if strings.Contains(prompt, "{{") {
		t.Fatalf("unresolved placeholder in prompt: %s", prompt)
	}
}

func TestScorerTruncatesCandidateText(t *testing.T) {
	stub := &stubGenerator{responses: []string{completeResponse}}
	scorer := NewScorer(stub, nil, "", 0)

	text := strings.Repeat("я", maxCandidateRunes) + "TAIL"
	if _, err := scorer.Score(context.Background(), text, "QA", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(stub.prompts[0], "TAIL") {
		t.Fatalf("candidate text was not truncated")
	}
	if !strings.Contains(stub.prompts[0], "(not provided)") {
		t.Fatalf("expected placeholder for missing description")
	}
}

func TestScorerRepairsIncompleteResponses(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		calls     int
		check     func(t *testing.T, res *scoring.Result)
	}{
		{
			name:      "second answer complete",
			responses: []string{`{"score": 50, "summary": "", "strengths": [], "weaknesses": [], "gaps": []}`, completeResponse},
			calls:     2,
			check: func(t *testing.T, res *scoring.Result) {
				if res.Score != 82 {
					t.Fatalf("expected the complete answer, got %+v", res)
				}
			},
		},
		{
			name:      "defaults after last attempt",
			responses: []string{`{"score": 140, "summary": "Fine", "strengths": ["Go"]}`},
			calls:     3,
			check: func(t *testing.T, res *scoring.Result) {
				if res.Score != 100 || res.Summary != "Fine" {
					t.Fatalf("unexpected result %+v", res)
				}
				if len(res.Weaknesses) != 1 || len(res.Gaps) != 1 {
					t.Fatalf("expected placeholders, got %+v", res)
				}
			},
		},
		{
			name:      "garbage then fenced json",
			responses: []string{"I cannot answer", "```json\n" + completeResponse + "\n```"},
			calls:     2,
			check: func(t *testing.T, res *scoring.Result) {
				if res.Score != 82 {
					t.Fatalf("unexpected result %+v", res)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubGenerator{responses: tt.responses}
			res, err := NewScorer(stub, nil, "", 0).Score(context.Background(), "cv", "QA", "desc")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(stub.prompts) != tt.calls {
				t.Fatalf("expected %d calls, got %d", tt.calls, len(stub.prompts))
			}
			tt.check(t, res)
		})
	}
}

func TestScorerFailsWithoutUsableResponse(t *testing.T) {
	stub := &stubGenerator{responses: []string{"nope"}}
	if _, err := NewScorer(stub, nil, "", 0).Score(context.Background(), "cv", "QA", ""); err == nil {
		t.Fatalf("expected error")
	}

	stub = &stubGenerator{err: errors.New("quota")}
	if _, err := NewScorer(stub, nil, "", 0).Score(context.Background(), "cv", "QA", ""); err == nil || len(stub.prompts) != 1 {
		t.Fatalf("expected generator error without repair attempts, got %v after %d calls", err, len(stub.prompts))
	}

	if _, err := NewScorer(stub, nil, "", 0).Score(context.Background(), " ", "QA", ""); err == nil {
		t.Fatalf("expected error for empty candidate text")
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		score int
	}{
		{name: "plain", raw: `{"score": 70}`, score: 70},
		{name: "string score", raw: `{"score": "64.6"}`, score: 65},
		{name: "negative", raw: `{"score": -3}`, score: 0},
		{name: "prose around", raw: "Here you go: {\"score\": 12} thanks", score: 12},
		{name: "missing score", raw: `{"summary": "x"}`, score: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseResponse(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Score != tt.score {
				t.Fatalf("expected score %d, got %d", tt.score, res.Score)
			}
		})
	}

	if _, err := parseResponse("no json at all"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestExtractName(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{name: "plain", response: " Jane Doe ", want: "Jane Doe"},
		{name: "quoted", response: `"Jane Doe"`, want: "Jane Doe"},
		{name: "multi line", response: "Jane\nDoe", want: scoring.UnknownCandidate},
		{name: "too long", response: strings.Repeat("a", maxNameLength+1), want: scoring.UnknownCandidate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubGenerator{responses: []string{tt.response}}
			got, err := NewScorer(stub, nil, "", 0).ExtractName(context.Background(), "Resume of Jane Doe")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ExtractName() = %q, want %q", got, tt.want)
			}
		})
	}

	stub := &stubGenerator{}
	got, err := NewScorer(stub, nil, "", 0).ExtractName(context.Background(), "  ")
	if err != nil || got != scoring.UnknownCandidate || len(stub.prompts) != 0 {
		t.Fatalf("expected unknown candidate without calling the model, got %q, %v", got, err)
	}
}
