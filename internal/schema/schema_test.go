package schema

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  Row
		expect map[string]string
	}{
		{
			name:  "fills missing columns and drops unknown ones",
			input: Row{ColCandidateName: "Ann", "Legacy Column": "x"},
			expect: map[string]string{
				ColCandidateName: "Ann",
				ColPhone:         "",
				ColShortlisted:   "False",
			},
		},
		{
			name:   "truthy shortlisted spellings",
			input:  Row{ColShortlisted: " yes "},
			expect: map[string]string{ColShortlisted: "True"},
		},
		{
			name:   "statuses are matched case-insensitively",
			input:  Row{ColCandidateStatus: "rejected", ColInterviewStatus: "PASSED"},
			expect: map[string]string{ColCandidateStatus: "Rejected", ColInterviewStatus: "Passed"},
		},
		{
			name:   "unknown statuses are cleared",
			input:  Row{ColCandidateStatus: "maybe", ColInterviewStatus: "soon"},
			expect: map[string]string{ColCandidateStatus: "", ColInterviewStatus: ""},
		},
		{
			name:   "interview status implies candidate status",
			input:  Row{ColInterviewStatus: "Rejected"},
			expect: map[string]string{ColCandidateStatus: "OK", ColInterviewStatus: "Rejected"},
		},
		{
			name:   "float score is rounded",
			input:  Row{ColMatchScore: "85.0"},
			expect: map[string]string{ColMatchScore: "85"},
		},
		{
			name:   "score is clamped",
			input:  Row{ColMatchScore: "140"},
			expect: map[string]string{ColMatchScore: "100"},
		},
		{
			name:   "negative score is clamped",
			input:  Row{ColMatchScore: "-3"},
			expect: map[string]string{ColMatchScore: "0"},
		},
		{
			name:   "unparsable score is cleared",
			input:  Row{ColMatchScore: "high"},
			expect: map[string]string{ColMatchScore: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Results.Normalize(tt.input)
			if len(got) != len(Results.Columns) {
				t.Fatalf("expected %d columns, got %d", len(Results.Columns), len(got))
			}
			if _, ok := got["Legacy Column"]; ok {
				t.Fatalf("unknown column was kept")
			}
			for col, want := range tt.expect {
				if got[col] != want {
					t.Fatalf("%s: expected %q, got %q", col, want, got[col])
				}
			}
		})
	}
}

func TestNormalizePositions(t *testing.T) {
	t.Parallel()

	got := Positions.Normalize(Row{ColJobPosition: "Backend Engineer", ColJobID: "4312.0", ColPoolingStatus: "weird"})
	if got[ColJobID] != "4312" {
		t.Fatalf("expected float job id to be trimmed, got %q", got[ColJobID])
	}
	if got[ColPoolingStatus] != string(PoolingActive) {
		t.Fatalf("expected unknown pooling status to become Active, got %q", got[ColPoolingStatus])
	}

	pooled := Positions.Normalize(Row{ColPoolingStatus: "pooled"})
	if pooled[ColPoolingStatus] != string(PoolingPooled) {
		t.Fatalf("expected Pooled, got %q", pooled[ColPoolingStatus])
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := Row{ColShortlisted: "yes", "Extra": "1"}
	Results.Normalize(in)
	if in[ColShortlisted] != "yes" || in["Extra"] != "1" {
		t.Fatalf("input row was modified: %v", in)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	if err := Results.Check(nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty rows, got %v", err)
	}

	err := Results.Check(Rows{{ColCandidateName: "Ann", ColJobPosition: " "}})
	if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), ColJobPosition) {
		t.Fatalf("expected missing position error, got %v", err)
	}

	if err := Results.Check(Rows{{ColCandidateName: "Ann", ColJobPosition: "QA"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithPrefixCopies(t *testing.T) {
	t.Parallel()

	moved := Results.WithPrefix("/archive/2024/ ")
	if moved.Prefix != "archive/2024" {
		t.Fatalf("unexpected prefix %q", moved.Prefix)
	}
	if Results.Prefix != "results" {
		t.Fatalf("original collection was modified: %q", Results.Prefix)
	}
	if !Positions.SingleShard() || Results.SingleShard() {
		t.Fatalf("unexpected shard layout")
	}
}

func TestDecodeEncode(t *testing.T) {
	t.Parallel()

	rows, err := Results.Decode(nil)
	require.NoError(t, err)
	require.Empty(t, rows)

	rows, err = Results.Decode([]byte("  \n\t"))
	require.NoError(t, err)
	require.Empty(t, rows)

	content := "\xEF\xBB\xBFJob Position, Candidate Name ,Legacy\nQA,\"Doe, Jane\",x\nQA,Bob\n"
	rows, err = Results.Decode([]byte(content))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Doe, Jane", rows[0][ColCandidateName])
	require.Equal(t, "QA", rows[1][ColJobPosition])
	require.Equal(t, "", rows[1]["Legacy"])

	encoded, err := Results.Encode(Results.NormalizeAll(rows))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(encoded), "\n"), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, strings.Join(Results.Columns, ","), lines[0])
	require.Contains(t, lines[1], "\"Doe, Jane\"")

	again, err := Results.Decode(encoded)
	require.NoError(t, err)
	reencoded, err := Results.Encode(Results.NormalizeAll(again))
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)
}

func TestEncodeEmptyWritesHeader(t *testing.T) {
	t.Parallel()

	encoded, err := Positions.Encode(nil)
	require.NoError(t, err)
	require.Equal(t, strings.Join(Positions.Columns, ",")+"\n", string(encoded))
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown header", content: "foo,bar\n1,2\n"},
		{name: "unterminated quote", content: "Candidate Name,Job Position\n\"Ann,QA\n"},
		{name: "too many fields", content: "Candidate Name,Job Position\nAnn,QA,extra\n"},
		{name: "binary garbage", content: "\x00\x01\x02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Results.Decode([]byte(tt.content)); !errors.Is(err, ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
		})
	}
}

func TestCandidateKey(t *testing.T) {
	t.Parallel()

	byEmail := CandidateKey(Row{ColCandidateEmail: " Ann@Example.com ", ColCandidateName: "Ann", ColJobPosition: "QA"})
	sameEmail := CandidateKey(Row{ColCandidateEmail: "ann@example.com", ColCandidateName: "Anna", ColJobPosition: "QA "})
	if byEmail != sameEmail {
		t.Fatalf("expected email identity to ignore case and name: %q vs %q", byEmail, sameEmail)
	}

	otherPosition := CandidateKey(Row{ColCandidateEmail: "ann@example.com", ColJobPosition: "Dev"})
	if otherPosition == byEmail {
		t.Fatalf("position must be part of the identity")
	}

	byPhone := CandidateKey(Row{ColCandidateName: "Ann", ColPhone: "123", ColJobPosition: "QA"})
	otherPhone := CandidateKey(Row{ColCandidateName: "Ann", ColPhone: "456", ColJobPosition: "QA"})
	if byPhone == otherPhone {
		t.Fatalf("different phones must give different identities")
	}

	byName := CandidateKey(Row{ColCandidateName: "Ann", ColJobPosition: "QA"})
	if byName == "" || byName == byPhone {
		t.Fatalf("unexpected name identity %q", byName)
	}

	if CandidateKey(Row{}) != "" {
		t.Fatalf("expected empty identity for empty row")
	}
}

func TestPositionIdentity(t *testing.T) {
	t.Parallel()

	if got := PositionIdentity("77.0", "QA"); got != "id:77" {
		t.Fatalf("unexpected identity %q", got)
	}
	if got := PositionIdentity("", " QA "); got != "name:QA" {
		t.Fatalf("unexpected identity %q", got)
	}
	if got := PositionIdentity("", ""); got != "" {
		t.Fatalf("expected empty identity, got %q", got)
	}
}

func TestCandidateRecordRoundTrip(t *testing.T) {
	t.Parallel()

	row := Row{
		ColCandidateName:   "Jane Doe",
		ColCandidateEmail:  "jane@example.com",
		ColJobPosition:     "Backend Engineer",
		ColMatchScore:      "88.4",
		ColStrengths:       "Go; SQL;;  Kubernetes ",
		ColShortlisted:     "y",
		ColInterviewStatus: "passed",
		ColDateProcessed:   "2024-05-01 10:20:30",
	}

	rec, err := CandidateFromRow(row)
	require.NoError(t, err)
	require.Equal(t, 88, rec.MatchScore)
	require.Equal(t, []string{"Go", "SQL", "Kubernetes"}, rec.Strengths)
	require.True(t, rec.Shortlisted)
	require.Equal(t, CandidateOK, rec.CandidateStatus)
	require.Equal(t, InterviewPassed, rec.InterviewStatus)
	require.Equal(t, 2024, rec.DateProcessed.Year())
	require.NoError(t, rec.Validate())

	out := rec.ToRow()
	require.Equal(t, "Go; SQL; Kubernetes", out[ColStrengths])
	require.Equal(t, "True", out[ColShortlisted])
	require.Equal(t, "2024-05-01 10:20:30", out[ColDateProcessed])
	require.Equal(t, CandidateKey(row), rec.Identity())
}

func TestCandidateRecordValidate(t *testing.T) {
	t.Parallel()

	rec := CandidateRecord{Name: "Jane", JobPosition: "QA", Email: "not-an-email"}
	if err := rec.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}

	rec = CandidateRecord{JobPosition: "QA"}
	if err := rec.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing name, got %v", err)
	}
}

func TestJobPositionRoundTrip(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
	pos := JobPosition{Name: "QA", JobID: "12", Description: "Tests", DateCreated: created, Pooling: PoolingPooled}
	require.NoError(t, pos.Validate())
	require.False(t, pos.Active())

	back, err := PositionFromRow(pos.ToRow())
	require.NoError(t, err)
	require.Equal(t, pos.Name, back.Name)
	require.Equal(t, "12", back.JobID)
	require.True(t, back.DateCreated.Equal(created))
	require.True(t, back.LastModified.IsZero())
	require.Equal(t, "id:12", back.Identity())

	if _, err := PositionFromRow(Row{ColJobPosition: "QA", ColDateCreated: "yesterday"}); err == nil {
		t.Fatalf("expected error for unparsable timestamp")
	}
}
