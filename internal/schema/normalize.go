package schema

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CandidateStatus is the screening outcome of a candidate.
type CandidateStatus string

const (
	CandidateUnset    CandidateStatus = ""
	CandidateOK       CandidateStatus = "OK"
	CandidateRejected CandidateStatus = "Rejected"
)

// InterviewStatus is the interview outcome of a candidate.
type InterviewStatus string

const (
	InterviewUnset    InterviewStatus = ""
	InterviewPassed   InterviewStatus = "Passed"
	InterviewRejected InterviewStatus = "Rejected"
)

// PoolingStatus tells whether a position is open or parked.
type PoolingStatus string

const (
	PoolingActive PoolingStatus = "Active"
	PoolingPooled PoolingStatus = "Pooled"
)

const (
	boolTrue  = "True"
	boolFalse = "False"
)

// ListSeparator joins list-valued cells such as Strengths.
const ListSeparator = "; "

// TimeLayout is the textual form of timestamps stored in shards.
const TimeLayout = "2006-01-02 15:04:05"

var floatJobID = regexp.MustCompile(`^(\d+)\.0+$`)

// ParseCandidateStatus matches s case-insensitively; unknown values are unset.
func ParseCandidateStatus(s string) CandidateStatus {
	s = strings.TrimSpace(s)
	for _, known := range []CandidateStatus{CandidateOK, CandidateRejected} {
		if strings.EqualFold(s, string(known)) {
			return known
		}
	}
	return CandidateUnset
}

// ParseInterviewStatus matches s case-insensitively; unknown values are unset.
func ParseInterviewStatus(s string) InterviewStatus {
	s = strings.TrimSpace(s)
	for _, known := range []InterviewStatus{InterviewPassed, InterviewRejected} {
		if strings.EqualFold(s, string(known)) {
			return known
		}
	}
	return InterviewUnset
}

// ParsePoolingStatus returns PoolingPooled for "pooled" in any case and
// PoolingActive for everything else.
func ParsePoolingStatus(s string) PoolingStatus {
	if strings.EqualFold(strings.TrimSpace(s), string(PoolingPooled)) {
		return PoolingPooled
	}
	return PoolingActive
}

// ParseBool reports whether s is one of the accepted truthy spellings.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true
	default:
		return false
	}
}

// FormatBool renders b the way shards store booleans.
func FormatBool(b bool) string {
	if b {
		return boolTrue
	}
	return boolFalse
}

// ParseScore parses a match score, accepting integral and float spellings, and
// clamps it to 0..100. ok is false when s is empty or unparsable.
func ParseScore(s string) (score int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if n, err := strconv.Atoi(s); err == nil {
		return clampScore(n), true
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	if math.IsInf(f, 1) {
		return 100, true
	}
	if math.IsInf(f, -1) {
		return 0, true
	}
	return clampScore(int(math.Round(f))), true
}

func clampScore(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	default:
		return n
	}
}

// SplitList splits a list-valued cell, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinList renders a list-valued cell.
func JoinList(items []string) string {
	kept := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			kept = append(kept, item)
		}
	}
	return strings.Join(kept, ListSeparator)
}

func coerceResult(r Row) {
	r[ColShortlisted] = FormatBool(ParseBool(r[ColShortlisted]))

	candidate := ParseCandidateStatus(r[ColCandidateStatus])
	interview := ParseInterviewStatus(r[ColInterviewStatus])
	// An interview only happens after screening passed.
	if interview != InterviewUnset && candidate == CandidateUnset {
		candidate = CandidateOK
	}
	r[ColCandidateStatus] = string(candidate)
	r[ColInterviewStatus] = string(interview)

	if score, ok := ParseScore(r[ColMatchScore]); ok {
		r[ColMatchScore] = strconv.Itoa(score)
	} else {
		r[ColMatchScore] = ""
	}
}

func coercePosition(r Row) {
	r[ColPoolingStatus] = string(ParsePoolingStatus(r[ColPoolingStatus]))

	id := strings.TrimSpace(r[ColJobID])
	if m := floatJobID.FindStringSubmatch(id); m != nil {
		id = m[1]
	}
	r[ColJobID] = id
}
