package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CandidateRecord is the typed view of a results row.
type CandidateRecord struct {
	Name            string          `mapstructure:"Candidate Name" validate:"required"`
	Email           string          `mapstructure:"Candidate Email" validate:"omitempty,email"`
	Phone           string          `mapstructure:"Phone"`
	JobPosition     string          `mapstructure:"Job Position" validate:"required"`
	MatchScore      int             `mapstructure:"Match Score" validate:"min=0,max=100"`
	Summary         string          `mapstructure:"AI Summary"`
	Strengths       []string        `mapstructure:"Strengths"`
	Weaknesses      []string        `mapstructure:"Weaknesses"`
	Gaps            []string        `mapstructure:"Gaps"`
	LatestJobTitle  string          `mapstructure:"Latest Job Title"`
	LatestCompany   string          `mapstructure:"Latest Company"`
	Education       string          `mapstructure:"Education"`
	University      string          `mapstructure:"University"`
	Major           string          `mapstructure:"Major"`
	ProfileLink     string          `mapstructure:"Kalibrr Profile"`
	ApplicationLink string          `mapstructure:"Application Link"`
	ResumeLink      string          `mapstructure:"Resume Link"`
	Feedback        string          `mapstructure:"Recruiter Feedback"`
	Shortlisted     bool            `mapstructure:"Shortlisted"`
	CandidateStatus CandidateStatus `mapstructure:"Candidate Status" validate:"omitempty,oneof=OK Rejected"`
	InterviewStatus InterviewStatus `mapstructure:"Interview Status" validate:"omitempty,oneof=Passed Rejected"`
	RejectionReason string          `mapstructure:"Rejection Reason"`
	DateProcessed   time.Time       `mapstructure:"Date Processed"`
}

// CandidateFromRow decodes a results row, normalizing it first.
func CandidateFromRow(row Row) (CandidateRecord, error) {
	var rec CandidateRecord
	if err := decodeRow(Results.Normalize(row), &rec); err != nil {
		return CandidateRecord{}, fmt.Errorf("decoding candidate row: %w", err)
	}
	return rec, nil
}

// ToRow renders the record as a normalized results row.
func (r CandidateRecord) ToRow() Row {
	row := Row{
		ColCandidateName:   r.Name,
		ColCandidateEmail:  r.Email,
		ColPhone:           r.Phone,
		ColJobPosition:     r.JobPosition,
		ColMatchScore:      strconv.Itoa(r.MatchScore),
		ColAISummary:       r.Summary,
		ColStrengths:       JoinList(r.Strengths),
		ColWeaknesses:      JoinList(r.Weaknesses),
		ColGaps:            JoinList(r.Gaps),
		ColLatestJobTitle:  r.LatestJobTitle,
		ColLatestCompany:   r.LatestCompany,
		ColEducation:       r.Education,
		ColUniversity:      r.University,
		ColMajor:           r.Major,
		ColProfileLink:     r.ProfileLink,
		ColApplicationLink: r.ApplicationLink,
		ColResumeLink:      r.ResumeLink,
		ColFeedback:        r.Feedback,
		ColShortlisted:     FormatBool(r.Shortlisted),
		ColCandidateStatus: string(r.CandidateStatus),
		ColInterviewStatus: string(r.InterviewStatus),
		ColRejectionReason: r.RejectionReason,
		ColDateProcessed:   formatTime(r.DateProcessed),
	}
	return Results.Normalize(row)
}

// Identity returns the deduplication key of the record.
func (r CandidateRecord) Identity() string {
	return CandidateKey(r.ToRow())
}

// Validate checks field constraints.
func (r CandidateRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: candidate %q: %w", ErrInvalid, r.Name, err)
	}
	return nil
}

// JobPosition is the typed view of a positions row.
type JobPosition struct {
	Name         string        `mapstructure:"Job Position" validate:"required"`
	JobID        string        `mapstructure:"Job ID" validate:"omitempty,numeric"`
	Description  string        `mapstructure:"Job Description"`
	DateCreated  time.Time     `mapstructure:"Date Created"`
	LastModified time.Time     `mapstructure:"Last Modified"`
	Pooling      PoolingStatus `mapstructure:"Pooling Status" validate:"oneof=Active Pooled"`
}

// PositionFromRow decodes a positions row, normalizing it first.
func PositionFromRow(row Row) (JobPosition, error) {
	var pos JobPosition
	if err := decodeRow(Positions.Normalize(row), &pos); err != nil {
		return JobPosition{}, fmt.Errorf("decoding position row: %w", err)
	}
	return pos, nil
}

// ToRow renders the position as a normalized positions row.
func (p JobPosition) ToRow() Row {
	return Positions.Normalize(Row{
		ColJobPosition:    p.Name,
		ColJobID:          p.JobID,
		ColJobDescription: p.Description,
		ColDateCreated:    formatTime(p.DateCreated),
		ColLastModified:   formatTime(p.LastModified),
		ColPoolingStatus:  string(p.Pooling),
	})
}

// Identity returns the deduplication key of the position.
func (p JobPosition) Identity() string {
	return PositionIdentity(p.JobID, p.Name)
}

// Active reports whether the position is open.
func (p JobPosition) Active() bool {
	return p.Pooling != PoolingPooled
}

// Validate checks field constraints.
func (p JobPosition) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: position %q: %w", ErrInvalid, p.Name, err)
	}
	return nil
}

// ParseTime accepts the stored layout plus RFC 3339 and bare dates. Empty
// input yields the zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{TimeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}

func decodeRow(row Row, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook,
			stringToListHook,
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(row)
}

func stringToTimeHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	return ParseTime(reflect.ValueOf(data).String())
}

func stringToListHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
		return data, nil
	}
	return SplitList(reflect.ValueOf(data).String()), nil
}
