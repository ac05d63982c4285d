// Package schema defines the record collections kept in the shard store: their
// canonical columns, identity rules, value coercion, and CSV encoding.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Columns of the results collection, in canonical order.
const (
	ColCandidateName   = "Candidate Name"
	ColCandidateEmail  = "Candidate Email"
	ColPhone           = "Phone"
	ColJobPosition     = "Job Position"
	ColMatchScore      = "Match Score"
	ColAISummary       = "AI Summary"
	ColStrengths       = "Strengths"
	ColWeaknesses      = "Weaknesses"
	ColGaps            = "Gaps"
	ColLatestJobTitle  = "Latest Job Title"
	ColLatestCompany   = "Latest Company"
	ColEducation       = "Education"
	ColUniversity      = "University"
	ColMajor           = "Major"
	ColProfileLink     = "Kalibrr Profile"
	ColApplicationLink = "Application Link"
	ColResumeLink      = "Resume Link"
	ColFeedback        = "Recruiter Feedback"
	ColShortlisted     = "Shortlisted"
	ColCandidateStatus = "Candidate Status"
	ColInterviewStatus = "Interview Status"
	ColRejectionReason = "Rejection Reason"
	ColDateProcessed   = "Date Processed"
)

// Columns of the positions collection. The position name reuses ColJobPosition.
const (
	ColJobID          = "Job ID"
	ColJobDescription = "Job Description"
	ColDateCreated    = "Date Created"
	ColLastModified   = "Last Modified"
	ColPoolingStatus  = "Pooling Status"
)

// ErrInvalid reports rows that miss required identity fields.
var ErrInvalid = errors.New("invalid rows")

// Row is one record keyed by column name.
type Row map[string]string

// Rows is an ordered dataset.
type Rows []Row

// KeyFunc computes the identity key of a row. An empty key means the row has
// no usable identity.
type KeyFunc func(Row) string

// Clone returns an independent copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of the dataset.
func (rs Rows) Clone() Rows {
	out := make(Rows, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}

// Collection describes one record type and how its shards are laid out.
type Collection struct {
	// Name is a short human readable identifier used in logs and cache keys.
	Name string
	// Prefix is the remote directory holding the shards.
	Prefix string
	// Literal is the shard file name stem: "<Literal>_<slug>.csv" for
	// partitioned collections, "<Literal>.csv" for single-shard ones.
	Literal string
	// Columns is the canonical header, in order.
	Columns []string
	// Required lists the columns every written row must carry.
	Required []string
	// PartitionColumn names the column rows are sharded by. Empty means the
	// collection lives in a single shard.
	PartitionColumn string
	// Identity computes the deduplication key.
	Identity KeyFunc

	coerce func(Row)
}

// Results holds candidate screening results, one shard per job position.
var Results = &Collection{
	Name:    "results",
	Prefix:  "results",
	Literal: "results",
	Columns: []string{
		ColCandidateName, ColCandidateEmail, ColPhone, ColJobPosition,
		ColMatchScore, ColAISummary, ColStrengths, ColWeaknesses, ColGaps,
		ColLatestJobTitle, ColLatestCompany, ColEducation, ColUniversity, ColMajor,
		ColProfileLink, ColApplicationLink, ColResumeLink,
		ColFeedback, ColShortlisted, ColCandidateStatus, ColInterviewStatus,
		ColRejectionReason, ColDateProcessed,
	},
	Required:        []string{ColCandidateName, ColJobPosition},
	PartitionColumn: ColJobPosition,
	Identity:        CandidateKey,
	coerce:          coerceResult,
}

// Positions holds every job position in one shard.
var Positions = &Collection{
	Name:    "positions",
	Prefix:  "",
	Literal: "job_positions",
	Columns: []string{
		ColJobPosition, ColJobID, ColJobDescription,
		ColDateCreated, ColLastModified, ColPoolingStatus,
	},
	Required: []string{ColJobPosition},
	Identity: PositionKey,
	coerce:   coercePosition,
}

// WithPrefix returns a copy of the collection stored under another directory.
func (c *Collection) WithPrefix(prefix string) *Collection {
	cp := *c
	cp.Prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	return &cp
}

// SingleShard reports whether all rows live in one shard.
func (c *Collection) SingleShard() bool {
	return c.PartitionColumn == ""
}

// Empty returns the dataset of a shard that does not exist yet.
func (c *Collection) Empty() Rows {
	return Rows{}
}

// HasColumn reports whether col is one of the canonical columns.
func (c *Collection) HasColumn(col string) bool {
	for _, known := range c.Columns {
		if known == col {
			return true
		}
	}
	return false
}

// Check verifies that rows can be written: the set is non-empty and every row
// carries the required columns.
func (c *Collection) Check(rows Rows) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: no %s rows given", ErrInvalid, c.Name)
	}

	for i, row := range rows {
		for _, col := range c.Required {
			if strings.TrimSpace(row[col]) == "" {
				return fmt.Errorf("%w: %s row %d is missing %q", ErrInvalid, c.Name, i, col)
			}
		}
	}

	return nil
}

// Normalize upgrades a row to the current schema: missing columns are filled
// with empty values, unknown columns are dropped and restricted columns are
// coerced to their allowed values. It never fails.
func (c *Collection) Normalize(row Row) Row {
	out := make(Row, len(c.Columns))
	for _, col := range c.Columns {
		out[col] = row[col]
	}
	if c.coerce != nil {
		c.coerce(out)
	}
	return out
}

// NormalizeAll normalizes every row of the dataset.
func (c *Collection) NormalizeAll(rows Rows) Rows {
	out := make(Rows, 0, len(rows))
	for _, row := range rows {
		out = append(out, c.Normalize(row))
	}
	return out
}
