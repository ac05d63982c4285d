package schema

import "strings"

const keySep = "\x1f"

// CandidateKey identifies a result row: by email and position when the email
// is known, else by name, phone and position, else by name and position.
func CandidateKey(r Row) string {
	email := strings.ToLower(strings.TrimSpace(r[ColCandidateEmail]))
	name := strings.TrimSpace(r[ColCandidateName])
	phone := strings.TrimSpace(r[ColPhone])
	position := strings.TrimSpace(r[ColJobPosition])

	switch {
	case email != "":
		return "email" + keySep + email + keySep + position
	case phone != "":
		return "phone" + keySep + name + keySep + phone + keySep + position
	case name == "" && position == "":
		return ""
	default:
		return "name" + keySep + name + keySep + position
	}
}

// PositionKey identifies a job position by its Job ID, or by name when the ID
// is missing.
func PositionKey(r Row) string {
	return PositionIdentity(r[ColJobID], r[ColJobPosition])
}

// PositionIdentity builds the identity key of a position from its parts.
func PositionIdentity(jobID, name string) string {
	jobID = strings.TrimSpace(jobID)
	if m := floatJobID.FindStringSubmatch(jobID); m != nil {
		jobID = m[1]
	}
	if jobID != "" {
		return "id:" + jobID
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return "name:" + name
}
