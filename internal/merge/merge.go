// Package merge combines datasets without duplicating records. The first
// occurrence of an identity always wins.
package merge

import "github.com/spigell/cvstore/internal/schema"

// Result is a merged dataset with counts for logging.
type Result struct {
	Rows schema.Rows
	// Kept is how many rows of the input made it to Rows.
	Kept int
	// Dropped is how many rows lost to an earlier row with the same identity.
	Dropped int
}

// Merge returns existing followed by the incoming rows whose identity is not
// yet present. Rows with an empty identity are always kept. Neither input is
// modified.
func Merge(existing, incoming schema.Rows, key schema.KeyFunc) Result {
	return AcrossShards([]schema.Rows{existing, incoming}, key)
}

// AcrossShards concatenates lists in order and keeps the first row of every
// identity.
func AcrossShards(lists []schema.Rows, key schema.KeyFunc) Result {
	total := 0
	for _, list := range lists {
		total += len(list)
	}

	seen := make(map[string]struct{}, total)
	out := make(schema.Rows, 0, total)
	dropped := 0

	for _, list := range lists {
		for _, row := range list {
			k := key(row)
			if k != "" {
				if _, dup := seen[k]; dup {
					dropped++
					continue
				}
				seen[k] = struct{}{}
			}
			out = append(out, row)
		}
	}

	return Result{Rows: out, Kept: len(out), Dropped: dropped}
}

// Remove drops every row whose identity equals identity.
func Remove(rows schema.Rows, identity string, key schema.KeyFunc) (schema.Rows, int) {
	out := make(schema.Rows, 0, len(rows))
	removed := 0
	for _, row := range rows {
		if identity != "" && key(row) == identity {
			removed++
			continue
		}
		out = append(out, row)
	}
	return out, removed
}
