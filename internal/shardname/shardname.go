// Package shardname maps partition keys to deterministic shard paths.
package shardname

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/spigell/cvstore/internal/schema"
)

const Ext = ".csv"

var (
	disallowed  = regexp.MustCompile(`[^\p{L}\p{N}\s_]`)
	whitespace  = regexp.MustCompile(`\s+`)
	underscores = regexp.MustCompile(`_+`)
)

// Slug turns a partition key into a file name fragment: characters other than
// letters, digits, whitespace and underscores are removed, whitespace runs
// become one underscore and underscore runs collapse. Leading and trailing
// whitespace is dropped first, so "QA " and "QA" share a shard, as rows
// compare their trimmed partition column.
func Slug(key string) string {
	s := strings.TrimSpace(disallowed.ReplaceAllString(key, ""))
	s = whitespace.ReplaceAllString(s, "_")
	return underscores.ReplaceAllString(s, "_")
}

// For composes "<prefix>/<literal>_<slug>.csv". An empty prefix places the
// shard at the root.
func For(prefix, literal, key string) string {
	return join(prefix, literal+"_"+Slug(key)+Ext)
}

// Single composes "<prefix>/<literal>.csv" for single-shard collections.
func Single(prefix, literal string) string {
	return join(prefix, literal+Ext)
}

// ForCollection resolves the shard holding rows with the given partition key.
// Single-shard collections ignore the key.
func ForCollection(coll *schema.Collection, key string) (string, error) {
	if coll.SingleShard() {
		return Single(coll.Prefix, coll.Literal), nil
	}
	if Slug(key) == "" {
		return "", fmt.Errorf("partition key %q has no usable characters", key)
	}
	return For(coll.Prefix, coll.Literal, key), nil
}

// Matches reports whether a listed file name belongs to the collection:
// "<literal>_*.csv", or the legacy unpartitioned "<literal>.csv".
func Matches(coll *schema.Collection, name string) bool {
	name = path.Base(name)
	if name == coll.Literal+Ext {
		return true
	}
	if coll.SingleShard() {
		return false
	}
	return strings.HasPrefix(name, coll.Literal+"_") && strings.HasSuffix(name, Ext) &&
		len(name) > len(coll.Literal)+1+len(Ext)
}

// Collisions returns the slugs produced by more than one distinct key, with
// the keys that produced them in sorted order.
func Collisions(keys []string) map[string][]string {
	bySlug := make(map[string]map[string]struct{})
	for _, key := range keys {
		slug := Slug(key)
		if bySlug[slug] == nil {
			bySlug[slug] = make(map[string]struct{})
		}
		bySlug[slug][key] = struct{}{}
	}

	out := make(map[string][]string)
	for slug, set := range bySlug {
		if len(set) < 2 {
			continue
		}
		list := make([]string, 0, len(set))
		for key := range set {
			list = append(list, key)
		}
		sort.Strings(list)
		out[slug] = list
	}
	return out
}

func join(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
