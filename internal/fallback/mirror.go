// Package fallback reads shards from a local directory mirror when the remote
// backend cannot be reached. It never writes.
package fallback

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/merge"
	"github.com/spigell/cvstore/internal/schema"
	"github.com/spigell/cvstore/internal/shardname"
)

// Mirror is a read-only directory holding copies of remote shards, either
// under their remote path or flat by file name.
type Mirror struct {
	Dir    string
	logger *zap.Logger
}

func New(dir string, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{Dir: dir, logger: logger}
}

// Enabled reports whether a mirror directory is configured.
func (m *Mirror) Enabled() bool {
	return m != nil && m.Dir != ""
}

// Read returns the normalized rows of the mirrored shard. A missing or
// unparsable copy yields an empty dataset.
func (m *Mirror) Read(coll *schema.Collection, shardPath string) schema.Rows {
	if !m.Enabled() {
		return coll.Empty()
	}

	for _, candidate := range []string{
		filepath.Join(m.Dir, filepath.FromSlash(shardPath)),
		filepath.Join(m.Dir, filepath.Base(filepath.FromSlash(shardPath))),
	} {
		rows, ok := m.readFile(coll, candidate)
		if ok {
			return rows
		}
	}

	return coll.Empty()
}

// ReadAll merges every mirrored shard of the collection, looking both under
// the collection prefix and at the mirror root.
func (m *Mirror) ReadAll(coll *schema.Collection) schema.Rows {
	if !m.Enabled() {
		return coll.Empty()
	}

	// Shards under the prefix come first so they win over flat copies.
	seen := make(map[string]bool)
	var files []string
	for _, dir := range []string{filepath.Join(m.Dir, filepath.FromSlash(coll.Prefix)), m.Dir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				m.logger.Warn("cannot scan mirror directory", zap.String("dir", dir), zap.Error(err))
			}
			continue
		}
		// os.ReadDir returns entries sorted by name.
		for _, entry := range entries {
			if entry.IsDir() || !shardname.Matches(coll, entry.Name()) || seen[entry.Name()] {
				continue
			}
			seen[entry.Name()] = true
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	lists := make([]schema.Rows, 0, len(files))
	for _, file := range files {
		if rows, ok := m.readFile(coll, file); ok {
			lists = append(lists, rows)
		}
	}

	return merge.AcrossShards(lists, coll.Identity).Rows
}

func (m *Mirror) readFile(coll *schema.Collection, file string) (schema.Rows, bool) {
	data, err := os.ReadFile(file)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("cannot read mirrored shard", zap.String("file", file), zap.Error(err))
		}
		return nil, false
	}

	rows, err := coll.Decode(data)
	if err != nil {
		m.logger.Warn("skipping unparsable mirrored shard", zap.String("file", file), zap.Error(err))
		return nil, false
	}

	m.logger.Debug("read mirrored shard", zap.String("file", file), zap.Int("rows", len(rows)))
	return coll.NormalizeAll(rows), true
}
