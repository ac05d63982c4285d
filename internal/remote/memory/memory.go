// Package memory is an in-process remote.Client. It backs dry runs and tests,
// and can inject failures per operation.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spigell/cvstore/internal/remote"
)

const (
	OpStat = "stat"
	OpRaw  = "raw"
	OpPut  = "put"
	OpList = "list"
)

type object struct {
	data    []byte
	version string
	message string
}

// Store keeps objects in memory. The zero value is not usable; use New.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	seq     int
	calls   map[string]int
	fail    map[string][]error

	// InlineLimit overrides remote.InlineLimit when positive.
	InlineLimit int
	// WithholdAll makes Stat never return content inline.
	WithholdAll bool
	// BeforePut runs before every Put is applied, outside the lock. Tests use
	// it to interleave a competing writer.
	BeforePut func(path string)
}

var _ remote.Client = (*Store)(nil)

func New() *Store {
	return &Store{
		objects: make(map[string]object),
		calls:   make(map[string]int),
		fail:    make(map[string][]error),
	}
}

// Seed writes data to path unconditionally and returns the new version.
func (s *Store) Seed(path string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(path, data)
}

// Get returns the stored bytes and version of path.
func (s *Store) Get(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[clean(path)]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.version, true
}

// Message returns the message of the last Put to path.
func (s *Store) Message(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[clean(path)].message
}

// Paths lists every stored path in lexical order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for p := range s.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Calls returns how many times op was invoked on path. An empty path counts
// all calls of op.
func (s *Store) Calls(op, path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if path == "" {
		total := 0
		for key, n := range s.calls {
			if strings.HasPrefix(key, op+" ") {
				total += n
			}
		}
		return total
	}
	return s.calls[op+" "+clean(path)]
}

// FailNext queues errors returned by the next calls of op on path, one error
// per call. An empty path matches any path.
func (s *Store) FailNext(op, path string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := op + " " + clean(path)
	s.fail[key] = append(s.fail[key], errs...)
}

// Stat implements remote.Client.
func (s *Store) Stat(ctx context.Context, p string) (*remote.Object, error) {
	if err := s.begin(ctx, OpStat, p); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[clean(p)]
	if !ok {
		return nil, &remote.Error{Op: OpStat, Path: p, Status: 404, Kind: remote.ErrNotFound}
	}

	out := &remote.Object{Path: clean(p), Version: obj.version, Size: int64(len(obj.data))}
	if !s.WithholdAll && len(obj.data) <= s.inlineLimit() {
		out.Content = append([]byte(nil), obj.data...)
		out.Inline = true
	}
	return out, nil
}

// Raw implements remote.Client.
func (s *Store) Raw(ctx context.Context, p string) ([]byte, error) {
	if err := s.begin(ctx, OpRaw, p); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[clean(p)]
	if !ok {
		return nil, &remote.Error{Op: OpRaw, Path: p, Status: 404, Kind: remote.ErrNotFound}
	}
	return append([]byte(nil), obj.data...), nil
}

// Put implements remote.Client.
func (s *Store) Put(ctx context.Context, p string, data []byte, version, message string) (string, error) {
	if err := s.begin(ctx, OpPut, p); err != nil {
		return "", err
	}
	if s.BeforePut != nil {
		s.BeforePut(clean(p))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.objects[clean(p)]
	switch {
	case !exists && version != "":
		return "", &remote.Error{Op: OpPut, Path: p, Status: 409, Kind: remote.ErrConflict, Err: fmt.Errorf("%s does not exist", p)}
	case exists && current.version != version:
		return "", &remote.Error{Op: OpPut, Path: p, Status: 409, Kind: remote.ErrConflict, Err: fmt.Errorf("version %q is not current", version)}
	}

	written := s.write(p, data)
	obj := s.objects[clean(p)]
	obj.message = message
	s.objects[clean(p)] = obj
	return written, nil
}

// List implements remote.Client.
func (s *Store) List(ctx context.Context, prefix string) ([]remote.Entry, error) {
	if err := s.begin(ctx, OpList, prefix); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := clean(prefix)
	seenDirs := make(map[string]bool)
	var entries []remote.Entry
	for p, obj := range s.objects {
		rest := p
		if dir != "" {
			if !strings.HasPrefix(p, dir+"/") {
				continue
			}
			rest = strings.TrimPrefix(p, dir+"/")
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			sub := rest[:i]
			if !seenDirs[sub] {
				seenDirs[sub] = true
				entries = append(entries, remote.Entry{Name: sub, Path: path.Join(dir, sub), Dir: true})
			}
			continue
		}
		entries = append(entries, remote.Entry{Name: rest, Path: p, Size: int64(len(obj.data))})
	}

	if len(entries) == 0 {
		return nil, &remote.Error{Op: OpList, Path: prefix, Status: 404, Kind: remote.ErrNotFound}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (s *Store) begin(ctx context.Context, op, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := op + " " + clean(p)
	s.calls[key]++

	for _, k := range []string{key, op + " "} {
		if queue := s.fail[k]; len(queue) > 0 {
			s.fail[k] = queue[1:]
			return queue[0]
		}
	}
	return nil
}

func (s *Store) write(p string, data []byte) string {
	s.seq++
	version := "v" + strconv.Itoa(s.seq)
	s.objects[clean(p)] = object{data: append([]byte(nil), data...), version: version}
	return version
}

func (s *Store) inlineLimit() int {
	if s.InlineLimit > 0 {
		return s.InlineLimit
	}
	return remote.InlineLimit
}

func clean(p string) string {
	return strings.Trim(p, "/")
}
