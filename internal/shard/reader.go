// Package shard reads batches of threat objects from a directory tree of
// shard files.
package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"taxiifeed/internal/metrics"
	"taxiifeed/internal/stix"
)

// Suffix marks a file as a shard. Matching is case-insensitive.
const Suffix = ".json"

// ObjectsField is the top-level field holding a shard's objects.
const ObjectsField = "stixobjects"

// ErrRootUnreadable is returned when the shard root itself cannot be listed.
var ErrRootUnreadable = errors.New("shard root unreadable")

// Skip reasons reported to metrics and logs.
const (
	SkipRead  = "read"
	SkipParse = "parse"
)

// Candidate is one object read from one shard.
type Candidate struct {
	Source string
	Object stix.Object
}

// Reader walks a shard directory.
type Reader struct {
	root   string
	logger *zap.Logger
}

// NewReader returns a Reader rooted at dir.
func NewReader(dir string, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{root: dir, logger: logger}
}

// Root returns the directory the reader scans.
func (r *Reader) Root() string { return r.root }

// IsShard reports whether a file name carries the shard suffix.
func IsShard(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), Suffix)
}

// All yields every candidate in scan order: within a directory, shard files
// in lexical order and then sub-directories in lexical order; within a file,
// objects in file order. The only errors yielded are an unreadable root and
// context cancellation, each of which ends the sequence. Unreadable or
// malformed shards and sub-directories are skipped.
func (r *Reader) All(ctx context.Context) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		entries, err := os.ReadDir(r.root)
		if err != nil {
			yield(Candidate{}, fmt.Errorf("%w: %s: %v", ErrRootUnreadable, r.root, err))
			return
		}
		r.walk(ctx, r.root, entries, yield)
	}
}

// walk returns false once the consumer stops or the context ends.
func (r *Reader) walk(ctx context.Context, dir string, entries []os.DirEntry, yield func(Candidate, error) bool) bool {
	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, filepath.Join(dir, e.Name()))
			continue
		}
		if !IsShard(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			yield(Candidate{}, err)
			return false
		}

		path := filepath.Join(dir, e.Name())
		objects, reason, err := readShard(path)
		if err != nil {
			r.skip(path, reason, err)
			continue
		}
		metrics.ShardsRead.Inc()
		for _, obj := range objects {
			if !yield(Candidate{Source: path, Object: obj}, nil) {
				return false
			}
		}
	}

	for _, sub := range subdirs {
		children, err := os.ReadDir(sub)
		if err != nil {
			r.skip(sub, SkipRead, err)
			continue
		}
		if !r.walk(ctx, sub, children, yield) {
			return false
		}
	}
	return true
}

func (r *Reader) skip(path, reason string, err error) {
	metrics.ShardsSkipped.WithLabelValues(reason).Inc()
	r.logger.Debug("skipping shard",
		zap.String("path", path),
		zap.String("reason", reason),
		zap.Error(err))
}

func readShard(path string) ([]stix.Object, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, SkipRead, err
	}
	objects, err := Parse(data)
	if err != nil {
		return nil, SkipParse, err
	}
	return objects, "", nil
}

// Parse decodes a shard document. Entries of the objects list that are not
// JSON objects are dropped; a document that is not a JSON object, or whose
// objects field is not a list, is an error.
func Parse(data []byte) ([]stix.Object, error) {
	// Objects are served back as their raw bytes.
	if !utf8.Valid(data) {
		return nil, errors.New("decoding shard: invalid UTF-8")
	}
	var container map[string]json.RawMessage
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("decoding shard: %w", err)
	}
	if container == nil {
		return nil, errors.New("decoding shard: top level is not an object")
	}
	field, ok := container[ObjectsField]
	if !ok {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(field, &raws); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ObjectsField, err)
	}

	objects := make([]stix.Object, 0, len(raws))
	for _, raw := range raws {
		obj, ok := stix.Decode(raw)
		if !ok {
			continue
		}
		objects = append(objects, obj)
	}
	return objects, nil
}
