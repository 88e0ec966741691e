package feed

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"taxiifeed/internal/conditional"
	"taxiifeed/internal/paging"
	"taxiifeed/internal/stix"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrObjectNotFound     = errors.New("object not found")
)

// Default page-size policy.
const (
	DefaultPageSize   = 100
	DefaultMaxPage    = 1000
	DefaultMaxResults = 10_000
)

// Collection is a named, read-only view over the shard directory. Types,
// when set, pins the type filter for every read of the collection.
type Collection struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Types       []string `json:"-" yaml:"types"`
	MediaTypes  []string `json:"media_types,omitempty" yaml:"media_types"`
}

// Limits bound what a single request can ask for.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxResults      int
}

func (l Limits) withDefaults() Limits {
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = DefaultMaxPage
	}
	if l.DefaultPageSize <= 0 || l.DefaultPageSize > l.MaxPageSize {
		l.DefaultPageSize = min(DefaultPageSize, l.MaxPageSize)
	}
	if l.MaxResults <= 0 {
		l.MaxResults = DefaultMaxResults
	}
	return l
}

// PageSize clamps a requested size to [1, MaxPageSize]; zero or negative
// selects DefaultPageSize.
func (l Limits) PageSize(requested int) int {
	if requested <= 0 {
		return l.DefaultPageSize
	}
	return min(requested, l.MaxPageSize)
}

// Query carries the per-request parameters.
type Query struct {
	// Since is a since/added_after value. Unparsable values are ignored.
	Since    string
	Types    []string
	PageSize int
	Cursor   string

	IfNoneMatch     string
	IfModifiedSince string
}

// Page is one slice of a result set plus its pagination and cache metadata.
// When NotModified is set, Objects is nil.
type Page struct {
	Objects     []stix.Object
	Offset      int
	Total       int
	More        bool
	Next        string
	Validators  conditional.Validators
	NotModified bool
	Freshness   conditional.Result
	Snapshot    string
}

// Service drives scan, merge, paging and cache validation per request. It
// holds no per-request state.
type Service struct {
	source      Source
	limits      Limits
	collections []Collection
	results     *ResultCache
	logger      *zap.Logger
}

// NewService returns a Service reading from source.
func NewService(source Source, limits Limits, logger *zap.Logger, collections ...Collection) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source:      source,
		limits:      limits.withDefaults(),
		collections: collections,
		logger:      logger,
	}
}

// WithResultCache reuses merged result sets across requests that share a
// snapshot and a filter.
func (s *Service) WithResultCache(c *ResultCache) *Service {
	s.results = c
	return s
}

// Limits returns the effective limits.
func (s *Service) Limits() Limits { return s.limits }

// Collections lists the configured collections.
func (s *Service) Collections() []Collection {
	return append([]Collection(nil), s.collections...)
}

// Collection looks up a collection by id.
func (s *Service) Collection(id string) (Collection, error) {
	for _, c := range s.collections {
		if c.ID == id {
			return c, nil
		}
	}
	return Collection{}, ErrCollectionNotFound
}

// Objects serves one page of a collection.
func (s *Service) Objects(ctx context.Context, collectionID string, q Query) (*Page, error) {
	coll, err := s.Collection(collectionID)
	if err != nil {
		return nil, err
	}
	if len(coll.Types) > 0 {
		q.Types = coll.Types
	}
	return s.Search(ctx, q)
}

// Search serves one page of the whole feed.
func (s *Service) Search(ctx context.Context, q Query) (*Page, error) {
	types := conditional.NormalizeTypes(q.Types)
	filter := Filter{Types: types, Limit: s.limits.MaxResults}
	if since, ok := ParseSince(q.Since); ok {
		filter.Since = since
	} else if q.Since != "" {
		s.logger.Debug("ignoring unparsable since", zap.String("since", q.Since))
	}

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	items := s.merge(snap, filter)

	validators := conditional.Compute(items, conditional.FilterSummary(types, len(items)))
	freshness := conditional.Evaluate(q.IfNoneMatch, q.IfModifiedSince, validators)
	if freshness != conditional.Modified {
		return &Page{
			Total:       len(items),
			Validators:  validators,
			NotModified: true,
			Freshness:   freshness,
			Snapshot:    snap.Digest(),
		}, nil
	}

	offset := paging.Decode(q.Cursor)
	objects, start, more, next := Paginate(items, offset, s.limits.PageSize(q.PageSize))
	return &Page{
		Objects:    objects,
		Offset:     start,
		Total:      len(items),
		More:       more,
		Next:       next,
		Validators: validators,
		Freshness:  freshness,
		Snapshot:   snap.Digest(),
	}, nil
}

func (s *Service) merge(snap *Snapshot, f Filter) []stix.Object {
	if s.results == nil {
		return Merge(snap.Candidates(), f)
	}
	key := resultKey(snap, f)
	if items, ok := s.results.Get(key); ok {
		return items
	}
	items := Merge(snap.Candidates(), f)
	s.results.Set(key, items)
	return items
}

// Object returns a single object of a collection by id.
func (s *Service) Object(ctx context.Context, collectionID, objectID string) (stix.Object, error) {
	coll, err := s.Collection(collectionID)
	if err != nil {
		return stix.Object{}, err
	}
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return stix.Object{}, err
	}
	obj, ok := snap.Lookup(objectID)
	if !ok {
		return stix.Object{}, ErrObjectNotFound
	}
	if len(coll.Types) > 0 && !slices.Contains(coll.Types, obj.Type) {
		return stix.Object{}, ErrObjectNotFound
	}
	return obj, nil
}

// Paginate returns items[offset:offset+size] clamped to the slice bounds,
// the clamped start, whether more items follow, and the cursor for them.
func Paginate(items []stix.Object, offset, size int) ([]stix.Object, int, bool, string) {
	total := len(items)
	start := min(max(offset, 0), total)
	end := min(start+max(size, 0), total)
	more := end < total
	var next string
	if more {
		next = paging.Encode(end)
	}
	return items[start:end], start, more, next
}
