package feed

import (
	"context"
	"iter"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/willf/bloom"

	"taxiifeed/internal/metrics"
	"taxiifeed/internal/shard"
	"taxiifeed/internal/stix"
)

// Snapshot is the immutable result of one full scan, in scan order.
type Snapshot struct {
	candidates []shard.Candidate
	ids        *bloom.BloomFilter
	digest     uint64
	builtAt    time.Time
}

// Source hands out snapshots of the shard directory.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// BuildSnapshot drains r into a Snapshot. It fails only if the root cannot be
// listed or ctx ends.
func BuildSnapshot(ctx context.Context, r *shard.Reader) (*Snapshot, error) {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	var candidates []shard.Candidate
	for c, err := range r.All(ctx) {
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return newSnapshot(candidates), nil
}

func newSnapshot(candidates []shard.Candidate) *Snapshot {
	n := uint(len(candidates))
	if n == 0 {
		n = 1
	}
	ids := bloom.NewWithEstimates(n, 0.01)
	h := xxhash.New()
	for _, c := range candidates {
		if c.Object.ID != "" && c.Object.SpecVersion == stix.SpecVersion {
			ids.AddString(c.Object.ID)
		}
		h.WriteString(c.Source)
		h.Write([]byte{0})
		if raw := c.Object.Raw(); raw != nil {
			h.Write(raw)
		} else {
			h.WriteString(c.Object.ID)
		}
		h.Write([]byte{'\n'})
	}
	return &Snapshot{
		candidates: candidates,
		ids:        ids,
		digest:     h.Sum64(),
		builtAt:    time.Now(),
	}
}

// Candidates yields the snapshot contents in scan order.
func (s *Snapshot) Candidates() iter.Seq[shard.Candidate] {
	return func(yield func(shard.Candidate) bool) {
		for _, c := range s.candidates {
			if !yield(c) {
				return
			}
		}
	}
}

// Len is the number of candidates, duplicates included.
func (s *Snapshot) Len() int { return len(s.candidates) }

// Digest identifies the snapshot contents: equal digests mean the same
// objects from the same shards in the same order.
func (s *Snapshot) Digest() string { return strconv.FormatUint(s.digest, 16) }

// BuiltAt is when the scan finished.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Lookup returns the first-seen admissible object with the given id.
func (s *Snapshot) Lookup(id string) (stix.Object, bool) {
	if id == "" || !s.ids.TestString(id) {
		return stix.Object{}, false
	}
	for _, c := range s.candidates {
		if c.Object.ID == id && c.Object.SpecVersion == stix.SpecVersion {
			return c.Object, true
		}
	}
	return stix.Object{}, false
}

// ScanSource performs a fresh full scan for every snapshot.
type ScanSource struct {
	reader *shard.Reader
}

// NewScanSource returns a Source that never caches.
func NewScanSource(r *shard.Reader) *ScanSource {
	return &ScanSource{reader: r}
}

func (s *ScanSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap, err := BuildSnapshot(ctx, s.reader)
	if err != nil {
		return nil, err
	}
	metrics.SnapshotRebuilds.WithLabelValues("scan").Inc()
	return snap, nil
}
