// Package feed merges shard contents into ordered, filtered result sets and
// serves them page by page.
package feed

import (
	"iter"
	"slices"
	"strings"
	"time"

	"taxiifeed/internal/shard"
	"taxiifeed/internal/stix"
)

// Filter restricts which candidates are admitted during a merge.
type Filter struct {
	// Types admits only these object types. Empty means any type.
	Types []string
	// Since admits only objects whose timestamp is at or after it. The zero
	// value disables the bound.
	Since time.Time
	// Limit keeps the Limit most recent objects after sorting. Zero or
	// negative means no cap.
	Limit int
}

func (f Filter) typeSet() map[string]struct{} {
	if len(f.Types) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(f.Types))
	for _, t := range f.Types {
		set[t] = struct{}{}
	}
	return set
}

func (f Filter) admits(obj stix.Object, types map[string]struct{}) bool {
	if obj.SpecVersion != stix.SpecVersion {
		return false
	}
	if types != nil {
		if _, ok := types[obj.Type]; !ok {
			return false
		}
	}
	if !f.Since.IsZero() {
		// An object with no usable timestamp is not excluded.
		if ts, ok := obj.Timestamp(); ok {
			if t, ok := stix.ParseTimestamp(ts); ok && t.Before(f.Since) {
				return false
			}
		}
	}
	return true
}

type entry struct {
	obj stix.Object
	at  time.Time
}

// Merge de-duplicates candidates by id and returns them sorted by effective
// timestamp, newest first. The first admitted occurrence of an id wins and
// ties keep scan order. Objects without an id are dropped.
func Merge(candidates iter.Seq[shard.Candidate], f Filter) []stix.Object {
	types := f.typeSet()
	seen := make(map[string]struct{})
	var entries []entry
	for c := range candidates {
		obj := c.Object
		if !f.admits(obj, types) {
			continue
		}
		if obj.ID == "" {
			continue
		}
		if _, dup := seen[obj.ID]; dup {
			continue
		}
		seen[obj.ID] = struct{}{}
		entries = append(entries, entry{obj: obj, at: obj.EffectiveTime()})
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		return b.at.Compare(a.at)
	})
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[:f.Limit]
	}

	out := make([]stix.Object, len(entries))
	for i, e := range entries {
		out[i] = e.obj
	}
	return out
}

// ParseTypes splits a comma-separated type list, trimming entries and
// dropping empties. It returns nil when nothing remains.
func ParseTypes(param string) []string {
	var out []string
	for _, t := range strings.Split(param, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ParseSince parses a since/added_after value. ok is false for an empty or
// unparsable value, which callers treat as no lower bound.
func ParseSince(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	return stix.ParseTimestamp(s)
}
