package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxiifeed/internal/shard"
	"taxiifeed/internal/stix"
)

func mergeDir(t *testing.T, dir string, f Filter) []stix.Object {
	t.Helper()
	snap, err := BuildSnapshot(context.Background(), shard.NewReader(dir, nil))
	require.NoError(t, err)
	return Merge(snap.Candidates(), f)
}

func objectIDs(objects []stix.Object) []string {
	out := make([]string, len(objects))
	for i, o := range objects {
		out[i] = o.ID
	}
	return out
}

func TestMerge_FirstOccurrenceWins(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "a.json", indicator("indicator--X", "2024-01-01T00:00:00.000000Z"))
	writeShard(t, dir, "b.json", indicator("indicator--X", "2025-01-01T00:00:00.000000Z"))

	got := mergeDir(t, dir, Filter{})
	require.Len(t, got, 1)
	assert.Equal(t, "indicator--X", got[0].ID)
	assert.Equal(t, "2024-01-01T00:00:00.000000Z", got[0].ValidFrom)
}

func TestMerge_SortedNewestFirstWithStableTies(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "a.json",
		indicator("old", day(1)),
		indicator("tie-1", day(5)),
		indicator("new", day(9)),
	)
	writeShard(t, dir, "b.json",
		indicator("tie-2", day(5)),
		object{"type": "identity", "spec_version": "2.1", "id": "created-only", "created": day(7)},
		object{"type": "identity", "spec_version": "2.1", "id": "no-time"},
		indicator("tie-3", "2024-01-05T00:00:00.000000Z"),
	)

	got := mergeDir(t, dir, Filter{})
	assert.Equal(t, []string{"new", "created-only", "tie-1", "tie-2", "tie-3", "old", "no-time"}, objectIDs(got))

	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].EffectiveTime().After(got[i-1].EffectiveTime()), "order broken at %d", i)
	}
}

func TestMerge_VersionFilter(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "a.json",
		object{"type": "indicator", "spec_version": "2.0", "id": "v20", "valid_from": day(1)},
		object{"type": "indicator", "id": "none", "valid_from": day(1)},
		indicator("v21", day(1)),
	)
	assert.Equal(t, []string{"v21"}, objectIDs(mergeDir(t, dir, Filter{})))
}

func TestMerge_VersionFilterRunsBeforeDedup(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "a.json", object{"type": "indicator", "spec_version": "2.0", "id": "dup", "valid_from": day(1)})
	writeShard(t, dir, "b.json", indicator("dup", day(2)))

	got := mergeDir(t, dir, Filter{})
	require.Len(t, got, 1)
	assert.Equal(t, day(2), got[0].ValidFrom)
}

func TestMerge_TypeFilter(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "a.json",
		typed("indicator", "i", day(1)),
		typed("attack-pattern", "ap", day(2)),
		typed("relationship", "r", day(3)),
		typed("identity", "id", day(4)),
	)
	got := mergeDir(t, dir, Filter{Types: []string{"indicator", "attack-pattern"}})
	assert.Equal(t, []string{"ap", "i"}, objectIDs(got))
}

func TestMerge_DropsObjectsWithoutID(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "a.json",
		object{"type": "indicator", "spec_version": "2.1", "valid_from": day(1)},
		object{"type": "indicator", "spec_version": "2.1", "id": "", "valid_from": day(1)},
		indicator("kept", day(1)),
	)
	assert.Equal(t, []string{"kept"}, objectIDs(mergeDir(t, dir, Filter{})))
}

func TestMerge_SinceFilter(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "a.json",
		indicator("before", day(1)),
		indicator("equal", day(5)),
		indicator("after", "2024-01-06T12:00:00.500000Z"),
		indicator("garbled", "not-a-time"),
		object{"type": "indicator", "spec_version": "2.1", "id": "untimed"},
	)
	since, ok := ParseSince(day(5))
	require.True(t, ok)

	got := mergeDir(t, dir, Filter{Since: since})
	assert.Equal(t, []string{"after", "equal", "garbled", "untimed"}, objectIDs(got))
}

func TestMerge_LimitKeepsMostRecent(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "a.json", indicator("d1", day(1)), indicator("d2", day(2)))
	writeShard(t, dir, "b.json", indicator("d9", day(9)), indicator("d3", day(3)))

	got := mergeDir(t, dir, Filter{Limit: 2})
	assert.Equal(t, []string{"d9", "d3"}, objectIDs(got))
}

func TestMerge_NoDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	for f := 0; f < 5; f++ {
		var objs []object
		for i := 0; i < 20; i++ {
			objs = append(objs, indicator("id-"+string(rune('a'+(i+f)%12)), day(1+(i*f)%28)))
		}
		writeShard(t, dir, "shard-"+string(rune('a'+f))+".json", objs...)
	}

	got := mergeDir(t, dir, Filter{})
	seen := map[string]bool{}
	for _, o := range got {
		assert.False(t, seen[o.ID], "duplicate id %s", o.ID)
		seen[o.ID] = true
	}
	assert.Len(t, got, 12)
}

func TestParseTypes(t *testing.T) {
	assert.Nil(t, ParseTypes(""))
	assert.Nil(t, ParseTypes(" , ,"))
	assert.Equal(t, []string{"indicator", "attack-pattern"}, ParseTypes(" indicator,, attack-pattern "))
}

func TestParseSince(t *testing.T) {
	_, ok := ParseSince("")
	assert.False(t, ok)
	_, ok = ParseSince("2024-13-45")
	assert.False(t, ok)

	got, ok := ParseSince("2025-08-10T00:00:00Z")
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)))
}
