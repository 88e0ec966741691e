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

func TestResultCache_LRU(t *testing.T) {
	c := NewResultCache(2, time.Hour)
	a := []stix.Object{{ID: "a"}}
	b := []stix.Object{{ID: "b"}}

	c.Set("a", a)
	c.Set("b", b)
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", nil)
	assert.Equal(t, 2, c.Size())
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, a, got)
}

func TestResultCache_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewResultCache(4, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", []stix.Object{{ID: "x"}})
	now = now.Add(30 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestService_ResultCacheFollowsDirectory(t *testing.T) {
	dir := fiveIndicators(t)
	cache := NewResultCache(8, time.Hour)
	svc := NewService(NewScanSource(shard.NewReader(dir, nil)), Limits{}, nil, testCollection).WithResultCache(cache)
	ctx := context.Background()

	p1, err := svc.Search(ctx, Query{})
	require.NoError(t, err)
	p2, err := svc.Search(ctx, Query{Types: []string{" indicator", "indicator"}})
	require.NoError(t, err)
	assert.Equal(t, objectIDs(p1.Objects), objectIDs(p2.Objects))
	assert.Equal(t, 2, cache.Size())

	_, err = svc.Search(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Size(), "identical request should reuse its entry")

	writeShard(t, dir, "c.json", indicator("i9", day(9)))
	p3, err := svc.Search(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, "i9", p3.Objects[0].ID)
	assert.Equal(t, 6, p3.Total)
}
