package feed

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"taxiifeed/internal/shard"
)

func TestWatchSource_ReusesSnapshotUntilChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	writeShard(t, dir, "a.json", indicator("a", day(1)))

	src, err := NewWatchSource(shard.NewReader(dir, nil), nil)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	first, err := src.Snapshot(ctx)
	require.NoError(t, err)
	second, err := src.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	writeShard(t, dir, "sub/b.json", indicator("b", day(2)))
	require.Eventually(t, func() bool {
		snap, err := src.Snapshot(ctx)
		return err == nil && snap.Len() == 2
	}, 5*time.Second, 20*time.Millisecond)

	// Files added under a directory created after the watcher started are
	// noticed too.
	writeShard(t, dir, "sub/c.json", indicator("c", day(3)))
	require.Eventually(t, func() bool {
		snap, err := src.Snapshot(ctx)
		return err == nil && snap.Len() == 3
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, src.Close())
}

func TestWatchSource_ConcurrentReaders(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	writeShard(t, dir, "a.json", indicator("a", day(1)), indicator("b", day(2)))

	src, err := NewWatchSource(shard.NewReader(dir, nil), nil)
	require.NoError(t, err)

	svc := NewService(src, Limits{}, nil, testCollection)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.Objects(context.Background(), "indicators", Query{PageSize: 1})
			assert.NoError(t, err)
			if p != nil {
				assert.Equal(t, 2, p.Total)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, src.Close())
}

func TestWatchSource_RebuildsPerGeneration(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	writeShard(t, dir, "a.json", indicator("a", day(1)))

	src, err := NewWatchSource(shard.NewReader(dir, nil), nil)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	first, err := src.Snapshot(ctx)
	require.NoError(t, err)

	writeShard(t, dir, "b.json", indicator("b", day(2)))
	src.invalidate()
	second, err := src.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, second.Len())

	// A rebuild for an older generation finishing late keeps the newer
	// snapshot in place.
	newest := src.generation.Add(1)
	latest, err := src.rebuild(ctx, newest)
	require.NoError(t, err)
	_, err = src.rebuild(ctx, newest-1)
	require.NoError(t, err)

	src.mu.RLock()
	defer src.mu.RUnlock()
	assert.Same(t, latest, src.cached)
	assert.Equal(t, newest, src.cachedGen)
}

func TestWatchSource_MissingRoot(t *testing.T) {
	_, err := NewWatchSource(shard.NewReader(filepath.Join(t.TempDir(), "nope"), nil), nil)
	assert.ErrorIs(t, err, shard.ErrRootUnreadable)
}
