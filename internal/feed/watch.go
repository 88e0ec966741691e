package feed

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"taxiifeed/internal/metrics"
	"taxiifeed/internal/shard"
)

// WatchSource keeps the last snapshot in memory and rebuilds it after the
// shard directory changes. Concurrent rebuilds are coalesced.
type WatchSource struct {
	reader  *shard.Reader
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	group   singleflight.Group

	// generation is bumped on every change notification.
	generation atomic.Uint64

	mu        sync.RWMutex
	cached    *Snapshot
	cachedGen uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatchSource starts watching the reader's root recursively.
func NewWatchSource(r *shard.Reader, logger *zap.Logger) (*WatchSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(r.Root()); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: %s: %v", shard.ErrRootUnreadable, r.Root(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &WatchSource{
		reader:  r,
		logger:  logger,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}
	w.addRecursive(r.Root())

	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// addRecursive watches dir and every directory below it. Failures are
// logged; a directory that cannot be watched is still scanned.
func (w *WatchSource) addRecursive(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() || path == w.reader.Root() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *WatchSource) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Has(fsnotify.Create) {
				w.addRecursive(event.Name)
			}
			w.invalidate()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Events may have been dropped; assume the directory changed.
			w.logger.Warn("watcher error", zap.Error(err))
			w.invalidate()
		}
	}
}

func (w *WatchSource) invalidate() {
	w.generation.Add(1)
}

// Snapshot returns the cached snapshot when no change has been seen since it
// was built, and rebuilds it otherwise.
func (w *WatchSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	gen := w.generation.Load()
	w.mu.RLock()
	cached, cachedGen := w.cached, w.cachedGen
	w.mu.RUnlock()
	if cached != nil && cachedGen == gen {
		metrics.SnapshotCacheHits.Inc()
		return cached, nil
	}

	// Flights are keyed by generation so a caller that saw a change never
	// joins a rebuild that started before it.
	v, err, _ := w.group.Do("snapshot:"+strconv.FormatUint(gen, 10), func() (any, error) {
		return w.rebuild(context.WithoutCancel(ctx), gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// rebuild scans the shard root and caches the result as of gen. The scan
// starts after gen was read, so a change that lands mid-scan forces another
// rebuild. A slower flight for an older generation never replaces a newer
// snapshot.
func (w *WatchSource) rebuild(ctx context.Context, gen uint64) (*Snapshot, error) {
	snap, err := BuildSnapshot(ctx, w.reader)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	if w.cached == nil || gen >= w.cachedGen {
		w.cached, w.cachedGen = snap, gen
	}
	w.mu.Unlock()
	metrics.SnapshotRebuilds.WithLabelValues("watch").Inc()
	w.logger.Debug("snapshot rebuilt",
		zap.Uint64("generation", gen),
		zap.Int("candidates", snap.Len()),
		zap.String("digest", snap.Digest()))
	return snap, nil
}

// Close stops the watcher goroutine.
func (w *WatchSource) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
