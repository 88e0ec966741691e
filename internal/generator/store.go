package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"taxiifeed/internal/stix"
)

// DirStore writes each payload as a new shard file in a directory.
type DirStore struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewDirStore returns a store writing into dir, creating it if needed.
func NewDirStore(dir string, logger *zap.Logger) *DirStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirStore{dir: dir, logger: logger, now: time.Now}
}

// ShardName is the file name for a shard written at t.
func ShardName(t time.Time) string {
	ts := strings.NewReplacer(":", "", "-", "").Replace(stix.FormatTimestamp(t))
	return "indicators_" + ts + ".json"
}

// Save writes p to a temporary file and renames it into place, so a
// concurrent scan sees either the whole shard or none of it.
func (d *DirStore) Save(ctx context.Context, p *Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}

	// The temp name must not carry the shard suffix.
	tmp, err := os.CreateTemp(d.dir, ".shard-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp shard: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp shard: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp shard: %w", err)
	}

	path := filepath.Join(d.dir, ShardName(d.now()))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publishing shard: %w", err)
	}
	d.logger.Info("stored shard", zap.String("path", path), zap.Int("objects", len(p.Objects)))
	return path, nil
}
