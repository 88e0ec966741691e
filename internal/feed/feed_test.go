package feed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// object is a test fixture shorthand.
type object map[string]any

func indicator(id, validFrom string) object {
	return object{"type": "indicator", "spec_version": "2.1", "id": id, "valid_from": validFrom}
}

func typed(typ, id, validFrom string) object {
	return object{"type": typ, "spec_version": "2.1", "id": id, "valid_from": validFrom}
}

func writeShard(t *testing.T, dir, name string, objects ...object) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"sourcesystem": "test",
		"stixobjects":  objects,
	})
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return path
}

// day returns a whole-seconds timestamp on 2024-01-<d>.
func day(d int) string {
	return fmt.Sprintf("2024-01-%02dT00:00:00Z", d)
}
