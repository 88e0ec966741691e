package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "/app/data", cfg.DataDir)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
	assert.Equal(t, 3*time.Hour, cfg.GenerateInterval())
	assert.True(t, cfg.GenerateOnStart)
	assert.Equal(t, IndexScan, cfg.IndexMode)
	assert.Equal(t, 100, cfg.Limits().DefaultPageSize)
	assert.Equal(t, 1000, cfg.Limits().MaxPageSize)
	assert.Equal(t, 10000, cfg.Limits().MaxResults)

	colls := cfg.FeedCollections()
	require.Len(t, colls, 1)
	assert.Equal(t, "indicators", colls[0].ID)
	assert.Empty(t, colls[0].Types)
}

func TestLoadConfig_Env(t *testing.T) {
	cfg, err := loadConfig(envMap(map[string]string{
		"DATA_DIR":               "/tmp/shards",
		"PORT":                   "9000",
		"API_KEYS":               " a, ,b ",
		"CORS_ORIGINS":           "*",
		"GENERATE_EVERY_SECONDS": "60",
		"GENERATE_ON_START":      "FALSE",
		"TAXII_INDICATORS_ONLY":  "True",
		"TAXII_API_ROOT_PATH":    "feeds/root/",
		"INDEX_MODE":             "watch",
		"RATE_LIMIT_RPS":         "2.5",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/shards", cfg.DataDir)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, []string{"a", "b"}, cfg.APIKeys)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, time.Minute, cfg.GenerateInterval())
	assert.False(t, cfg.GenerateOnStart)
	assert.True(t, cfg.TAXIIIndicatorsOnly)
	assert.Equal(t, "/feeds/root", cfg.TAXIIAPIRootPath)
	assert.Equal(t, IndexWatch, cfg.IndexMode)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 1e-9)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /srv/feed
port: 8443
max_page_size: 50
default_page_size: 25
collections:
  - id: indicators
    title: Indicators
    types: [indicator]
  - id: everything
    title: Everything
`), 0o644))

	cfg, err := loadConfig(envMap(map[string]string{
		"CONFIG_FILE": path,
		"PORT":        "8001",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/srv/feed", cfg.DataDir)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 50, cfg.MaxPageSize)
	assert.Equal(t, 25, cfg.DefaultPageSize)

	colls := cfg.FeedCollections()
	require.Len(t, colls, 2)
	assert.Equal(t, []string{"indicator"}, colls[0].Types)
	assert.Equal(t, "everything", colls[1].ID)
}

func TestLoadConfig_Invalid(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"port not a number":    {"PORT": "http"},
		"port out of range":    {"PORT": "70000"},
		"min above max":        {"MIN_COUNT": "30", "MAX_COUNT": "5"},
		"unknown index mode":   {"INDEX_MODE": "poll"},
		"default above max":    {"DEFAULT_PAGE_SIZE": "500", "MAX_PAGE_SIZE": "100"},
		"zero max results":     {"MAX_RESULTS": "0"},
		"negative rate":        {"RATE_LIMIT_RPS": "-1"},
		"rate not a number":    {"RATE_LIMIT_RPS": "fast"},
		"missing config file":  {"CONFIG_FILE": "/nonexistent/feed.yaml"},
		"negative gen seconds": {"GENERATE_EVERY_SECONDS": "-5"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(envMap(env))
			assert.Error(t, err)
		})
	}
}
