package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taxiifeed/internal/feed"
	"taxiifeed/internal/generator"
)

// Index modes.
const (
	IndexScan  = "scan"
	IndexWatch = "watch"
)

// Config holds server configuration
type Config struct {
	DataDir     string `yaml:"data_dir"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`

	CORSOrigins []string `yaml:"cors_origins"`
	APIKeys     []string `yaml:"api_keys"`

	GenerateEverySeconds int  `yaml:"generate_every_seconds"`
	GenerateOnStart      bool `yaml:"generate_on_start"`
	MinCount             int  `yaml:"min_count"`
	MaxCount             int  `yaml:"max_count"`

	TAXIIAPIRootPath    string            `yaml:"taxii_api_root_path"`
	CollectionID        string            `yaml:"collection_id"`
	CollectionTitle     string            `yaml:"collection_title"`
	Collections         []feed.Collection `yaml:"collections"`
	TAXIIIndicatorsOnly bool              `yaml:"taxii_indicators_only"`
	SourceSystem        string            `yaml:"source_system"`

	IndexMode       string `yaml:"index_mode"`
	DefaultPageSize int    `yaml:"default_page_size"`
	MaxPageSize     int    `yaml:"max_page_size"`
	MaxResults      int    `yaml:"max_results"`

	ResultCacheSize       int `yaml:"result_cache_size"`
	ResultCacheTTLSeconds int `yaml:"result_cache_ttl_seconds"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:               "/app/data",
		Host:                  "0.0.0.0",
		Port:                  8000,
		MetricsAddr:           ":9090",
		GenerateEverySeconds:  3 * 60 * 60,
		GenerateOnStart:       true,
		MinCount:              10,
		MaxCount:              25,
		TAXIIAPIRootPath:      "/taxii2/root",
		CollectionID:          "indicators",
		CollectionTitle:       "Synthetic Indicators (STIX 2.1)",
		SourceSystem:          generator.DefaultSourceSystem,
		IndexMode:             IndexScan,
		DefaultPageSize:       feed.DefaultPageSize,
		MaxPageSize:           feed.DefaultMaxPage,
		MaxResults:            feed.DefaultMaxResults,
		ResultCacheSize:       64,
		ResultCacheTTLSeconds: 300,
		RateLimitBurst:        20,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// LoadConfig reads the optional CONFIG_FILE and then environment variables
// and returns a Config
func LoadConfig() (*Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()
	if path := getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	env := envReader{getenv: getenv}
	env.str("DATA_DIR", &cfg.DataDir)
	env.str("HOST", &cfg.Host)
	env.int("PORT", &cfg.Port)
	env.str("METRICS_ADDR", &cfg.MetricsAddr)
	env.str("GRPC_ADDR", &cfg.GRPCAddr)
	env.list("CORS_ORIGINS", &cfg.CORSOrigins)
	env.list("API_KEYS", &cfg.APIKeys)
	env.int("GENERATE_EVERY_SECONDS", &cfg.GenerateEverySeconds)
	env.bool("GENERATE_ON_START", &cfg.GenerateOnStart)
	env.int("MIN_COUNT", &cfg.MinCount)
	env.int("MAX_COUNT", &cfg.MaxCount)
	env.str("TAXII_API_ROOT_PATH", &cfg.TAXIIAPIRootPath)
	env.str("COLLECTION_ID", &cfg.CollectionID)
	env.str("COLLECTION_TITLE", &cfg.CollectionTitle)
	env.bool("TAXII_INDICATORS_ONLY", &cfg.TAXIIIndicatorsOnly)
	env.str("SOURCE_SYSTEM", &cfg.SourceSystem)
	env.str("INDEX_MODE", &cfg.IndexMode)
	env.int("DEFAULT_PAGE_SIZE", &cfg.DefaultPageSize)
	env.int("MAX_PAGE_SIZE", &cfg.MaxPageSize)
	env.int("MAX_RESULTS", &cfg.MaxResults)
	env.int("RESULT_CACHE_SIZE", &cfg.ResultCacheSize)
	env.int("RESULT_CACHE_TTL_SECONDS", &cfg.ResultCacheTTLSeconds)
	env.float("RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	env.int("RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	env.str("LOG_LEVEL", &cfg.LogLevel)
	env.str("LOG_FORMAT", &cfg.LogFormat)
	if env.err != nil {
		return nil, env.err
	}

	cfg.TAXIIAPIRootPath = "/" + strings.Trim(cfg.TAXIIAPIRootPath, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("DATA_DIR must be set")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT %d out of range", c.Port)
	case c.MinCount < 0 || c.MinCount > c.MaxCount:
		return fmt.Errorf("MIN_COUNT %d must be between 0 and MAX_COUNT %d", c.MinCount, c.MaxCount)
	case c.GenerateEverySeconds < 0:
		return fmt.Errorf("GENERATE_EVERY_SECONDS must not be negative")
	case c.MaxPageSize <= 0:
		return fmt.Errorf("MAX_PAGE_SIZE must be positive")
	case c.DefaultPageSize <= 0 || c.DefaultPageSize > c.MaxPageSize:
		return fmt.Errorf("DEFAULT_PAGE_SIZE %d must be between 1 and MAX_PAGE_SIZE %d", c.DefaultPageSize, c.MaxPageSize)
	case c.MaxResults <= 0:
		return fmt.Errorf("MAX_RESULTS must be positive")
	case c.IndexMode != IndexScan && c.IndexMode != IndexWatch:
		return fmt.Errorf("INDEX_MODE %q must be %q or %q", c.IndexMode, IndexScan, IndexWatch)
	case c.ResultCacheSize < 0 || c.ResultCacheTTLSeconds < 0:
		return fmt.Errorf("RESULT_CACHE_SIZE and RESULT_CACHE_TTL_SECONDS must not be negative")
	case c.RateLimitRPS < 0:
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	if len(c.Collections) == 0 && c.CollectionID == "" {
		return fmt.Errorf("COLLECTION_ID must be set")
	}
	return nil
}

// HTTPAddr is the listen address for the API.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GenerateInterval is the fixture regeneration period; zero disables it.
func (c *Config) GenerateInterval() time.Duration {
	return time.Duration(c.GenerateEverySeconds) * time.Second
}

// Limits are the page-size and result-count bounds for the feed.
func (c *Config) Limits() feed.Limits {
	return feed.Limits{
		DefaultPageSize: c.DefaultPageSize,
		MaxPageSize:     c.MaxPageSize,
		MaxResults:      c.MaxResults,
	}
}

// ResultCache returns the merged result cache, or nil when disabled.
func (c *Config) ResultCache() *feed.ResultCache {
	if c.ResultCacheSize == 0 || c.ResultCacheTTLSeconds == 0 {
		return nil
	}
	return feed.NewResultCache(c.ResultCacheSize, time.Duration(c.ResultCacheTTLSeconds)*time.Second)
}

// FeedCollections returns the configured collections, falling back to the
// single collection named by COLLECTION_ID.
func (c *Config) FeedCollections() []feed.Collection {
	if len(c.Collections) > 0 {
		return c.Collections
	}
	return []feed.Collection{{
		ID:          c.CollectionID,
		Title:       c.CollectionTitle,
		Description: "Synthetic STIX 2.1 content generated inside the container.",
		MediaTypes:  []string{stixMediaType},
	}}
}

// envReader applies set environment variables and keeps the first parse
// error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(k string) (string, bool) {
	v := e.getenv(k)
	return v, v != ""
}

func (e *envReader) fail(k, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", k, v, err)
	}
}

func (e *envReader) str(k string, dst *string) {
	if v, ok := e.lookup(k); ok {
		*dst = v
	}
}

func (e *envReader) int(k string, dst *int) {
	v, ok := e.lookup(k)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.fail(k, v, err)
		return
	}
	*dst = n
}

func (e *envReader) float(k string, dst *float64) {
	v, ok := e.lookup(k)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.fail(k, v, err)
		return
	}
	*dst = f
}

// bool accepts "true" in any case as true and anything else as false.
func (e *envReader) bool(k string, dst *bool) {
	if v, ok := e.lookup(k); ok {
		*dst = strings.EqualFold(strings.TrimSpace(v), "true")
	}
}

func (e *envReader) list(k string, dst *[]string) {
	v, ok := e.lookup(k)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
