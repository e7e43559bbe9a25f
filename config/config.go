// Package config loads the rankcache tool configuration: defaults, then a
// TOML or YAML file, then .env and RANKCACHE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RANKCACHE_"

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMetadata = "metadata"

	InverterMemory = "memory"
	InverterDisk   = "disk"
)

var validBackends = map[string]struct{}{
	BackendMemory:   {},
	BackendSQLite:   {},
	BackendPostgres: {},
	BackendRedis:    {},
	BackendMetadata: {},
}

var validInverters = map[string]struct{}{
	InverterMemory: {},
	InverterDisk:   {},
}

type (
	Config struct {
		LogLevel  string        `toml:"log_level" yaml:"log_level"`
		LogFormat string        `toml:"log_format" yaml:"log_format"`
		Index     IndexConfig   `toml:"index" yaml:"index"`
		Redis     RedisConfig   `toml:"redis" yaml:"redis"`
		Caches    []CacheConfig `toml:"caches" yaml:"caches"`
	}

	IndexConfig struct {
		// Path sqlite file of the document index, empty keeps it in memory
		Path string `toml:"path" yaml:"path"`
	}

	RedisConfig struct {
		Addr      string `toml:"addr" yaml:"addr"`
		Password  string `toml:"password" yaml:"password"`
		DB        int    `toml:"db" yaml:"db"`
		TimeoutMS int    `toml:"timeout_ms" yaml:"timeout_ms"`
	}

	CacheConfig struct {
		ID      string `toml:"id" yaml:"id"`
		Backend string `toml:"backend" yaml:"backend"`
		// DSN sqlite file or postgres connection string
		DSN string `toml:"dsn" yaml:"dsn"`
		// Prefix key prefix for the redis and metadata backends
		Prefix      string `toml:"prefix" yaml:"prefix"`
		ChunkSize   int    `toml:"chunk_size" yaml:"chunk_size"`
		Inverter    string `toml:"inverter" yaml:"inverter"`
		InvertDir   string `toml:"invert_dir" yaml:"invert_dir"`
		SlotReserve int    `toml:"slot_reserve" yaml:"slot_reserve"`
	}
)

func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Redis: RedisConfig{
			TimeoutMS: 3000,
		},
	}
}

// Load defaults, then path when given, then .env and the environment
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q failed: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		return fmt.Errorf("config %q: unknown extension, want .toml, .yaml or .yml", path)
	}
	if err != nil {
		return fmt.Errorf("parse config %q failed: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("INDEX_PATH", &c.Index.Path)

	applyString("REDIS_ADDR", &c.Redis.Addr)
	applyString("REDIS_PASSWORD", &c.Redis.Password)
	applyInt("REDIS_DB", &c.Redis.DB)
	applyInt("REDIS_TIMEOUT_MS", &c.Redis.TimeoutMS)
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.Redis.TimeoutMS <= 0 {
		c.Redis.TimeoutMS = 3000
	}

	for i := range c.Caches {
		cc := &c.Caches[i]
		cc.ID = strings.TrimSpace(cc.ID)
		cc.Backend = strings.ToLower(strings.TrimSpace(cc.Backend))
		cc.Inverter = strings.ToLower(strings.TrimSpace(cc.Inverter))
		if cc.Backend == "" {
			cc.Backend = BackendMetadata
		}
		if cc.Inverter == "" {
			cc.Inverter = InverterMemory
		}
		if cc.Backend == BackendSQLite && cc.DSN == "" && c.Index.Path != "" {
			cc.DSN = c.Index.Path + ".cache-" + cc.ID + ".db"
		}
		if cc.Prefix == "" {
			switch cc.Backend {
			case BackendRedis:
				cc.Prefix = "rankcache:" + cc.ID + ":"
			case BackendMetadata:
				cc.Prefix = "_rankcache_kv_" + cc.ID + "_"
			}
		}
	}
}

// Validate report every problem found, joined
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(c.Caches))
	sqliteFiles := make(map[string]string)
	for i, cc := range c.Caches {
		if cc.ID == "" {
			errs = append(errs, fmt.Errorf("caches[%d]: id is required", i))
			continue
		}
		if _, ok := seen[cc.ID]; ok {
			errs = append(errs, fmt.Errorf("cache %s: duplicate id", cc.ID))
		}
		seen[cc.ID] = struct{}{}

		if _, ok := validBackends[cc.Backend]; !ok {
			errs = append(errs, fmt.Errorf("cache %s: unknown backend %q", cc.ID, cc.Backend))
		}
		if _, ok := validInverters[cc.Inverter]; !ok {
			errs = append(errs, fmt.Errorf("cache %s: unknown inverter %q", cc.ID, cc.Inverter))
		}
		switch cc.Backend {
		case BackendSQLite:
			if cc.DSN == "" {
				errs = append(errs, fmt.Errorf("cache %s: sqlite backend needs dsn or index.path", cc.ID))
			} else if other, ok := sqliteFiles[cc.DSN]; ok {
				errs = append(errs, fmt.Errorf("cache %s: sqlite dsn %q already used by cache %s", cc.ID, cc.DSN, other))
			} else {
				sqliteFiles[cc.DSN] = cc.ID
			}
		case BackendPostgres:
			if cc.DSN == "" {
				errs = append(errs, fmt.Errorf("cache %s: postgres backend needs dsn", cc.ID))
			}
		case BackendRedis:
			if c.Redis.Addr == "" {
				errs = append(errs, fmt.Errorf("cache %s: redis backend needs redis.addr", cc.ID))
			}
		}
		if cc.ChunkSize < 0 {
			errs = append(errs, fmt.Errorf("cache %s: chunk_size must not be negative", cc.ID))
		}
		if cc.SlotReserve < 0 {
			errs = append(errs, fmt.Errorf("cache %s: slot_reserve must not be negative", cc.ID))
		}
	}
	return errors.Join(errs...)
}

// Cache the settings of cache id
func (c *Config) Cache(id string) (CacheConfig, bool) {
	for _, cc := range c.Caches {
		if cc.ID == id {
			return cc, true
		}
	}
	return CacheConfig{}, false
}

// CacheIDs in file order
func (c *Config) CacheIDs() []string {
	ids := make([]string, 0, len(c.Caches))
	for _, cc := range c.Caches {
		ids = append(ids, cc.ID)
	}
	return ids
}

func applyString(key string, target *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}
