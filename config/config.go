// Package config loads the tiercache CLI configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (TIERCACHE_*, dots become underscores:
//     TIERCACHE_DOWNLOAD_MAX_WORKERS=8)
//  2. Configuration file (yaml, toml or json)
//  3. Defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Disk     DiskConfig     `mapstructure:"disk"`
	Download DownloadConfig `mapstructure:"download"`
	Origin   OriginConfig   `mapstructure:"origin"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	// LockPermits caps keys walked concurrently. 0 => unlimited.
	LockPermits int64 `mapstructure:"lock_permits"`
	// RequestTimeout bounds one network fetch. 0 => the download timeout only.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LoggingConfig struct {
	Backend string `mapstructure:"backend"` // zap|logrus|slog
	Level   string `mapstructure:"level"`   // debug|info|warn|error
	Format  string `mapstructure:"format"`  // json|console
}

// ArtifactConfig selects what the cache builds.
//
//	bitmap   - fixed Width x Height pixels
//	capped   - variable height up to Width x Height
//	document - decoded JSON, stored on disk as Codec
type ArtifactConfig struct {
	Kind         string `mapstructure:"kind"`
	Width        int    `mapstructure:"width"`
	Height       int    `mapstructure:"height"`
	PoolCapacity int    `mapstructure:"pool_capacity"`
	// MemoryBudget caps pixel memory; 0 => unbounded.
	MemoryBudget ByteSize `mapstructure:"memory_budget"`
	Codec        string   `mapstructure:"codec"` // msgpack|cbor|json
	MaxBytes     ByteSize `mapstructure:"max_bytes"`
}

// MemoryConfig picks the memory tier.
//
//	two-level - strong LRU demoting into weak entries
//	weak      - weak entries only, for large variable-size artifacts
//	counting  - strong LRU bounded by Entries
type MemoryConfig struct {
	Mode         string   `mapstructure:"mode"`
	Entries      int      `mapstructure:"entries"`
	StrongBytes  ByteSize `mapstructure:"strong_bytes"`
	WeakBytes    ByteSize `mapstructure:"weak_bytes"`
	BigThreshold ByteSize `mapstructure:"big_threshold"`
}

// DiskConfig picks the persistent tier.
//
//	file      - diskstore under Dir
//	badger    - badger database under Dir
//	redis     - shared Redis, generations kept in Redis too
//	ristretto - in-process, mostly for testing the kv path
//	bigcache  - in-process, sharded
//	none      - no disk tier
type DiskConfig struct {
	Backend string        `mapstructure:"backend"`
	Dir     string        `mapstructure:"dir"`
	Version uint32        `mapstructure:"version"`
	MaxSize ByteSize      `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DownloadConfig struct {
	Dir             string        `mapstructure:"dir"`
	MinWorkers      int           `mapstructure:"min_workers"`
	MaxWorkers      int           `mapstructure:"max_workers"`
	Permits         int64         `mapstructure:"permits"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type OriginConfig struct {
	Kind     string            `mapstructure:"kind"` // http|s3
	Header   map[string]string `mapstructure:"header"`
	MaxBytes ByteSize          `mapstructure:"max_bytes"`
	S3       S3Config          `mapstructure:"s3"`
}

type S3Config struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // serve listens here
}

// Load reads configuration from path, the environment and defaults. A
// missing file is not an error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TIERCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeHook accepts "64MiB", "10MB", "512k" or plain non-negative numbers.
func byteSizeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseByteSize(v)
		case int:
			return byteSizeOf(float64(v))
		case int64:
			return byteSizeOf(float64(v))
		case uint64:
			return byteSizeOf(float64(v))
		case float64:
			return byteSizeOf(v)
		default:
			return data, nil
		}
	}
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("config: %s %q: want one of %s", field, v, strings.Join(allowed, ", "))
}

func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	add(oneOf("logging.backend", c.Logging.Backend, "zap", "logrus", "slog"))
	add(oneOf("logging.level", c.Logging.Level, "debug", "info", "warn", "error"))
	add(oneOf("logging.format", c.Logging.Format, "json", "console"))
	add(oneOf("artifact.kind", c.Artifact.Kind, "bitmap", "capped", "document"))
	add(oneOf("memory.mode", c.Memory.Mode, "two-level", "weak", "counting"))
	if c.Memory.Mode == "counting" && c.Memory.Entries < 1 {
		add(errors.New("config: memory.entries must be positive for counting mode"))
	}
	add(oneOf("disk.backend", c.Disk.Backend, "file", "badger", "redis", "ristretto", "bigcache", "none"))
	add(oneOf("origin.kind", c.Origin.Kind, "http", "s3"))

	if c.Artifact.Kind == "document" {
		add(oneOf("artifact.codec", c.Artifact.Codec, "msgpack", "cbor", "json"))
	} else if c.Artifact.Width < 1 || c.Artifact.Height < 1 {
		add(fmt.Errorf("config: artifact size %dx%d must be positive", c.Artifact.Width, c.Artifact.Height))
	}
	if c.Download.Dir == "" {
		add(errors.New("config: download.dir is required"))
	}
	for _, sz := range []struct {
		field string
		v     ByteSize
	}{
		{"artifact.memory_budget", c.Artifact.MemoryBudget},
		{"artifact.max_bytes", c.Artifact.MaxBytes},
		{"memory.strong_bytes", c.Memory.StrongBytes},
		{"memory.weak_bytes", c.Memory.WeakBytes},
		{"memory.big_threshold", c.Memory.BigThreshold},
		{"disk.max_size", c.Disk.MaxSize},
		{"origin.max_bytes", c.Origin.MaxBytes},
	} {
		// 0 selects the default
		if sz.v < 0 {
			add(fmt.Errorf("config: %s %d must not be negative", sz.field, sz.v))
		}
	}
	if c.Download.MinWorkers > c.Download.MaxWorkers {
		add(fmt.Errorf("config: download.min_workers %d > max_workers %d", c.Download.MinWorkers, c.Download.MaxWorkers))
	}
	if (c.Disk.Backend == "file" || c.Disk.Backend == "badger") && c.Disk.Dir == "" {
		add(fmt.Errorf("config: disk.dir is required for %s", c.Disk.Backend))
	}
	if c.Disk.Backend == "redis" && c.Disk.Redis.Addr == "" {
		add(errors.New("config: disk.redis.addr is required"))
	}
	if c.Origin.Kind == "s3" && c.Origin.S3.Bucket == "" {
		add(errors.New("config: origin.s3.bucket is required"))
	}
	return errors.Join(errs...)
}
