package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

func cacheRoot() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "tiercache")
	}
	return filepath.Join(os.TempDir(), "tiercache")
}

// setDefaults registers every key, which also lets AutomaticEnv see them.
func setDefaults(v *viper.Viper) {
	root := cacheRoot()

	v.SetDefault("logging.backend", "zap")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("artifact.kind", "bitmap")
	v.SetDefault("artifact.width", 210)
	v.SetDefault("artifact.height", 210)
	v.SetDefault("artifact.pool_capacity", 4)
	v.SetDefault("artifact.memory_budget", "0")
	v.SetDefault("artifact.codec", "msgpack")
	v.SetDefault("artifact.max_bytes", "0")

	v.SetDefault("memory.mode", "two-level")
	v.SetDefault("memory.entries", 64)
	v.SetDefault("memory.strong_bytes", "0")
	v.SetDefault("memory.weak_bytes", "0")
	v.SetDefault("memory.big_threshold", "0")

	v.SetDefault("disk.backend", "file")
	v.SetDefault("disk.dir", filepath.Join(root, "disk"))
	v.SetDefault("disk.version", 1)
	v.SetDefault("disk.max_size", "10MiB")
	v.SetDefault("disk.ttl", 24*time.Hour)
	v.SetDefault("disk.redis.addr", "")
	v.SetDefault("disk.redis.password", "")
	v.SetDefault("disk.redis.db", 0)

	v.SetDefault("download.dir", filepath.Join(root, "downloads"))
	v.SetDefault("download.min_workers", 1)
	v.SetDefault("download.max_workers", 4)
	v.SetDefault("download.permits", 10)
	v.SetDefault("download.max_attempts", 5)
	v.SetDefault("download.timeout", 30*time.Second)
	v.SetDefault("download.retention", 7*24*time.Hour)
	v.SetDefault("download.cleanup_interval", time.Hour)

	v.SetDefault("origin.kind", "http")
	v.SetDefault("origin.max_bytes", "32MiB")
	v.SetDefault("origin.s3.region", "us-east-1")
	v.SetDefault("origin.s3.endpoint", "")
	v.SetDefault("origin.s3.bucket", "")
	v.SetDefault("origin.s3.access_key", "")
	v.SetDefault("origin.s3.secret_key", "")

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("lock_permits", 0)
	v.SetDefault("request_timeout", 0)
}
