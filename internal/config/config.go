// Package config defines the daemon's flag-based runtime configuration,
// in the style of cmd/check-aws-perms's main.go: flag.String/Bool/Duration
// bound directly to a struct's fields via flag.*Var, parsed once at
// startup.
package config

import (
	"flag"
	"time"
)

// Config is fprintd's full runtime configuration.
type Config struct {
	// NoTimeout disables the idle-exit timer entirely (mirrors the
	// reference daemon's --no-timeout flag).
	NoTimeout bool

	// IdleTimeout is how long the daemon waits with no claimed device
	// before exiting, when NoTimeout is false.
	IdleTimeout time.Duration

	// Driver selects the hardware boundary: "fake" for the scriptable
	// test driver; since no real driver ships in this tree, any other
	// value logs a warning and falls back to the fake driver.
	Driver string

	// StorageType selects the Template Store backend: file, sqlite,
	// bbolt, or s3.
	StorageType string
	StorageFileRoot  string
	StorageSQLitePath string
	StorageBoltPath  string
	StorageS3Bucket  string
	StorageS3Prefix  string
	StorageS3Region  string

	// LogLevel is one of logrus's level names (debug, info, warn, error).
	LogLevel string

	// MetricsAddr, if non-empty, serves /metrics on this address.
	MetricsAddr string
}

// RegisterFlags binds cfg's fields to fs, the way check-aws-perms's main
// binds its flags directly to local variables.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.BoolVar(&cfg.NoTimeout, "no-timeout", false, "disable the idle-exit timer")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", 30*time.Second, "time with no claimed device before exiting")
	fs.StringVar(&cfg.Driver, "driver", "fake", "hardware driver to use (only \"fake\" ships in this tree)")
	fs.StringVar(&cfg.StorageType, "storage-type", "file", "template store backend: file, sqlite, bbolt, s3")
	fs.StringVar(&cfg.StorageFileRoot, "storage-file-root", "", "root directory for the file backend")
	fs.StringVar(&cfg.StorageSQLitePath, "storage-sqlite-path", "", "database file for the sqlite backend")
	fs.StringVar(&cfg.StorageBoltPath, "storage-bbolt-path", "", "database file for the bbolt backend")
	fs.StringVar(&cfg.StorageS3Bucket, "storage-s3-bucket", "", "bucket for the s3 backend")
	fs.StringVar(&cfg.StorageS3Prefix, "storage-s3-prefix", "", "key prefix for the s3 backend")
	fs.StringVar(&cfg.StorageS3Region, "storage-s3-region", "", "region for the s3 backend")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "logrus level: debug, info, warn, error")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
}
