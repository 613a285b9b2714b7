// Package store defines the Template Store contract (spec.md §4.1): a
// pluggable persistence backend for fingerprint templates keyed by
// (driver, device-id, user, finger-slot), plus the four backends that
// implement it.
//
// The interface mirrors marmos91-dittofs's pkg/metadata/store layout (one
// interface, several interchangeable backends under subpackages), which is
// the clearest precedent in the retrieval pack for a store abstraction with
// more than one concrete implementation.
package store

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
	"github.com/deepin-community/fprintd-go/internal/store/bboltstore"
	"github.com/deepin-community/fprintd-go/internal/store/filestore"
	"github.com/deepin-community/fprintd-go/internal/store/s3store"
	"github.com/deepin-community/fprintd-go/internal/store/sqlitestore"
)

// Store is the Template Store contract from spec.md §4.1. All operations
// are synchronous from the caller's point of view.
type Store interface {
	// Save persists a print, overwriting any existing print at the same key.
	Save(ctx context.Context, p fingerprint.Print) error

	// Load returns the print at the given key. ok is false if no print is
	// enrolled at that key; err is non-nil only for I/O or corruption
	// failures (including a finger/user mismatch on the persisted record).
	Load(ctx context.Context, key fingerprint.Key) (p fingerprint.Print, ok bool, err error)

	// Delete removes the print at the given key. It is not an error to
	// delete a key that does not exist.
	Delete(ctx context.Context, key fingerprint.Key) error

	// DiscoverPrints returns the set of enrolled finger slots for a given
	// (driver, device-id, user).
	DiscoverPrints(ctx context.Context, driver, deviceID, username string) ([]fingerprint.Finger, error)

	// DiscoverUsers returns the set of user names known to the store.
	// Filesystem order; de-duplication is not required of implementations.
	DiscoverUsers(ctx context.Context) ([]string, error)

	// Close releases any resources (file handles, DB connections) held by
	// the backend.
	Close() error
}

// Config selects and parametrizes a backend, mirroring the config file
// group spec.md §6 describes: a "type" key that falls back to the
// reference file backend when absent or unrecognized.
type Config struct {
	// Type is one of "file", "sqlite", "bbolt", "s3". Anything else (or
	// empty) falls back to "file" per spec.md §6.
	Type string

	// FileRoot is the root directory for the "file" backend. Empty means
	// use the built-in state-directory-hint resolution (see filestore).
	FileRoot string

	// SQLitePath is the database file path for the "sqlite" backend.
	SQLitePath string

	// BoltPath is the database file path for the "bbolt" backend.
	BoltPath string

	// S3Bucket / S3Prefix / S3Region configure the "s3" backend.
	S3Bucket string
	S3Prefix string
	S3Region string
}

// Open selects and constructs a backend from cfg, falling back to the
// reference file backend for an absent or unrecognized Type exactly as
// spec.md §6's config file describes.
func Open(ctx context.Context, cfg Config, logger logrus.FieldLogger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		sc := sqlitestore.DefaultConfig()
		if cfg.SQLitePath != "" {
			sc.Path = cfg.SQLitePath
		}
		return sqlitestore.New(sc)
	case "bbolt":
		path := cfg.BoltPath
		if path == "" {
			path = "/var/lib/fprint/templates.bolt"
		}
		return bboltstore.New(path)
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Region: cfg.S3Region,
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
		}, logger)
	case "file", "":
		return filestore.New(cfg.FileRoot, logger)
	default:
		logger.WithField("type", cfg.Type).Warn("unrecognized storage type, falling back to file backend")
		return filestore.New(cfg.FileRoot, logger)
	}
}
