// Package sqlitestore is an alternate Template Store backend on top of
// modernc.org/sqlite, ported from the teacher's database package: same
// WAL/pragma configuration, same versioned schema_migrations table and
// migration list shape as database/database.go, database/schema.go and
// database/migrations.go, repointed from image/snapshot tracking rows to
// fingerprint template rows.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    description TEXT
);
`

const initialSchema = `
CREATE TABLE IF NOT EXISTS prints (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    driver TEXT NOT NULL,
    device_id TEXT NOT NULL,
    username TEXT NOT NULL,
    finger INTEGER NOT NULL,
    enroll_date DATETIME NOT NULL,
    data BLOB NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

    UNIQUE (driver, device_id, username, finger)
);

CREATE INDEX IF NOT EXISTS idx_prints_user ON prints(username);
CREATE INDEX IF NOT EXISTS idx_prints_device ON prints(driver, device_id);
`

type migration struct {
	version     int
	description string
	sql         string
}

var migrations = []migration{
	{version: 1, description: "initial prints table", sql: initialSchema},
}

// Config mirrors database.Config's shape.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig mirrors database.DefaultConfig's defaults, repointed at
// the fingerprint template store's default path.
func DefaultConfig() Config {
	return Config{
		Path:            "/var/lib/fprint/templates.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// Store implements store.Store on top of a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the SQLite-backed store, applying the
// same pragma set the teacher's database.New uses for WAL concurrency.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -10000",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaMigrationsTable); err != nil {
		return fmt.Errorf("sqlitestore: create schema_migrations: %w", err)
	}
	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		current = 0
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("sqlitestore: migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.version, m.description,
		); err != nil {
			return fmt.Errorf("sqlitestore: record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Save(ctx context.Context, p fingerprint.Print) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prints (driver, device_id, username, finger, enroll_date, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (driver, device_id, username, finger)
		DO UPDATE SET enroll_date = excluded.enroll_date, data = excluded.data
	`, p.Driver, p.DeviceID, p.Username, int(p.Finger), p.EnrollDate, data)
	if err != nil {
		return fmt.Errorf("sqlitestore: save: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, key fingerprint.Key) (fingerprint.Print, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM prints WHERE driver = ? AND device_id = ? AND username = ? AND finger = ?
	`, key.Driver, key.DeviceID, key.Username, int(key.Finger))
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return fingerprint.Print{}, false, nil
		}
		return fingerprint.Print{}, false, fmt.Errorf("sqlitestore: load: %w", err)
	}
	p, err := fingerprint.Unmarshal(data)
	if err != nil {
		return fingerprint.Print{}, false, err
	}
	if p.Key() != key {
		return fingerprint.Print{}, false, fmt.Errorf("sqlitestore: stored print identity mismatch for %+v", key)
	}
	return p, true, nil
}

func (s *Store) Delete(ctx context.Context, key fingerprint.Key) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM prints WHERE driver = ? AND device_id = ? AND username = ? AND finger = ?
	`, key.Driver, key.DeviceID, key.Username, int(key.Finger))
	if err != nil {
		return fmt.Errorf("sqlitestore: delete: %w", err)
	}
	return nil
}

func (s *Store) DiscoverPrints(ctx context.Context, driver, deviceID, username string) ([]fingerprint.Finger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT finger FROM prints WHERE driver = ? AND device_id = ? AND username = ?
	`, driver, deviceID, username)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: discover prints: %w", err)
	}
	defer rows.Close()
	var out []fingerprint.Finger
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, fingerprint.Finger(n))
	}
	return out, rows.Err()
}

func (s *Store) DiscoverUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT username FROM prints ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: discover users: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
