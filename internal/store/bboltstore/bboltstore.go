// Package bboltstore is a lightweight embedded-KV Template Store backend
// on top of go.etcd.io/bbolt, for deployments that want an alternative to
// the SQL-shaped sqlitestore backend without a full relational engine.
//
// One bucket per user; keys are "<driver>/<device-id>/<finger>".
package bboltstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

// Store implements store.Store on top of a single bbolt database file.
type Store struct {
	db *bbolt.DB
}

// New opens (creating if necessary) the bbolt-backed store.
func New(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("bboltstore: open %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

func recordKey(driver, deviceID string, finger fingerprint.Finger) []byte {
	return []byte(strings.Join([]string{driver, deviceID, strconv.Itoa(int(finger))}, "/"))
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Save(ctx context.Context, p fingerprint.Print) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(p.Username))
		if err != nil {
			return fmt.Errorf("bboltstore: create bucket: %w", err)
		}
		return b.Put(recordKey(p.Driver, p.DeviceID, p.Finger), data)
	})
}

func (s *Store) Load(ctx context.Context, key fingerprint.Key) (fingerprint.Print, bool, error) {
	var p fingerprint.Print
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(key.Username))
		if b == nil {
			return nil
		}
		data := b.Get(recordKey(key.Driver, key.DeviceID, key.Finger))
		if data == nil {
			return nil
		}
		decoded, err := fingerprint.Unmarshal(data)
		if err != nil {
			return err
		}
		p, found = decoded, true
		return nil
	})
	if err != nil {
		return fingerprint.Print{}, false, err
	}
	if found && p.Key() != key {
		return fingerprint.Print{}, false, fmt.Errorf("bboltstore: stored print identity mismatch for %+v", key)
	}
	return p, found, nil
}

func (s *Store) Delete(ctx context.Context, key fingerprint.Key) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(key.Username))
		if b == nil {
			return nil
		}
		return b.Delete(recordKey(key.Driver, key.DeviceID, key.Finger))
	})
}

func (s *Store) DiscoverPrints(ctx context.Context, driver, deviceID, username string) ([]fingerprint.Finger, error) {
	var out []fingerprint.Finger
	prefix := []byte(driver + "/" + deviceID + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(username))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			n, err := strconv.Atoi(strings.TrimPrefix(string(k), string(prefix)))
			if err != nil {
				continue
			}
			out = append(out, fingerprint.Finger(n))
		}
		return nil
	})
	return out, err
}

func (s *Store) DiscoverUsers(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			out = append(out, string(name))
			return nil
		})
	})
	sort.Strings(out)
	return out, err
}
