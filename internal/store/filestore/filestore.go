// Package filestore is the reference Template Store backend: a directory
// tree rooted at $root/<user>/<driver>/<device-id>/<hex-finger>, with
// owner-only permissions the whole way down, matching spec.md §3/§4.1.
//
// Path-component sanitization (never trust an untrusted username or
// device-id as a literal path segment) is carried over in spirit from the
// teacher's extraction package, which existed solely to defend against
// path traversal in untrusted archive entries; here the same discipline
// guards against a malicious or buggy caller supplying "../etc" as a
// username.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

const defaultRoot = "/var/lib/fprint"

// dirMode restricts every directory fprintd creates to owner-only access,
// the same posture the teacher applies to its devicemapper mount points.
const dirMode = 0o700
const fileMode = 0o600

// Store implements store.Store against the local filesystem.
type Store struct {
	root   string
	logger logrus.FieldLogger
}

// New resolves the store root the way spec.md §4.1 describes: a
// colon-separated state-directory hint is tried first-non-empty, else the
// built-in default. An explicit root (non-empty) always wins.
func New(root string, logger logrus.FieldLogger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if root == "" {
		root = resolveRootFromHint(os.Getenv("FPRINTD_STATE_DIR"))
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("filestore: create root %q: %w", root, err)
	}
	return &Store{root: root, logger: logger.WithField("component", "filestore")}, nil
}

func resolveRootFromHint(hint string) string {
	for _, candidate := range strings.Split(hint, ":") {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return defaultRoot
}

// sanitizeComponent rejects path separators and parent-directory escapes
// in any value used to build a filesystem path from caller input.
func sanitizeComponent(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filestore: empty path component")
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("filestore: invalid path component %q", name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return "", fmt.Errorf("filestore: path component %q contains a path separator", name)
	}
	return name, nil
}

func (s *Store) leafDir(driver, deviceID, username string) (string, error) {
	user, err := sanitizeComponent(username)
	if err != nil {
		return "", err
	}
	drv, err := sanitizeComponent(driver)
	if err != nil {
		return "", err
	}
	dev, err := sanitizeComponent(deviceID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, user, drv, dev), nil
}

func (s *Store) printPath(key fingerprint.Key) (string, error) {
	dir, err := s.leafDir(key.Driver, key.DeviceID, key.Username)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, key.Finger.HexDigit()), nil
}

// Save writes the print to its leaf path, creating owner-only parent
// directories as needed.
func (s *Store) Save(ctx context.Context, p fingerprint.Print) error {
	path, err := s.printPath(p.Key())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("filestore: create parent dirs: %w", err)
	}
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, fileMode); err != nil {
		return fmt.Errorf("filestore: write %q: %w", path, err)
	}
	s.logger.WithFields(logrus.Fields{"user": p.Username, "finger": p.Finger}).Debug("saved print")
	return nil
}

// Load reads the print at the given key, rejecting a record whose decoded
// identity does not match the path it was found under (per spec.md §3's
// corruption-detection invariant).
func (s *Store) Load(ctx context.Context, key fingerprint.Key) (fingerprint.Print, bool, error) {
	path, err := s.printPath(key)
	if err != nil {
		return fingerprint.Print{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fingerprint.Print{}, false, nil
		}
		return fingerprint.Print{}, false, fmt.Errorf("filestore: read %q: %w", path, err)
	}
	p, err := fingerprint.Unmarshal(data)
	if err != nil {
		return fingerprint.Print{}, false, err
	}
	if p.Key() != key {
		return fingerprint.Print{}, false, fmt.Errorf("filestore: stored print at %q does not match requested identity", path)
	}
	return p, true, nil
}

// Delete removes the print file, then prunes now-empty ancestor
// directories up to (but not including) the configured root, exactly as
// spec.md §4.1 describes.
func (s *Store) Delete(ctx context.Context, key fingerprint.Key) error {
	path, err := s.printPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: remove %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// DiscoverPrints lists the leaf directory for (driver, deviceID, username)
// and parses valid hex-digit filenames into finger slots.
func (s *Store) DiscoverPrints(ctx context.Context, driver, deviceID, username string) ([]fingerprint.Finger, error) {
	dir, err := s.leafDir(driver, deviceID, username)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: list %q: %w", dir, err)
	}
	var fingers []fingerprint.Finger
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := fingerprint.ParseFingerHexDigit(e.Name())
		if err != nil {
			continue
		}
		fingers = append(fingers, f)
	}
	return fingers, nil
}

// DiscoverUsers lists the root directory for user subdirectories.
func (s *Store) DiscoverUsers(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: list root %q: %w", s.root, err)
	}
	var users []string
	for _, e := range entries {
		if e.IsDir() {
			users = append(users, e.Name())
		}
	}
	sort.Strings(users)
	return users, nil
}

// Close is a no-op for the filesystem backend; present to satisfy
// store.Store.
func (s *Store) Close() error { return nil }
