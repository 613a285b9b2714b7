package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "templates.db")
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := fingerprint.New("fake", "dev0", "alice", fingerprint.RightIndex)
	p.Data = []byte{1, 2, 3, 4}
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load(ctx, p.Key())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected print to be found")
	}
	if !got.Equal(p) {
		t.Fatalf("loaded print identity mismatch: got %+v, want %+v", got.Key(), p.Key())
	}

	if err := s.Delete(ctx, p.Key()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := s.Load(ctx, p.Key()); err != nil {
		t.Fatalf("Load after delete: %v", err)
	} else if ok {
		t.Fatal("expected print to be gone after Delete")
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb)
	p.Data = []byte{1}
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	p.Data = []byte{2, 2}
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("Save (overwrite): %v", err)
	}

	got, ok, err := s.Load(ctx, p.Key())
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if len(got.Data) != 2 {
		t.Fatalf("expected overwritten data of length 2, got %d", len(got.Data))
	}
}
