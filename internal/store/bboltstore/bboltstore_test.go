package bboltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

func TestSaveLoadDelete(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "templates.bolt"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	p := fingerprint.New("fake", "dev0", "alice", fingerprint.RightIndex)
	p.Data = []byte{9, 8, 7}
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

func TestDiscoverPrintsAndUsers(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "templates.bolt"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for _, p := range []fingerprint.Print{
		fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb),
		fingerprint.New("fake", "dev0", "alice", fingerprint.RightIndex),
		fingerprint.New("fake", "dev0", "bob", fingerprint.LeftIndex),
	} {
		if err := s.Save(ctx, p); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	fingers, err := s.DiscoverPrints(ctx, "fake", "dev0", "alice")
	if err != nil {
		t.Fatalf("DiscoverPrints: %v", err)
	}
	if len(fingers) != 2 {
		t.Fatalf("expected 2 fingers for alice, got %d", len(fingers))
	}

	users, err := s.DiscoverUsers(ctx)
	if err != nil {
		t.Fatalf("DiscoverUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d: %v", len(users), users)
	}
}
