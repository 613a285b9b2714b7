package filestore

import (
	"context"
	"testing"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

func TestSaveLoadDelete(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	p := fingerprint.New("fake", "dev0", "alice", fingerprint.RightIndex)
	p.Data = []byte{1, 2, 3}
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

func TestDeleteMissingKeyIsNotAnError(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := fingerprint.Key{Driver: "fake", DeviceID: "dev0", Username: "nobody", Finger: fingerprint.LeftThumb}
	if err := s.Delete(context.Background(), key); err != nil {
		t.Fatalf("expected deleting a missing key to succeed, got %v", err)
	}
}

func TestDiscoverPrintsAndUsers(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
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

func TestSanitizeComponentRejectsTraversal(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := fingerprint.New("fake", "dev0", "../../etc", fingerprint.LeftThumb)
	if err := s.Save(context.Background(), p); err == nil {
		t.Fatal("expected Save to reject a path-traversal username")
	}
}
