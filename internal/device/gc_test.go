package device

import (
	"context"
	"testing"
	"time"

	"github.com/deepin-community/fprintd-go/internal/driver"
	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

func TestOldestWithTiebreakPicksEarliest(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := fingerprint.Print{Username: "alice", Finger: fingerprint.LeftThumb, EnrollDate: now.AddDate(0, 0, -5)}
	newer := fingerprint.Print{Username: "alice", Finger: fingerprint.RightThumb, EnrollDate: now}

	got := oldestWithTiebreak([]fingerprint.Print{newer, older})
	if !got.EnrollDate.Equal(older.EnrollDate) {
		t.Fatalf("expected the older print to be chosen, got enroll date %v", got.EnrollDate)
	}
}

func TestOldestWithTiebreakBreaksTies(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := fingerprint.Print{Username: "alice", Finger: fingerprint.LeftThumb, EnrollDate: now}
	b := fingerprint.Print{Username: "alice", Finger: fingerprint.RightThumb, EnrollDate: now}

	seenLeft, seenRight := false, false
	for i := 0; i < 50 && !(seenLeft && seenRight); i++ {
		got := oldestWithTiebreak([]fingerprint.Print{a, b})
		if got.Finger == fingerprint.LeftThumb {
			seenLeft = true
		} else {
			seenRight = true
		}
	}
	if !seenLeft || !seenRight {
		t.Fatal("expected the random tiebreak to pick each tied print at least once across repeated calls")
	}
}

func TestGarbageCollectOnceEvictsOnlyOldestStalePrint(t *testing.T) {
	dev, drv, _ := newTestDevice(t, driver.Capabilities{SupportsListPrints: true})
	ctx := context.Background()

	live := fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb)
	staleOld := fingerprint.New("fake", "dev0", "alice", fingerprint.RightThumb)
	staleOld.EnrollDate = staleOld.EnrollDate.AddDate(0, 0, -1)
	staleNew := fingerprint.New("fake", "dev0", "alice", fingerprint.LeftIndex)

	for _, tmpl := range []fingerprint.Print{live, staleOld, staleNew} {
		ch, err := drv.Enroll(ctx, tmpl)
		if err != nil {
			t.Fatalf("Enroll: %v", err)
		}
		for range ch {
		}
	}
	if err := dev.store.Save(ctx, live); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if removed := dev.garbageCollectOnce(ctx); !removed {
		t.Fatal("expected garbageCollectOnce to report a removal")
	}

	remaining, err := drv.ListPrints(ctx)
	if err != nil {
		t.Fatalf("ListPrints: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected exactly one device-side delete, got %d prints remaining", len(remaining))
	}
	for _, p := range remaining {
		if p.Equal(staleOld) {
			t.Fatal("expected the oldest stale print to have been deleted, found it still present")
		}
	}
}

func TestGarbageCollectOnceFailsWhenNothingIsStale(t *testing.T) {
	dev, drv, _ := newTestDevice(t, driver.Capabilities{SupportsListPrints: true})
	ctx := context.Background()

	live := fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb)
	ch, err := drv.Enroll(ctx, live)
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	for range ch {
	}
	if err := dev.store.Save(ctx, live); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if removed := dev.garbageCollectOnce(ctx); removed {
		t.Fatal("expected garbageCollectOnce to report failure when every device print is host-backed")
	}
	remaining, err := drv.ListPrints(ctx)
	if err != nil {
		t.Fatalf("ListPrints: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected the live print to remain untouched, got %d prints", len(remaining))
	}
}

func TestPartitionStaleExcludesHostRecordedPrints(t *testing.T) {
	dev, _, _ := newTestDevice(t, driver.Capabilities{SupportsListPrints: true})
	ctx := context.Background()

	live := fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb)
	stale := fingerprint.New("fake", "dev0", "alice", fingerprint.RightThumb)
	if err := dev.store.Save(ctx, live); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	staleOut := dev.partitionStale(ctx, []fingerprint.Print{live, stale})
	if len(staleOut) != 1 || !staleOut[0].Equal(stale) {
		t.Fatalf("expected stale to contain only the un-recorded print, got %v", staleOut)
	}
}
