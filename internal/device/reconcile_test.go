package device

import (
	"context"
	"testing"

	"github.com/deepin-community/fprintd-go/internal/driver"
	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

func TestReconcileDropsHostPrintAbsentFromDevice(t *testing.T) {
	dev, _, _ := newTestDevice(t, driver.Capabilities{SupportsListPrints: true})
	ctx := context.Background()

	stale := fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb)
	if err := dev.store.Save(ctx, stale); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	dev.reconcileIfNeeded(ctx, "alice")

	if _, ok, err := dev.store.Load(ctx, stale.Key()); err != nil {
		t.Fatalf("Load: %v", err)
	} else if ok {
		t.Fatal("expected reconcile to drop the host print the device no longer holds")
	}
}

func TestReconcileLatchesOncePerOpen(t *testing.T) {
	dev, _, _ := newTestDevice(t, driver.Capabilities{SupportsListPrints: true})
	ctx := context.Background()

	dev.reconcileIfNeeded(ctx, "alice")
	if !dev.reconcile.latched {
		t.Fatal("expected reconcile to latch after first run")
	}

	stale := fingerprint.New("fake", "dev0", "alice", fingerprint.LeftThumb)
	if err := dev.store.Save(ctx, stale); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	dev.reconcileIfNeeded(ctx, "alice") // no-op: already latched
	if _, ok, err := dev.store.Load(ctx, stale.Key()); err != nil {
		t.Fatalf("Load: %v", err)
	} else if !ok {
		t.Fatal("expected the latched reconcile to leave a newly-saved print untouched")
	}

	dev.resetReconcileLatch()
	dev.reconcileIfNeeded(ctx, "alice")
	if _, ok, err := dev.store.Load(ctx, stale.Key()); err != nil {
		t.Fatalf("Load: %v", err)
	} else if ok {
		t.Fatal("expected reconcile to drop the print once the latch was reset")
	}
}
