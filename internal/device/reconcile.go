package device

import (
	"context"
	"sync"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

// reconciler tracks the latched-once-per-device reconciliation trigger
// from spec.md §4.2: the first time a verify/identify pass completes
// without a match for a given device, the host's record of what the
// device actually holds is refreshed against ListPrints, and any host
// entry the device no longer has is dropped. Subsequent passes on the
// same device do not re-trigger until the device is reopened.
type reconciler struct {
	mu      sync.Mutex
	latched bool
}

// reconcileIfNeeded implements that trigger. It is a no-op unless the
// driver exposes ListPrints, and it only ever fires once per Open/Close
// cycle.
func (d *Device) reconcileIfNeeded(ctx context.Context, username string) {
	if !d.driver.Capabilities().SupportsListPrints {
		return
	}

	d.reconcile.mu.Lock()
	if d.reconcile.latched {
		d.reconcile.mu.Unlock()
		return
	}
	d.reconcile.latched = true
	d.reconcile.mu.Unlock()

	devicePrints, err := d.driver.ListPrints(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("reconcile: could not list device-resident prints")
		return
	}
	onDevice := make(map[fingerprint.Finger]bool, len(devicePrints))
	for _, p := range devicePrints {
		onDevice[p.Finger] = true
	}

	hostFingers, err := d.store.DiscoverPrints(ctx, d.driver.Name(), d.driver.DeviceID(), username)
	if err != nil {
		d.logger.WithError(err).Warn("reconcile: could not list host-stored prints")
		return
	}

	for _, f := range hostFingers {
		if onDevice[f] {
			continue
		}
		key := fingerprint.Key{Driver: d.driver.Name(), DeviceID: d.driver.DeviceID(), Username: username, Finger: f}
		if err := d.store.Delete(ctx, key); err != nil {
			d.logger.WithError(err).Warn("reconcile: could not drop stale host print")
			continue
		}
		d.logger.WithField("finger", f).Info("reconcile: dropped host print absent from device")
	}
}

// resetReconcileLatch clears the once-per-open trigger; called when a
// device is (re)claimed so the next failed match re-checks storage.
func (d *Device) resetReconcileLatch() {
	d.reconcile.mu.Lock()
	d.reconcile.latched = false
	d.reconcile.mu.Unlock()
}
