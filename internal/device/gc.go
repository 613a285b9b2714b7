package device

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
	"github.com/deepin-community/fprintd-go/internal/perf"
	"github.com/deepin-community/fprintd-go/internal/telemetry"
)

// gcSlowThreshold is the duration above which a GC pass logs a warning
// instead of a debug line; on-device list/delete calls should be fast,
// so a pass crossing this points at a slow or wedged driver.
const gcSlowThreshold = 500 * time.Millisecond

// garbageCollectOnce implements spec.md §4.2's on-device garbage
// collection pass, triggered by Enroll hitting DATA_FULL: list every
// print the device holds, remove the ones that are still backed by a
// host record, leaving the prints a host delete or a foreign enrollment
// left stranded on the device. Of that remainder, delete only the single
// oldest entry by enrollment date, breaking ties with a stable random
// key so repeated GC passes over an otherwise-identical set don't always
// evict the same slot. A live, host-backed print is never touched; an
// empty remainder is a failure, exactly like the original's
// device_prints->len == 0 check. Returns whether a print was removed,
// i.e. whether the caller should retry enrollment.
func (d *Device) garbageCollectOnce(ctx context.Context) bool {
	ctx, span := telemetry.StartGCSpan(ctx, d.ID)
	defer span.End()
	timer := perf.Start("device.gc", d.logger)
	defer timer.StopWithThreshold(gcSlowThreshold)
	d.metrics.RecordGC()

	if !d.driver.Capabilities().SupportsListPrints {
		return false
	}

	devicePrints, err := d.driver.ListPrints(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("gc: could not list device-resident prints")
		return false
	}
	if len(devicePrints) == 0 {
		return false
	}

	stale := d.partitionStale(ctx, devicePrints)
	if len(stale) == 0 {
		return false
	}

	victim := oldestWithTiebreak(stale)
	if err := d.driver.DeletePrint(ctx, victim); err != nil {
		d.logger.WithError(err).Warn("gc: could not delete stale device print")
		return false
	}
	d.logger.WithFields(logrus.Fields{
		"username": victim.Username,
		"finger":   victim.Finger,
	}).Info("gc: evicted oldest stale device print")
	return true
}

// partitionStale returns the devicePrints entries the host Template
// Store has no record of: prints a host-side delete or reconciliation
// left stranded on the device, or a foreign enrollment belonging to
// another device owner. Prints the host still has a record of are left
// untouched by garbage collection entirely.
func (d *Device) partitionStale(ctx context.Context, devicePrints []fingerprint.Print) (stale []fingerprint.Print) {
	for _, p := range devicePrints {
		key := fingerprint.Key{Driver: p.Driver, DeviceID: p.DeviceID, Username: p.Username, Finger: p.Finger}
		if _, ok, err := d.store.Load(ctx, key); err == nil && ok {
			continue
		}
		stale = append(stale, p)
	}
	return stale
}

// oldestWithTiebreak returns the print with the earliest EnrollDate. Ties
// are broken by a per-call random draw rather than insertion order, so
// repeated collection over a tied set doesn't always evict the same
// print.
func oldestWithTiebreak(prints []fingerprint.Print) fingerprint.Print {
	tiebreak := make([]int, len(prints))
	for i := range tiebreak {
		tiebreak[i] = rand.Int()
	}
	sort.SliceStable(prints, func(i, j int) bool {
		if !prints[i].EnrollDate.Equal(prints[j].EnrollDate) {
			return prints[i].EnrollDate.Before(prints[j].EnrollDate)
		}
		return tiebreak[i] < tiebreak[j]
	})
	return prints[0]
}
