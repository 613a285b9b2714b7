package device

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/deepin-community/fprintd-go/internal/authz"
	"github.com/deepin-community/fprintd-go/internal/driver"
	"github.com/deepin-community/fprintd-go/internal/fingerprint"
	"github.com/deepin-community/fprintd-go/internal/telemetry"
)

// EnrollStart begins the enrollment pipeline for finger (spec.md §4.2).
// If a print already exists for (user, finger) it is deleted first. The
// device must be claimed by caller with no other action in flight.
func (d *Device) EnrollStart(ctx context.Context, sender string, finger fingerprint.Finger) error {
	if finger == fingerprint.Unknown {
		return ErrInvalidFingername
	}
	if _, err := d.gate.Check(ctx, authz.Request{
		Sender:        sender,
		RequiredState: authz.ClaimClaimedByCaller,
		Permissions:   []authz.Permission{authz.PermissionEnroll},
		Claim:         d.claimQuery(),
	}); err != nil {
		return err
	}

	var noAction bool
	var sess *Session
	d.submit(func() {
		if d.action != ActionNone {
			noAction = true
			return
		}
		if d.session != nil {
			sess = d.session.ref()
		}
	})
	if noAction {
		return ErrAlreadyInUse
	}
	if sess == nil {
		return ErrClaimDevice
	}

	key := fingerprint.Key{Driver: d.driver.Name(), DeviceID: d.driver.DeviceID(), Username: sess.Username, Finger: finger}
	if _, ok, err := d.store.Load(ctx, key); err == nil && ok {
		_ = d.deleteFinger(ctx, sess.Username, finger)
	}

	opCtx, cancel := context.WithCancel(context.Background())
	d.submit(func() {
		d.action = ActionEnroll
		d.cancel = cancel
	})

	go d.runEnrollPipeline(opCtx, cancel, sess, finger)
	return nil
}

// EnrollStop cancels an in-flight enrollment; completes only once the
// pipeline observes the cancellation.
func (d *Device) EnrollStop(ctx context.Context, sender string) error {
	if _, err := d.gate.Check(ctx, authz.Request{
		Sender:        sender,
		RequiredState: authz.ClaimClaimedByCaller,
		Claim:         d.claimQuery(),
	}); err != nil {
		return err
	}
	var action Action
	d.submit(func() { action = d.action })
	if action != ActionEnroll {
		return ErrNoActionInProgress
	}
	d.cancelCurrentAction()
	d.waitForActionSettle(ctx)
	return nil
}

// runEnrollPipeline implements spec.md §4.2's Enroll pipeline steps 1-7.
func (d *Device) runEnrollPipeline(ctx context.Context, cancel context.CancelFunc, sess *Session, finger fingerprint.Finger) {
	defer sess.unref()
	defer d.finishAction(sess, cancel)

	ctx, span := telemetry.StartEnrollSpan(ctx, d.ID, telemetry.Driver(d.driver.Name()), telemetry.Username(sess.Username), telemetry.Finger(finger.String()))
	defer span.End()

	gallery, err := d.hostGallery(ctx, sess.Username)
	if err != nil {
		d.emitEnrollStatus("enroll-failed", true)
		return
	}

	if len(gallery) == 0 && !d.driver.Capabilities().SupportsListPrints {
		// Step 7: request a clean slate before starting; ignore failure.
		_ = d.driver.ClearStorage(ctx)
	}

	if d.driver.Capabilities().SupportsIdentify {
		proceed := d.runDuplicateCheck(ctx, sess, gallery)
		if !proceed {
			return
		}
	} else {
		d.emitEnrollStatus("enroll-stage-passed", false)
	}

	d.captureWithGC(ctx, sess, finger)
}

// runDuplicateCheck implements step 1: an identify pass against the full
// host gallery before capture begins. An identify completion has three
// possible outcomes, matching the original's enroll_identify_cb:
//  1. A gallery match: true duplicate, enrollment aborts.
//  2. No gallery match, but a print resident on the device outside the
//     gallery: delete that device print synchronously and continue: if
//     the delete fails, treat it the same as a duplicate.
//  3. Neither: proceed straight to capture.
// Returns false if the pipeline has already completed (case 1, or case 2
// with a failed delete).
func (d *Device) runDuplicateCheck(ctx context.Context, sess *Session, gallery []fingerprint.Print) bool {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	var proceed bool

	_ = backoff.Retry(func() error {
		events, err := d.driver.Identify(ctx, gallery)
		if err != nil {
			if driver.IsRetryError(err) {
				return err
			}
			d.emitEnrollStatus("enroll-duplicate", true)
			proceed = false
			return nil
		}
		for ev := range events {
			if ev.Err != nil && driver.IsRetryError(ev.Err) {
				return ev.Err
			}
			if ev.Matched != nil {
				// The identify matched a gallery print: true duplicate.
				d.emitEnrollStatus("enroll-duplicate", true)
				proceed = false
				return nil
			}
			if ev.FoundOnDevice != nil {
				if delErr := d.driver.DeletePrint(ctx, *ev.FoundOnDevice); delErr != nil {
					d.logger.WithError(delErr).Warn("enroll: failed to garbage collect duplicate print, cannot continue")
					d.emitEnrollStatus("enroll-duplicate", true)
					proceed = false
					return nil
				}
				break
			}
			if ev.Final {
				break
			}
		}
		d.emitEnrollStatus("enroll-stage-passed", false)
		proceed = true
		return nil
	}, b)

	return proceed
}

// captureWithGC implements steps 2-6: begin device enrollment, surface
// per-stage progress, and on DATA_FULL attempt one on-device garbage
// collection pass before retrying with a fresh template.
func (d *Device) captureWithGC(ctx context.Context, sess *Session, finger fingerprint.Finger) {
	tmpl := fingerprint.New(d.driver.Name(), d.driver.DeviceID(), sess.Username, finger)

	for attempt := 0; attempt < 2; attempt++ {
		events, err := d.driver.Enroll(ctx, tmpl)
		if err != nil {
			d.emitEnrollStatus(enrollErrorName(err), true)
			return
		}

		result, gotDataFull := d.consumeEnrollEvents(events)
		switch {
		case result != nil:
			d.persistEnrollResult(ctx, *result)
			return
		case gotDataFull:
			if attempt == 0 && d.driver.Capabilities().SupportsListPrints {
				if d.garbageCollectOnce(ctx) {
					continue // restart enrollment with a fresh template
				}
			}
			d.emitEnrollStatus("enroll-data-full", true)
			return
		default:
			return
		}
	}
	d.emitEnrollStatus("enroll-data-full", true)
}

// consumeEnrollEvents drains one Enroll attempt's event stream, reporting
// per-stage progress signals. Returns the completed print on success, or
// gotDataFull=true if the driver reported storage exhaustion.
func (d *Device) consumeEnrollEvents(events <-chan driver.EnrollEvent) (result *fingerprint.Print, gotDataFull bool) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, false
			}
			if ev.Err != nil {
				switch {
				case driver.IsRetryError(ev.Err):
					d.emitEnrollStatus(enrollRetryName(ev.Err), false)
				case driver.IsDataFullError(ev.Err):
					return nil, true
				default:
					d.emitEnrollStatus(enrollErrorName(ev.Err), true)
					return nil, false
				}
				continue
			}
			if ev.Print != nil {
				p := *ev.Print
				return &p, false
			}
			if !ev.Final {
				d.emitEnrollStatus("enroll-stage-passed", false)
			}
		}
	}
}

func (d *Device) persistEnrollResult(ctx context.Context, p fingerprint.Print) {
	if err := d.store.Save(ctx, p); err != nil {
		d.emitEnrollStatus("enroll-failed", true)
		return
	}
	d.emitEnrollStatus("enroll-completed", true)
}

func enrollRetryName(err error) string {
	if re, ok := err.(*driver.RetryError); ok {
		switch re.Reason {
		case "swipe too short":
			return "enroll-swipe-too-short"
		case "finger not centered":
			return "enroll-finger-not-centered"
		case "remove and retry":
			return "enroll-remove-and-retry"
		}
	}
	return "enroll-retry-scan"
}

func enrollErrorName(err error) string {
	switch {
	case driver.IsProtocolError(err):
		return "enroll-disconnected"
	case driver.IsDataFullError(err):
		return "enroll-data-full"
	default:
		return "enroll-unknown-error"
	}
}

func (d *Device) emitEnrollStatus(result string, done bool) {
	d.signals.EnrollStatus(d.ID, result, done)
	if done {
		d.metrics.RecordEnroll(result)
	}
}
